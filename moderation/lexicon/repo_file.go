package lexicon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// FileRepository reads a lexicon snapshot from a JSON seed file. Used for
// development and as the fallback when a database repository is configured.
type FileRepository struct {
	Path string
}

func NewFileRepository(path string) *FileRepository {
	return &FileRepository{Path: path}
}

func (r *FileRepository) FetchActive(ctx context.Context) (*Snapshot, error) {
	raw, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, fmt.Errorf("reading lexicon seed file: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("parsing lexicon seed file %s: %w", r.Path, err)
	}
	if snapshot.Version == "" {
		return nil, fmt.Errorf("lexicon seed file %s has no version", r.Path)
	}
	if len(snapshot.Entries) == 0 {
		return nil, fmt.Errorf("lexicon seed file %s has no entries", r.Path)
	}
	for i := range snapshot.Entries {
		entry := &snapshot.Entries[i]
		entry.Term = strings.ToLower(entry.Term)
		entry.FirstSeen = NormalizeTimestamp(entry.FirstSeen)
		entry.LastSeen = NormalizeTimestamp(entry.LastSeen)
		entry.Status = NormalizeStatus(entry.Status)
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("lexicon seed file %s entry %d (term %q): %w", r.Path, i, entry.Term, err)
		}
	}
	return &snapshot, nil
}
