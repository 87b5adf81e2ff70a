package langpack

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Sample is one annotated line of a pack evaluation dataset.
type Sample struct {
	ID                string
	Text              string
	Language          string
	Labels            []string
	IsBenignPolitical bool
	IsCodeSwitched    bool
	Subgroup          string
}

type rawSample struct {
	ID                *string  `json:"id"`
	Text              *string  `json:"text"`
	Language          *string  `json:"language"`
	Labels            []string `json:"labels"`
	IsBenignPolitical *bool    `json:"is_benign_political"`
	IsCodeSwitched    *bool    `json:"is_code_switched"`
	Subgroup          *string  `json:"subgroup"`
}

func parseSample(raw *rawSample, lineNumber int) (*Sample, error) {
	id := fmt.Sprintf("sample-%d", lineNumber)
	if raw.ID != nil {
		id = strings.TrimSpace(*raw.ID)
		if id == "" {
			return nil, fmt.Errorf("id must be non-empty")
		}
	}
	if raw.Text == nil || strings.TrimSpace(*raw.Text) == "" {
		return nil, fmt.Errorf("text must be non-empty")
	}
	if raw.Language == nil || strings.TrimSpace(*raw.Language) == "" {
		return nil, fmt.Errorf("language must be non-empty")
	}
	if len(raw.Labels) == 0 {
		return nil, fmt.Errorf("labels must be a non-empty list")
	}
	seen := make(map[string]bool, len(raw.Labels))
	labels := make([]string, 0, len(raw.Labels))
	for _, label := range raw.Labels {
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, fmt.Errorf("label must be non-empty")
		}
		if !KnownLabels[label] {
			return nil, fmt.Errorf("unknown label: %s", label)
		}
		if seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	sort.Strings(labels)

	isBenign := seen[BenignLabel]
	if raw.IsBenignPolitical != nil {
		isBenign = *raw.IsBenignPolitical
	}
	isCodeSwitched := false
	if raw.IsCodeSwitched != nil {
		isCodeSwitched = *raw.IsCodeSwitched
	}
	subgroup := ""
	if raw.Subgroup != nil {
		subgroup = strings.TrimSpace(*raw.Subgroup)
		if subgroup == "" {
			return nil, fmt.Errorf("subgroup must be non-empty when provided")
		}
	}

	return &Sample{
		ID:                id,
		Text:              strings.TrimSpace(*raw.Text),
		Language:          strings.ToLower(strings.TrimSpace(*raw.Language)),
		Labels:            labels,
		IsBenignPolitical: isBenign,
		IsCodeSwitched:    isCodeSwitched,
		Subgroup:          subgroup,
	}, nil
}

// LoadEvalSamples reads a JSONL evaluation dataset. Every non-blank line
// must be a valid sample; a single malformed line fails the whole load so
// gate results are never computed over a silently truncated dataset.
func LoadEvalSamples(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var samples []Sample
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw rawSample
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNumber, err)
		}
		sample, err := parseSample(&raw, lineNumber)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNumber, err)
		}
		samples = append(samples, *sample)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("evaluation file has no samples")
	}
	return samples, nil
}
