package vectormatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/usalama/sentinel/moderation/lexicon"
)

// EntryEmbeddingModel is the stored embedding for one lexicon entry.
type EntryEmbeddingModel struct {
	LexiconEntryID uint   `gorm:"primarykey"`
	EmbeddingModel string `gorm:"index;not null"`
	Embedding      string `gorm:"not null"`
	UpdatedAt      time.Time
}

func (EntryEmbeddingModel) TableName() string {
	return "lexicon_entry_embeddings"
}

// GormStore keeps entry embeddings alongside the lexicon tables. Similarity
// is computed in-process over the candidate REVIEW rows, which stays cheap
// at lexicon scale (hundreds of entries); a pgvector-enabled Postgres can
// instead index the embedding column and push the distance ordering into
// SQL.
type GormStore struct {
	DB *gorm.DB
}

var _ EmbeddingStore = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&EntryEmbeddingModel{}); err != nil {
		return nil, fmt.Errorf("migrating embedding table: %w", err)
	}
	return &GormStore{DB: db}, nil
}

func (s *GormStore) SyncMissing(ctx context.Context, lexiconVersion string, provider EmbeddingProvider) error {
	var rows []lexicon.EntryModel
	err := s.DB.WithContext(ctx).
		Where("status = ? AND lexicon_version = ?", lexicon.StatusActive, lexiconVersion).
		Where("id NOT IN (?)", s.DB.Model(&EntryEmbeddingModel{}).
			Select("lexicon_entry_id").
			Where("embedding_model = ?", provider.ID())).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return fmt.Errorf("loading entries missing embeddings: %w", err)
	}

	for _, row := range rows {
		vector, err := provider.Embed(ctx, row.Term)
		if err != nil {
			return fmt.Errorf("embedding term %q: %w", row.Term, err)
		}
		encoded, err := json.Marshal(vector)
		if err != nil {
			return err
		}
		record := EntryEmbeddingModel{
			LexiconEntryID: row.ID,
			EmbeddingModel: provider.ID(),
			Embedding:      string(encoded),
			UpdatedAt:      time.Now().UTC(),
		}
		err = s.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "lexicon_entry_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"embedding_model", "embedding", "updated_at"}),
		}).Create(&record).Error
		if err != nil {
			return fmt.Errorf("storing embedding for entry %d: %w", row.ID, err)
		}
	}
	return nil
}

func (s *GormStore) NearestReview(ctx context.Context, lexiconVersion, embeddingModel string, query []float64) (*Neighbor, error) {
	var rows []lexicon.EntryModel
	err := s.DB.WithContext(ctx).
		Where("status = ? AND lexicon_version = ? AND action = ?",
			lexicon.StatusActive, lexiconVersion, lexicon.ActionReview).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading review entries: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]uint, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	var embeddings []EntryEmbeddingModel
	err = s.DB.WithContext(ctx).
		Where("lexicon_entry_id IN ? AND embedding_model = ?", ids, embeddingModel).
		Find(&embeddings).Error
	if err != nil {
		return nil, fmt.Errorf("loading embeddings: %w", err)
	}
	vectorsByID := make(map[uint][]float64, len(embeddings))
	for _, record := range embeddings {
		var vector []float64
		if err := json.Unmarshal([]byte(record.Embedding), &vector); err != nil {
			return nil, fmt.Errorf("decoding embedding for entry %d: %w", record.LexiconEntryID, err)
		}
		vectorsByID[record.LexiconEntryID] = vector
	}

	var best *Neighbor
	for _, row := range rows {
		vector, ok := vectorsByID[row.ID]
		if !ok {
			continue
		}
		similarity := Cosine(query, vector)
		if best == nil || similarity > best.Similarity {
			best = &Neighbor{
				Entry: lexicon.Entry{
					Term:       row.Term,
					Action:     row.Action,
					Label:      row.Label,
					ReasonCode: row.ReasonCode,
					Severity:   row.Severity,
					Lang:       row.Lang,
					Status:     lexicon.NormalizeStatus(row.Status),
				},
				MatchID:    fmt.Sprintf("%d", row.ID),
				Similarity: similarity,
			}
		}
	}
	return best, nil
}
