package lexicon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ReleaseModel is one lexicon release row; at most one release is active at
// a time (enforced by the release-management service, not here).
type ReleaseModel struct {
	ID          uint   `gorm:"primarykey"`
	Version     string `gorm:"uniqueIndex;not null"`
	Status      string `gorm:"index;not null"`
	ActivatedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ReleaseModel) TableName() string {
	return "lexicon_releases"
}

// EntryModel is one lexicon entry row, owned by a release via LexiconVersion.
type EntryModel struct {
	ID             uint   `gorm:"primarykey"`
	LexiconVersion string `gorm:"index;not null"`
	Term           string `gorm:"not null"`
	Action         string `gorm:"not null"`
	Label          string `gorm:"not null"`
	ReasonCode     string `gorm:"not null"`
	Severity       int    `gorm:"not null"`
	Lang           string `gorm:"not null"`
	Status         string `gorm:"index;not null;default:active"`
	FirstSeen      *time.Time
	LastSeen       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (EntryModel) TableName() string {
	return "lexicon_entries"
}

// GormRepository loads the active lexicon release from a relational store.
type GormRepository struct {
	DB *gorm.DB
}

func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&ReleaseModel{}, &EntryModel{}); err != nil {
		return nil, fmt.Errorf("migrating lexicon tables: %w", err)
	}
	return &GormRepository{DB: db}, nil
}

func (r *GormRepository) FetchActive(ctx context.Context) (*Snapshot, error) {
	var release ReleaseModel
	err := r.DB.WithContext(ctx).
		Where("status = ?", StatusActive).
		Order("activated_at DESC, updated_at DESC, version DESC").
		First(&release).Error
	if err != nil {
		return nil, fmt.Errorf("no active lexicon release in database: %w", err)
	}

	var rows []EntryModel
	err = r.DB.WithContext(ctx).
		Where("status = ? AND lexicon_version = ?", StatusActive, release.Version).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading lexicon entries for version %s: %w", release.Version, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no active lexicon entries for active release %s", release.Version)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entry := Entry{
			Term:       strings.ToLower(row.Term),
			Action:     row.Action,
			Label:      row.Label,
			ReasonCode: row.ReasonCode,
			Severity:   row.Severity,
			Lang:       row.Lang,
			FirstSeen:  NormalizeTimestamp(formatTime(row.FirstSeen)),
			LastSeen:   NormalizeTimestamp(formatTime(row.LastSeen)),
			Status:     NormalizeStatus(row.Status),
		}
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("lexicon entry id=%d (term %q): %w", row.ID, row.Term, err)
		}
		entries = append(entries, entry)
	}
	return &Snapshot{Version: release.Version, Entries: entries}, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// FallbackRepository serves the fallback snapshot when the primary backend
// fails, so a database outage degrades to the seed file instead of taking
// moderation down.
type FallbackRepository struct {
	Primary  Repository
	Fallback Repository
	Logger   *slog.Logger
}

func (r *FallbackRepository) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *FallbackRepository) FetchActive(ctx context.Context) (*Snapshot, error) {
	snapshot, err := r.Primary.FetchActive(ctx)
	if err == nil {
		return snapshot, nil
	}
	r.logger().Warn("failed to load lexicon from primary backend; using fallback", "err", err)
	return r.Fallback.FetchActive(ctx)
}
