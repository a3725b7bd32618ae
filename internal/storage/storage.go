// Package storage persists the front end's JSON documents: concept
// snapshots and saved search sets.
package storage

import (
	"context"
)

// Document is a stored JSON object addressed by id.
type Document struct {
	ID   string                 `json:"id"`
	Data map[string]interface{} `json:"data"`
}

// SnapshotSummary describes the latest snapshot of a project.
type SnapshotSummary struct {
	ID          string        `json:"id"`
	Date        interface{}   `json:"date"`
	Name        interface{}   `json:"name"`
	CreatorName interface{}   `json:"creatorName"`
	PublishInfo interface{}   `json:"publishInfo"`
	TopImages   []interface{} `json:"topImages"`
}

// ProjectSummary is one entry of the projects overview.
type ProjectSummary struct {
	ID             string          `json:"id"`
	LatestSnapshot SnapshotSummary `json:"latestSnapshot"`
}

// Storage defines snapshot and search set persistence operations.
type Storage interface {
	// Snapshot operations
	GetSnapshot(ctx context.Context, id string) (*Document, error)
	SetSnapshot(ctx context.Context, id string, data map[string]interface{}) error
	DeleteSnapshot(ctx context.Context, id string) error
	ListSnapshots(ctx context.Context) ([]*Document, error)
	ProjectSnapshots(ctx context.Context, snapshotID string) ([]*Document, error)
	ProjectsSummary(ctx context.Context) ([]*ProjectSummary, error)
	CopySnapshotToNewProject(ctx context.Context, srcID, dstID, dstProjectID, dstName string) error

	// Search set operations
	GetSearchSet(ctx context.Context, id string) (*Document, error)
	SetSearchSet(ctx context.Context, id string, data map[string]interface{}) error
	DeleteSearchSet(ctx context.Context, id string) error
	ListSearchSets(ctx context.Context) ([]*Document, error)

	// Stats
	CountSnapshots(ctx context.Context) (int64, error)

	Close() error
}

// Observer is told about every snapshot write, including soft deletes.
type Observer interface {
	SnapshotChanged(ctx context.Context, doc *Document) error
}
