package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/cavstudio/internal/models"
)

const (
	snapshotsTable  = "snapshots"
	searchSetsTable = "search_sets"
	topImagesCount  = 3
)

// SQLiteStorage implements Storage using SQLite. Documents are kept as
// JSON blobs; queries over their fields happen in Go.
type SQLiteStorage struct {
	db       *sql.DB
	observer Observer
}

// Option configures a SQLiteStorage.
type Option func(*SQLiteStorage)

// WithObserver registers o for snapshot writes.
func WithObserver(o Observer) Option {
	return func(s *SQLiteStorage) { s.observer = o }
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS search_sets (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStorage) get(ctx context.Context, table, id string) (*Document, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM `+table+` WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s %s", models.ErrNotFound, table, id)
	}
	if err != nil {
		return nil, err
	}
	doc := &Document{ID: id}
	if err := json.Unmarshal([]byte(raw), &doc.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s %s: %w", table, id, err)
	}
	return doc, nil
}

func (s *SQLiteStorage) put(ctx context.Context, table, id string, data map[string]interface{}) error {
	if id == "" {
		return fmt.Errorf("%w: empty %s id", models.ErrInvalidInput, table)
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", table, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		id, string(raw),
	)
	return err
}

func (s *SQLiteStorage) list(ctx context.Context, table string) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM `+table+` ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var raw string
		doc := &Document{}
		if err := rows.Scan(&doc.ID, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &doc.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s %s: %w", table, doc.ID, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStorage) softDelete(ctx context.Context, table, id string) (*Document, error) {
	doc, err := s.get(ctx, table, id)
	if err != nil {
		return nil, err
	}
	doc.Data["deleted"] = true
	doc.Data["deletedDate"] = float64(time.Now().UnixNano()) / 1e9
	return doc, s.put(ctx, table, id, doc.Data)
}

func (s *SQLiteStorage) notify(ctx context.Context, doc *Document) error {
	if s.observer == nil {
		return nil
	}
	return s.observer.SnapshotChanged(ctx, doc)
}

// GetSnapshot returns a snapshot by ID.
func (s *SQLiteStorage) GetSnapshot(ctx context.Context, id string) (*Document, error) {
	return s.get(ctx, snapshotsTable, id)
}

// SetSnapshot creates or replaces a snapshot.
func (s *SQLiteStorage) SetSnapshot(ctx context.Context, id string, data map[string]interface{}) error {
	if err := s.put(ctx, snapshotsTable, id, data); err != nil {
		return err
	}
	return s.notify(ctx, &Document{ID: id, Data: data})
}

// DeleteSnapshot marks a snapshot deleted and stamps the deletion time.
func (s *SQLiteStorage) DeleteSnapshot(ctx context.Context, id string) error {
	doc, err := s.softDelete(ctx, snapshotsTable, id)
	if err != nil {
		return err
	}
	return s.notify(ctx, doc)
}

// ListSnapshots returns every snapshot, deleted ones included, in insertion order.
func (s *SQLiteStorage) ListSnapshots(ctx context.Context) ([]*Document, error) {
	return s.list(ctx, snapshotsTable)
}

// ProjectSnapshots returns every snapshot of the project that snapshotID
// belongs to, newest first.
func (s *SQLiteStorage) ProjectSnapshots(ctx context.Context, snapshotID string) ([]*Document, error) {
	snap, err := s.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	projectID := fmt.Sprint(snap.Data["projectId"])
	all, err := s.list(ctx, snapshotsTable)
	if err != nil {
		return nil, err
	}
	var out []*Document
	for _, d := range all {
		if fmt.Sprint(d.Data["projectId"]) == projectID {
			out = append(out, d)
		}
	}
	sortByDateDesc(out)
	return out, nil
}

// ProjectsSummary returns the latest snapshot of every project, skipping
// featured snapshots and projects whose latest snapshot is deleted.
// Projects are ordered by the date of their latest snapshot, newest first.
func (s *SQLiteStorage) ProjectsSummary(ctx context.Context) ([]*ProjectSummary, error) {
	all, err := s.list(ctx, snapshotsTable)
	if err != nil {
		return nil, err
	}
	var snaps []*Document
	for _, d := range all {
		if !truthy(d.Data["featured"]) {
			snaps = append(snaps, d)
		}
	}
	sortByDateDesc(snaps)

	seen := make(map[string]bool)
	out := []*ProjectSummary{}
	for _, d := range snaps {
		projectID, _ := d.Data["projectId"].(string)
		if seen[projectID] {
			continue
		}
		seen[projectID] = true
		if truthy(d.Data["deleted"]) {
			continue
		}
		out = append(out, &ProjectSummary{
			ID: projectID,
			LatestSnapshot: SnapshotSummary{
				ID:          d.ID,
				Date:        d.Data["date"],
				Name:        d.Data["name"],
				CreatorName: d.Data["creatorName"],
				PublishInfo: d.Data["publishInfo"],
				TopImages:   topImages(d.Data),
			},
		})
	}
	return out, nil
}

// CopySnapshotToNewProject stores a copy of srcID as dstID in a new project.
func (s *SQLiteStorage) CopySnapshotToNewProject(ctx context.Context, srcID, dstID, dstProjectID, dstName string) error {
	src, err := s.GetSnapshot(ctx, srcID)
	if err != nil {
		return err
	}
	src.Data["snapshotId"] = dstID
	src.Data["projectId"] = dstProjectID
	src.Data["name"] = dstName
	return s.SetSnapshot(ctx, dstID, src.Data)
}

// GetSearchSet returns a search set by ID.
func (s *SQLiteStorage) GetSearchSet(ctx context.Context, id string) (*Document, error) {
	return s.get(ctx, searchSetsTable, id)
}

// SetSearchSet creates or replaces a search set.
func (s *SQLiteStorage) SetSearchSet(ctx context.Context, id string, data map[string]interface{}) error {
	return s.put(ctx, searchSetsTable, id, data)
}

// DeleteSearchSet marks a search set deleted.
func (s *SQLiteStorage) DeleteSearchSet(ctx context.Context, id string) error {
	_, err := s.softDelete(ctx, searchSetsTable, id)
	return err
}

// ListSearchSets returns the search sets that are not deleted.
func (s *SQLiteStorage) ListSearchSets(ctx context.Context) ([]*Document, error) {
	all, err := s.list(ctx, searchSetsTable)
	if err != nil {
		return nil, err
	}
	out := []*Document{}
	for _, d := range all {
		if !truthy(d.Data["deleted"]) {
			out = append(out, d)
		}
	}
	return out, nil
}

// CountSnapshots returns the total number of snapshots.
func (s *SQLiteStorage) CountSnapshots(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// sortByDateDesc orders documents by their "date" field, newest first.
// Numeric dates compare numerically, anything else as text; documents
// without a date sort last. Equal dates keep insertion order.
func sortByDateDesc(docs []*Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		return dateAfter(docs[i].Data["date"], docs[j].Data["date"])
	})
}

func dateAfter(a, b interface{}) bool {
	if b == nil {
		return a != nil
	}
	if a == nil {
		return false
	}
	fa, aNum := a.(float64)
	fb, bNum := b.(float64)
	if aNum && bNum {
		return fa > fb
	}
	return fmt.Sprint(a) > fmt.Sprint(b)
}

func topImages(data map[string]interface{}) []interface{} {
	set, _ := data["positiveSet"].(map[string]interface{})
	images, _ := set["images"].([]interface{})
	sorted := append([]interface{}(nil), images...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return imageWeight(sorted[i]) > imageWeight(sorted[j])
	})
	if len(sorted) > topImagesCount {
		sorted = sorted[:topImagesCount]
	}
	if sorted == nil {
		sorted = []interface{}{}
	}
	return sorted
}

func imageWeight(img interface{}) float64 {
	m, _ := img.(map[string]interface{})
	w, _ := m["weight"].(float64)
	return w
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}
