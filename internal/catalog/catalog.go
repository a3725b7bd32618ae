// Package catalog provides keyword search over saved concept snapshots,
// backed by a Bleve index.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/cavstudio/internal/storage"
)

// DefaultNameBoost weighs matches in a snapshot's name above matches in
// its creator's name.
const DefaultNameBoost = 2.0

// Hit is one search result.
type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// SearchOptions tune a search. Nil means defaults.
type SearchOptions struct {
	NameBoost float64
	// Fuzziness is the maximum edit distance per term; 0 disables fuzzy matching.
	Fuzziness int
}

type entry struct {
	Name      string `json:"name"`
	Creator   string `json:"creator"`
	ProjectID string `json:"project"`
}

// Index implements storage.Observer: live snapshots are indexed and
// deleted ones removed.
type Index struct {
	index bleve.Index
}

// Open creates or opens the index at path.
func Open(path string) (*Index, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open catalog index: %w", openErr)
		}
		return &Index{index: index}, nil
	}
	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog index: %w", err)
	}
	return &Index{index: index}, nil
}

// OpenMemory creates an index that lives only in memory.
func OpenMemory() (*Index, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog index: %w", err)
	}
	return &Index{index: index}, nil
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("name", text)
	docMapping.AddFieldMappingsAt("creator", text)
	docMapping.AddFieldMappingsAt("project", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("snapshot", docMapping)
	im.DefaultType = "snapshot"
	im.DefaultMapping = docMapping
	return im
}

// SnapshotChanged indexes doc, or removes it when it is marked deleted.
func (x *Index) SnapshotChanged(ctx context.Context, doc *storage.Document) error {
	if deleted, _ := doc.Data["deleted"].(bool); deleted {
		return x.index.Delete(doc.ID)
	}
	e := entry{}
	e.Name, _ = doc.Data["name"].(string)
	e.Creator, _ = doc.Data["creatorName"].(string)
	e.ProjectID, _ = doc.Data["projectId"].(string)
	return x.index.Index(doc.ID, e)
}

// Rebuild feeds every stored snapshot through SnapshotChanged and returns
// how many were seen. It seeds a fresh index from an existing database.
func (x *Index) Rebuild(ctx context.Context, store storage.Storage) (int, error) {
	docs, err := store.ListSnapshots(ctx)
	if err != nil {
		return 0, err
	}
	for i, d := range docs {
		if err := x.SnapshotChanged(ctx, d); err != nil {
			return i, err
		}
	}
	return len(docs), nil
}

// Search returns up to limit snapshot ids matching query, best first.
func (x *Index) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return []Hit{}, nil
	}
	boost := DefaultNameBoost
	fuzziness := 0
	if opts != nil {
		if opts.NameBoost > 0 {
			boost = opts.NameBoost
		}
		fuzziness = opts.Fuzziness
	}

	name := fieldQuery(query, "name", fuzziness)
	name.(blevequery.BoostableQuery).SetBoost(boost)
	creator := fieldQuery(query, "creator", fuzziness)
	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(name, creator))
	req.Size = limit
	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("catalog search failed: %w", err)
	}
	out := make([]Hit, len(res.Hits))
	for i, h := range res.Hits {
		out[i] = Hit{ID: h.ID, Score: h.Score}
	}
	return out, nil
}

// fieldQuery matches query against field, term by term with the given
// edit distance when fuzziness > 0.
func fieldQuery(query, field string, fuzziness int) blevequery.Query {
	if fuzziness <= 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		return mq
	}
	terms := strings.Fields(strings.ToLower(query))
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// DocCount returns the number of indexed snapshots.
func (x *Index) DocCount() (uint64, error) {
	return x.index.DocCount()
}

// Close closes the index.
func (x *Index) Close() error {
	return x.index.Close()
}
