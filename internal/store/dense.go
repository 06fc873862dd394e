package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/companionkit/memoryengine/internal/model"
)

// denseIndex wraps chromem-go, keeping one collection per namespace so
// vector queries are physically incapable of crossing namespaces.
type denseIndex struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

func newDenseIndex() *denseIndex {
	return &denseIndex{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

var collectionSanitizer = strings.NewReplacer("/", "_", " ", "_")

func collectionName(ns model.Namespace) string {
	return "ns_" + collectionSanitizer.Replace(ns.Key())
}

func (d *denseIndex) collection(ns model.Namespace) (*chromem.Collection, error) {
	name := collectionName(ns)

	d.mu.RLock()
	col, ok := d.collections[name]
	d.mu.RUnlock()
	if ok {
		return col, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if col, ok := d.collections[name]; ok {
		return col, nil
	}

	col, err := d.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	d.collections[name] = col
	return col, nil
}

// add indexes one chunk. Embeddings are supplied, never computed here.
func (d *denseIndex) add(ctx context.Context, c *model.MemoryChunk) error {
	col, err := d.collection(c.Namespace)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        c.ID,
		Content:   c.Content,
		Embedding: c.Embedding,
		Metadata: map[string]string{
			"owner_id":     c.Namespace.OwnerID,
			"companion_id": c.Namespace.CompanionID,
			"memory_type":  string(c.MemoryType),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// denseHit is one vector-similarity match.
type denseHit struct {
	ID         string
	Similarity float64
}

// query returns up to k nearest chunks in the namespace's collection.
// An empty or missing collection yields no hits, not an error.
func (d *denseIndex) query(ctx context.Context, ns model.Namespace, embedding []float32, k int) ([]denseHit, error) {
	col, err := d.collection(ns)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults above the collection size.
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	results, err := col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	hits := make([]denseHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, denseHit{ID: r.ID, Similarity: float64(r.Similarity)})
	}
	return hits, nil
}

// remove drops chunk ids from the namespace's collection.
func (d *denseIndex) remove(ctx context.Context, ns model.Namespace, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := d.collection(ns)
	if err != nil {
		return err
	}
	return col.Delete(ctx, nil, nil, ids...)
}

// drop removes the namespace's whole collection.
func (d *denseIndex) drop(ns model.Namespace) {
	name := collectionName(ns)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.db.DeleteCollection(name)
	delete(d.collections, name)
}
