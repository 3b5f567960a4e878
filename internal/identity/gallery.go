// Package identity resolves face embeddings to enrolled employee names.
package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/coder/hnsw"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/tracking"
)

const maxNeighbors = 16

// ErrDimensionMismatch is returned when an embedding does not match the gallery's dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Match is the closest enrolled identity for a query embedding.
type Match struct {
	Name     string
	Distance float64 // cosine distance, 0 is identical
}

// Resolver maps an embedding to a known name.
type Resolver interface {
	Resolve(embedding []float32) (Match, bool)
}

// Gallery is an in-memory nearest-neighbour index of enrolled embeddings, keyed by name.
// One embedding is kept per name; adding a name again replaces it.
type Gallery struct {
	graph       *hnsw.Graph[string]
	names       map[string]struct{}
	dims        int
	maxDistance float64
	mu          sync.RWMutex
	log         *slog.Logger
}

// NewGallery creates an empty gallery that accepts matches at or below maxDistance.
func NewGallery(maxDistance float64) *Gallery {
	return &Gallery{
		graph:       newGraph(),
		names:       make(map[string]struct{}),
		maxDistance: maxDistance,
		log:         slog.With("component", "gallery"),
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = maxNeighbors
	g.Ml = 1.0 / float64(maxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// Add enrols or replaces the embedding for name.
func (g *Gallery) Add(name string, embedding []float32) error {
	if name == "" {
		return errors.New("name is required")
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%s: empty embedding", name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.dims != 0 && len(embedding) != g.dims {
		return fmt.Errorf("%s: %w: got %d, want %d", name, ErrDimensionMismatch, len(embedding), g.dims)
	}

	g.remove(name)
	g.dims = len(embedding)
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	g.graph.Add(hnsw.MakeNode(name, vec))
	g.names[name] = struct{}{}
	return nil
}

// Remove drops name from the gallery. It reports whether the name was enrolled.
func (g *Gallery) Remove(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.remove(name)
}

// remove assumes g.mu is held. An emptied graph is rebuilt because hnsw keeps a nil entry
// point after its last node is deleted.
func (g *Gallery) remove(name string) bool {
	ok := g.graph.Delete(name)
	delete(g.names, name)
	if g.graph.Len() == 0 {
		g.graph = newGraph()
		g.dims = 0
	}
	return ok
}

// Sync makes the gallery hold exactly the given name -> embedding set. Names missing from
// enrolled are removed and unchanged embeddings are left in place. Entries that fail to add are
// skipped and reported in the error.
func (g *Gallery) Sync(enrolled map[string][]float32) (added, removed int, err error) {
	for _, name := range g.Names() {
		if _, ok := enrolled[name]; !ok && g.Remove(name) {
			removed++
		}
	}

	var errs []error
	for name, emb := range enrolled {
		if g.has(name, emb) {
			continue
		}
		if err := g.Add(name, emb); err != nil {
			errs = append(errs, err)
			continue
		}
		added++
	}
	if added > 0 || removed > 0 {
		g.log.Info("gallery synced", "added", added, "removed", removed, "size", g.Len())
	}
	return added, removed, errors.Join(errs...)
}

func (g *Gallery) has(name string, emb []float32) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	vec, ok := g.graph.Lookup(name)
	return ok && slices.Equal(vec, emb)
}

// Names returns the enrolled names, sorted.
func (g *Gallery) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.names))
	for name := range g.names {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve returns the enrolled identity closest to embedding when it is within the gallery's
// maximum distance.
func (g *Gallery) Resolve(embedding []float32) (Match, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.graph.Len() == 0 || len(embedding) != g.dims {
		return Match{}, false
	}

	neighbors := g.graph.Search(embedding, 1)
	if len(neighbors) == 0 {
		return Match{}, false
	}

	n := neighbors[0]
	distance := 1 - float64(tracking.Similarity(embedding, n.Value))
	if distance > g.maxDistance {
		g.log.Debug("closest identity too far", "name", n.Key, "distance", distance)
		return Match{}, false
	}
	return Match{Name: n.Key, Distance: distance}, true
}

func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.graph.Len()
}
