package storage

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/uuid"

	"github.com/your-org/photofinder/internal/models"
)

const hnswMaxNeighbors = 16

// HNSWIndex is an in-process vector index over coder/hnsw. It is safe for
// concurrent use. Persistence is explicit through Save and Load.
type HNSWIndex struct {
	mu          sync.RWMutex
	graph       *hnsw.Graph[string]
	tags        map[string]models.VectorTags
	dimension   int
	maxDistance float64
	path        string
}

func NewHNSWIndex(dimension int, maxDistance float64, path string) *HNSWIndex {
	return &HNSWIndex{
		graph:       newGraph(),
		tags:        make(map[string]models.VectorTags),
		dimension:   dimension,
		maxDistance: maxDistance,
		path:        path,
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

func (x *HNSWIndex) Insert(_ context.Context, vector []float32, tags models.VectorTags) (string, error) {
	if len(vector) != x.dimension {
		return "", fmt.Errorf("embedding has %d dimensions, index expects %d", len(vector), x.dimension)
	}
	id := uuid.NewString()

	x.mu.Lock()
	defer x.mu.Unlock()
	// The graph keeps the slice; copy so callers may reuse theirs.
	x.graph.Add(hnsw.MakeNode(id, append([]float32(nil), vector...)))
	x.tags[id] = tags
	return id, nil
}

// Delete removes a vector. Unknown ids are not an error.
//
// The node stays in the graph as a tombstone: only its tags are dropped, and
// collect skips keys without tags. coder/hnsw leaves the graph unusable once
// its last node is deleted, so the graph is never pruned node by node; it is
// replaced with a fresh one when the last live vector goes.
func (x *HNSWIndex) Delete(_ context.Context, vectorID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.tags[vectorID]; !ok {
		return nil
	}
	delete(x.tags, vectorID)
	if len(x.tags) == 0 {
		x.graph = newGraph()
	}
	return nil
}

// Query returns up to k vectors within maxDistance, nearest first. Deleted
// vectors and, with an event filter, other events' vectors are skipped; the
// graph is searched wider until k hits survive or the whole graph has been
// considered.
func (x *HNSWIndex) Query(_ context.Context, vector []float32, k int, eventID *uuid.UUID) ([]models.VectorMatch, error) {
	if len(vector) != x.dimension {
		return nil, fmt.Errorf("embedding has %d dimensions, index expects %d", len(vector), x.dimension)
	}
	if k <= 0 {
		return nil, errors.New("k must be positive")
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	matches := []models.VectorMatch{}
	if len(x.tags) == 0 {
		return matches, nil
	}
	// size counts tombstones too; the loop widens until enough live hits survive.
	size := x.graph.Len()

	fetch := k
	if eventID != nil {
		fetch = k * 4
	}
	for {
		if fetch > size {
			fetch = size
		}
		matches = x.collect(vector, fetch, k, eventID)
		if len(matches) >= k || fetch == size {
			return matches, nil
		}
		fetch *= 2
	}
}

func (x *HNSWIndex) collect(vector []float32, fetch, k int, eventID *uuid.UUID) []models.VectorMatch {
	out := []models.VectorMatch{}
	for _, n := range x.graph.Search(vector, fetch) {
		tags, ok := x.tags[n.Key]
		if !ok {
			continue
		}
		if eventID != nil && tags.EventID != *eventID {
			continue
		}
		d := normaliseDistance(float64(hnsw.CosineDistance(vector, n.Value)))
		if d > x.maxDistance {
			continue
		}
		out = append(out, models.VectorMatch{
			VectorID: n.Key,
			PhotoID:  tags.PhotoID,
			EventID:  tags.EventID,
			Distance: d,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func (x *HNSWIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.tags)
}

// Save writes the graph to path and the tags to path.tags. A no-op without a path.
func (x *HNSWIndex) Save() error {
	if x.path == "" {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if err := writeFileAtomic(x.path, func(w *bufio.Writer) error {
		return x.graph.Export(w)
	}); err != nil {
		return fmt.Errorf("export hnsw graph: %w", err)
	}
	if err := writeFileAtomic(x.path+".tags", func(w *bufio.Writer) error {
		return gob.NewEncoder(w).Encode(x.tags)
	}); err != nil {
		return fmt.Errorf("write hnsw tags: %w", err)
	}
	return nil
}

// Load replaces the index contents with what Save wrote. A missing file leaves
// the index empty.
func (x *HNSWIndex) Load() error {
	if x.path == "" {
		return nil
	}
	if _, err := os.Stat(x.path); os.IsNotExist(err) {
		return nil
	}

	g := newGraph()
	f, err := os.Open(x.path)
	if err != nil {
		return fmt.Errorf("open hnsw graph: %w", err)
	}
	defer f.Close()
	if err := g.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import hnsw graph: %w", err)
	}

	tf, err := os.Open(x.path + ".tags")
	if err != nil {
		return fmt.Errorf("open hnsw tags: %w", err)
	}
	defer tf.Close()
	tags := make(map[string]models.VectorTags)
	if err := gob.NewDecoder(bufio.NewReader(tf)).Decode(&tags); err != nil {
		return fmt.Errorf("decode hnsw tags: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.graph = g
	x.tags = tags
	return nil
}

func writeFileAtomic(path string, write func(*bufio.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := write(w); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
