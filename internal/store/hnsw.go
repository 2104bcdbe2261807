package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWIndex implements VectorStore on top of the coder/hnsw pure Go
// HNSW graph. String document ids are mapped to monotonically growing
// uint64 graph keys.
//
// Deletion is lazy: removed ids are dropped from the mappings but
// their nodes stay in the graph as orphans until a rebuild. Orphans
// never appear in results; Stats exposes their count so callers can
// decide when to rebuild.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorIndexConfig

	idMap   map[string]uint64 // document id -> graph key
	keyMap  map[uint64]string // graph key -> document id
	nextKey uint64

	closed bool
}

// hnswSnapshot is the gob-serialized index state. The graph itself is
// embedded as its own export format.
type hnswSnapshot struct {
	IDMap     map[string]uint64
	NextKey   uint64
	Config    VectorIndexConfig
	GraphData []byte
}

// NewHNSWIndex creates an empty vector index.
func NewHNSWIndex(cfg VectorIndexConfig) (*HNSWIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 50
	}
	if cfg.BruteForceThreshold == 0 {
		cfg.BruteForceThreshold = 1024
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch

	return &HNSWIndex{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}, nil
}

// Add inserts vectors with their ids. Existing ids are replaced.
func (s *HNSWIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		// Replacing an id orphans its old graph node. Deleting from
		// the graph directly breaks coder/hnsw when the last node is
		// removed, so the node is left behind instead.
		if oldKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, oldKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}

	// Graph recall degrades once the corpus outgrows the configured
	// beam width, so the beam tracks the live size up to a cap.
	if ef := len(s.idMap); ef > s.graph.EfSearch {
		if ef > maxEfSearch {
			ef = maxEfSearch
		}
		s.graph.EfSearch = ef
	}

	return nil
}

// maxEfSearch caps the adaptive beam width.
const maxEfSearch = 400

// Search finds the k nearest neighbors to the query vector. Orphaned
// graph nodes are filtered out, so fewer than k results may return
// even when the graph holds more nodes.
func (s *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if k <= 0 || s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(normalized)
	}

	if len(s.idMap) <= s.config.BruteForceThreshold {
		return s.scanNearest(normalized, k), nil
	}

	// Over-fetch to compensate for orphans dropped below
	fetch := k
	if orphans := s.graph.Len() - len(s.idMap); orphans > 0 {
		fetch += orphans
	}

	nodes := s.graph.Search(normalized, fetch)

	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue // orphaned node
		}

		distance := s.graph.Distance(normalized, node.Value)
		results = append(results, &VectorResult{
			ID:       id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// scanNearest is the exact small-corpus path: every live vector is
// compared against the query. Orphans are skipped because only id
// mappings are walked. Caller holds at least the read lock.
func (s *HNSWIndex) scanNearest(query []float32, k int) []*VectorResult {
	hits := make([]*VectorResult, 0, len(s.idMap))
	for id, key := range s.idMap {
		vec, ok := s.graph.Lookup(key)
		if !ok {
			continue
		}
		distance := s.graph.Distance(query, vec)
		hits = append(hits, &VectorResult{
			ID:       id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Delete removes ids from the index. Unknown ids are a no-op.
func (s *HNSWIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}

	return nil
}

// AllIDs returns all document ids in the index.
func (s *HNSWIndex) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Contains checks if an id exists.
func (s *HNSWIndex) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	_, exists := s.idMap[id]
	return exists
}

// Count returns the number of live vectors.
func (s *HNSWIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}

	return len(s.idMap)
}

// Dimensions returns the configured embedding dimensionality.
func (s *HNSWIndex) Dimensions() int {
	return s.config.Dimensions
}

// HNSWStats describes index state, including lazily deleted orphans.
type HNSWStats struct {
	ValidIDs   int // live id mappings
	GraphNodes int // total graph nodes, orphans included
	Orphans    int // GraphNodes - ValidIDs
}

// Stats returns index statistics for rebuild decisions.
func (s *HNSWIndex) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return HNSWStats{}
	}

	return HNSWStats{
		ValidIDs:   len(s.idMap),
		GraphNodes: s.graph.Len(),
		Orphans:    s.graph.Len() - len(s.idMap),
	}
}

// SnapshotTo serializes the full index state to w.
func (s *HNSWIndex) SnapshotTo(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	var graphBuf bytes.Buffer
	if err := s.graph.Export(&graphBuf); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}

	snap := hnswSnapshot{
		IDMap:     s.idMap,
		NextKey:   s.nextKey,
		Config:    s.config,
		GraphData: graphBuf.Bytes(),
	}

	if err := gob.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("encode hnsw snapshot: %w", err)
	}
	return nil
}

// RestoreFrom replaces the index state with a serialized snapshot.
func (s *HNSWIndex) RestoreFrom(r io.Reader) error {
	var snap hnswSnapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("decode hnsw snapshot: %w", err)
	}

	graph := hnsw.NewGraph[uint64]()
	switch snap.Config.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = snap.Config.M
	graph.EfSearch = snap.Config.EfSearch

	// coder/hnsw Import requires an io.ByteReader
	if err := graph.Import(bufio.NewReader(bytes.NewReader(snap.GraphData))); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	s.graph = graph
	s.config = snap.Config
	if s.config.BruteForceThreshold == 0 {
		s.config.BruteForceThreshold = 1024
	}
	s.idMap = snap.IDMap
	if s.idMap == nil {
		s.idMap = make(map[string]uint64)
	}
	s.nextKey = snap.NextKey
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}

	return nil
}

// Save persists the index to disk atomically (temp file + rename).
func (s *HNSWIndex) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := s.SnapshotTo(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	return nil
}

// Load restores the index from disk.
func (s *HNSWIndex) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return s.RestoreFrom(bufio.NewReader(file))
}

// Close releases resources.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.graph = nil
	return nil
}

// Verify interface implementations
var (
	_ VectorStore = (*HNSWIndex)(nil)
	_ Snapshotter = (*HNSWIndex)(nil)
)

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts a distance to a similarity score.
// For cosine distance: score = 1 - distance, in [-1, 1].
// For L2 distance: score = 1 / (1 + distance), in (0, 1].
func distanceToScore(distance float32, metric string) float64 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + float64(distance))
	default:
		return 1.0 - float64(distance)
	}
}
