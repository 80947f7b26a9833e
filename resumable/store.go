// Package resumable implements the resumable-data store (spec.md §4.5,
// component C6): a bounded cache, keyed by (pipeline-id, image-id), of
// partially-downloaded bytes plus the validator (an ETag or Last-Modified
// string) needed to check the origin hasn't changed before resuming from
// them. It is grounded in the teacher's common.LFUCache (map + mutex +
// eviction under a size cap), generalized from frequency-based eviction to
// recency-based eviction via hashicorp/golang-lru/v2, since a resumable
// chunk that hasn't been touched in a while is exactly the one a later
// write should evict first.
package resumable

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxCost is the store's default byte budget (spec.md §4.5: "32 MiB
// default").
const DefaultMaxCost = 32 * 1024 * 1024

// DefaultMaxCount is the store's default entry-count budget (spec.md §4.5:
// "100 entries default").
const DefaultMaxCount = 100

// Key identifies one resumable record: an image-id scoped to the pipeline
// that produced it, so two pipelines loading the same URL never collide.
type Key struct {
	PipelineID string
	ImageID    string
}

// Record is what the store holds per key: the bytes downloaded so far and
// the validator that must still match before they may be resumed from.
type Record struct {
	Data      []byte
	Validator string
}

// Store is a cost-and-count-bounded LRU of Records. The zero value is not
// usable; construct with New.
type Store struct {
	mu         sync.Mutex
	cache      *lru.Cache[Key, Record]
	maxCost    int64
	curCost    int64
	namespaces map[string]int
}

// New builds a Store with the given byte-cost and entry-count ceilings.
// Eviction fires whenever either is exceeded.
func New(maxCost int64, maxCount int) *Store {
	s := &Store{maxCost: maxCost, namespaces: make(map[string]int)}
	c, err := lru.New[Key, Record](maxCount)
	if err != nil {
		// Only returns an error for size <= 0, which New's callers never pass.
		panic(err)
	}
	s.cache = c
	return s
}

// RegisterPipeline marks pipelineID as having at least one live user of the
// store. Records are retained per-pipeline only while registered.
func (s *Store) RegisterPipeline(pipelineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespaces[pipelineID]++
}

// UnregisterPipeline drops one registration for pipelineID. When the count
// reaches zero, every record belonging to that pipeline is evicted
// (spec.md §4.5: storage is deallocated once no namespace is registered).
func (s *Store) UnregisterPipeline(pipelineID string) {
	s.mu.Lock()
	n, ok := s.namespaces[pipelineID]
	if !ok {
		s.mu.Unlock()
		return
	}
	n--
	if n <= 0 {
		delete(s.namespaces, pipelineID)
		s.removeMatchingLocked(func(k Key) bool { return k.PipelineID == pipelineID })
	} else {
		s.namespaces[pipelineID] = n
	}
	s.mu.Unlock()
}

// Store records data under (pipelineID, imageID) with the given validator,
// evicting least-recently-used entries until both the cost and count
// budgets are satisfied.
func (s *Store) Store(pipelineID, imageID string, data []byte, validator string) {
	key := Key{PipelineID: pipelineID, ImageID: imageID}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{Data: data, Validator: validator}
	if old, ok := s.cache.Peek(key); ok {
		s.curCost -= int64(len(old.Data))
		s.cache.Add(key, rec)
	} else {
		// A new key at the count cap makes Add drop the oldest record.
		_, oldest, hadOldest := s.cache.GetOldest()
		if s.cache.Add(key, rec) && hadOldest {
			s.curCost -= int64(len(oldest.Data))
		}
	}
	s.curCost += int64(len(data))

	for s.curCost > s.maxCost && s.cache.Len() > 0 {
		_, v, ok := s.cache.RemoveOldest()
		if !ok {
			break
		}
		s.curCost -= int64(len(v.Data))
	}
}

// Load returns the record for (pipelineID, imageID), if any, and refreshes
// its recency.
func (s *Store) Load(pipelineID, imageID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Get(Key{PipelineID: pipelineID, ImageID: imageID})
}

// RemoveMatching evicts every record whose key satisfies pred, used when a
// pipeline is told to forget everything for a given image-id (e.g. on an
// explicit cache-clear request).
func (s *Store) RemoveMatching(pred func(k Key) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeMatchingLocked(pred)
}

func (s *Store) removeMatchingLocked(pred func(k Key) bool) {
	for _, k := range s.cache.Keys() {
		if !pred(k) {
			continue
		}
		if v, ok := s.cache.Peek(k); ok {
			s.curCost -= int64(len(v.Data))
		}
		s.cache.Remove(k)
	}
}

// Clear evicts every record in the store, regardless of pipeline.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
	s.curCost = 0
}

// Len reports the current entry count, used by metrics and tests.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}
