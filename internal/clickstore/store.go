package clickstore

import (
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("clickstore: build cbor encode mode: %v", err))
	}
	encMode = m
}

// DocClickCount pairs a position in a caller-supplied document id list
// with that document's click count, mirroring CTRManager's
// getClickCountListByDocIdList which reports only documents with a
// nonzero count.
type DocClickCount struct {
	Pos   int
	Count uint32
}

// Store is a click-count table for one collection, persisted as
// "ctr.db" under the node's per-collection data directory (spec.md §6
// on-disk layout).
type Store struct {
	mu     sync.RWMutex
	path   string
	counts map[uint32]uint32
}

// Open loads path if it exists (a fresh table starts empty; the
// original library-backed store on-disk is not being replayed here,
// only its own prior CBOR image). Missing files are not an error: a
// node's first run has none.
func Open(path string) (*Store, error) {
	s := &Store{path: path, counts: make(map[uint32]uint32)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("clickstore: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := cbor.Unmarshal(data, &s.counts); err != nil {
		return nil, fmt.Errorf("clickstore: decode %s: %w", path, err)
	}
	return s, nil
}

// Update increments docID's click count and flushes the whole table to
// disk, matching CTRManager::update's update-then-flush pairing.
// Document id 0 is valid here (unlike the original's 1-based
// preallocated vector, this table has no upper bound to preallocate
// against).
func (s *Store) Update(docID uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[docID]++
	count := s.counts[docID]
	if err := s.flushLocked(); err != nil {
		return count, err
	}
	return count, nil
}

// Get returns docID's current click count, or 0 if it has never been
// clicked.
func (s *Store) Get(docID uint32) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[docID]
}

// ClickCountsByDocIDs reports, for each position in docIDs whose
// document has a nonzero click count, that position and count. Mirrors
// CTRManager::getClickCountListByDocIdList.
func (s *Store) ClickCountsByDocIDs(docIDs []uint32) []DocClickCount {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.counts) == 0 {
		return nil
	}

	var out []DocClickCount
	for pos, docID := range docIDs {
		if count := s.counts[docID]; count > 0 {
			out = append(out, DocClickCount{Pos: pos, Count: count})
		}
	}
	return out
}

// Flush persists the current table to disk outside of an Update call,
// for callers that want an explicit checkpoint (e.g. before shutdown).
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	data, err := encMode.Marshal(s.counts)
	if err != nil {
		return fmt.Errorf("clickstore: encode table: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("clickstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("clickstore: rename %s: %w", tmp, err)
	}
	return nil
}
