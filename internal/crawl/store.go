package crawl

import (
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geosweep/internal/model"
)

// ErrStoreFrozen is returned by merges after the list phase has ended.
var ErrStoreFrozen = eris.New("crawl: record store is frozen")

// RecordStore is the deduplicated set of records for one area, keyed by
// record id. A merge of an existing id replaces the record but keeps the
// position where the id was first seen.
type RecordStore struct {
	mu      sync.RWMutex
	order   []string
	records map[string]model.Record
	frozen  bool
}

// NewRecordStore returns an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]model.Record)}
}

// Merge inserts or replaces records as one unit and returns how many ids
// were new.
func (s *RecordStore) Merge(records ...model.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return 0, ErrStoreFrozen
	}
	added := 0
	for _, r := range records {
		if _, ok := s.records[r.ID]; !ok {
			s.order = append(s.order, r.ID)
			added++
		}
		s.records[r.ID] = r
	}
	return added, nil
}

// Freeze ends the list phase. Later merges fail with ErrStoreFrozen.
func (s *RecordStore) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (s *RecordStore) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// Len returns the number of distinct ids.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Get returns the current record for id.
func (s *RecordStore) Get(id string) (model.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// IDs returns the ids in first-seen order.
func (s *RecordStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Records returns the latest record of every id in first-seen order.
func (s *RecordStore) Records() []model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}
