package resilience

import (
	"errors"
	"sync"
	"time"
)

// Skip records one operation abandoned after its retry budget ran out.
type Skip struct {
	Phase    string    `json:"phase"` // "list" or "detail"
	Key      string    `json:"key"`
	Kind     FetchKind `json:"kind,omitempty"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}

// NewSkip builds a Skip from the error that ended an operation.
func NewSkip(phase, key string, err error) Skip {
	s := Skip{Phase: phase, Key: key, Kind: KindOf(err), At: time.Now().UTC()}
	if err != nil {
		s.Error = err.Error()
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		s.Attempts = ex.Attempts
	}
	return s
}

// SkipLog collects skips from concurrent workers. It keeps at most Limit
// entries but counts every skip.
type SkipLog struct {
	Limit int

	mu      sync.Mutex
	entries []Skip
	total   int
}

// Add records s.
func (l *SkipLog) Add(s Skip) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total++
	if l.Limit > 0 && len(l.entries) >= l.Limit {
		return
	}
	l.entries = append(l.entries, s)
}

// Entries returns a copy of the retained skips in the order they were added.
func (l *SkipLog) Entries() []Skip {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Skip(nil), l.entries...)
}

// Total returns the number of skips added, retained or not.
func (l *SkipLog) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
