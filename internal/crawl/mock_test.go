package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sells-group/geosweep/internal/model"
	"github.com/sells-group/geosweep/internal/sink"
	"github.com/sells-group/geosweep/pkg/poiapi"
)

// fakeClient serves list pages from a function of the request and details
// from a map. Every call is recorded.
type fakeClient struct {
	search  func(req poiapi.SearchRequest) (*poiapi.SearchPage, error)
	details map[string]json.RawMessage
	failIDs map[string]error

	mu          sync.Mutex
	searches    []poiapi.SearchRequest
	detailCalls []string
}

func (f *fakeClient) SearchPage(_ context.Context, req poiapi.SearchRequest) (*poiapi.SearchPage, error) {
	f.mu.Lock()
	f.searches = append(f.searches, req)
	f.mu.Unlock()
	if f.search == nil {
		return &poiapi.SearchPage{Page: req.Page}, nil
	}
	return f.search(req)
}

func (f *fakeClient) Detail(_ context.Context, id string) (json.RawMessage, error) {
	f.mu.Lock()
	f.detailCalls = append(f.detailCalls, id)
	f.mu.Unlock()
	if err, ok := f.failIDs[id]; ok {
		return nil, err
	}
	if d, ok := f.details[id]; ok {
		return d, nil
	}
	return json.RawMessage(fmt.Sprintf(`{"id": %q}`, id)), nil
}

func (f *fakeClient) pagesRequested() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.searches))
	for _, s := range f.searches {
		out = append(out, s.Page)
	}
	return out
}

func (f *fakeClient) detailsRequested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.detailCalls...)
}

// pagedSearch returns pages[i-1] for page i and an empty page beyond them.
func pagedSearch(pages ...[]poiapi.Item) func(req poiapi.SearchRequest) (*poiapi.SearchPage, error) {
	return func(req poiapi.SearchRequest) (*poiapi.SearchPage, error) {
		if req.Page >= 1 && req.Page <= len(pages) {
			return &poiapi.SearchPage{Page: req.Page, Items: pages[req.Page-1]}, nil
		}
		return &poiapi.SearchPage{Page: req.Page}, nil
	}
}

func item(id string, lon, lat float64) poiapi.Item {
	return poiapi.Item{
		ID:  id,
		Lon: lon,
		Lat: lat,
		Raw: json.RawMessage(fmt.Sprintf(`{"id":%q,"longitude":%v,"latitude":%v}`, id, lon, lat)),
	}
}

// memorySink keeps everything in memory.
type memorySink struct {
	mu        sync.Mutex
	lists     map[string][]model.Record
	details   map[string]model.Detail
	listErr   error
	detailErr error
	closed    bool
}

func newMemorySink() *memorySink {
	return &memorySink{
		lists:   make(map[string][]model.Record),
		details: make(map[string]model.Detail),
	}
}

func (m *memorySink) SaveList(_ context.Context, key sink.Key, records []model.Record) error {
	if m.listErr != nil {
		return m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key.Area] = records
	return nil
}

func (m *memorySink) SaveDetail(_ context.Context, key sink.Key, d model.Detail) error {
	if m.detailErr != nil {
		return m.detailErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[key.Area+"/"+d.ID] = d
	return nil
}

func (m *memorySink) Close() error {
	m.closed = true
	return nil
}

// countingGate admits everything and counts the waits.
type countingGate struct {
	waits atomic.Int64
	err   error
}

func (g *countingGate) Wait(ctx context.Context) error {
	g.waits.Add(1)
	if g.err != nil {
		return g.err
	}
	return ctx.Err()
}
