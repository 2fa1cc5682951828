package crawl

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geosweep/internal/model"
	"github.com/sells-group/geosweep/internal/region"
	"github.com/sells-group/geosweep/internal/resilience"
	"github.com/sells-group/geosweep/pkg/poiapi"
	"github.com/sells-group/geosweep/pkg/poiapi/mocks"
)

func testRegion(t *testing.T) *region.Region {
	t.Helper()
	r, err := region.New(geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{121.0, 31.0}, {121.1, 31.0}, {121.1, 31.1}, {121.0, 31.1}, {121.0, 31.0},
	}}))
	require.NoError(t, err)
	return r
}

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: attempts}
}

var center = model.SamplePoint{Lon: 121.05, Lat: 31.05, Geohash: "wtw3testpt"}

func TestCollectPoint_TwoPagesThenEmpty(t *testing.T) {
	client := &fakeClient{search: pagedSearch(
		[]poiapi.Item{item("1", 121.01, 31.01), item("2", 121.02, 31.02)},
		[]poiapi.Item{item("3", 121.03, 31.03)},
	)}
	store := NewRecordStore()
	gate := &countingGate{}
	agg := NewAggregator(client, testRegion(t), store, gate, fastRetry(3), 4000, 20, nil)

	res := agg.CollectPoint(context.Background(), center)

	require.NoError(t, res.Err)
	assert.Equal(t, []int{1, 2, 3}, client.pagesRequested(), "page 3 is requested once and nothing after it")
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 3, res.Items)
	assert.Equal(t, 3, res.Accepted)
	assert.Equal(t, 3, res.New)
	assert.Equal(t, []string{"1", "2", "3"}, store.IDs())
	assert.Equal(t, int64(3), gate.waits.Load())

	for _, s := range client.searches {
		assert.InDelta(t, 121.05, s.Lon, 1e-9)
		assert.InDelta(t, 31.05, s.Lat, 1e-9)
		assert.InDelta(t, 4000, s.Radius, 1e-9)
		assert.Equal(t, 20, s.PerPage)
	}
}

func TestCollectPoint_RejectsInvalidAndOutside(t *testing.T) {
	client := &fakeClient{search: pagedSearch([]poiapi.Item{
		item("in", 121.05, 31.05),
		item("edge", 121.1, 31.05),
		item("outside", 121.2, 31.05),
		item("", 121.05, 31.05),
		item("nolon", 0, 31.05),
		item("nolat", 121.05, 0),
	})}
	store := NewRecordStore()
	agg := NewAggregator(client, testRegion(t), store, &countingGate{}, fastRetry(1), 3000, 0, nil)

	res := agg.CollectPoint(context.Background(), center)

	require.NoError(t, res.Err)
	assert.Equal(t, 6, res.Items)
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, 3, res.RejectedInvalid)
	assert.Equal(t, 1, res.RejectedOutside)
	assert.Equal(t, []string{"in", "edge"}, store.IDs())
	_, ok := store.Get("outside")
	assert.False(t, ok)
	assert.Equal(t, poiapi.DefaultPageSize, client.searches[0].PerPage)
}

func TestCollectPoint_OverlappingPointsLaterWins(t *testing.T) {
	first := item("shared", 121.01, 31.01)
	second := item("shared", 121.02, 31.02)

	store := NewRecordStore()
	r := testRegion(t)

	a1 := NewAggregator(&fakeClient{search: pagedSearch([]poiapi.Item{first, item("x", 121.03, 31.03)})}, r, store, &countingGate{}, fastRetry(1), 3000, 20, nil)
	a2 := NewAggregator(&fakeClient{search: pagedSearch([]poiapi.Item{second})}, r, store, &countingGate{}, fastRetry(1), 3000, 20, nil)

	res1 := a1.CollectPoint(context.Background(), center)
	res2 := a2.CollectPoint(context.Background(), center)

	assert.Equal(t, 2, res1.New)
	assert.Equal(t, 1, res2.Accepted)
	assert.Equal(t, 0, res2.New)
	assert.Equal(t, 2, store.Len())

	got, ok := store.Get("shared")
	require.True(t, ok)
	assert.InDelta(t, 121.02, got.Lon, 1e-9)
	assert.JSONEq(t, string(second.Raw), string(got.Raw))
}

func TestCollectPoint_ExhaustionSkipsPoint(t *testing.T) {
	fail := resilience.StatusError("poiapi: list", http.StatusBadGateway, "bad gateway")
	calls := 0
	client := &fakeClient{search: func(req poiapi.SearchRequest) (*poiapi.SearchPage, error) {
		calls++
		if req.Page == 1 {
			return &poiapi.SearchPage{Page: 1, Items: []poiapi.Item{item("kept", 121.05, 31.05)}}, nil
		}
		return nil, fail
	}}
	store := NewRecordStore()
	gate := &countingGate{}
	skips := &resilience.SkipLog{}
	agg := NewAggregator(client, testRegion(t), store, gate, fastRetry(2), 3000, 20, skips)

	res := agg.CollectPoint(context.Background(), center)

	require.Error(t, res.Err)
	assert.True(t, resilience.IsExhausted(res.Err))
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, 3, calls, "page 1 once, page 2 twice")
	assert.Equal(t, int64(3), gate.waits.Load(), "every attempt passes the gate")
	assert.Equal(t, []string{"kept"}, store.IDs())

	require.Equal(t, 1, skips.Total())
	skip := skips.Entries()[0]
	assert.Equal(t, "list", skip.Phase)
	assert.Equal(t, center.Key(), skip.Key)
	assert.Equal(t, resilience.KindStatus, skip.Kind)
	assert.Equal(t, 2, skip.Attempts)
}

func TestCollectPoint_CanceledIsNotSkipped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	skips := &resilience.SkipLog{}
	agg := NewAggregator(&fakeClient{}, testRegion(t), NewRecordStore(), &countingGate{}, fastRetry(3), 3000, 20, skips)
	res := agg.CollectPoint(ctx, center)

	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Zero(t, skips.Total())
}

func TestCollectPoint_GateErrorStopsPoint(t *testing.T) {
	gateErr := errors.New("gate closed")
	client := &fakeClient{}
	agg := NewAggregator(client, testRegion(t), NewRecordStore(), &countingGate{err: gateErr}, fastRetry(3), 3000, 20, nil)

	res := agg.CollectPoint(context.Background(), center)
	assert.ErrorIs(t, res.Err, gateErr)
	assert.Empty(t, client.pagesRequested())
}

func TestCollectPoint_FrozenStore(t *testing.T) {
	store := NewRecordStore()
	store.Freeze()
	client := &fakeClient{search: pagedSearch([]poiapi.Item{item("1", 121.05, 31.05)}, []poiapi.Item{item("2", 121.05, 31.05)})}
	agg := NewAggregator(client, testRegion(t), store, &countingGate{}, fastRetry(1), 3000, 20, nil)

	res := agg.CollectPoint(context.Background(), center)
	assert.ErrorIs(t, res.Err, ErrStoreFrozen)
	assert.Equal(t, []int{1}, client.pagesRequested())
}

func TestCollectPoint_WithMockClient(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("SearchPage", mock.Anything, mock.MatchedBy(func(r poiapi.SearchRequest) bool { return r.Page == 1 })).
		Return(&poiapi.SearchPage{Page: 1, Items: []poiapi.Item{item("m1", 121.04, 31.04)}}, nil).Once()
	client.On("SearchPage", mock.Anything, mock.MatchedBy(func(r poiapi.SearchRequest) bool { return r.Page == 2 })).
		Return(nil, resilience.NewFetchError(resilience.KindMalformed, "poiapi: list", errors.New("truncated"))).Once()
	client.On("SearchPage", mock.Anything, mock.MatchedBy(func(r poiapi.SearchRequest) bool { return r.Page == 2 })).
		Return(&poiapi.SearchPage{Page: 2}, nil).Once()

	store := NewRecordStore()
	agg := NewAggregator(client, testRegion(t), store, &countingGate{}, fastRetry(3), 3000, 20, nil)
	res := agg.CollectPoint(context.Background(), center)

	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, []string{"m1"}, store.IDs())
}
