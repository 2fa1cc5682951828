package poiapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geosweep/internal/resilience"
)

const listBody = `{
  "status": 0,
  "detail": {
    "current_page": 1,
    "data": [
      {"id": 1001, "name": "便利店", "longitude": 121.4737, "latitude": 31.2304},
      {"id": "A-7", "name": "书店", "longitude": "121.48", "latitude": "31.22"},
      {"id": 0, "name": "no id", "longitude": 121.1, "latitude": 31.1},
      {"id": 1002, "name": "no coords"}
    ]
  }
}`

func TestSearchPage_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/app/product/map_query", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body listRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.InDelta(t, 121.47, body.Longitude, 1e-9)
		assert.InDelta(t, 31.23, body.Latitude, 1e-9)
		assert.InDelta(t, 4000, body.Distance, 1e-9)
		assert.Equal(t, 2, body.CurrentPage)
		assert.Equal(t, DefaultPageSize, body.PerPage)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(listBody))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	page, err := client.SearchPage(context.Background(), SearchRequest{
		Lon: 121.47, Lat: 31.23, Radius: 4000, Page: 2,
	})

	require.NoError(t, err)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Items, 4)

	assert.Equal(t, "1001", page.Items[0].ID)
	assert.InDelta(t, 121.4737, page.Items[0].Lon, 1e-9)
	assert.True(t, page.Items[0].Valid())
	assert.JSONEq(t, `{"id": 1001, "name": "便利店", "longitude": 121.4737, "latitude": 31.2304}`, string(page.Items[0].Raw))

	assert.Equal(t, "A-7", page.Items[1].ID)
	assert.InDelta(t, 31.22, page.Items[1].Lat, 1e-9)
	assert.True(t, page.Items[1].Valid())

	assert.Empty(t, page.Items[2].ID)
	assert.False(t, page.Items[2].Valid())
	assert.False(t, page.Items[3].Valid())
}

func TestSearchPage_EmptyPages(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty array", `{"detail": {"data": []}}`},
		{"missing detail", `{"status": 0}`},
		{"null data", `{"detail": {"data": null}}`},
		{"empty object", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			page, err := NewClient(WithBaseURL(srv.URL)).SearchPage(context.Background(), SearchRequest{Page: 1})
			require.NoError(t, err)
			assert.Empty(t, page.Items)
		})
	}
}

func TestSearchPage_CustomPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/search", r.URL.Path)
		var body listRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 50, body.PerPage)
		_, _ = w.Write([]byte(`{"result": {"items": [{"id": "x", "longitude": 1.5, "latitude": 2.5}]}}`))
	}))
	defer srv.Close()

	client := NewClient(
		WithBaseURL(srv.URL+"/"),
		WithListPath("/v2/search"),
		WithItemsPath("result.items"),
	)
	page, err := client.SearchPage(context.Background(), SearchRequest{Page: 1, PerPage: 50})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "x", page.Items[0].ID)
}

func TestSearchPage_Headers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yihe-api.slicejobs.com", r.Host)
		assert.Equal(t, "MicroMessenger/8.0.63", r.Header.Get("User-Agent"))
		assert.Equal(t, "https://servicewechat.com/", r.Header.Get("Referer"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithHeaders(map[string]string{
		"Host":       "yihe-api.slicejobs.com",
		"User-Agent": "MicroMessenger/8.0.63",
		"Referer":    "https://servicewechat.com/",
	}))
	_, err := client.SearchPage(context.Background(), SearchRequest{Page: 1})
	require.NoError(t, err)
}

func TestSearchPage_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   resilience.FetchKind
	}{
		{"server error", http.StatusInternalServerError, `{"error": "boom"}`, resilience.KindStatus},
		{"throttled", http.StatusTooManyRequests, ``, resilience.KindStatus},
		{"html", http.StatusOK, `<html>blocked</html>`, resilience.KindMalformed},
		{"data not array", http.StatusOK, `{"detail": {"data": "none"}}`, resilience.KindMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			page, err := NewClient(WithBaseURL(srv.URL)).SearchPage(context.Background(), SearchRequest{Page: 1})
			require.Error(t, err)
			assert.Nil(t, page)

			var fe *resilience.FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.kind, fe.Kind)
			if tt.kind == resilience.KindStatus {
				assert.Equal(t, tt.status, fe.StatusCode)
			}
			assert.True(t, resilience.IsRetryable(err))
		})
	}
}

func TestSearchPage_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(WithBaseURL(url)).SearchPage(context.Background(), SearchRequest{Page: 1})
	require.Error(t, err)
	assert.Equal(t, resilience.KindTransport, resilience.KindOf(err))
	assert.True(t, resilience.IsRetryable(err))
}

func TestSearchPage_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(WithBaseURL(srv.URL)).SearchPage(ctx, SearchRequest{Page: 1})
	require.Error(t, err)
	assert.Equal(t, resilience.KindTimeout, resilience.KindOf(err))
}

func TestSearchPage_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(WithBaseURL(srv.URL)).SearchPage(ctx, SearchRequest{Page: 1})
	require.Error(t, err)
	assert.False(t, resilience.IsRetryable(err))
}

func TestDetail_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/app/product/get_1001", r.URL.Path)
		assert.Equal(t, "1001", r.URL.Query().Get("id"))
		assert.Equal(t, "0", r.URL.Query().Get("map_query"))
		_, _ = w.Write([]byte(`{"detail": {"id": 1001, "title": "便利店"}}`))
	}))
	defer srv.Close()

	raw, err := NewClient(WithBaseURL(srv.URL)).Detail(context.Background(), "1001")
	require.NoError(t, err)
	assert.JSONEq(t, `{"detail": {"id": 1001, "title": "便利店"}}`, string(raw))
}

func TestDetail_CustomPathAndFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items/a b/info", r.URL.Path)
		assert.Equal(t, "a b", r.URL.Query().Get("id"))
		assert.Equal(t, "1", r.URL.Query().Get("map_query"))
		_, _ = w.Write([]byte(`null`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithDetailPath("/items/{id}/info"), WithDetailFlag(1))
	raw, err := client.Detail(context.Background(), "a b")
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
}

func TestDetail_Malformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"detail":`))
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).Detail(context.Background(), "1")
	require.Error(t, err)
	assert.Equal(t, resilience.KindMalformed, resilience.KindOf(err))
}

func TestInsecureTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"detail": {"data": []}}`))
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).SearchPage(context.Background(), SearchRequest{Page: 1})
	require.Error(t, err, "self-signed certificate must be rejected by default")

	_, err = NewClient(WithBaseURL(srv.URL), WithInsecureTLS(true)).SearchPage(context.Background(), SearchRequest{Page: 1})
	require.NoError(t, err)
}
