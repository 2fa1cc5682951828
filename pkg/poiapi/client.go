// Package poiapi is a client for a paginated, radius-based point-of-interest
// search API and its per-item detail endpoint.
package poiapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/geosweep/internal/resilience"
)

const (
	defaultBaseURL    = "https://yihe-api.slicejobs.com"
	defaultListPath   = "/app/product/map_query"
	defaultDetailPath = "/app/product/get_{id}"
	defaultItemsPath  = "detail.data"

	// DefaultPageSize is the page size the list endpoint is queried with.
	DefaultPageSize = 20

	maxBodyBytes  = 32 << 20
	maxErrorBytes = 512
)

// Client performs list and detail lookups.
type Client interface {
	SearchPage(ctx context.Context, req SearchRequest) (*SearchPage, error)
	Detail(ctx context.Context, id string) (json.RawMessage, error)
}

// SearchRequest is one page of a radius search around a point.
type SearchRequest struct {
	Lon     float64
	Lat     float64
	Radius  float64 // meters
	Page    int     // 1-indexed
	PerPage int
}

// SearchPage is the decoded result of one list request. An empty Items slice
// means the search has no more results.
type SearchPage struct {
	Page  int
	Items []Item
}

// Item is one list result. Raw is the item exactly as returned.
type Item struct {
	ID  string
	Lon float64
	Lat float64
	Raw json.RawMessage
}

// Valid reports whether the item carries an identifier and both coordinates.
// Zero coordinates count as missing.
func (it Item) Valid() bool {
	return it.ID != "" && it.Lon != 0 && it.Lat != 0
}

type listRequest struct {
	Longitude   float64 `json:"longitude"`
	Latitude    float64 `json:"latitude"`
	Distance    float64 `json:"distance"`
	CurrentPage int     `json:"current_page"`
	PerPage     int     `json:"per_page"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithListPath overrides the list endpoint path.
func WithListPath(p string) Option {
	return func(c *httpClient) {
		c.listPath = p
	}
}

// WithDetailPath overrides the detail endpoint path. "{id}" is replaced with
// the escaped identifier.
func WithDetailPath(p string) Option {
	return func(c *httpClient) {
		c.detailPath = p
	}
}

// WithItemsPath sets the gjson path of the item array in a list response.
func WithItemsPath(p string) Option {
	return func(c *httpClient) {
		c.itemsPath = p
	}
}

// WithDetailFlag sets the map_query value sent with detail requests.
func WithDetailFlag(flag int) Option {
	return func(c *httpClient) {
		c.detailFlag = flag
	}
}

// WithHeaders adds headers to every request. A "Host" entry overrides the
// request host.
func WithHeaders(h map[string]string) Option {
	return func(c *httpClient) {
		for k, v := range h {
			c.headers[k] = v
		}
	}
}

// WithInsecureTLS disables certificate verification.
func WithInsecureTLS(insecure bool) Option {
	return func(c *httpClient) {
		c.insecure = insecure
	}
}

type httpClient struct {
	baseURL    string
	listPath   string
	detailPath string
	itemsPath  string
	detailFlag int
	headers    map[string]string
	insecure   bool
	http       *http.Client
}

// NewClient creates a POI API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:    defaultBaseURL,
		listPath:   defaultListPath,
		detailPath: defaultDetailPath,
		itemsPath:  defaultItemsPath,
		headers:    map[string]string{},
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	if c.insecure && c.http.Transport == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // upstream serves a broken chain
		c.http.Transport = tr
	}
	return c
}

func (c *httpClient) SearchPage(ctx context.Context, sr SearchRequest) (*SearchPage, error) {
	const op = "poiapi: list"

	perPage := sr.PerPage
	if perPage <= 0 {
		perPage = DefaultPageSize
	}
	body, err := json.Marshal(listRequest{
		Longitude:   sr.Lon,
		Latitude:    sr.Lat,
		Distance:    sr.Radius,
		CurrentPage: sr.Page,
		PerPage:     perPage,
	})
	if err != nil {
		return nil, eris.Wrap(err, "poiapi: marshal list request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.listPath, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "poiapi: create list request")
	}

	respBody, err := c.do(req, op)
	if err != nil {
		return nil, err
	}

	items := gjson.GetBytes(respBody, c.itemsPath)
	page := &SearchPage{Page: sr.Page}
	if !items.Exists() || items.Type == gjson.Null {
		return page, nil
	}
	if !items.IsArray() {
		return nil, resilience.NewFetchError(resilience.KindMalformed, op,
			eris.Errorf("%s is %s, want array", c.itemsPath, items.Type))
	}
	items.ForEach(func(_, v gjson.Result) bool {
		page.Items = append(page.Items, parseItem(v))
		return true
	})

	zap.L().Debug("poiapi: list page",
		zap.Int("page", sr.Page),
		zap.Int("items", len(page.Items)),
	)
	return page, nil
}

func (c *httpClient) Detail(ctx context.Context, id string) (json.RawMessage, error) {
	const op = "poiapi: detail"

	u, err := url.Parse(c.baseURL + strings.ReplaceAll(c.detailPath, "{id}", url.PathEscape(id)))
	if err != nil {
		return nil, eris.Wrapf(err, "poiapi: detail url for %s", id)
	}
	q := u.Query()
	q.Set("id", id)
	q.Set("map_query", strconv.Itoa(c.detailFlag))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "poiapi: create detail request")
	}

	respBody, err := c.do(req, op)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(respBody), nil
}

// do sends req and returns a body that is known to be valid JSON. Failures
// are returned as *resilience.FetchError.
func (c *httpClient) do(req *http.Request, op string) ([]byte, error) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		if strings.EqualFold(k, "Host") {
			req.Host = v
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.TransportError(op, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resilience.TransportError(op, eris.Wrap(err, "read response"))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resilience.StatusError(op, resp.StatusCode, truncate(respBody, maxErrorBytes))
	}

	if !gjson.ValidBytes(respBody) {
		return nil, resilience.NewFetchError(resilience.KindMalformed, op,
			eris.Errorf("invalid json: %q", truncate(respBody, 64)))
	}
	return respBody, nil
}

// parseItem reads id, longitude and latitude from a list item. Numbers and
// numeric strings are both accepted; a numeric zero id counts as absent.
func parseItem(v gjson.Result) Item {
	it := Item{Raw: json.RawMessage(v.Raw)}

	id := v.Get("id")
	switch id.Type {
	case gjson.String:
		it.ID = strings.TrimSpace(id.Str)
	case gjson.Number:
		if id.Num != 0 {
			it.ID = id.Raw
		}
	}

	it.Lon = coord(v.Get("longitude"))
	it.Lat = coord(v.Get("latitude"))
	return it
}

func coord(r gjson.Result) float64 {
	switch r.Type {
	case gjson.Number:
		return r.Num
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
