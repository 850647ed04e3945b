package blocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealradar/internal/resilience"
)

type fakeBlocket struct {
	t            *testing.T
	tokens       atomic.Int32
	searches     atomic.Int32
	details      atomic.Int32
	rejectFirst  atomic.Bool
	searchStatus int
	lastLim      atomic.Value
	ads          []map[string]any
	content      map[string]map[string]any
}

func (f *fakeBlocket) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, _ *http.Request) {
		n := f.tokens.Add(1)
		writeJSON(w, map[string]any{"bearerToken": "tok-" + string(rune('0'+n))})
	})
	mux.HandleFunc(contentPath, func(w http.ResponseWriter, r *http.Request) {
		f.searches.Add(1)
		if f.rejectFirst.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.True(f.t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer tok-"))
		assert.Equal(f.t, "active", r.URL.Query().Get("status"))
		f.lastLim.Store(r.URL.Query().Get("lim"))
		if f.searchStatus != 0 {
			w.WriteHeader(f.searchStatus)
			return
		}
		writeJSON(w, map[string]any{"data": f.ads})
	})
	mux.HandleFunc(contentPath+"/", func(w http.ResponseWriter, r *http.Request) {
		f.details.Add(1)
		id := strings.TrimPrefix(r.URL.Path, contentPath+"/")
		c, ok := f.content[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"data": c})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func newTestClient(t *testing.T, f *fakeBlocket) *httpClient {
	t.Helper()
	f.t = t
	ts := httptest.NewServer(f.handler())
	t.Cleanup(ts.Close)

	return NewClient(
		WithSiteURL(ts.URL),
		WithAPIURL(ts.URL),
		WithRateLimit(0),
		WithBatching(2, 0),
		WithRetry(resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
	).(*httpClient)
}

func detail(id, subject string, price any) map[string]any {
	return map[string]any{
		"ad_id":   id,
		"subject": subject,
		"body":    "desc " + id,
		"price":   map[string]any{"value": price},
		"location": map[string]any{
			"name":   "Stockholm",
			"region": map[string]any{"name": "Stockholms län"},
		},
		"category":   map[string]any{"name": "Datorer"},
		"advertiser": map[string]any{"name": "Kalle"},
		"images":     []map[string]any{{"url": "https://img/1.jpg"}, {"url": "https://img/2.jpg"}},
		"company_ad": false,
		"type":       "s",
	}
}

func TestGet_MapsFields(t *testing.T) {
	f := &fakeBlocket{content: map[string]map[string]any{"A1": detail("A1", "ThinkPad T480", 1500)}}
	c := newTestClient(t, f)

	l, err := c.Get(context.Background(), "A1")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, "A1", l.AdID)
	assert.Equal(t, "ThinkPad T480", l.Title)
	assert.Equal(t, "desc A1", l.Description)
	assert.Equal(t, "1500 kr", l.Price)
	assert.Equal(t, "Stockholm", l.Location)
	assert.Equal(t, "Stockholms län", l.Region)
	assert.Equal(t, "Datorer", l.Category)
	assert.Equal(t, "Kalle", l.Seller)
	assert.Equal(t, "s", l.Type)
	assert.Equal(t, []string{"https://img/1.jpg", "https://img/2.jpg"}, l.Images)
	assert.Equal(t, int32(1), f.tokens.Load())
}

func TestGet_NotFoundReturnsNil(t *testing.T) {
	f := &fakeBlocket{content: map[string]map[string]any{}}
	c := newTestClient(t, f)

	l, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, l)
}

func TestGet_NoPrice(t *testing.T) {
	d := detail("A2", "Chair", nil)
	delete(d, "price")
	f := &fakeBlocket{content: map[string]map[string]any{"A2": d}}
	c := newTestClient(t, f)

	l, err := c.Get(context.Background(), "A2")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Empty(t, l.Price)
}

func TestSearch_SortsAndLimits(t *testing.T) {
	f := &fakeBlocket{
		ads: []map[string]any{
			{"ad_id": "old", "list_time": "2026-03-01T08:00:00+01:00"},
			{"ad_id": "new", "list_time": "2026-03-01T12:00:00+01:00"},
			{"ad_id": "mid", "list_time": "2026-03-01T10:00:00+01:00"},
		},
		content: map[string]map[string]any{
			"old": detail("old", "Old", 100),
			"new": detail("new", "New", 200),
			"mid": detail("mid", "Mid", 300),
		},
	}
	c := newTestClient(t, f)

	res, err := c.Search(context.Background(), "5021", 2)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Listings, 2)
	assert.Equal(t, "new", res.Listings[0].AdID)
	assert.Equal(t, "mid", res.Listings[1].AdID)
	assert.Equal(t, "50", f.lastLim.Load())
	assert.Equal(t, int32(2), f.details.Load())
}

func TestSearch_PageCappedAt99(t *testing.T) {
	f := &fakeBlocket{}
	c := newTestClient(t, f)

	res, err := c.Search(context.Background(), "5021", 250)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Listings)
	assert.Equal(t, "99", f.lastLim.Load())
}

func TestSearch_DropsFailedDetails(t *testing.T) {
	f := &fakeBlocket{
		ads: []map[string]any{
			{"ad_id": "1", "timestamp": 1700000300},
			{"ad_id": "2", "timestamp": 1700000200},
			{"ad_id": "3", "timestamp": 1700000100},
		},
		content: map[string]map[string]any{
			"1": detail("1", "One", 1),
			"3": detail("3", "Three", 3),
		},
	}
	c := newTestClient(t, f)

	res, err := c.Search(context.Background(), "5021", 3)
	require.NoError(t, err)
	require.Len(t, res.Listings, 2)
	assert.Equal(t, "1", res.Listings[0].AdID)
	assert.Equal(t, "3", res.Listings[1].AdID)
}

func TestSearch_FailureReportsUnsuccessful(t *testing.T) {
	f := &fakeBlocket{searchStatus: http.StatusForbidden}
	c := newTestClient(t, f)

	res, err := c.Search(context.Background(), "5021", 5)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Empty(t, res.Listings)
	assert.Equal(t, int32(1), f.searches.Load())
}

func TestSearch_RetriesTransientStatus(t *testing.T) {
	f := &fakeBlocket{searchStatus: http.StatusServiceUnavailable}
	c := newTestClient(t, f)

	_, err := c.Search(context.Background(), "5021", 5)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(2), f.searches.Load())
}

func TestSearch_RefreshesTokenOnUnauthorized(t *testing.T) {
	f := &fakeBlocket{
		ads:     []map[string]any{{"ad_id": "A1", "list_time": "2026-03-01T12:00:00Z"}},
		content: map[string]map[string]any{"A1": detail("A1", "ThinkPad", 900)},
	}
	f.rejectFirst.Store(true)
	c := newTestClient(t, f)

	res, err := c.Search(context.Background(), "5021", 1)
	require.NoError(t, err)
	require.Len(t, res.Listings, 1)
	assert.Equal(t, int32(2), f.tokens.Load())
	assert.Equal(t, "tok-2", c.token)
}

func TestSearchRecent_FiltersByAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeBlocket{
		ads: []map[string]any{
			{"ad_id": "fresh", "list_time": "2026-03-01T12:55:00+01:00"},
			{"ad_id": "ms", "timestamp": now.Add(-10 * time.Minute).UnixMilli()},
			{"ad_id": "stale", "list_time": "2026-03-01T09:00:00Z"},
			{"ad_id": "unknown"},
		},
		content: map[string]map[string]any{
			"fresh":   detail("fresh", "Fresh", 1),
			"ms":      detail("ms", "Millis", 2),
			"stale":   detail("stale", "Stale", 3),
			"unknown": detail("unknown", "Unknown", 4),
		},
	}
	c := newTestClient(t, f)
	c.now = func() time.Time { return now }

	res, err := c.SearchRecent(context.Background(), "5021", time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, res.Listings, 2)
	assert.Equal(t, "fresh", res.Listings[0].AdID)
	assert.Equal(t, "ms", res.Listings[1].AdID)
	assert.Equal(t, "30", f.lastLim.Load())
}

func TestListedAt(t *testing.T) {
	tests := []struct {
		name string
		ad   searchAd
		want time.Time
	}{
		{"iso", searchAd{ListTime: json.RawMessage(`"2026-03-01T12:00:00Z"`)}, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"numeric list_time", searchAd{ListTime: json.RawMessage(`1700000000`)}, time.Unix(1700000000, 0).UTC()},
		{"millis timestamp", searchAd{Timestamp: "1700000000000"}, time.Unix(1700000000, 0).UTC()},
		{"bad iso falls back", searchAd{ListTime: json.RawMessage(`"yesterday"`), Timestamp: "1700000000"}, time.Unix(1700000000, 0).UTC()},
		{"none", searchAd{}, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(tt.ad.listedAt()), "got %v", tt.ad.listedAt())
		})
	}
}

func TestFlexString(t *testing.T) {
	var v struct {
		A flexString `json:"a"`
		B flexString `json:"b"`
		C flexString `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"x1","b":12345,"c":null}`), &v))
	assert.Equal(t, flexString("x1"), v.A)
	assert.Equal(t, flexString("12345"), v.B)
	assert.Equal(t, flexString(""), v.C)
}
