package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealradar/internal/model"
	"github.com/sells-group/dealradar/internal/store"
	"github.com/sells-group/dealradar/pkg/blocket"
)

type fakeSource struct {
	listings map[string][]model.RawListing
	ads      map[string]model.RawListing
	err      error
	lastCat  string
	lastLim  int
}

func (f *fakeSource) Search(_ context.Context, category string, limit int) (*blocket.SearchResult, error) {
	f.lastCat, f.lastLim = category, limit
	if f.err != nil {
		return &blocket.SearchResult{}, f.err
	}
	return &blocket.SearchResult{Success: true, Listings: f.listings[category]}, nil
}

func (f *fakeSource) Get(_ context.Context, adID string) (*model.RawListing, error) {
	if f.err != nil {
		return nil, f.err
	}
	l, ok := f.ads[adID]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestServer(t *testing.T, src *fakeSource) (*Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	srv := New(src, st, Options{
		MaxSearchLimit: 100,
		ResolveCategory: func(s string) string {
			if s == "computers" {
				return "5021"
			}
			return s
		},
	})
	return srv, st
}

func get(t *testing.T, h http.Handler, path string) (int, response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func TestIndex(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSource{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/search")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSource{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestListing(t *testing.T) {
	src := &fakeSource{ads: map[string]model.RawListing{"A1": {AdID: "A1", Title: "ThinkPad", Price: "6500 kr"}}}
	srv, _ := newTestServer(t, src)
	h := srv.Handler()

	code, resp := get(t, h, "/api/listing/A1")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	var l model.RawListing
	require.NoError(t, json.Unmarshal(resp.Data, &l))
	assert.Equal(t, "ThinkPad", l.Title)

	code, resp = get(t, h, "/api/listing/missing")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "not found")

	src.err = errors.New("boom")
	code, _ = get(t, h, "/api/listing/A1")
	assert.Equal(t, http.StatusBadGateway, code)
}

func TestSearch(t *testing.T) {
	src := &fakeSource{listings: map[string][]model.RawListing{
		"5021": {{AdID: "A1", Title: "ThinkPad"}, {AdID: "A2", Title: "MacBook"}},
	}}
	srv, _ := newTestServer(t, src)
	h := srv.Handler()

	code, resp := get(t, h, "/api/search?category=computers&limit=5")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "5021", src.lastCat)
	assert.Equal(t, 5, src.lastLim)

	var data struct {
		TotalFetched   int                `json:"total_fetched"`
		Category       string             `json:"category"`
		RequestedLimit int                `json:"requested_limit"`
		Listings       []model.RawListing `json:"listings"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, 2, data.TotalFetched)
	assert.Equal(t, "5021", data.Category)
	assert.Equal(t, 5, data.RequestedLimit)

	// Default limit.
	_, _ = get(t, h, "/api/search?category=5021")
	assert.Equal(t, 10, src.lastLim)
}

func TestSearch_Validation(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSource{})
	h := srv.Handler()

	tests := []struct {
		path string
		code int
		msg  string
	}{
		{"/api/search", http.StatusBadRequest, "Missing required parameter: category"},
		{"/api/search?category=5021&limit=0", http.StatusBadRequest, "Limit must be between 1 and 100"},
		{"/api/search?category=5021&limit=101", http.StatusBadRequest, "Limit must be between 1 and 100"},
		{"/api/search?category=5021&limit=ten", http.StatusBadRequest, "Limit must be between 1 and 100"},
		{"/api/search?category=9999", http.StatusNotFound, "No listings found"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, resp := get(t, h, tt.path)
			assert.Equal(t, tt.code, code)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error, tt.msg)
		})
	}
}

func TestSearch_SourceDown(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSource{err: errors.New("403")})
	code, resp := get(t, srv.Handler(), "/api/search?category=5021")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "listing source unavailable", resp.Error)
}

func seedDeals(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	for id, score := range map[string]float64{"hi": 9, "mid": 8, "lo": 5} {
		_, err := st.UpsertPost(ctx, &model.Post{AdID: id, Title: "Post " + id, DiscoveredAt: now})
		require.NoError(t, err)
		ev := model.CompletedEvaluation(id, score, "notes", now)
		require.NoError(t, st.UpsertEvaluation(ctx, &ev))
	}
}

func TestDeals(t *testing.T) {
	srv, st := newTestServer(t, &fakeSource{})
	seedDeals(t, st)
	h := srv.Handler()

	var data struct {
		MinScore float64      `json:"min_score"`
		Count    int          `json:"count"`
		Deals    []model.Deal `json:"deals"`
	}

	code, resp := get(t, h, "/api/deals")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.InDelta(t, 8.0, data.MinScore, 0.001)
	require.Equal(t, 2, data.Count)
	assert.Equal(t, "hi", data.Deals[0].Post.AdID)

	code, resp = get(t, h, "/api/deals?min_score=4.5&limit=1")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, 1, data.Count)

	code, _ = get(t, h, "/api/deals?min_score=eleven")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = get(t, h, "/api/deals?limit=500")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStats(t *testing.T) {
	srv, st := newTestServer(t, &fakeSource{})
	seedDeals(t, st)

	code, resp := get(t, srv.Handler(), "/api/stats")
	require.Equal(t, http.StatusOK, code)
	var stats model.Stats
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, 3, stats.TotalPosts)
	assert.Equal(t, 3, stats.EvaluatedPosts)
	assert.Equal(t, 2, stats.HighValueDeals)
}

func TestRequests(t *testing.T) {
	srv, st := newTestServer(t, &fakeSource{})
	ctx := context.Background()

	active := model.DealRequest{Title: "ThinkPad", Category: "5021", Approved: true}
	require.NoError(t, st.CreateRequest(ctx, &active))
	_, err := st.Subscribe(ctx, active.ID, "a@example.com")
	require.NoError(t, err)
	pending := model.DealRequest{Title: "iPhone", Category: "5040"}
	require.NoError(t, st.CreateRequest(ctx, &pending))

	code, resp := get(t, srv.Handler(), "/api/requests")
	require.Equal(t, http.StatusOK, code)
	var data struct {
		Count    int                   `json:"count"`
		Requests []model.ActiveRequest `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Equal(t, 1, data.Count)
	assert.Equal(t, "ThinkPad", data.Requests[0].Title)
	assert.Equal(t, 1, data.Requests[0].SubscriberCount)
}

func TestNotFoundRoute(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSource{})
	code, resp := get(t, srv.Handler(), "/api/nope")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSource{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRun_GracefulShutdown(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSource{})
	ctx, cancel := context.WithCancel(context.Background())

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, srv.Handler(), port) }()

	var ready bool
	for i := 0; i < 50; i++ {
		resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/health")
		if err == nil {
			resp.Body.Close()
			ready = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, ready, "server did not become ready in time")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
