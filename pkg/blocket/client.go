// Package blocket provides a client for the Blocket marketplace search API.
package blocket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/dealradar/internal/model"
	"github.com/sells-group/dealradar/internal/resilience"
)

const (
	tokenPath   = "/api/adout-api-route/refresh-token-and-validate-session"
	contentPath = "/search_bff/v2/content"

	// The search endpoint rejects lim above 99 and under-fills small pages.
	minSearchPage = 50
	maxSearchPage = 99
)

var errNotFound = eris.New("blocket: not found")

// Client defines the listing source operations.
type Client interface {
	// Search returns the newest limit listings in category with full details.
	Search(ctx context.Context, category string, limit int) (*SearchResult, error)
	// SearchRecent is Search restricted to listings posted within maxAge.
	SearchRecent(ctx context.Context, category string, maxAge time.Duration, limit int) (*SearchResult, error)
	// Get fetches one listing. It returns nil, nil when the ad does not exist.
	Get(ctx context.Context, adID string) (*model.RawListing, error)
}

// SearchResult is the outcome of a category search. Success is false when
// the search call itself failed; listings whose detail fetch failed are
// omitted from an otherwise successful result.
type SearchResult struct {
	Success  bool               `json:"success"`
	Listings []model.RawListing `json:"listings"`
}

// Option configures the Blocket client.
type Option func(*httpClient)

// WithSiteURL sets the site base URL used for token refresh (for testing).
func WithSiteURL(u string) Option {
	return func(c *httpClient) { c.siteURL = u }
}

// WithAPIURL sets the search API base URL (for testing).
func WithAPIURL(u string) Option {
	return func(c *httpClient) { c.apiURL = u }
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) { c.userAgent = ua }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithBatching sets how many detail fetches run in parallel and the pause
// between batches.
func WithBatching(size int, delay time.Duration) Option {
	return func(c *httpClient) {
		if size > 0 {
			c.batchSize = size
		}
		c.batchDelay = delay
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables the limit.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	siteURL    string
	apiURL     string
	userAgent  string
	http       *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	batchSize  int
	batchDelay time.Duration
	now        func() time.Time
	log        *zap.Logger

	mu    sync.Mutex
	token string
}

// NewClient creates a new Blocket client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		siteURL:    "https://www.blocket.se",
		apiURL:     "https://api.blocket.se",
		userAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		http:       &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 1),
		retry:      resilience.SourceRetryConfig(),
		batchSize:  3,
		batchDelay: 500 * time.Millisecond,
		now:        time.Now,
		log:        zap.L().With(zap.String("component", "blocket")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, category string, limit int) (*SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	page := min(max(limit, minSearchPage), maxSearchPage)

	ads, err := c.searchAds(ctx, category, page)
	if err != nil {
		return &SearchResult{}, err
	}
	sortNewestFirst(ads)
	if len(ads) > limit {
		ads = ads[:limit]
	}

	c.log.Debug("search complete",
		zap.String("category", category),
		zap.Int("ids", len(ads)),
	)
	return &SearchResult{Success: true, Listings: c.fetchDetails(ctx, adIDs(ads))}, nil
}

func (c *httpClient) SearchRecent(ctx context.Context, category string, maxAge time.Duration, limit int) (*SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	page := min(maxSearchPage, limit*3)

	ads, err := c.searchAds(ctx, category, page)
	if err != nil {
		return &SearchResult{}, err
	}

	cutoff := c.now().Add(-maxAge)
	recent := ads[:0]
	for _, ad := range ads {
		if !ad.listedAt().Before(cutoff) {
			recent = append(recent, ad)
		}
	}
	sortNewestFirst(recent)
	if len(recent) > limit {
		recent = recent[:limit]
	}

	c.log.Debug("recent search complete",
		zap.String("category", category),
		zap.Int("total", len(ads)),
		zap.Int("recent", len(recent)),
		zap.Duration("max_age", maxAge),
	)
	return &SearchResult{Success: true, Listings: c.fetchDetails(ctx, adIDs(recent))}, nil
}

func (c *httpClient) Get(ctx context.Context, adID string) (*model.RawListing, error) {
	if adID == "" {
		return nil, eris.New("blocket: ad id is required")
	}

	var resp contentResponse
	err := c.getJSON(ctx, c.apiURL+contentPath+"/"+url.PathEscape(adID), &resp)
	if eris.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blocket: get ad %s", adID)
	}
	if resp.Data == nil {
		return nil, nil
	}

	listing := resp.Data.toRawListing()
	if listing.AdID == "" {
		listing.AdID = adID
	}
	return &listing, nil
}

func (c *httpClient) searchAds(ctx context.Context, category string, page int) ([]searchAd, error) {
	q := url.Values{}
	q.Set("cg", category)
	q.Set("lim", strconv.Itoa(page))
	q.Set("status", "active")

	var resp searchResponse
	if err := c.getJSON(ctx, c.apiURL+contentPath+"?"+q.Encode(), &resp); err != nil {
		return nil, eris.Wrapf(err, "blocket: search category %s", category)
	}
	return resp.Data, nil
}

// fetchDetails resolves ids in batches of batchSize, pausing batchDelay
// between batches. Order follows ids; failed or missing ads are dropped.
func (c *httpClient) fetchDetails(ctx context.Context, ids []string) []model.RawListing {
	results := make([]*model.RawListing, len(ids))

	for start := 0; start < len(ids); start += c.batchSize {
		if start > 0 && c.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return collect(results)
			case <-time.After(c.batchDelay):
			}
		}

		end := min(start+c.batchSize, len(ids))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				listing, err := c.Get(ctx, ids[i])
				if err != nil {
					c.log.Warn("detail fetch failed", zap.String("ad_id", ids[i]), zap.Error(err))
					return nil
				}
				results[i] = listing
				return nil
			})
		}
		_ = g.Wait()
	}

	out := collect(results)
	c.log.Info("fetched listings", zap.Int("requested", len(ids)), zap.Int("fetched", len(out)))
	return out
}

// getJSON performs an authenticated GET and decodes the body into out. A 401
// refreshes the token once; transient failures are retried.
func (c *httpClient) getJSON(ctx context.Context, rawURL string, out any) error {
	return resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		for attempt := 0; attempt < 2; attempt++ {
			token, err := c.authToken(ctx, attempt > 0)
			if err != nil {
				return err
			}

			resp, err := c.do(ctx, rawURL, token)
			if err != nil {
				return err
			}

			switch resp.StatusCode {
			case http.StatusUnauthorized:
				drain(resp)
				c.log.Debug("token rejected, refreshing")
				continue
			case http.StatusNotFound:
				drain(resp)
				return errNotFound
			}

			if err := resilience.CheckResponse("blocket", resp); err != nil {
				drain(resp)
				return err
			}
			err = json.NewDecoder(resp.Body).Decode(out)
			drain(resp)
			if err != nil {
				return eris.Wrap(err, "blocket: decode response")
			}
			return nil
		}
		return eris.New("blocket: unauthorized after token refresh")
	})
}

func (c *httpClient) do(ctx context.Context, rawURL, token string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "blocket: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "blocket: create request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "blocket: http request")
	}
	return resp, nil
}

// authToken returns the cached bearer token, fetching a new one when none is
// cached or refresh is set.
func (c *httpClient) authToken(ctx context.Context, refresh bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && !refresh {
		return c.token, nil
	}

	resp, err := c.do(ctx, c.siteURL+tokenPath, "")
	if err != nil {
		return "", err
	}
	defer drain(resp)

	if err := resilience.CheckResponse("blocket: token", resp); err != nil {
		return "", err
	}

	var body struct {
		BearerToken string `json:"bearerToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", eris.Wrap(err, "blocket: decode token")
	}
	if body.BearerToken == "" {
		return "", eris.New("blocket: token missing from response")
	}

	c.token = body.BearerToken
	c.log.Debug("retrieved auth token")
	return c.token, nil
}

func sortNewestFirst(ads []searchAd) {
	sort.SliceStable(ads, func(i, j int) bool {
		return ads[i].listedAt().After(ads[j].listedAt())
	})
}

func adIDs(ads []searchAd) []string {
	ids := make([]string, 0, len(ads))
	for _, ad := range ads {
		if ad.AdID != "" {
			ids = append(ids, string(ad.AdID))
		}
	}
	return ids
}

func collect(results []*model.RawListing) []model.RawListing {
	out := make([]model.RawListing, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
