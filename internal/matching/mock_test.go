package matching

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealradar/internal/model"
	"github.com/sells-group/dealradar/internal/notify"
	"github.com/sells-group/dealradar/internal/scoring"
	"github.com/sells-group/dealradar/internal/store"
	"github.com/sells-group/dealradar/pkg/blocket"
)

// fakeSource serves canned listings per category and counts searches.
type fakeSource struct {
	mu       sync.Mutex
	listings map[string][]model.RawListing
	err      error
	searches map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{listings: map[string][]model.RawListing{}, searches: map[string]int{}}
}

func (f *fakeSource) Search(_ context.Context, category string, limit int) (*blocket.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches[category]++
	if f.err != nil {
		return &blocket.SearchResult{}, f.err
	}
	ls := f.listings[category]
	if len(ls) > limit {
		ls = ls[:limit]
	}
	return &blocket.SearchResult{Success: true, Listings: ls}, nil
}

func (f *fakeSource) SearchRecent(ctx context.Context, category string, _ time.Duration, limit int) (*blocket.SearchResult, error) {
	return f.Search(ctx, category, limit)
}

func (f *fakeSource) Get(_ context.Context, adID string) (*model.RawListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ls := range f.listings {
		for _, l := range ls {
			if l.AdID == adID {
				return &l, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeSource) searchCount(category string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches[category]
}

// fakeScorer returns a fixed score per ad id and records which ads it saw.
type fakeScorer struct {
	mu     sync.Mutex
	scores map[string]float64
	errs   map[string]error
	calls  map[string]int
	prompt scoring.Prompt
}

func newFakeScorer() *fakeScorer {
	return &fakeScorer{scores: map[string]float64{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeScorer) Score(_ context.Context, listing model.Post, prompt scoring.Prompt) (*scoring.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[listing.AdID]++
	f.prompt = prompt
	if err := f.errs[listing.AdID]; err != nil {
		return nil, err
	}
	score, ok := f.scores[listing.AdID]
	if !ok {
		score = 5
	}
	return &scoring.Result{Score: score, Reasoning: "stubbed"}, nil
}

func (f *fakeScorer) callCount(adID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[adID]
}

// recordingDispatcher records sent messages; recipients in fail get an error.
type recordingDispatcher struct {
	mu   sync.Mutex
	sent []notify.Message
	fail map[string]bool
}

func (r *recordingDispatcher) Send(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[msg.Recipient] {
		return errors.New("mailbox unavailable")
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingDispatcher) messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.sent...)
}

// racingStore hides existing matches from CountMatches, as seen by a cycle
// that started before another cycle recorded them.
type racingStore struct {
	store.Store
}

func (racingStore) CountMatches(context.Context, int64) (int, error) { return 0, nil }

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "matching.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}
