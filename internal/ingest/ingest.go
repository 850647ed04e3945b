// Package ingest normalizes listings from the marketplace and persists them
// keyed by ad id. Ingestion never touches evaluations: a re-discovered
// listing keeps its first discovery time and any existing score.
package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealradar/internal/model"
	"github.com/sells-group/dealradar/internal/store"
	"github.com/sells-group/dealradar/pkg/blocket"
)

// Result summarizes one ingestion batch.
type Result struct {
	Seen     int          `json:"seen"`
	Inserted int          `json:"inserted"`
	Updated  int          `json:"updated"`
	Failed   int          `json:"failed"`
	Posts    []model.Post `json:"-"`
}

// Engine ingests listings into the store.
type Engine struct {
	store  store.Store
	source blocket.Client
	now    func() time.Time
}

// New creates an ingestion Engine.
func New(st store.Store, source blocket.Client) *Engine {
	return &Engine{store: st, source: source, now: func() time.Time { return time.Now().UTC() }}
}

// Normalize converts a raw listing into a post discovered at now. The raw
// listing is kept as the post's JSON snapshot.
func Normalize(raw model.RawListing, now time.Time, sourceRequestID *int64) (model.Post, error) {
	adID := strings.TrimSpace(raw.AdID)
	if adID == "" {
		return model.Post{}, eris.New("ingest: listing has no ad_id")
	}

	snapshot, err := json.Marshal(raw)
	if err != nil {
		return model.Post{}, eris.Wrapf(err, "ingest: snapshot %s", adID)
	}

	images := make([]string, 0, len(raw.Images))
	for _, img := range raw.Images {
		if img = strings.TrimSpace(img); img != "" {
			images = append(images, img)
		}
	}

	return model.Post{
		AdID:            adID,
		Title:           strings.TrimSpace(raw.Title),
		Price:           strings.TrimSpace(raw.Price),
		Description:     strings.TrimSpace(raw.Description),
		Seller:          strings.TrimSpace(raw.Seller),
		Location:        strings.TrimSpace(raw.Location),
		Category:        strings.TrimSpace(raw.Category),
		CompanyAd:       raw.CompanyAd,
		Type:            strings.TrimSpace(raw.Type),
		Region:          strings.TrimSpace(raw.Region),
		Images:          images,
		SourceRequestID: sourceRequestID,
		DiscoveredAt:    now,
		RawData:         snapshot,
	}, nil
}

// Ingest upserts listings. sourceRequestID tags posts first discovered on
// behalf of a deal request. A listing that fails to normalize or persist is
// counted and skipped; the returned posts are the ones persisted.
func (e *Engine) Ingest(ctx context.Context, listings []model.RawListing, sourceRequestID *int64) Result {
	log := zap.L().With(zap.String("component", "ingest"))
	now := e.now()
	res := Result{Seen: len(listings), Posts: make([]model.Post, 0, len(listings))}

	for _, raw := range listings {
		post, err := Normalize(raw, now, sourceRequestID)
		if err != nil {
			log.Warn("skip listing", zap.Error(err))
			res.Failed++
			continue
		}

		inserted, err := e.store.UpsertPost(ctx, &post)
		if err != nil {
			log.Error("upsert post failed", zap.String("ad_id", post.AdID), zap.Error(err))
			res.Failed++
			continue
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
		res.Posts = append(res.Posts, post)
	}

	log.Info("ingest batch complete",
		zap.Int("seen", res.Seen),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("failed", res.Failed),
	)
	return res
}

// IngestCategory searches category and ingests the results. When the search
// fails nothing is written and the error is returned.
func (e *Engine) IngestCategory(ctx context.Context, category string, limit int) (Result, error) {
	sr, err := e.source.Search(ctx, category, limit)
	if err != nil || sr == nil || !sr.Success {
		if err == nil {
			err = eris.New("search unsuccessful")
		}
		return Result{}, eris.Wrapf(err, "ingest: search category %s", category)
	}
	for i := range sr.Listings {
		if sr.Listings[i].Category == "" {
			sr.Listings[i].Category = category
		}
	}
	return e.Ingest(ctx, sr.Listings, nil), nil
}

// IngestAd fetches and ingests a single listing. It returns nil, nil when the
// ad does not exist.
func (e *Engine) IngestAd(ctx context.Context, adID string) (*model.Post, error) {
	raw, err := e.source.Get(ctx, adID)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: get ad %s", adID)
	}
	if raw == nil {
		return nil, nil
	}
	res := e.Ingest(ctx, []model.RawListing{*raw}, nil)
	if len(res.Posts) == 0 {
		return nil, eris.Errorf("ingest: ad %s could not be stored", adID)
	}
	return &res.Posts[0], nil
}
