package store

import (
	"context"
	"time"

	"github.com/sells-group/dealradar/internal/model"
)

// RequestFilter specifies criteria for listing deal requests.
type RequestFilter struct {
	Status model.RequestStatus `json:"status,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
}

// Store defines the persistence interface for listings, evaluations,
// notifications and deal requests. Duplicate-key writes with ignore
// semantics report false instead of an error.
type Store interface {
	// Posts
	UpsertPost(ctx context.Context, post *model.Post) (inserted bool, err error)
	GetPost(ctx context.Context, adID string) (*model.Post, error)
	PostsForEvaluation(ctx context.Context, limit int) ([]model.Post, error)

	// Evaluations
	UpsertEvaluation(ctx context.Context, ev *model.Evaluation) error
	GetEvaluation(ctx context.Context, adID string) (*model.Evaluation, error)
	HighValueDeals(ctx context.Context, minScore float64, limit int) ([]model.Deal, error)

	// Notifications
	PendingNotifications(ctx context.Context, channel model.Channel, minScore float64, limit int) ([]model.Deal, error)
	InsertNotification(ctx context.Context, n *model.Notification) (bool, error)

	// Deal requests
	CreateRequest(ctx context.Context, req *model.DealRequest) error
	GetRequest(ctx context.Context, id int64) (*model.DealRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]model.DealRequest, error)
	ApproveRequest(ctx context.Context, id int64) error
	ListEligibleRequests(ctx context.Context, now time.Time) ([]model.DealRequest, error)
	ListActiveRequests(ctx context.Context, now time.Time) ([]model.ActiveRequest, error)
	ListLapsedRequests(ctx context.Context, now time.Time) ([]model.ActiveRequest, error)
	FulfillRequest(ctx context.Context, id int64, at time.Time) (bool, error)
	ExpireRequest(ctx context.Context, id int64, now time.Time) (bool, error)

	// Subscriptions and matches
	Subscribe(ctx context.Context, requestID int64, email string) (bool, error)
	ListSubscriptions(ctx context.Context, requestID int64) ([]model.RequestSubscription, error)
	MatchExists(ctx context.Context, requestID int64, adID string) (bool, error)
	InsertMatch(ctx context.Context, requestID int64, adID string, at time.Time) (bool, error)
	CountMatches(ctx context.Context, requestID int64) (int, error)

	// Reporting
	Stats(ctx context.Context, highValueThreshold float64) (*model.Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
