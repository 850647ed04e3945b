package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// RequestStatus is the state of a deal request.
//
//	pending ──► active ──► fulfilled
//	              │
//	              └──────► expired
//
// fulfilled and expired are terminal.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestActive    RequestStatus = "active"
	RequestFulfilled RequestStatus = "fulfilled"
	RequestExpired   RequestStatus = "expired"
)

// DefaultRequestTTL is how long a request stays searchable after creation.
const DefaultRequestTTL = 7 * 24 * time.Hour

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending: {RequestActive},
	RequestActive:  {RequestFulfilled, RequestExpired},
}

// ParseRequestStatus converts a raw string to a RequestStatus.
func ParseRequestStatus(s string) (RequestStatus, error) {
	st := RequestStatus(s)
	switch st {
	case RequestPending, RequestActive, RequestFulfilled, RequestExpired:
		return st, nil
	}
	return "", eris.Errorf("unknown request status %q", s)
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, allowed := range requestTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func (s RequestStatus) Terminal() bool {
	return len(requestTransitions[s]) == 0
}

// DealRequest is a standing user search with a budget ceiling and expiry.
type DealRequest struct {
	ID               int64         `json:"id" yaml:"-"`
	Title            string        `json:"title" yaml:"title"`
	Description      string        `json:"description,omitempty" yaml:"description"`
	Category         string        `json:"category" yaml:"category"`
	MaxBudget        *int          `json:"max_budget,omitempty" yaml:"max_budget"`
	Requirements     string        `json:"requirements,omitempty" yaml:"requirements"`
	StructuredPrompt string        `json:"structured_prompt,omitempty" yaml:"structured_prompt"`
	SearchKeyword    string        `json:"search_keyword,omitempty" yaml:"search_keyword"`
	Status           RequestStatus `json:"status" yaml:"-"`
	Approved         bool          `json:"approved" yaml:"approved"`
	CreatedAt        time.Time     `json:"created_at" yaml:"-"`
	ExpiresAt        time.Time     `json:"expires_at" yaml:"-"`
	FulfilledAt      *time.Time    `json:"fulfilled_at,omitempty" yaml:"-"`
}

// NewDealRequest returns a pending request created at now that expires
// after ttl (DefaultRequestTTL when ttl <= 0).
func NewDealRequest(title, category string, now time.Time, ttl time.Duration) DealRequest {
	if ttl <= 0 {
		ttl = DefaultRequestTTL
	}
	return DealRequest{
		Title:     title,
		Category:  category,
		Status:    RequestPending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Eligible reports whether the request takes part in matching at now.
func (r DealRequest) Eligible(now time.Time) bool {
	return r.Approved && r.Status == RequestActive && r.ExpiresAt.After(now)
}

// Expired reports whether an active request has outlived its TTL at now.
func (r DealRequest) Expired(now time.Time) bool {
	return r.Status == RequestActive && !r.ExpiresAt.After(now)
}

// ActiveRequest is a request with its aggregated subscriber and match counts.
type ActiveRequest struct {
	DealRequest
	SubscriberCount int `json:"subscriber_count"`
	MatchCount      int `json:"match_count"`
}

// RequestSubscription maps a notification address to a request.
type RequestSubscription struct {
	ID        int64     `json:"id"`
	RequestID int64     `json:"request_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// RequestMatch records that a post qualified for a request. The score is
// read from the post's evaluation, never stored here.
type RequestMatch struct {
	ID        int64     `json:"id"`
	RequestID int64     `json:"request_id"`
	AdID      string    `json:"ad_id"`
	MatchedAt time.Time `json:"matched_at"`
}
