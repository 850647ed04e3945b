// Package model defines the persisted entities of the deal radar: discovered
// listings, their evaluations and notifications, and standing deal requests.
package model

import (
	"encoding/json"
	"time"
)

// RawListing is a listing as returned by the listing source, before
// normalization.
type RawListing struct {
	AdID        string   `json:"ad_id"`
	Title       string   `json:"title"`
	Price       string   `json:"price,omitempty"`
	Description string   `json:"description,omitempty"`
	Seller      string   `json:"seller,omitempty"`
	Location    string   `json:"location,omitempty"`
	Category    string   `json:"category,omitempty"`
	CompanyAd   bool     `json:"company_ad"`
	Type        string   `json:"type,omitempty"`
	Region      string   `json:"region,omitempty"`
	Images      []string `json:"images"`
}

// Post is a discovered listing. AdID identifies it across every request and
// category search that surfaces it.
type Post struct {
	AdID            string          `json:"ad_id"`
	Title           string          `json:"title"`
	Price           string          `json:"price,omitempty"` // free text, currency embedded
	Description     string          `json:"description,omitempty"`
	Seller          string          `json:"seller,omitempty"`
	Location        string          `json:"location,omitempty"`
	Category        string          `json:"category,omitempty"`
	CompanyAd       bool            `json:"company_ad"`
	Type            string          `json:"type,omitempty"`
	Region          string          `json:"region,omitempty"`
	Images          []string        `json:"images"`
	SourceRequestID *int64          `json:"source_request_id,omitempty"`
	DiscoveredAt    time.Time       `json:"discovered_at"`
	RawData         json.RawMessage `json:"raw_data,omitempty"`
}

// Deal is a post joined with its completed evaluation.
type Deal struct {
	Post       Post       `json:"post"`
	Evaluation Evaluation `json:"evaluation"`
}

// Stats summarizes the post and evaluation tables.
type Stats struct {
	TotalPosts         int      `json:"total_posts"`
	EvaluatedPosts     int      `json:"evaluated_posts"`
	PendingEvaluations int      `json:"pending_evaluations"`
	FailedEvaluations  int      `json:"failed_evaluations"`
	HighValueDeals     int      `json:"high_value_deals"`
	AvgScore           *float64 `json:"avg_score,omitempty"`
}
