package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// EvaluationStatus is the lifecycle state of a post's evaluation.
type EvaluationStatus string

const (
	EvaluationPending   EvaluationStatus = "pending"
	EvaluationCompleted EvaluationStatus = "completed"
	EvaluationError     EvaluationStatus = "error"
	EvaluationSkipped   EvaluationStatus = "skipped"
)

// Score bounds shared by every scorer.
const (
	MinScore = 1.0
	MaxScore = 10.0
)

// Evaluation is the single scoring record of a post. At most one exists per
// AdID; re-evaluation updates it in place.
type Evaluation struct {
	AdID                 string            `json:"ad_id"`
	Status               EvaluationStatus  `json:"status"`
	ValueScore           *float64          `json:"value_score,omitempty"`
	EvaluationNotes      string            `json:"evaluation_notes,omitempty"`
	NotificationMessage  string            `json:"notification_message,omitempty"`
	EstimatedMarketValue string            `json:"estimated_market_value,omitempty"`
	Specs                map[string]string `json:"specs,omitempty"`
	EvaluatedAt          *time.Time        `json:"evaluated_at,omitempty"`
	ErrorMessage         string            `json:"error_message,omitempty"`
}

// Validate checks the status invariants: completed carries a score in
// [MinScore, MaxScore], error carries a message.
func (e Evaluation) Validate() error {
	if e.AdID == "" {
		return eris.New("evaluation: ad_id is required")
	}
	switch e.Status {
	case EvaluationCompleted:
		if e.ValueScore == nil {
			return eris.Errorf("evaluation %s: completed without score", e.AdID)
		}
		if *e.ValueScore < MinScore || *e.ValueScore > MaxScore {
			return eris.Errorf("evaluation %s: score %.2f out of range", e.AdID, *e.ValueScore)
		}
	case EvaluationError:
		if e.ErrorMessage == "" {
			return eris.Errorf("evaluation %s: error without message", e.AdID)
		}
	case EvaluationPending, EvaluationSkipped:
	default:
		return eris.Errorf("evaluation %s: unknown status %q", e.AdID, e.Status)
	}
	return nil
}

// CompletedEvaluation builds a completed evaluation stamped at now.
func CompletedEvaluation(adID string, score float64, notes string, now time.Time) Evaluation {
	return Evaluation{
		AdID:            adID,
		Status:          EvaluationCompleted,
		ValueScore:      &score,
		EvaluationNotes: notes,
		EvaluatedAt:     &now,
	}
}

// FailedEvaluation builds an error evaluation stamped at now.
func FailedEvaluation(adID string, err error, now time.Time) Evaluation {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return Evaluation{
		AdID:         adID,
		Status:       EvaluationError,
		ErrorMessage: msg,
		EvaluatedAt:  &now,
	}
}
