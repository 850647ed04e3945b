package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/dealradar/internal/model"
)

func TestMatchMessage(t *testing.T) {
	budget := 1500
	score := 9.0
	req := model.DealRequest{ID: 1, Title: "ThinkPad T480", MaxBudget: &budget}
	post := model.Post{AdID: "A1", Title: "ThinkPad T480 16GB", Price: "1 500 kr", Location: "Solna"}
	ev := model.Evaluation{AdID: "A1", ValueScore: &score, EvaluationNotes: "Well below market", EstimatedMarketValue: "3000 kr"}

	msg := MatchMessage(req, post, ev)
	assert.Equal(t, "Deal found: ThinkPad T480 16GB", msg.Subject)
	assert.Contains(t, msg.Body, `"ThinkPad T480"`)
	assert.Contains(t, msg.Body, "Price: 1 500 kr")
	assert.Contains(t, msg.Body, "Score: 9/10")
	assert.Contains(t, msg.Body, "Estimated market value: 3000 kr")
	assert.Contains(t, msg.Body, "Your budget: 1500 kr")
	assert.Contains(t, msg.Body, "https://www.blocket.se/annons/A1")
	assert.Empty(t, msg.Channel)
}

func TestNoMatchMessage(t *testing.T) {
	req := model.DealRequest{Title: "Gaming chair", ExpiresAt: time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)}

	msg := NoMatchMessage(req)
	assert.Equal(t, "No match found: Gaming chair", msg.Subject)
	assert.Contains(t, msg.Body, "2026-03-08")
}

func TestHighValueMessage(t *testing.T) {
	score := 8.5
	msg := HighValueMessage(
		model.Post{AdID: "B2", Title: "PS5"},
		model.Evaluation{ValueScore: &score, NotificationMessage: "PS5 at half price"},
	)
	assert.Equal(t, "High-value deal (8.5/10): PS5", msg.Subject)
	assert.Contains(t, msg.Body, "PS5 at half price")
	assert.NotContains(t, msg.Body, "Price:")
}

func TestFormatScore(t *testing.T) {
	ten, nine, half := 10.0, 9.0, 8.5
	assert.Equal(t, "10", formatScore(&ten))
	assert.Equal(t, "9", formatScore(&nine))
	assert.Equal(t, "8.5", formatScore(&half))
	assert.Equal(t, "?", formatScore(nil))
}
