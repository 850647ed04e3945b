package notify

import (
	"fmt"
	"strings"

	"github.com/sells-group/dealradar/internal/model"
)

// ListingURL returns the public page of a listing.
func ListingURL(adID string) string {
	return "https://www.blocket.se/annons/" + adID
}

// MatchMessage tells a subscriber that post qualified for their request.
func MatchMessage(req model.DealRequest, post model.Post, ev model.Evaluation) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "A listing matching your request %q was found.\n\n", req.Title)
	writeListing(&b, post, ev)
	if req.MaxBudget != nil {
		fmt.Fprintf(&b, "Your budget: %d kr\n", *req.MaxBudget)
	}
	return Message{
		Subject: fmt.Sprintf("Deal found: %s", post.Title),
		Body:    b.String(),
	}
}

// NoMatchMessage tells a subscriber that req expired without a match.
func NoMatchMessage(req model.DealRequest) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Your request %q expired on %s without a matching listing.\n",
		req.Title, req.ExpiresAt.UTC().Format("2006-01-02"))
	b.WriteString("No listing scored high enough within your budget. Create a new request to keep searching.\n")
	return Message{
		Subject: fmt.Sprintf("No match found: %s", req.Title),
		Body:    b.String(),
	}
}

// HighValueMessage announces a high-scoring deal found by generic
// evaluation.
func HighValueMessage(post model.Post, ev model.Evaluation) Message {
	var b strings.Builder
	if ev.NotificationMessage != "" {
		b.WriteString(ev.NotificationMessage + "\n\n")
	}
	writeListing(&b, post, ev)
	return Message{
		Subject: fmt.Sprintf("High-value deal (%s/10): %s", formatScore(ev.ValueScore), post.Title),
		Body:    b.String(),
	}
}

func writeListing(b *strings.Builder, post model.Post, ev model.Evaluation) {
	fmt.Fprintf(b, "%s\n", post.Title)
	if post.Price != "" {
		fmt.Fprintf(b, "Price: %s\n", post.Price)
	}
	if ev.EstimatedMarketValue != "" {
		fmt.Fprintf(b, "Estimated market value: %s\n", ev.EstimatedMarketValue)
	}
	fmt.Fprintf(b, "Score: %s/10\n", formatScore(ev.ValueScore))
	if post.Location != "" {
		fmt.Fprintf(b, "Location: %s\n", post.Location)
	}
	if ev.EvaluationNotes != "" {
		fmt.Fprintf(b, "\n%s\n\n", ev.EvaluationNotes)
	}
	fmt.Fprintf(b, "%s\n", ListingURL(post.AdID))
}

func formatScore(score *float64) string {
	if score == nil {
		return "?"
	}
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.1f", *score), "0"), ".")
}
