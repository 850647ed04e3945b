// Package scoring rates listings for deal value through an external model.
// A Scorer is an opaque, fallible function: it receives a listing and a
// prompt and returns a score in [1, 10] with its reasoning.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealradar/internal/model"
)

// Scorer rates a listing against a prompt.
type Scorer interface {
	Score(ctx context.Context, listing model.Post, prompt Prompt) (*Result, error)
}

// Prompt is the rubric a listing is scored against. System carries the
// rubric itself; Criteria carries request-specific requirements, if any.
type Prompt struct {
	System   string `json:"system"`
	Criteria string `json:"criteria,omitempty"`
}

// Result is a parsed scorer response.
type Result struct {
	Score                float64           `json:"score"`
	Reasoning            string            `json:"reasoning"`
	MatchesRequirements  *bool             `json:"matches_requirements,omitempty"`
	EstimatedMarketValue string            `json:"estimated_market_value,omitempty"`
	NotificationMessage  string            `json:"notification_message,omitempty"`
	Specs                map[string]string `json:"specs,omitempty"`
}

// Evaluation converts the result into a completed evaluation of adID.
func (r *Result) Evaluation(adID string, now time.Time) model.Evaluation {
	ev := model.CompletedEvaluation(adID, r.Score, r.Reasoning, now)
	ev.EstimatedMarketValue = r.EstimatedMarketValue
	ev.NotificationMessage = r.NotificationMessage
	ev.Specs = r.Specs
	return ev
}

const genericRubric = `You are a second-hand marketplace expert evaluating classified ads for deal value.

Score the listing from 1 to 10:
- 9-10: exceptional deal, price far below market value for the condition and specs
- 7-8: good deal, clearly below typical asking prices
- 4-6: fair price, roughly at market value
- 1-3: overpriced, suspicious, or missing key information

Consider the asking price against typical second-hand prices in Sweden, the
condition and age implied by the description, included accessories, and
seller signals. Listings without a price cannot score above 6.`

const outputFormat = `Respond with a single JSON object and nothing else:
{
  "score": <number 1-10>,
  "reasoning": "<two or three sentences>",
  "matches_requirements": <true|false, only when requirements are given>,
  "estimated_market_value": "<typical price, e.g. \"4000 kr\">",
  "notification_message": "<one line suitable for an alert>",
  "specs": {"<spec name>": "<value>"}
}`

// GenericPrompt is the rubric for general deal value.
func GenericPrompt() Prompt {
	return Prompt{System: genericRubric}
}

// RequestPrompt builds the prompt for scoring a listing against a deal
// request. A request's structured prompt replaces the generic rubric; the
// request's own fields are always passed as criteria.
func RequestPrompt(req model.DealRequest) Prompt {
	p := GenericPrompt()
	if s := strings.TrimSpace(req.StructuredPrompt); s != "" {
		p.System = s
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The buyer is looking for: %s\n", req.Title)
	if req.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", req.Description)
	}
	if req.Requirements != "" {
		fmt.Fprintf(&b, "Requirements: %s\n", req.Requirements)
	}
	if req.SearchKeyword != "" {
		fmt.Fprintf(&b, "Search keyword: %s\n", req.SearchKeyword)
	}
	if req.MaxBudget != nil {
		fmt.Fprintf(&b, "Maximum budget: %d kr\n", *req.MaxBudget)
	}
	b.WriteString("Only score 9 or higher when the listing satisfies the requirements and is a strong deal.")
	p.Criteria = b.String()
	return p
}

// FormatListing renders a listing as the user message sent to a scorer.
func FormatListing(p model.Post) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	price := p.Price
	if price == "" {
		price = "not stated"
	}
	fmt.Fprintf(&b, "Price: %s\n", price)
	if p.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", p.Category)
	}
	if p.Location != "" {
		loc := p.Location
		if p.Region != "" {
			loc += ", " + p.Region
		}
		fmt.Fprintf(&b, "Location: %s\n", loc)
	}
	if p.CompanyAd {
		b.WriteString("Seller: company\n")
	} else if p.Seller != "" {
		fmt.Fprintf(&b, "Seller: %s (private)\n", p.Seller)
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "\nDescription:\n%s\n", p.Description)
	}
	return b.String()
}

// userMessage combines criteria and listing into a single user turn.
func userMessage(listing model.Post, prompt Prompt) string {
	if prompt.Criteria == "" {
		return "Listing:\n" + FormatListing(listing)
	}
	return prompt.Criteria + "\n\nListing:\n" + FormatListing(listing)
}

type resultJSON struct {
	Score                json.Number     `json:"score"`
	Reasoning            string          `json:"reasoning"`
	MatchesRequirements  *bool           `json:"matches_requirements"`
	EstimatedMarketValue json.RawMessage `json:"estimated_market_value"`
	NotificationMessage  string          `json:"notification_message"`
	Specs                map[string]any  `json:"specs"`
}

// ParseResult extracts the JSON object from scorer output. Output without a
// JSON object, or with a score outside [1, 10], is an error.
func ParseResult(text string) (*Result, error) {
	raw := cleanJSON(text)
	if !strings.HasPrefix(raw, "{") {
		return nil, eris.Errorf("scoring: no JSON in response: %.200s", text)
	}

	var r resultJSON
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, eris.Wrap(err, "scoring: parse response JSON")
	}
	if r.Score == "" {
		return nil, eris.New("scoring: response has no score")
	}
	score, err := strconv.ParseFloat(string(r.Score), 64)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: invalid score %q", r.Score)
	}
	if score < model.MinScore || score > model.MaxScore {
		return nil, eris.Errorf("scoring: score %.2f outside [%.0f, %.0f]", score, model.MinScore, model.MaxScore)
	}

	res := &Result{
		Score:                score,
		Reasoning:            strings.TrimSpace(r.Reasoning),
		MatchesRequirements:  r.MatchesRequirements,
		EstimatedMarketValue: stringify(r.EstimatedMarketValue),
		NotificationMessage:  strings.TrimSpace(r.NotificationMessage),
	}
	if len(r.Specs) > 0 {
		res.Specs = make(map[string]string, len(r.Specs))
		for k, v := range r.Specs {
			if v == nil {
				continue
			}
			res.Specs[k] = fmt.Sprint(v)
		}
	}
	return res, nil
}

// stringify renders a JSON scalar as text; strings lose their quotes.
func stringify(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

// cleanJSON strips markdown code fences and anything outside the first "{"
// and last "}".
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
