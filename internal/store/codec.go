package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealradar/internal/model"
)

const defaultListLimit = 100

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// prepareNewRequest fills creation defaults. A request created already
// approved starts active.
func prepareNewRequest(req *model.DealRequest, now time.Time) {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.ExpiresAt.IsZero() {
		req.ExpiresAt = req.CreatedAt.Add(model.DefaultRequestTTL)
	}
	if req.Status == "" {
		req.Status = model.RequestPending
	}
	if req.Approved && req.Status == model.RequestPending {
		req.Status = model.RequestActive
	}
}

func marshalImages(images []string) ([]byte, error) {
	if images == nil {
		images = []string{}
	}
	return json.Marshal(images)
}

func unmarshalImages(data []byte, p *model.Post) error {
	p.Images = []string{}
	if len(data) == 0 {
		return nil
	}
	return eris.Wrap(json.Unmarshal(data, &p.Images), "unmarshal images")
}

func marshalSpecs(specs map[string]string) ([]byte, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	return json.Marshal(specs)
}

func unmarshalSpecs(data []byte, ev *model.Evaluation) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return eris.Wrap(json.Unmarshal(data, &ev.Specs), "unmarshal specs")
}

func nullJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
