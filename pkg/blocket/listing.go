package blocket

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/dealradar/internal/model"
)

// flexString decodes JSON strings and numbers alike. Ad ids and prices
// arrive in either form.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

type searchResponse struct {
	Data []searchAd `json:"data"`
}

type searchAd struct {
	AdID      flexString      `json:"ad_id"`
	ListTime  json.RawMessage `json:"list_time"`
	Timestamp flexString      `json:"timestamp"`
}

// listedAt returns when the ad was posted. list_time is usually ISO 8601;
// numeric values are epoch seconds or milliseconds. Zero when unknown.
func (a searchAd) listedAt() time.Time {
	var s flexString
	if len(a.ListTime) > 0 && json.Unmarshal(a.ListTime, &s) == nil && s != "" {
		if t, err := time.Parse(time.RFC3339, string(s)); err == nil {
			return t
		}
		if t, ok := parseEpoch(string(s)); ok {
			return t
		}
	}
	if t, ok := parseEpoch(string(a.Timestamp)); ok {
		return t
	}
	return time.Time{}
}

func parseEpoch(s string) (time.Time, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v <= 0 {
		return time.Time{}, false
	}
	if v > 1e10 {
		v /= 1000
	}
	return time.Unix(int64(v), 0).UTC(), true
}

type contentResponse struct {
	Data *adContent `json:"data"`
}

type named struct {
	Name string `json:"name"`
}

type adContent struct {
	AdID    flexString `json:"ad_id"`
	Subject string     `json:"subject"`
	Body    string     `json:"body"`
	Price   *struct {
		Value flexString `json:"value"`
	} `json:"price"`
	Location *struct {
		Name   string `json:"name"`
		Region *named `json:"region"`
	} `json:"location"`
	Category   *named `json:"category"`
	Advertiser *named `json:"advertiser"`
	Images     []struct {
		URL string `json:"url"`
	} `json:"images"`
	CompanyAd bool   `json:"company_ad"`
	Type      string `json:"type"`
}

func (a *adContent) toRawListing() model.RawListing {
	l := model.RawListing{
		AdID:        string(a.AdID),
		Title:       a.Subject,
		Description: a.Body,
		CompanyAd:   a.CompanyAd,
		Type:        a.Type,
		Images:      make([]string, 0, len(a.Images)),
	}
	if a.Price != nil && a.Price.Value != "" {
		l.Price = string(a.Price.Value) + " kr"
	}
	if a.Location != nil {
		l.Location = a.Location.Name
		if a.Location.Region != nil {
			l.Region = a.Location.Region.Name
		}
	}
	if a.Category != nil {
		l.Category = a.Category.Name
	}
	if a.Advertiser != nil {
		l.Seller = a.Advertiser.Name
	}
	for _, img := range a.Images {
		if img.URL != "" {
			l.Images = append(l.Images, img.URL)
		}
	}
	return l
}
