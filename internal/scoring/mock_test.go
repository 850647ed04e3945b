package scoring

import (
	"context"

	"github.com/sells-group/dealradar/pkg/anthropic"
)

type mockAnthropicClient struct {
	response *anthropic.MessageResponse
	err      error
	last     anthropic.MessageRequest
	calls    int
}

func (m *mockAnthropicClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.calls++
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Model:   "claude-haiku-4-5-20251001",
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}
