package quill

import (
	"context"
	"errors"
	"strings"
)

// ChatRequest is sent to POST /api/books/{id}/chat.
type ChatRequest struct {
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// ChatResponse is the assistant's reply.
type ChatResponse struct {
	Response     string   `json:"response"`
	AgentName    string   `json:"agent_name,omitempty"`
	ActionsTaken []string `json:"actions_taken,omitempty"`
}

// SendChatMessage asks the book's agents to act on a free-text instruction.
func (c *Client) SendChatMessage(ctx context.Context, bookID int, message string) (*ChatResponse, error) {
	if err := checkBook(bookID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(message) == "" {
		return nil, errors.New("empty chat message")
	}
	var out ChatResponse
	if err := c.post(ctx, bookPath(bookID)+"/chat", &ChatRequest{Message: message}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
