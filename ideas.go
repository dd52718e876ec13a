package quill

import (
	"context"
	"errors"
	"strings"
)

// IdeaRequest is sent to POST /api/generate-ideas.
type IdeaRequest struct {
	Topics   string `json:"topics"`
	Keywords string `json:"keywords"`
}

// BookIdea is one generated idea. Field names follow the backend's camelCase.
type BookIdea struct {
	ID              string `json:"id" yaml:"id"`
	Title           string `json:"title" yaml:"title"`
	Description     string `json:"description" yaml:"description"`
	Genre           string `json:"genre" yaml:"genre"`
	TargetAudience  string `json:"targetAudience" yaml:"target_audience"`
	UniqueAngle     string `json:"uniqueAngle" yaml:"unique_angle"`
	MarketPotential string `json:"marketPotential" yaml:"market_potential"`
}

// BookConfig seeds a configuration from the idea, the way the configure step does.
func (i *BookIdea) BookConfig() *BookConfig {
	return &BookConfig{
		BookIdea:         i.Title,
		Description:      i.Description,
		TargetAudience:   i.TargetAudience,
		Genre:            strings.ToLower(i.Genre),
		Chapters:         10,
		WordsPerChapter:  2000,
		Tone:             "professional",
		IncludeCitations: true,
	}
}

type IdeaResponse struct {
	Success bool       `json:"success"`
	Ideas   []BookIdea `json:"ideas"`
	Message string     `json:"message,omitempty"`
}

// GenerateIdeas asks the ideation agent for book ideas.
func (c *Client) GenerateIdeas(ctx context.Context, req *IdeaRequest) (*IdeaResponse, error) {
	if strings.TrimSpace(req.Topics) == "" && strings.TrimSpace(req.Keywords) == "" {
		return nil, errors.New("topics or keywords required")
	}
	var out IdeaResponse
	if err := c.post(ctx, "/api/generate-ideas", req, &out); err != nil {
		return nil, err
	}
	if !out.Success && out.Message != "" {
		return &out, errors.New(out.Message)
	}
	return &out, nil
}
