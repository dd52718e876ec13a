package quill

import (
	"context"
	"fmt"
	"strings"
)

// Tones accepted by the backend.
var Tones = []string{"professional", "casual", "academic", "conversational", "humorous", "formal"}

// BookConfig is sent to POST /api/books.
type BookConfig struct {
	BookIdea         string `json:"bookIdea"`
	Description      string `json:"description,omitempty"`
	TargetAudience   string `json:"targetAudience,omitempty"`
	Genre            string `json:"genre"`
	Chapters         int    `json:"chapters"`
	WordsPerChapter  int    `json:"wordsPerChapter"`
	Tone             string `json:"tone"`
	IncludeImages    bool   `json:"includeImages"`
	IncludeCitations bool   `json:"includeCitations"`
}

// Validate applies the backend's field limits before a round trip.
func (b *BookConfig) Validate() error {
	idea := strings.TrimSpace(b.BookIdea)
	switch {
	case len(idea) < 5 || len(idea) > 200:
		return fmt.Errorf("%w: book idea must be 5-200 characters", ErrInvalidConfig)
	case len(b.Genre) < 2 || len(b.Genre) > 50:
		return fmt.Errorf("%w: genre must be 2-50 characters", ErrInvalidConfig)
	case b.Chapters < 5 || b.Chapters > 30:
		return fmt.Errorf("%w: chapters must be between 5 and 30", ErrInvalidConfig)
	case b.WordsPerChapter < 1000 || b.WordsPerChapter > 10000:
		return fmt.Errorf("%w: words per chapter must be between 1000 and 10000", ErrInvalidConfig)
	}
	if b.Tone == "" {
		b.Tone = "professional"
	}
	for _, t := range Tones {
		if b.Tone == t {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown tone %q", ErrInvalidConfig, b.Tone)
}

// ChapterPreview is the short chapter form embedded in BookResponse.
type ChapterPreview struct {
	ChapterNumber int    `json:"chapter_number"`
	Title         string `json:"title"`
	Status        string `json:"status"`
}

// BookResponse is returned by the book endpoints.
type BookResponse struct {
	ID               int              `json:"id"`
	Title            string           `json:"title"`
	BookIdea         string           `json:"book_idea"`
	Description      string           `json:"description"`
	Genre            string           `json:"genre"`
	TargetAudience   string           `json:"target_audience"`
	ChaptersCount    int              `json:"chapters_count"`
	WordsPerChapter  int              `json:"words_per_chapter"`
	Tone             string           `json:"tone"`
	IncludeImages    bool             `json:"include_images"`
	IncludeCitations bool             `json:"include_citations"`
	Status           string           `json:"status"`
	CreatedAt        string           `json:"created_at"`
	UpdatedAt        string           `json:"updated_at,omitempty"`
	Chapters         []ChapterPreview `json:"chapters,omitempty"`
}

// DisplayTitle falls back to the idea for books the outline agent has not named yet.
func (b *BookResponse) DisplayTitle() string {
	if strings.TrimSpace(b.Title) != "" {
		return b.Title
	}
	if strings.TrimSpace(b.BookIdea) != "" {
		return b.BookIdea
	}
	return "book"
}

// AgentStatus is an agent entry in GET /api/books/{id}/status.
type AgentStatus struct {
	AgentName   string `json:"agent_name"`
	Status      string `json:"status"`
	CurrentTask string `json:"current_task,omitempty"`
}

// GenerationStatus is returned by GET /api/books/{id}/status.
type GenerationStatus struct {
	BookID           int           `json:"book_id"`
	BookStatus       string        `json:"book_status"`
	ChaptersTotal    int           `json:"chapters_total"`
	ChaptersComplete int           `json:"chapters_complete"`
	CurrentChapter   *int          `json:"current_chapter"`
	Agents           []AgentStatus `json:"agents"`
}

// CreateBook creates a book and returns its id.
func (c *Client) CreateBook(ctx context.Context, cfg *BookConfig) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	var out BookResponse
	if err := c.post(ctx, "/api/books", cfg, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

func (c *Client) GetBook(ctx context.Context, bookID int) (*BookResponse, error) {
	if err := checkBook(bookID); err != nil {
		return nil, err
	}
	var out BookResponse
	if err := c.get(ctx, bookPath(bookID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBookStatus returns the REST snapshot of agents and chapter counts.
func (c *Client) GetBookStatus(ctx context.Context, bookID int) (*GenerationStatus, error) {
	if err := checkBook(bookID); err != nil {
		return nil, err
	}
	var out GenerationStatus
	if err := c.get(ctx, bookPath(bookID)+"/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteBook(ctx context.Context, bookID int) error {
	if err := checkBook(bookID); err != nil {
		return err
	}
	return c.delete(ctx, bookPath(bookID))
}
