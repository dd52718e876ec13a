package quill

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
)

// Chapter statuses as reported by the REST surface.
const (
	ChapterPending    = "pending"
	ChapterGenerating = "generating"
	ChapterComplete   = "complete"
	ChapterFailed     = "failed"
)

// TOCItem is one row of GET /api/books/{id}/chapters.
type TOCItem struct {
	Chapter int    `json:"chapter"`
	Title   string `json:"title"`
	Status  string `json:"status"`
	Outline string `json:"outline,omitempty"`
}

// ChapterResponse is returned by GET /api/books/{id}/chapters/{n}.
type ChapterResponse struct {
	ID              int    `json:"id"`
	BookID          int    `json:"book_id"`
	ChapterNumber   int    `json:"chapter_number"`
	Title           string `json:"title"`
	Outline         string `json:"outline"`
	ContentMarkdown string `json:"content_markdown"`
	Status          string `json:"status"`
	WordCount       int    `json:"word_count"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

// ChapterUpdate is sent to PUT /api/books/{id}/chapters/{n}. Nil fields are left untouched.
type ChapterUpdate struct {
	Title           *string `json:"title,omitempty"`
	ContentMarkdown *string `json:"content_markdown,omitempty"`
	Outline         *string `json:"outline,omitempty"`
}

type GenerateChapterResponse struct {
	Message       string `json:"message"`
	ChapterNumber int    `json:"chapter_number"`
}

type GenerateAllResponse struct {
	Message  string `json:"message"`
	Chapters int    `json:"chapters"`
}

func (c *Client) ListChapters(ctx context.Context, bookID int) ([]TOCItem, error) {
	if err := checkBook(bookID); err != nil {
		return nil, err
	}
	var out []TOCItem
	if err := c.get(ctx, bookPath(bookID)+"/chapters", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetChapter(ctx context.Context, bookID, chapterNumber int) (*ChapterResponse, error) {
	if err := checkChapter(bookID, chapterNumber); err != nil {
		return nil, err
	}
	var out ChapterResponse
	if err := c.get(ctx, chapterPath(bookID, chapterNumber), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateChapter starts background generation of one chapter.
// Progress arrives on the realtime channel, not in the response.
func (c *Client) GenerateChapter(ctx context.Context, bookID, chapterNumber int) (*GenerateChapterResponse, error) {
	if err := checkChapter(bookID, chapterNumber); err != nil {
		return nil, err
	}
	var out GenerateChapterResponse
	if err := c.post(ctx, chapterPath(bookID, chapterNumber)+"/generate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateAllChapters starts generation for every pending chapter.
func (c *Client) GenerateAllChapters(ctx context.Context, bookID int) (*GenerateAllResponse, error) {
	if err := checkBook(bookID); err != nil {
		return nil, err
	}
	var out GenerateAllResponse
	if err := c.post(ctx, bookPath(bookID)+"/chapters/generate-all", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateChapter(ctx context.Context, bookID, chapterNumber int, req *ChapterUpdate) error {
	if err := checkChapter(bookID, chapterNumber); err != nil {
		return err
	}
	return c.put(ctx, chapterPath(bookID, chapterNumber), req, nil)
}

// ChapterError records a failed trigger in GenerateChapters.
type ChapterError struct {
	Chapter int
	Err     error
}

func (e *ChapterError) Error() string {
	return fmt.Sprintf("chapter %d: %v", e.Chapter, e.Err)
}

func (e *ChapterError) Unwrap() error {
	return e.Err
}

// GenerateChapters triggers several chapters, at most perSecond requests per second.
//
// Every chapter is attempted; failures are joined into the returned error as
// *ChapterError values. A cancelled context stops the remaining triggers.
func (c *Client) GenerateChapters(ctx context.Context, bookID int, chapters []int, perSecond float64) ([]int, error) {
	if err := checkBook(bookID); err != nil {
		return nil, err
	}
	if perSecond <= 0 {
		perSecond = 2
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)

	var started []int
	var errs []error
	for _, n := range chapters {
		if err := limiter.Wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := c.GenerateChapter(ctx, bookID, n); err != nil {
			errs = append(errs, &ChapterError{Chapter: n, Err: err})
			continue
		}
		started = append(started, n)
	}
	return started, errors.Join(errs...)
}
