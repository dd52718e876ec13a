package quill

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// ExportFormat selects the export endpoint.
type ExportFormat string

const (
	ExportMarkdown ExportFormat = "markdown"
	ExportHTML     ExportFormat = "html"
)

// Extension returns the file extension for saved exports.
func (f ExportFormat) Extension() string {
	switch f {
	case ExportHTML:
		return ".html"
	default:
		return ".md"
	}
}

// Export streams a rendered book. The caller must close the returned body.
//
// Uses the client without a response timeout since large books take a while.
func (c *Client) Export(ctx context.Context, bookID int, format ExportFormat) (io.ReadCloser, error) {
	if err := checkBook(bookID); err != nil {
		return nil, err
	}
	switch format {
	case ExportMarkdown, ExportHTML:
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}

	resp, err := c.doRaw(ctx, c.exportClient, http.MethodGet, bookPath(bookID)+"/export/"+string(format), "*/*", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, nil
}

func (c *Client) ExportMarkdown(ctx context.Context, bookID int) (io.ReadCloser, error) {
	return c.Export(ctx, bookID, ExportMarkdown)
}

func (c *Client) ExportHTML(ctx context.Context, bookID int) (io.ReadCloser, error) {
	return c.Export(ctx, bookID, ExportHTML)
}
