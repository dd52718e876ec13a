package quill

import (
	"fmt"
	"net/url"
	"strings"
)

// BookStreamURL returns the realtime address for a book: <ws base>/ws/books/<id>.
func BookStreamURL(baseURL string, bookID int) (string, error) {
	if err := checkBook(bookID); err != nil {
		return "", err
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/books/" + itoa(bookID)
	u.RawQuery = ""
	return u.String(), nil
}

// StreamURL is BookStreamURL for the client's base URL.
func (c *Client) StreamURL(bookID int) (string, error) {
	return BookStreamURL(c.baseURL, bookID)
}
