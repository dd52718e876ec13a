// Package journal keeps a sqlite log of realtime events received per book.
// Replaying a book's journal through a reconciler rebuilds its last view offline.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	"github.com/quillforge/quill/client/realtime"
)

const schema = `
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		book_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		frame TEXT NOT NULL,
		received_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_book_seq ON events(book_id, seq);
`

// Entry is one journaled event.
type Entry struct {
	Seq        int64
	BookID     int
	ReceivedAt time.Time
	Event      realtime.Event
}

// Journal appends and reads events. Safe for concurrent use.
type Journal struct {
	db     *sql.DB
	logger *log.Logger
	now    func() time.Time
}

type Option func(*Journal)

func WithLogger(l *log.Logger) Option {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}

// Open opens or creates the journal at path. ":memory:" gives a throwaway journal.
func Open(path string, opts ...Option) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	// One connection: sqlite serializes writers anyway, and :memory: is per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	j := &Journal{db: db, logger: log.New(io.Discard), now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With("component", "journal")
	j.logger.Debug("journal opened", "path", path)
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records ev for bookID.
func (j *Journal) Append(ctx context.Context, bookID int, ev realtime.Event) error {
	if bookID <= 0 {
		return fmt.Errorf("journal: invalid book id %d", bookID)
	}
	frame, err := ev.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO events (book_id, type, frame, received_at) VALUES (?, ?, ?, ?)`,
		bookID, string(ev.Type), string(frame), j.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// Events returns bookID's entries in append order. Frames that no longer
// decode are skipped with a warning.
func (j *Journal) Events(ctx context.Context, bookID int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, book_id, frame, received_at FROM events WHERE book_id = ? ORDER BY seq`,
		bookID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e     Entry
			frame string
		)
		if err := rows.Scan(&e.Seq, &e.BookID, &frame, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev, err := realtime.Decode([]byte(frame))
		if err != nil && !errors.Is(err, realtime.ErrUnknownType) {
			j.logger.Warn("skipping undecodable entry", "seq", e.Seq, "err", err)
			continue
		}
		e.Event = ev
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return out, nil
}

// Replay feeds bookID's events to apply in append order and returns how many
// were applied.
func (j *Journal) Replay(ctx context.Context, bookID int, apply func(realtime.Event)) (int, error) {
	entries, err := j.Events(ctx, bookID)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		apply(e.Event)
	}
	return len(entries), nil
}

// Books lists the book ids that have journaled events, ascending.
func (j *Journal) Books(ctx context.Context) ([]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT DISTINCT book_id FROM events ORDER BY book_id`)
	if err != nil {
		return nil, fmt.Errorf("querying books: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning book id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Prune deletes bookID's events and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, bookID int) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM events WHERE book_id = ?`, bookID)
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	return res.RowsAffected()
}
