package qconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	quill "github.com/quillforge/quill/client"
)

// State is client-local session state: which book is being worked on, and
// an idea picked from generated suggestions that the next create consumes.
type State struct {
	ActiveBook   int              `yaml:"active_book,omitempty"`
	Server       string           `yaml:"server,omitempty"`
	SelectedIdea *quill.BookIdea  `yaml:"selected_idea,omitempty"`
	LastIdeas    []quill.BookIdea `yaml:"last_ideas,omitempty"`
}

// DefaultStatePath honours QUILL_STATE_PATH, else ~/.config/quill/state.yaml.
func DefaultStatePath() (string, error) {
	if p := strings.TrimSpace(os.Getenv("QUILL_STATE_PATH")); p != "" {
		return p, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.yaml"), nil
}

// DefaultJournalPath honours QUILL_JOURNAL_PATH, else ~/.config/quill/journal.db.
func DefaultJournalPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv("QUILL_JOURNAL_PATH")); p != "" {
		return p, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "journal.db"), nil
}

// LoadStateFrom returns an empty State when path does not exist.
func LoadStateFrom(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &State{}, nil
		}
		return nil, err
	}
	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	return &st, nil
}

func (s *State) SaveTo(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// UpdateStateAt loads, mutates and saves path under an exclusive lock, so
// concurrent invocations never lose each other's writes.
func UpdateStateAt(ctx context.Context, path string, fn func(st *State) error) error {
	if fn == nil {
		return errors.New("nil update function")
	}
	lock, err := lockExclusive(ctx, path+".lock")
	if err != nil {
		return fmt.Errorf("lock state: %w", err)
	}
	defer func() { _ = lock.Close() }()

	st, err := LoadStateFrom(path)
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return st.SaveTo(path)
}

// SetActiveBook records bookID on server as the book later commands default to.
func SetActiveBook(ctx context.Context, path, server string, bookID int) error {
	if bookID <= 0 {
		return quill.ErrInvalidBookID
	}
	return UpdateStateAt(ctx, path, func(st *State) error {
		st.ActiveBook = bookID
		st.Server = server
		return nil
	})
}

// SelectIdea stores idea for the next book create.
func SelectIdea(ctx context.Context, path string, idea quill.BookIdea) error {
	return UpdateStateAt(ctx, path, func(st *State) error {
		st.SelectedIdea = &idea
		return nil
	})
}

// SelectIdeaByIndex promotes the n-th (1-based) idea of the last generated
// list to the selected idea.
func SelectIdeaByIndex(ctx context.Context, path string, n int) (*quill.BookIdea, error) {
	var picked *quill.BookIdea
	err := UpdateStateAt(ctx, path, func(st *State) error {
		if n < 1 || n > len(st.LastIdeas) {
			return fmt.Errorf("no idea #%d (have %d)", n, len(st.LastIdeas))
		}
		idea := st.LastIdeas[n-1]
		st.SelectedIdea = &idea
		picked = &idea
		return nil
	})
	if err != nil {
		return nil, err
	}
	return picked, nil
}

// TakeSelectedIdea returns the stored idea, if any, and clears it.
func TakeSelectedIdea(ctx context.Context, path string) (*quill.BookIdea, error) {
	var idea *quill.BookIdea
	err := UpdateStateAt(ctx, path, func(st *State) error {
		idea = st.SelectedIdea
		st.SelectedIdea = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return idea, nil
}
