package reconcile

import (
	"context"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	quill "github.com/quillforge/quill/client"
	"github.com/quillforge/quill/client/realtime"
)

// Update is delivered to subscribers after every mutation or connection change.
type Update struct {
	Snapshot   Snapshot
	Connection realtime.Connection
}

// Connected is the derived "isConnected" flag.
func (u Update) Connected() bool {
	return u.Connection.State == realtime.Connected
}

// Notifier receives side-channel events (generation_complete, error).
type Notifier func(ev realtime.Event)

type StoreOption func(*Store)

func WithStoreLogger(l *log.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithNotifier(n Notifier) StoreOption {
	return func(s *Store) {
		s.notifier = n
	}
}

// Store implements realtime.Handler and realtime.StateHandler.
type Store struct {
	mu          sync.RWMutex
	rec         *Reconciler
	conn        realtime.Connection
	subscribers map[string]chan Update
	closed      bool

	notifier Notifier
	logger   *log.Logger
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		rec:         NewReconciler(),
		subscribers: make(map[string]chan Update),
		logger:      log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "reconcile")
	return s
}

// HandleEvent applies ev in arrival order.
func (s *Store) HandleEvent(ev realtime.Event) {
	s.mu.Lock()
	before := s.rec.Revision()
	s.rec.Apply(ev)
	if s.rec.Revision() != before {
		s.publishLocked()
	}
	s.mu.Unlock()

	switch ev.Type {
	case realtime.TypeGenerationComplete:
		s.logger.Info("generation complete", "data", string(ev.Data))
	case realtime.TypeError:
		s.logger.Error("backend error", "data", string(ev.Data))
	default:
		return
	}
	if s.notifier != nil {
		s.notifier(ev)
	}
}

// HandleState records the channel's connection view.
func (s *Store) HandleState(c realtime.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = c
	s.publishLocked()
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.Snapshot()
}

func (s *Store) Connection() realtime.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

func (s *Store) Connected() bool {
	return s.Connection().State == realtime.Connected
}

// ApplyGenerationStatus folds the agents of a REST status response.
// Entries with an empty name or unknown status are skipped.
func (s *Store) ApplyGenerationStatus(st *quill.GenerationStatus) {
	if st == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.rec.Revision()
	for _, a := range st.Agents {
		ev, err := realtime.NewEvent(realtime.TypeAgentStatus, a)
		if err != nil {
			s.logger.Warn("skipping agent from status", "agent", a.AgentName, "err", err)
			continue
		}
		s.rec.Apply(ev)
	}
	if s.rec.Revision() != before {
		s.publishLocked()
	}
}

// ApplyChapterList folds a REST chapter list. Generating and complete rows
// upsert; pending and failed rows clear any progress entry.
func (s *Store) ApplyChapterList(items []quill.TOCItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.rec.Revision()
	for _, it := range items {
		if it.Chapter <= 0 {
			continue
		}
		switch it.Status {
		case quill.ChapterComplete:
			s.rec.upsertChapter(realtime.ChapterProgress{ChapterID: it.Chapter, Status: realtime.ChapterComplete, ProgressPercent: 100})
		case quill.ChapterGenerating:
			s.rec.upsertChapter(realtime.ChapterProgress{ChapterID: it.Chapter, Status: realtime.ChapterGenerating})
		default:
			s.rec.removeChapter(it.Chapter)
		}
	}
	if s.rec.Revision() != before {
		s.publishLocked()
	}
}

// MarkGenerating optimistically flags a chapter and returns its rollback.
// Calling the rollback after a newer update for the chapter has no effect.
func (s *Store) MarkGenerating(chapterID int) (rollback func()) {
	if chapterID <= 0 {
		return func() {}
	}
	s.mu.Lock()
	m := s.rec.MarkGenerating(chapterID)
	s.publishLocked()
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.rec.Rollback(m) {
				s.publishLocked()
			} else {
				s.logger.Debug("rollback skipped, chapter moved on", "chapter_id", chapterID)
			}
		})
	}
}

// Subscribe returns a channel of updates and its subscription id. The
// channel holds only the latest update: slow readers skip intermediate ones.
// The subscription ends when ctx is cancelled.
func (s *Store) Subscribe(ctx context.Context) (<-chan Update, string) {
	id := uuid.New().String()
	ch := make(chan Update, 1)

	s.mu.Lock()
	if s.closed {
		close(ch)
		s.mu.Unlock()
		return ch, id
	}
	s.subscribers[id] = ch
	ch <- Update{Snapshot: s.rec.Snapshot(), Connection: s.conn}
	s.mu.Unlock()

	s.logger.Debug("subscriber added", "sub_id", id)

	go func() {
		<-ctx.Done()
		s.Unsubscribe(id)
	}()
	return ch, id
}

func (s *Store) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.subscribers[id]
	if !ok {
		return
	}
	delete(s.subscribers, id)
	close(ch)
	s.logger.Debug("subscriber removed", "sub_id", id)
}

// Close ends every subscription.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.closed = true
}

func (s *Store) publishLocked() {
	if len(s.subscribers) == 0 {
		return
	}
	u := Update{Snapshot: s.rec.Snapshot(), Connection: s.conn}
	for _, ch := range s.subscribers {
		select {
		case ch <- u:
			continue
		default:
		}
		// Replace the stale pending update with the latest one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- u:
		default:
		}
	}
}
