package journal

import (
	"context"

	"github.com/quillforge/quill/client/realtime"
)

// Recorder is a realtime handler that journals each event before passing it on.
//
// Connection changes are forwarded when next implements realtime.StateHandler.
type Recorder struct {
	j      *Journal
	bookID int
	next   realtime.Handler
}

func NewRecorder(j *Journal, bookID int, next realtime.Handler) *Recorder {
	return &Recorder{j: j, bookID: bookID, next: next}
}

func (r *Recorder) HandleEvent(ev realtime.Event) {
	if err := r.j.Append(context.Background(), r.bookID, ev); err != nil {
		r.j.logger.Error("journal append failed", "book_id", r.bookID, "type", ev.Type, "err", err)
	}
	if r.next != nil {
		r.next.HandleEvent(ev)
	}
}

func (r *Recorder) HandleState(c realtime.Connection) {
	if sh, ok := r.next.(realtime.StateHandler); ok {
		sh.HandleState(c)
	}
}
