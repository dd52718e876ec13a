// Package reconcile folds realtime events and REST responses into one view
// of agent statuses and chapter progress.
package reconcile

import (
	"sort"

	"github.com/quillforge/quill/client/realtime"
)

// Snapshot is an immutable read of both collections.
//
// Agents are in first-seen order, chapters in ascending id order. Revision
// counts the mutations applied so far.
type Snapshot struct {
	Revision uint64                     `json:"revision"`
	Agents   []realtime.AgentStatus     `json:"agents"`
	Chapters []realtime.ChapterProgress `json:"chapters"`
}

// Agent looks up one agent by name.
func (s Snapshot) Agent(name string) (realtime.AgentStatus, bool) {
	for _, a := range s.Agents {
		if a.AgentName == name {
			return a, true
		}
	}
	return realtime.AgentStatus{}, false
}

// Chapter looks up one chapter by id.
func (s Snapshot) Chapter(id int) (realtime.ChapterProgress, bool) {
	i := sort.Search(len(s.Chapters), func(i int) bool { return s.Chapters[i].ChapterID >= id })
	if i < len(s.Chapters) && s.Chapters[i].ChapterID == id {
		return s.Chapters[i], true
	}
	return realtime.ChapterProgress{}, false
}

// CompleteChapters counts chapters reported complete.
func (s Snapshot) CompleteChapters() int {
	n := 0
	for _, c := range s.Chapters {
		if c.Status == realtime.ChapterComplete {
			n++
		}
	}
	return n
}

type chapterEntry struct {
	progress realtime.ChapterProgress
	rev      uint64
}

// Reconciler owns the two collections. It is not safe for concurrent use;
// Store wraps it for that.
type Reconciler struct {
	rev      uint64
	agents   map[string]realtime.AgentStatus
	order    []string
	chapters map[int]chapterEntry
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		agents:   make(map[string]realtime.AgentStatus),
		chapters: make(map[int]chapterEntry),
	}
}

// Apply folds one event. agent_status and chapter_progress upsert by key;
// every other type leaves both collections untouched. Payloads that fail
// validation are dropped, whichever way the event was built.
func (r *Reconciler) Apply(ev realtime.Event) {
	switch ev.Type {
	case realtime.TypeAgentStatus:
		if p := agentPayload(ev); p != nil && p.Validate() == nil {
			r.upsertAgent(*p)
		}
	case realtime.TypeChapterProgress:
		if p := chapterPayload(ev); p != nil && p.Validate() == nil {
			r.upsertChapter(*p)
		}
	}
}

// Revision returns the number of mutations applied.
func (r *Reconciler) Revision() uint64 {
	return r.rev
}

func (r *Reconciler) Snapshot() Snapshot {
	s := Snapshot{
		Revision: r.rev,
		Agents:   make([]realtime.AgentStatus, 0, len(r.order)),
		Chapters: make([]realtime.ChapterProgress, 0, len(r.chapters)),
	}
	for _, name := range r.order {
		s.Agents = append(s.Agents, r.agents[name])
	}
	for _, e := range r.chapters {
		s.Chapters = append(s.Chapters, e.progress)
	}
	sort.Slice(s.Chapters, func(i, j int) bool { return s.Chapters[i].ChapterID < s.Chapters[j].ChapterID })
	return s
}

func (r *Reconciler) upsertAgent(a realtime.AgentStatus) {
	if a.Status != realtime.AgentActive {
		a.CurrentTask = ""
	}
	if _, ok := r.agents[a.AgentName]; !ok {
		r.order = append(r.order, a.AgentName)
	}
	r.agents[a.AgentName] = a
	r.rev++
}

func (r *Reconciler) upsertChapter(p realtime.ChapterProgress) {
	p.ProgressPercent = min(max(p.ProgressPercent, 0), 100)
	r.rev++
	r.chapters[p.ChapterID] = chapterEntry{progress: p, rev: r.rev}
}

func (r *Reconciler) removeChapter(id int) {
	if _, ok := r.chapters[id]; !ok {
		return
	}
	delete(r.chapters, id)
	r.rev++
}

// Mark is an optimistic chapter update that can be undone.
type Mark struct {
	chapterID int
	rev       uint64
	prev      chapterEntry
	hadPrev   bool
}

// MarkGenerating records chapterID as generating ahead of the server's event.
// Non-positive ids are ignored and yield a Mark whose rollback does nothing.
func (r *Reconciler) MarkGenerating(chapterID int) Mark {
	if chapterID <= 0 {
		return Mark{}
	}
	prev, ok := r.chapters[chapterID]
	r.upsertChapter(realtime.ChapterProgress{ChapterID: chapterID, Status: realtime.ChapterGenerating})
	return Mark{chapterID: chapterID, rev: r.rev, prev: prev, hadPrev: ok}
}

// Rollback undoes m unless something newer was applied to the same chapter.
// It reports whether the rollback took effect.
func (r *Reconciler) Rollback(m Mark) bool {
	cur, ok := r.chapters[m.chapterID]
	if !ok || cur.rev != m.rev {
		return false
	}
	if m.hadPrev {
		r.rev++
		r.chapters[m.chapterID] = chapterEntry{progress: m.prev.progress, rev: r.rev}
	} else {
		r.removeChapter(m.chapterID)
	}
	return true
}

func agentPayload(ev realtime.Event) *realtime.AgentStatus {
	if ev.AgentStatus != nil {
		return ev.AgentStatus
	}
	return redecode(ev).AgentStatus
}

func chapterPayload(ev realtime.Event) *realtime.ChapterProgress {
	if ev.ChapterProgress != nil {
		return ev.ChapterProgress
	}
	return redecode(ev).ChapterProgress
}

// redecode handles events built by hand with only Data set.
func redecode(ev realtime.Event) realtime.Event {
	if len(ev.Data) == 0 {
		return realtime.Event{}
	}
	frame, err := ev.MarshalJSON()
	if err != nil {
		return realtime.Event{}
	}
	out, err := realtime.Decode(frame)
	if err != nil {
		return realtime.Event{}
	}
	return out
}
