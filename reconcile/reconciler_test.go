package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillforge/quill/client/realtime"
)

func researchScenario() []realtime.Event {
	return []realtime.Event{
		realtime.NewAgentStatusEvent("research_agent", realtime.AgentActive, "scanning sources"),
		realtime.NewChapterProgressEvent(3, realtime.ChapterGenerating, 10),
		realtime.NewChapterProgressEvent(3, realtime.ChapterComplete, 100),
		realtime.NewAgentStatusEvent("research_agent", realtime.AgentIdle, ""),
	}
}

func fold(events []realtime.Event) Snapshot {
	r := NewReconciler()
	for _, ev := range events {
		r.Apply(ev)
	}
	return r.Snapshot()
}

func TestResearchScenario(t *testing.T) {
	snap := fold(researchScenario())

	agent, ok := snap.Agent("research_agent")
	require.True(t, ok)
	assert.Equal(t, realtime.AgentIdle, agent.Status)
	assert.Empty(t, agent.CurrentTask)

	ch, ok := snap.Chapter(3)
	require.True(t, ok)
	assert.Equal(t, realtime.ChapterProgress{ChapterID: 3, Status: realtime.ChapterComplete, ProgressPercent: 100}, ch)

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "research_scenario", data)
}

func TestReplayIsIdempotent(t *testing.T) {
	events := append(researchScenario(),
		realtime.NewAgentStatusEvent("writing_agent", realtime.AgentActive, "Writing: Chapter 1"),
		realtime.NewChapterProgressEvent(1, realtime.ChapterGenerating, 40),
		realtime.NewAgentStatusEvent("brand_new_agent", realtime.AgentError, ""),
	)

	first := fold(events)
	second := fold(events)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"research_agent", "writing_agent", "brand_new_agent"}, agentNames(first))
}

func TestAgentUpsertKeepsOneEntryPerName(t *testing.T) {
	r := NewReconciler()
	r.Apply(realtime.NewAgentStatusEvent("editor_agent", realtime.AgentActive, "Editing: Intro"))
	r.Apply(realtime.NewAgentStatusEvent("editor_agent", realtime.AgentActive, "Editing: Outro"))

	snap := r.Snapshot()
	require.Len(t, snap.Agents, 1)
	assert.Equal(t, realtime.AgentStatus{AgentName: "editor_agent", Status: realtime.AgentActive, CurrentTask: "Editing: Outro"}, snap.Agents[0])
}

func TestChapterProgressDefaultsToZero(t *testing.T) {
	ev, err := realtime.Decode([]byte(`{"type":"chapter_progress","data":{"chapter_id":2,"status":"generating"}}`))
	require.NoError(t, err)

	r := NewReconciler()
	r.Apply(ev)

	ch, ok := r.Snapshot().Chapter(2)
	require.True(t, ok)
	assert.Equal(t, 0, ch.ProgressPercent)
}

func TestChapterLastAppliedWins(t *testing.T) {
	r := NewReconciler()
	r.Apply(realtime.NewChapterProgressEvent(5, realtime.ChapterComplete, 100))
	r.Apply(realtime.NewChapterProgressEvent(5, realtime.ChapterGenerating, 20))

	ch, _ := r.Snapshot().Chapter(5)
	assert.Equal(t, realtime.ChapterGenerating, ch.Status)
	assert.Equal(t, 20, ch.ProgressPercent)
}

func TestNonMutatingEventsLeaveStateUnchanged(t *testing.T) {
	r := NewReconciler()
	for _, ev := range researchScenario() {
		r.Apply(ev)
	}
	before := r.Snapshot()

	done, err := realtime.NewEvent(realtime.TypeGenerationComplete, map[string]int{"book_id": 1})
	require.NoError(t, err)
	boom, err := realtime.NewEvent(realtime.TypeError, map[string]string{"message": "boom"})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		r.Apply(realtime.Event{Type: "nonsense", Data: json.RawMessage(`{"x":1}`)})
		r.Apply(realtime.Event{Type: "nonsense"})
		r.Apply(done)
		r.Apply(boom)
		r.Apply(realtime.Event{Type: realtime.TypeAgentStatus})
	})
	assert.Equal(t, before, r.Snapshot())
}

func TestApplyDecodesRawOnlyEvents(t *testing.T) {
	r := NewReconciler()
	r.Apply(realtime.Event{
		Type: realtime.TypeChapterProgress,
		Data: json.RawMessage(`{"chapter_id":8,"status":"generating","progress_percent":55}`),
	})

	ch, ok := r.Snapshot().Chapter(8)
	require.True(t, ok)
	assert.Equal(t, 55, ch.ProgressPercent)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewReconciler()
	r.Apply(realtime.NewAgentStatusEvent("format_agent", realtime.AgentActive, "Formatting"))
	r.Apply(realtime.NewChapterProgressEvent(1, realtime.ChapterGenerating, 5))

	snap := r.Snapshot()
	snap.Agents[0].Status = realtime.AgentError
	snap.Chapters[0].ProgressPercent = 99

	fresh := r.Snapshot()
	assert.Equal(t, realtime.AgentActive, fresh.Agents[0].Status)
	assert.Equal(t, 5, fresh.Chapters[0].ProgressPercent)
}

func TestChaptersSortedById(t *testing.T) {
	r := NewReconciler()
	for _, id := range []int{7, 2, 9, 1} {
		r.Apply(realtime.NewChapterProgressEvent(id, realtime.ChapterGenerating, id))
	}
	snap := r.Snapshot()

	var ids []int
	for _, c := range snap.Chapters {
		ids = append(ids, c.ChapterID)
	}
	assert.Equal(t, []int{1, 2, 7, 9}, ids)
	_, ok := snap.Chapter(3)
	assert.False(t, ok)
}

func TestRollbackRestoresPreviousEntry(t *testing.T) {
	r := NewReconciler()
	r.Apply(realtime.NewChapterProgressEvent(4, realtime.ChapterGenerating, 30))

	m := r.MarkGenerating(4)
	ch, _ := r.Snapshot().Chapter(4)
	assert.Equal(t, 0, ch.ProgressPercent)

	require.True(t, r.Rollback(m))
	ch, _ = r.Snapshot().Chapter(4)
	assert.Equal(t, 30, ch.ProgressPercent)
}

func TestRollbackRemovesFreshMark(t *testing.T) {
	r := NewReconciler()
	m := r.MarkGenerating(6)

	require.True(t, r.Rollback(m))
	_, ok := r.Snapshot().Chapter(6)
	assert.False(t, ok)
	assert.False(t, r.Rollback(m), "second rollback is a no-op")
}

func TestRollbackSkippedAfterNewerEvent(t *testing.T) {
	r := NewReconciler()
	m := r.MarkGenerating(6)
	r.Apply(realtime.NewChapterProgressEvent(6, realtime.ChapterGenerating, 15))

	assert.False(t, r.Rollback(m))
	ch, ok := r.Snapshot().Chapter(6)
	require.True(t, ok)
	assert.Equal(t, 15, ch.ProgressPercent)
}

func TestApplyDropsInvalidPrebuiltPayloads(t *testing.T) {
	r := NewReconciler()
	r.Apply(realtime.NewChapterProgressEvent(0, "bogus", 5))
	r.Apply(realtime.NewChapterProgressEvent(-2, realtime.ChapterGenerating, 5))
	r.Apply(realtime.NewChapterProgressEvent(4, "queued", 5))
	r.Apply(realtime.NewAgentStatusEvent("", "bogus", "x"))
	r.Apply(realtime.NewAgentStatusEvent("", realtime.AgentActive, "x"))
	r.Apply(realtime.NewAgentStatusEvent("writing_agent", "sleeping", ""))
	r.Apply(realtime.Event{
		Type:            realtime.TypeChapterProgress,
		ChapterProgress: &realtime.ChapterProgress{ChapterID: 0, Status: realtime.ChapterComplete},
	})

	snap := r.Snapshot()
	assert.Empty(t, snap.Agents)
	assert.Empty(t, snap.Chapters)
	assert.Equal(t, uint64(0), snap.Revision)
}

func TestApplyClampsPrebuiltPercent(t *testing.T) {
	r := NewReconciler()
	r.Apply(realtime.Event{
		Type:            realtime.TypeChapterProgress,
		ChapterProgress: &realtime.ChapterProgress{ChapterID: 2, Status: realtime.ChapterGenerating, ProgressPercent: 250},
	})
	ch, ok := r.Snapshot().Chapter(2)
	require.True(t, ok)
	assert.Equal(t, 100, ch.ProgressPercent)
}

func TestMarkGeneratingIgnoresNonPositiveIds(t *testing.T) {
	r := NewReconciler()
	m := r.MarkGenerating(0)
	assert.Empty(t, r.Snapshot().Chapters)
	assert.False(t, r.Rollback(m))

	s := NewStore()
	defer s.Close()
	s.MarkGenerating(-1)()
	assert.Empty(t, s.Snapshot().Chapters)
	assert.Equal(t, uint64(0), s.Snapshot().Revision)
}

func agentNames(s Snapshot) []string {
	out := make([]string, 0, len(s.Agents))
	for _, a := range s.Agents {
		out = append(out, a.AgentName)
	}
	return out
}
