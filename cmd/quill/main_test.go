package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	quill "github.com/quillforge/quill/client"
	"github.com/quillforge/quill/client/qconfig"
	"github.com/quillforge/quill/client/realtime"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// fakeBackend serves one book (id 7) over REST and the realtime socket.
type fakeBackend struct {
	mu         sync.Mutex
	created    *quill.BookConfig
	generated  []string
	frames     []realtime.Event
	socketHits int
	failCreate bool
}

func (b *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("POST /api/books", func(w http.ResponseWriter, r *http.Request) {
		var cfg quill.BookConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
			return
		}
		b.mu.Lock()
		fail := b.failCreate
		if !fail {
			b.created = &cfg
		}
		b.mu.Unlock()
		if fail {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Outline agent unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, quill.BookResponse{ID: 7, Title: cfg.BookIdea, Genre: cfg.Genre, Status: "outlining"})
	})
	mux.HandleFunc("GET /api/books/7", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, quill.BookResponse{
			ID: 7, Title: "Tide Pools", Genre: "science", Status: "writing",
			Chapters: []quill.ChapterPreview{{ChapterNumber: 1, Title: "Low Water", Status: "complete"}},
		})
	})
	mux.HandleFunc("GET /api/books/8", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Book not found"})
	})
	mux.HandleFunc("GET /api/books/7/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, quill.GenerationStatus{
			BookID: 7, BookStatus: "writing", ChaptersTotal: 3, ChaptersComplete: 1,
			Agents: []quill.AgentStatus{{AgentName: "writing_agent", Status: "active", CurrentTask: "Chapter 2"}},
		})
	})
	mux.HandleFunc("GET /api/books/7/chapters", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []quill.TOCItem{
			{Chapter: 1, Title: "Low Water", Status: "complete"},
			{Chapter: 2, Title: "Anemones", Status: "generating"},
			{Chapter: 3, Title: "High Tide", Status: "pending"},
		})
	})
	mux.HandleFunc("POST /api/books/7/chapters/{n}/generate", func(w http.ResponseWriter, r *http.Request) {
		n := r.PathValue("n")
		b.mu.Lock()
		b.generated = append(b.generated, n)
		b.mu.Unlock()
		if n == "2" {
			writeJSON(w, http.StatusConflict, map[string]string{"detail": "Chapter already generating"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Chapter generation started"})
	})
	mux.HandleFunc("POST /api/books/7/chapters/generate-all", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, quill.GenerateAllResponse{Message: "Started generation of 2 chapters", Chapters: 2})
	})
	mux.HandleFunc("GET /api/books/7/export/markdown", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte("# Tide Pools\n"))
	})
	mux.HandleFunc("POST /api/books/7/chat", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, quill.ChatResponse{Response: "Shortened chapter 2.", AgentName: "editor_agent", ActionsTaken: []string{"edited chapter 2"}})
	})
	mux.HandleFunc("POST /api/generate-ideas", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, quill.IdeaResponse{Success: true, Ideas: []quill.BookIdea{
			{ID: "a", Title: "Rockpool Field Guide", Genre: "Science", TargetAudience: "families", Description: "What lives between the tides."},
			{ID: "b", Title: "Salt and Stone", Genre: "Fiction", TargetAudience: "adults"},
		}})
	})

	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/ws/books/7", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		b.mu.Lock()
		b.socketHits++
		frames := b.frames
		b.mu.Unlock()
		for _, ev := range frames {
			data, err := ev.MarshalJSON()
			if err != nil {
				t.Errorf("marshal frame: %v", err)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		// Hold the socket open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	return mux
}

func (b *fakeBackend) setFrames(frames []realtime.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = frames
}

func newFakeBackend(t *testing.T) (*fakeBackend, string) {
	t.Helper()
	b := &fakeBackend{}
	srv := httptest.NewServer(b.handler(t))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	t.Setenv("QUILL_URL", srv.URL)
	t.Setenv("QUILL_SERVER", "")
	t.Setenv("QUILL_API_KEY", "")
	t.Setenv("QUILL_CONFIG_PATH", filepath.Join(dir, "config.yaml"))
	t.Setenv("QUILL_STATE_PATH", filepath.Join(dir, "state.yaml"))
	t.Setenv("QUILL_JOURNAL_PATH", filepath.Join(dir, "journal.db"))
	return b, dir
}

func runCLI(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCommand(&out, &errOut)
	root.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = root.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func loadState(t *testing.T) *qconfig.State {
	t.Helper()
	path, err := qconfig.DefaultStatePath()
	require.NoError(t, err)
	st, err := qconfig.LoadStateFrom(path)
	require.NoError(t, err)
	return st
}

func TestInvalidFormatIsUsageError(t *testing.T) {
	newFakeBackend(t)

	_, _, err := runCLI(t, "--format", "xml", "book", "get", "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
	assert.Equal(t, 2, exitCode(err))
}

func TestNoActiveBookIsUsageError(t *testing.T) {
	newFakeBackend(t)

	_, _, err := runCLI(t, "book", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no book selected")
	assert.Equal(t, 2, exitCode(err))
}

func TestBookNotFoundShowsDetail(t *testing.T) {
	newFakeBackend(t)

	_, _, err := runCLI(t, "book", "get", "8")
	require.Error(t, err)
	assert.Equal(t, "get book: Book not found (http 404)", err.Error())
	assert.Equal(t, 1, exitCode(err))
}

func TestBookCreateValidatesBeforeSending(t *testing.T) {
	b, _ := newFakeBackend(t)

	_, _, err := runCLI(t, "book", "create", "--idea", "hi", "--genre", "science")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
	assert.Nil(t, b.created)
}

func TestUseThenStatus(t *testing.T) {
	newFakeBackend(t)

	out, _, err := runCLI(t, "use", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Active book is now 7")
	assert.Equal(t, 7, loadState(t).ActiveBook)

	out, _, err = runCLI(t, "book", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "book 7 writing  1/3 chapters complete")
	assert.Contains(t, out, "writing_agent")
	assert.Contains(t, out, "Chapter 2")
}

func TestStatusJSON(t *testing.T) {
	newFakeBackend(t)

	out, _, err := runCLI(t, "--format", "json", "book", "status", "7")
	require.NoError(t, err)

	var st quill.GenerationStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 7, st.BookID)
	assert.Equal(t, 3, st.ChaptersTotal)
	require.Len(t, st.Agents, 1)
	assert.Equal(t, "writing_agent", st.Agents[0].AgentName)
}

func TestIdeasToBook(t *testing.T) {
	b, _ := newFakeBackend(t)

	out, _, err := runCLI(t, "ideas", "generate", "--topics", "coastal ecology")
	require.NoError(t, err)
	assert.Contains(t, out, "1. Rockpool Field Guide")
	assert.Contains(t, out, "2. Salt and Stone")
	assert.Len(t, loadState(t).LastIdeas, 2)

	_, _, err = runCLI(t, "ideas", "select", "3")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))

	out, _, err = runCLI(t, "ideas", "select", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Selected Rockpool Field Guide")

	out, _, err = runCLI(t, "book", "create", "--from-idea", "--chapters", "12")
	require.NoError(t, err)
	assert.Contains(t, out, "Created book 7")

	require.NotNil(t, b.created)
	assert.Equal(t, "Rockpool Field Guide", b.created.BookIdea)
	assert.Equal(t, "science", b.created.Genre)
	assert.Equal(t, "families", b.created.TargetAudience)
	assert.Equal(t, 12, b.created.Chapters)

	st := loadState(t)
	assert.Equal(t, 7, st.ActiveBook)
	assert.True(t, strings.HasPrefix(st.Server, "127.0.0.1:"), "server=%q", st.Server)
	assert.Nil(t, st.SelectedIdea)
}

func TestCreateFromIdeaWithoutSelection(t *testing.T) {
	b, _ := newFakeBackend(t)

	_, _, err := runCLI(t, "book", "create", "--from-idea")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no idea selected")
	assert.Nil(t, b.created)
}

func TestChapterGenerateRollsBackFailedTriggers(t *testing.T) {
	b, _ := newFakeBackend(t)

	out, errOut, err := runCLI(t, "--book", "7", "chapter", "generate", "1", "2", "1", "--rate", "100")
	require.Error(t, err)
	assert.Equal(t, "1 of 2 chapters failed to start", err.Error())

	assert.Equal(t, []string{"1", "2"}, b.generated)
	assert.Contains(t, out, "chapter 1 generating")
	assert.NotContains(t, out, "chapter 2")
	assert.Contains(t, errOut, "chapter 2: Chapter already generating (http 409)")
}

func TestExportToStdoutAndFile(t *testing.T) {
	_, dir := newFakeBackend(t)

	out, _, err := runCLI(t, "export", "markdown", "7", "-o", "-")
	require.NoError(t, err)
	assert.Equal(t, "# Tide Pools\n", out)

	path := filepath.Join(dir, "tide.md")
	out, _, err = runCLI(t, "export", "markdown", "7", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Tide Pools\n", string(data))

	_, _, err = runCLI(t, "export", "pdf", "7")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestChat(t *testing.T) {
	newFakeBackend(t)

	out, _, err := runCLI(t, "--book", "7", "chat", "make", "chapter", "2", "shorter")
	require.NoError(t, err)
	assert.Contains(t, out, "editor_agent: Shortened chapter 2.")
	assert.Contains(t, out, "edited chapter 2")
}

func watchFrames(t *testing.T) []realtime.Event {
	t.Helper()
	done, err := realtime.NewEvent(realtime.TypeGenerationComplete, map[string]any{"message": "Book complete"})
	require.NoError(t, err)
	return []realtime.Event{
		realtime.NewAgentStatusEvent("outline_agent", realtime.AgentActive, "drafting outline"),
		realtime.NewChapterProgressEvent(3, realtime.ChapterGenerating, 40),
		realtime.NewChapterProgressEvent(3, realtime.ChapterComplete, 100),
		done,
	}
}

func TestWatchPlainExitsOnComplete(t *testing.T) {
	b, _ := newFakeBackend(t)
	b.setFrames(watchFrames(t))

	out, errOut, err := runCLI(t, "watch", "7", "--plain", "--exit-on-complete", "--record")
	require.NoError(t, err)
	assert.Contains(t, out, "agent Outline Agent active: drafting outline")
	assert.Contains(t, out, "chapter 3 generating 40%")
	assert.Contains(t, out, "chapter 3 complete 100%")
	assert.Contains(t, out, "generation_complete: Book complete")
	assert.Contains(t, errOut, "connected")
	assert.Equal(t, 1, b.socketHits)

	out, _, err = runCLI(t, "replay", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Outline Agent")
	assert.Contains(t, out, "Chapters (1/1 complete)")
	assert.Contains(t, out, "replayed 4 events")

	out, _, err = runCLI(t, "replay", "--list")
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)

	out, _, err = runCLI(t, "replay", "7", "--prune")
	require.NoError(t, err)
	assert.Contains(t, out, "pruned 4 events")

	out, _, err = runCLI(t, "replay", "--list")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestWatchJSONPrintsFrames(t *testing.T) {
	b, _ := newFakeBackend(t)
	b.setFrames(watchFrames(t))

	out, _, err := runCLI(t, "--format", "json", "watch", "7", "--exit-on-complete")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	ev, err := realtime.Decode([]byte(lines[1]))
	require.NoError(t, err)
	require.NotNil(t, ev.ChapterProgress)
	assert.Equal(t, 3, ev.ChapterProgress.ChapterID)
	assert.Equal(t, 40, ev.ChapterProgress.ProgressPercent)
}

func TestGenerateAllWatch(t *testing.T) {
	b, _ := newFakeBackend(t)
	b.setFrames(watchFrames(t))

	out, _, err := runCLI(t, "--book", "7", "generate-all", "--watch")
	require.NoError(t, err)
	assert.Contains(t, out, "Started generation of 2 chapters")
	assert.Contains(t, out, "generation_complete: Book complete")
}

func TestCreateFromIdeaKeepsIdeaWhenCreateFails(t *testing.T) {
	b, _ := newFakeBackend(t)
	b.mu.Lock()
	b.failCreate = true
	b.mu.Unlock()

	_, _, err := runCLI(t, "ideas", "generate", "--keywords", "tides")
	require.NoError(t, err)
	_, _, err = runCLI(t, "ideas", "select", "2")
	require.NoError(t, err)

	_, _, err = runCLI(t, "book", "create", "--from-idea")
	require.Error(t, err)
	assert.Equal(t, "create book: Outline agent unavailable (http 500)", err.Error())

	st := loadState(t)
	require.NotNil(t, st.SelectedIdea)
	assert.Equal(t, "Salt and Stone", st.SelectedIdea.Title)
	assert.Zero(t, st.ActiveBook)
}

func TestServerCommandsWriteConfig(t *testing.T) {
	b, dir := newFakeBackend(t)
	backendURL := os.Getenv("QUILL_URL")

	out, _, err := runCLI(t, "server", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No servers configured")

	_, _, err = runCLI(t, "server", "add", "staging", "ftp://nowhere")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))

	_, _, err = runCLI(t, "server", "add", "local", backendURL, "--api-key", "qk_local")
	require.NoError(t, err)
	_, _, err = runCLI(t, "server", "add", "prod", "https://quill.example.com")
	require.NoError(t, err)

	cfg, err := qconfig.LoadGlobalFrom(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.DefaultServer, "first server becomes the default")
	assert.Equal(t, qconfig.Server{URL: backendURL, APIKey: "qk_local"}, cfg.Servers["local"])
	assert.Equal(t, "https://quill.example.com", cfg.Servers["prod"].URL)

	_, _, err = runCLI(t, "server", "default", "prod")
	require.NoError(t, err)
	out, _, err = runCLI(t, "server", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "* prod")

	_, _, err = runCLI(t, "server", "default", "nope")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))

	// With no env override, the configured server is what commands talk to.
	t.Setenv("QUILL_URL", "")
	out, _, err = runCLI(t, "--server", "local", "book", "status", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "book 7 writing")
	assert.Nil(t, b.created)

	_, _, err = runCLI(t, "server", "remove", "prod")
	require.NoError(t, err)
	cfg, err = qconfig.LoadGlobalFrom(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.NotContains(t, cfg.Servers, "prod")
	assert.Empty(t, cfg.DefaultServer)

	_, _, err = runCLI(t, "server", "remove", "prod")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestWatchUnknownBookFails(t *testing.T) {
	b, _ := newFakeBackend(t)

	_, _, err := runCLI(t, "watch", "8", "--plain")
	require.Error(t, err)
	assert.Equal(t, "watch book 8: Book not found (http 404)", err.Error())
	assert.Zero(t, b.socketHits)
}
