package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is the frame discriminator.
type EventType string

const (
	TypeAgentStatus        EventType = "agent_status"
	TypeChapterProgress    EventType = "chapter_progress"
	TypeGenerationComplete EventType = "generation_complete"
	TypeError              EventType = "error"
)

// Known reports whether t is one of the recognized event types.
func (t EventType) Known() bool {
	switch t {
	case TypeAgentStatus, TypeChapterProgress, TypeGenerationComplete, TypeError:
		return true
	}
	return false
}

// AgentState is the status of one agent.
type AgentState string

const (
	AgentIdle   AgentState = "idle"
	AgentActive AgentState = "active"
	AgentError  AgentState = "error"
)

func (s AgentState) valid() bool {
	return s == AgentIdle || s == AgentActive || s == AgentError
}

// ChapterState is the realtime status of one chapter.
type ChapterState string

const (
	ChapterGenerating ChapterState = "generating"
	ChapterComplete   ChapterState = "complete"
)

func (s ChapterState) valid() bool {
	return s == ChapterGenerating || s == ChapterComplete
}

// AgentStatus is the payload of an agent_status event.
type AgentStatus struct {
	AgentName   string     `json:"agent_name"`
	Status      AgentState `json:"status"`
	CurrentTask string     `json:"current_task,omitempty"`
}

// ChapterProgress is the payload of a chapter_progress event.
type ChapterProgress struct {
	ChapterID       int          `json:"chapter_id"`
	Status          ChapterState `json:"status"`
	ProgressPercent int          `json:"progress_percent"`
}

// Event is a decoded frame. Exactly one typed payload is set for agent_status
// and chapter_progress; the other types carry only Data.
type Event struct {
	Type            EventType
	Data            json.RawMessage
	AgentStatus     *AgentStatus
	ChapterProgress *ChapterProgress
}

var (
	// ErrMalformedFrame is returned for frames that cannot be decoded or fail validation.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownType is returned for well-formed frames with an unrecognized type.
	ErrUnknownType = errors.New("unknown event type")
)

type envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses one inbound frame.
//
// Unknown types return the envelope together with ErrUnknownType so callers can
// log them; payload problems return ErrMalformedFrame.
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	ev := Event{Type: env.Type, Data: env.Data}

	switch env.Type {
	case TypeAgentStatus:
		p, err := decodeAgentStatus(env.Data)
		if err != nil {
			return Event{}, err
		}
		ev.AgentStatus = p
	case TypeChapterProgress:
		p, err := decodeChapterProgress(env.Data)
		if err != nil {
			return Event{}, err
		}
		ev.ChapterProgress = p
	case TypeGenerationComplete, TypeError:
	default:
		return ev, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return ev, nil
}

func decodeAgentStatus(data json.RawMessage) (*AgentStatus, error) {
	var raw struct {
		AgentName   string     `json:"agent_name"`
		Status      AgentState `json:"status"`
		CurrentTask *string    `json:"current_task"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: agent_status: %v", ErrMalformedFrame, err)
	}
	p := &AgentStatus{AgentName: raw.AgentName, Status: raw.Status}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if raw.CurrentTask != nil && raw.Status == AgentActive {
		p.CurrentTask = *raw.CurrentTask
	}
	return p, nil
}

func decodeChapterProgress(data json.RawMessage) (*ChapterProgress, error) {
	var raw struct {
		ChapterID       int          `json:"chapter_id"`
		Status          ChapterState `json:"status"`
		ProgressPercent *int         `json:"progress_percent"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: chapter_progress: %v", ErrMalformedFrame, err)
	}
	p := &ChapterProgress{ChapterID: raw.ChapterID, Status: raw.Status}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if raw.ProgressPercent != nil {
		p.ProgressPercent = clampPercent(*raw.ProgressPercent)
	}
	return p, nil
}

// Validate reports whether a has a name and a known status.
func (a AgentStatus) Validate() error {
	if a.AgentName == "" {
		return fmt.Errorf("%w: agent_status without agent_name", ErrMalformedFrame)
	}
	if !a.Status.valid() {
		return fmt.Errorf("%w: agent_status %q", ErrMalformedFrame, a.Status)
	}
	return nil
}

// Validate reports whether p names a positive chapter with a known status.
// The percent is not checked; consumers clamp it.
func (p ChapterProgress) Validate() error {
	if p.ChapterID <= 0 {
		return fmt.Errorf("%w: chapter_progress chapter_id %d", ErrMalformedFrame, p.ChapterID)
	}
	if !p.Status.valid() {
		return fmt.Errorf("%w: chapter_progress %q", ErrMalformedFrame, p.Status)
	}
	return nil
}

func clampPercent(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// MarshalJSON encodes the event as a wire frame.
func (e Event) MarshalJSON() ([]byte, error) {
	env := envelope{Type: e.Type, Data: e.Data}
	if len(env.Data) == 0 {
		var payload any
		switch {
		case e.AgentStatus != nil:
			payload = e.AgentStatus
		case e.ChapterProgress != nil:
			payload = e.ChapterProgress
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// NewAgentStatusEvent builds an agent_status event.
func NewAgentStatusEvent(name string, status AgentState, task string) Event {
	p := &AgentStatus{AgentName: name, Status: status, CurrentTask: task}
	data, _ := json.Marshal(p)
	return Event{Type: TypeAgentStatus, Data: data, AgentStatus: p}
}

// NewChapterProgressEvent builds a chapter_progress event.
func NewChapterProgressEvent(chapterID int, status ChapterState, percent int) Event {
	p := &ChapterProgress{ChapterID: chapterID, Status: status, ProgressPercent: clampPercent(percent)}
	data, _ := json.Marshal(p)
	return Event{Type: TypeChapterProgress, Data: data, ChapterProgress: p}
}

// NewEvent builds an event of any type from an arbitrary payload.
func NewEvent(t EventType, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	frame, err := json.Marshal(envelope{Type: t, Data: data})
	if err != nil {
		return Event{}, err
	}
	return Decode(frame)
}
