package view

import "github.com/quillforge/quill/client/realtime"

// AgentInfo is how an agent is presented.
type AgentInfo struct {
	Name  string
	Label string
	Glyph string
}

var roster = []AgentInfo{
	{Name: "ideation_agent", Label: "Ideation Agent", Glyph: "💡"},
	{Name: "research_agent", Label: "Research Agent", Glyph: "🔍"},
	{Name: "outline_agent", Label: "Outline Agent", Glyph: "📄"},
	{Name: "writing_agent", Label: "Writing Agent", Glyph: "✎"},
	{Name: "content_agent", Label: "Content Agent", Glyph: "🧠"},
	{Name: "editor_agent", Label: "Editor Agent", Glyph: "✔"},
	{Name: "format_agent", Label: "Format Agent", Glyph: "📖"},
}

var byName = func() map[string]AgentInfo {
	m := make(map[string]AgentInfo, len(roster))
	for _, a := range roster {
		m[a.Name] = a
	}
	return m
}()

const fallbackGlyph = "•"

// Describe returns the presentation for name. Agents the backend adds later
// are shown under their wire name.
func Describe(name string) AgentInfo {
	if info, ok := byName[name]; ok {
		return info
	}
	return AgentInfo{Name: name, Label: name, Glyph: fallbackGlyph}
}

// Roster lists the known agents in pipeline order.
func Roster() []AgentInfo {
	return append([]AgentInfo(nil), roster...)
}

// displayAgents shows the idle roster until the first status arrives.
func displayAgents(agents []realtime.AgentStatus) []realtime.AgentStatus {
	if len(agents) > 0 {
		return agents
	}
	out := make([]realtime.AgentStatus, 0, len(roster))
	for _, a := range roster {
		out = append(out, realtime.AgentStatus{AgentName: a.Name, Status: realtime.AgentIdle})
	}
	return out
}
