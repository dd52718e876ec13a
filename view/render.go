package view

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/quillforge/quill/client/realtime"
	"github.com/quillforge/quill/client/reconcile"
)

var styles = newPalette("#7D56F4", "#04B575", "#FF5F56", "#FFA500", "#626262")

type palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	muted lipgloss.Style
}

func newPalette(title, ok, bad, warn, muted string) *palette {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	return &palette{
		title: fg(title).Bold(true).MarginBottom(1),
		ok:    fg(ok).Bold(true),
		err:   fg(bad).Bold(true),
		warn:  fg(warn),
		muted: fg(muted).Italic(true),
	}
}

const (
	labelWidth = 18
	barWidth   = 20
)

// Render draws the agent panel and chapter progress for one snapshot.
func Render(snap reconcile.Snapshot, connected bool) string {
	var b strings.Builder

	b.WriteString(styles.title.Render("AI Agents"))
	b.WriteString("\n")
	for _, a := range displayAgents(snap.Agents) {
		b.WriteString(renderAgent(a))
		b.WriteString("\n")
	}

	if len(snap.Chapters) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.title.Render(fmt.Sprintf("Chapters (%d/%d complete)", snap.CompleteChapters(), len(snap.Chapters))))
		b.WriteString("\n")
		bar := progress.New(progress.WithSolidFill("#04B575"), progress.WithWidth(barWidth), progress.WithoutPercentage())
		for _, c := range snap.Chapters {
			b.WriteString(renderChapter(bar, c))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(ConnectionBadge(connected))
	return b.String()
}

func renderAgent(a realtime.AgentStatus) string {
	info := Describe(a.AgentName)
	line := fmt.Sprintf(" %s %-*s %s", info.Glyph, labelWidth, info.Label, statusStyle(a.Status).Render(string(a.Status)))
	if a.Status == realtime.AgentActive && a.CurrentTask != "" {
		line += "\n   " + styles.muted.Render(a.CurrentTask)
	}
	return line
}

func statusStyle(s realtime.AgentState) lipgloss.Style {
	switch s {
	case realtime.AgentActive:
		return styles.ok
	case realtime.AgentError:
		return styles.err
	default:
		return styles.muted
	}
}

func renderChapter(bar progress.Model, c realtime.ChapterProgress) string {
	status := styles.warn.Render(string(c.Status))
	if c.Status == realtime.ChapterComplete {
		status = styles.ok.Render(string(c.Status))
	}
	return fmt.Sprintf(" Chapter %-3d %s %3d%%  %s", c.ChapterID, bar.ViewAs(float64(c.ProgressPercent)/100), c.ProgressPercent, status)
}

// ConnectionBadge is the live/offline indicator.
func ConnectionBadge(connected bool) string {
	if connected {
		return styles.ok.Render("● live")
	}
	return styles.warn.Render("○ offline")
}

// Line is the one-line form of an event used when the output is not a terminal.
func Line(ev realtime.Event) string {
	switch {
	case ev.AgentStatus != nil:
		a := ev.AgentStatus
		s := fmt.Sprintf("agent %s %s", Describe(a.AgentName).Label, a.Status)
		if a.CurrentTask != "" {
			s += ": " + a.CurrentTask
		}
		return s
	case ev.ChapterProgress != nil:
		c := ev.ChapterProgress
		return fmt.Sprintf("chapter %d %s %d%%", c.ChapterID, c.Status, c.ProgressPercent)
	default:
		n := NoticeFromEvent(ev)
		if n.Message == "" {
			return string(ev.Type)
		}
		return string(ev.Type) + ": " + n.Message
	}
}
