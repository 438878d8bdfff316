// Package tail renders pushed events as styled terminal lines.
package tail

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/barkain/ironhide/internal/efficiency"
	"github.com/barkain/ironhide/internal/events"
)

// kindIcons maps event kinds to their display icons.
var kindIcons = map[events.Kind]string{
	events.KindConnected: "==",
	events.KindSession:   "SS",
	events.KindTurn:      "AI",
	events.KindMetrics:   "MX",
	events.KindHeartbeat: "..",
	events.KindError:     "!!",
}

// kindStyles maps event kinds to their display styles.
var kindStyles = map[events.Kind]lipgloss.Style{
	events.KindConnected: lipgloss.NewStyle().Foreground(lipgloss.Color("69")).Bold(true),
	events.KindSession:   lipgloss.NewStyle().Foreground(lipgloss.Color("117")),
	events.KindTurn:      lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
	events.KindMetrics:   lipgloss.NewStyle().Foreground(lipgloss.Color("222")),
	events.KindHeartbeat: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	events.KindError:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
}

var (
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	gradeStyles = map[efficiency.Grade]lipgloss.Style{
		efficiency.GradeExcellent:        lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("82")),
		efficiency.GradeGood:             lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("114")),
		efficiency.GradeFair:             lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226")),
		efficiency.GradeNeedsImprovement: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
)

// Options controls what the renderer prints.
type Options struct {
	// Heartbeats prints heartbeat events, which are hidden by default.
	Heartbeats bool
	// Width truncates lines to this many cells. Zero disables truncation.
	Width int
}

// Renderer writes one line per event to w. It is safe for concurrent use.
type Renderer struct {
	mu   sync.Mutex
	w    io.Writer
	opts Options
	line string
}

// NewRenderer creates a renderer writing to w.
func NewRenderer(w io.Writer, opts Options) *Renderer {
	return &Renderer{w: w, opts: opts}
}

// Render formats e and writes it. Events the options hide are skipped.
func (r *Renderer) Render(e events.Event) {
	if e.Kind() == events.KindHeartbeat && !r.opts.Heartbeats {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.line = ""
	e.Accept(r)
	if r.line == "" {
		return
	}
	fmt.Fprintln(r.w, r.decorate(e, r.line))
}

// RenderError writes a client-side error line.
func (r *Renderer) RenderError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	style := kindStyles[events.KindError]
	fmt.Fprintln(r.w, style.Render("!! "+err.Error()))
}

// RenderStatus writes a dim status line, e.g. a connection state change.
func (r *Renderer) RenderStatus(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, dimStyle.Render("-- "+msg))
}

// decorate prefixes the time and icon and applies the kind's style.
func (r *Renderer) decorate(e events.Event, body string) string {
	icon := kindIcons[e.Kind()]
	if icon == "" {
		icon = "??"
	}
	style, ok := kindStyles[e.Kind()]
	if !ok {
		style = dimStyle
	}

	ts := e.Time()
	if ts.IsZero() {
		ts = time.Now()
	}
	prefix := ts.Local().Format("15:04:05") + " "

	maxBody := r.opts.Width - len(prefix) - len(icon) - 1
	if r.opts.Width > 0 && len(body) > maxBody && maxBody > 3 {
		body = body[:maxBody-3] + "..."
	}
	return dimStyle.Render(prefix) + style.Render(icon+" "+body)
}

func (r *Renderer) VisitConnected(e events.Connected) {
	scope := "all sessions"
	if e.Session != nil {
		scope = "session " + *e.Session
	}
	r.line = fmt.Sprintf("connected to server %s (%s)", e.ServerVersion, scope)
}

func (r *Renderer) VisitSession(e events.SessionEvent) {
	s := e.Session
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Type, truncateID(s.ID, 8))
	if s.ProjectName != "" {
		fmt.Fprintf(&b, " %s", s.ProjectName)
	}
	if s.Branch != "" {
		fmt.Fprintf(&b, "@%s", s.Branch)
	}
	if e.Type == events.SessionSnapshot {
		fmt.Fprintf(&b, " %d turns", len(e.Turns))
		if e.Metrics != nil {
			fmt.Fprintf(&b, " %s", formatCost(e.Metrics.TotalCost.Total))
		}
	} else {
		fmt.Fprintf(&b, " [%s]", s.Status())
	}
	r.line = b.String()
}

func (r *Renderer) VisitTurn(e events.TurnEvent) {
	t, m := e.Turn, e.Metrics
	r.line = fmt.Sprintf("%s #%d %-8s %s  %s tok  %s  %s  ctx %.0f%%",
		truncateID(t.SessionID, 8),
		t.TurnNumber,
		e.Type,
		t.Model,
		formatNumber(m.Tokens.Total),
		formatCost(m.Cost.Total),
		formatDuration(m.DurationMs),
		m.ContextUsagePercent,
	)
}

func (r *Renderer) VisitMetrics(e events.MetricsEvent) {
	m := e.SessionMetrics
	grade := efficiency.GradeFor(m.Efficiency.CompositeScore)
	gs, ok := gradeStyles[grade]
	if !ok {
		gs = dimStyle
	}
	r.line = fmt.Sprintf("%s %d turns  %s tok  %s  cache %.0f%%  eff %.0f %s",
		truncateID(e.Session, 8),
		m.TotalTurns,
		formatNumber(m.TotalTokens.Total),
		formatCost(m.TotalCost.Total),
		m.CacheHitRate,
		m.Efficiency.CompositeScore,
		gs.Render(string(grade)),
	)
}

func (r *Renderer) VisitHeartbeat(e events.Heartbeat) {
	r.line = "heartbeat"
}

func (r *Renderer) VisitError(e events.ErrorEvent) {
	if e.Session != "" {
		r.line = fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, truncateID(e.Session, 8))
		return
	}
	r.line = fmt.Sprintf("%s: %s", e.Code, e.Message)
}
