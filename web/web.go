// Package web provides the embedded web UI for browsing calculator programs
// and their runs.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lemonberrylabs/calcd/pkg/expr"
	"github.com/lemonberrylabs/calcd/pkg/store"
)

//go:embed templates/*.html
var templateFS embed.FS

// recentRuns is the number of runs listed on the dashboard.
const recentRuns = 10

// Handler serves the web UI pages.
type Handler struct {
	store     *store.Store
	precision int
	funcMap   template.FuncMap
}

// pageData wraps all page-specific data with common fields.
type pageData struct {
	NavActive string
	Data      interface{}
}

// New creates a new web UI handler. Results are shown with precision
// significant digits.
func New(s *store.Store, precision int) *Handler {
	h := &Handler{store: s, precision: precision}
	h.funcMap = template.FuncMap{
		"timeAgo":    timeAgo,
		"formatTime": formatTime,
		"duration":   duration,
		"stateClass": stateClass,
		"stateIcon":  stateIcon,
		"truncate":   truncate,
		"countLines": countLines,
		"value":      h.formatValue,
	}
	return h
}

func (h *Handler) render(c *fiber.Ctx, page string, navActive string, data interface{}) error {
	// Each page is parsed with the layout on its own so that their define
	// blocks do not collide.
	tmpl := template.Must(
		template.New("").Funcs(h.funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+page),
	)

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, page, pageData{NavActive: navActive, Data: data}); err != nil {
		return c.Status(500).SendString(fmt.Sprintf("template error: %v", err))
	}

	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.Send(buf.Bytes())
}

// Register adds web UI routes to the Fiber app.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/ui", h.dashboard)
	app.Get("/ui/programs/:id", h.programDetail)
	app.Get("/ui/runs/:program/:run", h.runDetail)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/ui")
	})
}

// --- Page Data Types ---

type dashboardContent struct {
	Programs       []*programView
	RecentRuns     []*runView
	ActiveCount    int
	SucceededCount int
	FailedCount    int
	CancelledCount int
}

type programView struct {
	*store.Program
	RunCount    int
	ActiveCount int
}

type runView struct {
	*store.Run
	ProgramID string
	RunID     string
}

type programDetailContent struct {
	Program *store.Program
	Runs    []*runView
}

type runDetailContent struct {
	Run       *store.Run
	ProgramID string
	RunID     string
}

type notFoundContent struct {
	Message string
}

// --- Page Handlers ---

func (h *Handler) dashboard(c *fiber.Ctx) error {
	var content dashboardContent

	for _, p := range h.store.ListPrograms() {
		pv := &programView{Program: p}
		for _, r := range h.store.ListRuns(p.Name) {
			pv.RunCount++
			if r.State == store.RunActive {
				pv.ActiveCount++
			}
		}
		content.Programs = append(content.Programs, pv)
	}

	all := h.store.ListAllRuns()
	for _, r := range all {
		switch r.State {
		case store.RunActive:
			content.ActiveCount++
		case store.RunSucceeded:
			content.SucceededCount++
		case store.RunFailed:
			content.FailedCount++
		case store.RunCancelled:
			content.CancelledCount++
		}
	}

	views := newestFirst(all)
	if len(views) > recentRuns {
		views = views[:recentRuns]
	}
	content.RecentRuns = views

	return h.render(c, "dashboard.html", "dashboard", content)
}

func (h *Handler) programDetail(c *fiber.Ctx) error {
	id := c.Params("id")
	p, err := h.store.GetProgram(store.ProgramName(id))
	if err != nil {
		c.Status(404)
		return h.render(c, "not_found.html", "", notFoundContent{
			Message: fmt.Sprintf("Program '%s' not found", id),
		})
	}

	return h.render(c, "program_detail.html", "programs", programDetailContent{
		Program: p,
		Runs:    newestFirst(h.store.ListRuns(p.Name)),
	})
}

func (h *Handler) runDetail(c *fiber.Ctx) error {
	programID := c.Params("program")
	runID := c.Params("run")

	r, err := h.store.GetRun(store.RunName(programID, runID))
	if err != nil {
		c.Status(404)
		return h.render(c, "not_found.html", "", notFoundContent{
			Message: fmt.Sprintf("Run '%s' not found", runID),
		})
	}

	return h.render(c, "run_detail.html", "programs", runDetailContent{
		Run:       r,
		ProgramID: programID,
		RunID:     runID,
	})
}

// --- Template Helpers ---

func newestFirst(runs []*store.Run) []*runView {
	views := make([]*runView, len(runs))
	for i, r := range runs {
		views[i] = &runView{
			Run:       r,
			ProgramID: strings.TrimPrefix(r.ProgramName(), "programs/"),
			RunID:     r.ID(),
		}
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].StartTime.After(views[j].StartTime)
	})
	return views
}

func (h *Handler) formatValue(v float64) string {
	return expr.FormatValue(v, h.precision)
}

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func duration(start, end time.Time) string {
	if end.IsZero() {
		return fmt.Sprintf("%s (running)", formatDuration(time.Since(start)))
	}
	return formatDuration(end.Sub(start))
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %ds", m, s)
}

func stateClass(state store.RunState) string {
	switch state {
	case store.RunActive:
		return "state-active"
	case store.RunSucceeded:
		return "state-succeeded"
	case store.RunFailed:
		return "state-failed"
	case store.RunCancelled:
		return "state-cancelled"
	default:
		return ""
	}
}

func stateIcon(state store.RunState) template.HTML {
	switch state {
	case store.RunActive:
		return "&#9654;"
	case store.RunSucceeded:
		return "&#10003;"
	case store.RunFailed:
		return "&#10007;"
	case store.RunCancelled:
		return "&#9632;"
	default:
		return "&#8226;"
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(s, "\n"), "\n") + 1
}
