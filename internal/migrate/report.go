package migrate

import (
	"fmt"
	"strings"
	"time"
)

// Report accumulates the dated migration log for one unit and renders it as
// the markdown file written next to the generated code.
type Report struct {
	UnitName       string
	Status         string // PASSED or FAILED once terminal
	FinalOutput    string
	LastDiagnostic string // verifier output of the last failed round, FAILED only

	entries []entry
	now     func() time.Time
}

type entry struct {
	at   time.Time
	text string
}

func NewReport(unitName string) *Report {
	return &Report{UnitName: unitName, now: time.Now}
}

// Log appends a dated entry.
func (r *Report) Log(format string, args ...any) {
	r.entries = append(r.entries, entry{at: r.now(), text: fmt.Sprintf(format, args...)})
}

// Entries returns the logged lines without timestamps.
func (r *Report) Entries() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.text
	}
	return out
}

// Render produces the migration_report.md content.
func (r *Report) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Migration Report: %s\n\n", r.UnitName)
	fmt.Fprintf(&b, "**Status:** %s\n\n", r.Status)
	fmt.Fprintf(&b, "**Date:** %s\n\n", r.now().Format("2006-01-02 15:04:05"))

	b.WriteString("## Migration Log\n\n")
	for _, e := range r.entries {
		fmt.Fprintf(&b, "- [%s] %s\n", e.at.Format("15:04:05"), e.text)
	}

	if r.FinalOutput != "" {
		b.WriteString("\n## Final Test Output\n\n")
		fmt.Fprintf(&b, "```\n%s\n```\n", strings.TrimRight(r.FinalOutput, "\n"))
	}
	return b.String()
}
