package client

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/timvw/pane-relay/internal/model"
)

// Printer writes client progress and results. Colors are only emitted when
// the writer is a terminal that supports them.
type Printer struct {
	w       io.Writer
	label   lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
}

// NewPrinter creates a Printer for w.
func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:       w,
		label:   r.NewStyle().Bold(true),
		success: r.NewStyle().Foreground(lipgloss.Color("#7fd88f")),
		failure: r.NewStyle().Foreground(lipgloss.Color("#e06c75")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#808080")),
	}
}

// Request prints the request about to be sent and where it goes.
func (p *Printer) Request(req model.Request, endpoint string) {
	fmt.Fprintf(p.w, "%s %s\n", p.label.Render("Request:"), req)
	fmt.Fprintln(p.w, p.muted.Render(fmt.Sprintf("Requesting to %s...", endpoint)))
}

// Response prints the server's answer.
func (p *Printer) Response(resp *model.Response, status int) {
	style := p.success
	mark := "ok"
	if !resp.Success {
		style = p.failure
		mark = "failed"
	}
	fmt.Fprintf(p.w, "%s %s\n", style.Render(fmt.Sprintf("[%s]", mark)), p.muted.Render(fmt.Sprintf("HTTP %d", status)))
	fmt.Fprintln(p.w, style.Render(resp.Message))
}

// Error prints a transport-level failure.
func (p *Printer) Error(err error) {
	fmt.Fprintln(p.w, p.failure.Render(err.Error()))
}
