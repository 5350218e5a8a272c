package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

// printer writes labelled query and answer lines to the console. Colours are
// only used when w is a terminal.
type printer struct {
	w     io.Writer
	label lipgloss.Style
	wrap  int
}

func newPrinter(w io.Writer, wrap int) printer {
	r := lipgloss.NewRenderer(w)
	return printer{
		w:     w,
		label: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		wrap:  wrap,
	}
}

func (p printer) Query(query string) error {
	_, err := fmt.Fprintf(p.w, "%s %s\n", p.label.Render("Query:"), query)
	return err
}

func (p printer) Answer(answer string) error {
	if p.wrap > 0 {
		answer = wordwrap.String(answer, p.wrap)
	}
	_, err := fmt.Fprintf(p.w, "%s %s\n", p.label.Render("Answer:"), answer)
	return err
}
