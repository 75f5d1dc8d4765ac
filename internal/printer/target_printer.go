package printer

import (
	"fmt"
	"io"

	"github.com/rndebug/rndebug/internal/cmd/output"
	"github.com/rndebug/rndebug/internal/domain"
	"github.com/rndebug/rndebug/internal/engine"
)

var _ output.Printer[TargetResult] = (*TargetPrinter)(nil)

// TargetResult is one debuggable target found on a packager port.
type TargetResult struct {
	Port        int    `json:"port"                  yaml:"port"`
	ID          string `json:"id"                    yaml:"id"`
	Title       string `json:"title"                 yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	DisplayName string `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Preferred   bool   `json:"preferred"             yaml:"preferred"`
}

// TargetResults flattens scan results into one entry per target.
func TargetResults(results []engine.ScanResult) []TargetResult {
	var out []TargetResult
	for _, r := range results {
		for _, t := range r.Targets {
			out = append(out, newTargetResult(r.Port, t, r.Preferred))
		}
	}
	return out
}

func newTargetResult(port int, t domain.TargetDescriptor, preferred *domain.TargetDescriptor) TargetResult {
	return TargetResult{
		Port:        port,
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		DisplayName: t.DisplayName,
		Preferred:   preferred != nil && preferred.ID == t.ID,
	}
}

type TargetPrinter struct {
	headerFunc output.WriteFunc[TargetResult]
	footerFunc output.WriteFunc[TargetResult]
}

func (p *TargetPrinter) Header(w io.Writer, count int) {
	if p.headerFunc != nil {
		p.headerFunc(w, count)
	}
}

func (p *TargetPrinter) SetHeader(fn output.WriteFunc[TargetResult]) {
	p.headerFunc = fn
}

func (p *TargetPrinter) Item(w io.Writer, t TargetResult) error {
	_, _ = fmt.Fprintf(w, "%d\t%s\t%s", t.Port, t.ID, t.Title)

	if t.DisplayName != "" {
		_, _ = fmt.Fprintf(w, " on %s", t.DisplayName)
	}
	if t.Preferred {
		_, _ = fmt.Fprint(w, " (preferred)")
	}

	_, _ = fmt.Fprintln(w)
	return nil
}

func (p *TargetPrinter) Footer(w io.Writer, count int) {
	if p.footerFunc != nil {
		p.footerFunc(w, count)
	}
}

func (p *TargetPrinter) SetFooter(fn output.WriteFunc[TargetResult]) {
	p.footerFunc = fn
}
