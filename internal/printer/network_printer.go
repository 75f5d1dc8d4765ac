package printer

import (
	"fmt"
	"io"

	"github.com/rndebug/rndebug/internal/api"
	"github.com/rndebug/rndebug/internal/cmd/output"
)

var _ output.Printer[api.NetworkRecord] = (*NetworkRecordPrinter)(nil)

type NetworkRecordPrinter struct {
	headerFunc output.WriteFunc[api.NetworkRecord]
	footerFunc output.WriteFunc[api.NetworkRecord]
}

func (p *NetworkRecordPrinter) Header(w io.Writer, count int) {
	if p.headerFunc != nil {
		p.headerFunc(w, count)
	}
}

func (p *NetworkRecordPrinter) SetHeader(fn output.WriteFunc[api.NetworkRecord]) {
	p.headerFunc = fn
}

func (p *NetworkRecordPrinter) Item(w io.Writer, r api.NetworkRecord) error {
	status := "pending"
	switch {
	case r.Error != "":
		status = "failed"
	case r.Status != nil:
		status = fmt.Sprintf("%d", *r.Status)
	}

	_, _ = fmt.Fprintf(w, "[%s] %s %s %s", r.RequestID, r.Method, status, r.URL)

	if r.DurationMs != nil {
		_, _ = fmt.Fprintf(w, " (%dms)", *r.DurationMs)
	}
	if r.Error != "" {
		_, _ = fmt.Fprintf(w, ": %s", r.Error)
	}

	_, err := fmt.Fprintln(w)
	return err
}

func (p *NetworkRecordPrinter) Footer(w io.Writer, count int) {
	if p.footerFunc != nil {
		p.footerFunc(w, count)
	}
}

func (p *NetworkRecordPrinter) SetFooter(fn output.WriteFunc[api.NetworkRecord]) {
	p.footerFunc = fn
}
