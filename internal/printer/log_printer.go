package printer

import (
	"fmt"
	"io"
	"strings"

	"github.com/rndebug/rndebug/internal/api"
	"github.com/rndebug/rndebug/internal/cmd/output"
)

var _ output.Printer[api.LogEntry] = (*LogEntryPrinter)(nil)

// LogTimeLayout is the timestamp format used when printing log entries.
const LogTimeLayout = "15:04:05.000"

type LogEntryPrinter struct {
	headerFunc output.WriteFunc[api.LogEntry]
	footerFunc output.WriteFunc[api.LogEntry]
}

func (p *LogEntryPrinter) Header(w io.Writer, count int) {
	if p.headerFunc != nil {
		p.headerFunc(w, count)
	}
}

func (p *LogEntryPrinter) SetHeader(fn output.WriteFunc[api.LogEntry]) {
	p.headerFunc = fn
}

func (p *LogEntryPrinter) Item(w io.Writer, e api.LogEntry) error {
	_, err := fmt.Fprintf(
		w,
		"[%s] %s: %s\n",
		e.Timestamp.Local().Format(LogTimeLayout),
		strings.ToUpper(e.Level),
		e.Message,
	)
	return err
}

func (p *LogEntryPrinter) Footer(w io.Writer, count int) {
	if p.footerFunc != nil {
		p.footerFunc(w, count)
	}
}

func (p *LogEntryPrinter) SetFooter(fn output.WriteFunc[api.LogEntry]) {
	p.footerFunc = fn
}
