package printer

import (
	"fmt"
	"io"

	"github.com/rndebug/rndebug/internal/cmd/output"
)

var _ output.Printer[EvalResult] = (*EvalPrinter)(nil)

// EvalResult is the outcome of evaluating one expression.
type EvalResult struct {
	Expression string `json:"expression" yaml:"expression"`
	Connection string `json:"connection" yaml:"connection"`
	Result     string `json:"result"     yaml:"result"`
}

// EvalPrinter prints only the result so text output can be piped.
type EvalPrinter struct {
	headerFunc output.WriteFunc[EvalResult]
	footerFunc output.WriteFunc[EvalResult]
}

func (p *EvalPrinter) Header(w io.Writer, count int) {
	if p.headerFunc != nil {
		p.headerFunc(w, count)
	}
}

func (p *EvalPrinter) SetHeader(fn output.WriteFunc[EvalResult]) {
	p.headerFunc = fn
}

func (p *EvalPrinter) Item(w io.Writer, r EvalResult) error {
	_, err := fmt.Fprintln(w, r.Result)
	return err
}

func (p *EvalPrinter) Footer(w io.Writer, count int) {
	if p.footerFunc != nil {
		p.footerFunc(w, count)
	}
}

func (p *EvalPrinter) SetFooter(fn output.WriteFunc[EvalResult]) {
	p.footerFunc = fn
}
