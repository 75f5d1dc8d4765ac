package output

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type item struct {
	Name string `json:"name" yaml:"name"`
	Port int    `json:"port" yaml:"port"`
}

type fakePrinter struct {
	header  WriteFunc[item]
	footer  WriteFunc[item]
	failOn  string
	printed []string
}

func (p *fakePrinter) Header(w io.Writer, count int) {
	if p.header != nil {
		p.header(w, count)
	}
}

func (p *fakePrinter) SetHeader(fn WriteFunc[item]) { p.header = fn }

func (p *fakePrinter) Item(w io.Writer, elem item) error {
	if elem.Name == p.failOn {
		return errors.New("item error")
	}
	p.printed = append(p.printed, elem.Name)
	_, err := fmt.Fprintf(w, "%s:%d\n", elem.Name, elem.Port)
	return err
}

func (p *fakePrinter) Footer(w io.Writer, count int) {
	if p.footer != nil {
		p.footer(w, count)
	}
}

func (p *fakePrinter) SetFooter(fn WriteFunc[item]) { p.footer = fn }

func TestJSONHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := NewJSONHandler[item](&buf, 0)
	require.Equal(t, &buf, h.Writer())

	require.NoError(t, h.HandleResults(item{"metro", 8081}, item{"expo", 19000}))
	require.JSONEq(t, `{"results":[{"name":"metro","port":8081},{"name":"expo","port":19000}]}`, buf.String())

	buf.Reset()
	require.NoError(t, h.HandleResults())
	require.JSONEq(t, `{"results":[]}`, buf.String())

	buf.Reset()
	require.NoError(t, h.HandleResult(item{"metro", 8081}))
	require.JSONEq(t, `{"result":{"name":"metro","port":8081}}`, buf.String())

	buf.Reset()
	require.NoError(t, h.HandleError(errors.New("no targets")))
	require.JSONEq(t, `{"error":"no targets"}`, buf.String())
}

func TestYAMLHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := NewYAMLHandler[item](&buf, 2)

	require.NoError(t, h.HandleResults(item{"metro", 8081}))
	require.Equal(t, "results:\n  - name: metro\n    port: 8081\n", buf.String())

	buf.Reset()
	require.NoError(t, h.HandleResult(item{"expo", 19000}))
	require.Equal(t, "result:\n  name: expo\n  port: 19000\n", buf.String())

	buf.Reset()
	require.NoError(t, h.HandleError(errors.New("boom")))
	require.Equal(t, "error: boom\n", buf.String())
}

func TestTextHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		items   []item
		failOn  string
		want    string
		wantErr string
	}{
		{
			name:  "header items footer",
			items: []item{{"metro", 8081}, {"expo", 19000}},
			want:  "2 found\nmetro:8081\nexpo:19000\n--\n",
		},
		{
			name: "empty",
			want: "No items found\n",
		},
		{
			name:    "item error stops output",
			items:   []item{{"metro", 8081}, {"bad", 1}, {"expo", 19000}},
			failOn:  "bad",
			want:    "2 found\nmetro:8081\n",
			wantErr: "item error",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			p := &fakePrinter{failOn: tc.failOn}
			p.SetHeader(func(w io.Writer, count int) { _, _ = fmt.Fprintf(w, "%d found\n", count) })
			p.SetFooter(func(w io.Writer, _ int) { _, _ = io.WriteString(w, "--\n") })

			err := NewTextHandler[item](&buf, p).HandleResults(tc.items...)
			if tc.wantErr != "" {
				require.EqualError(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.want, buf.String())
		})
	}
}

func TestTextHandler_HandleError(t *testing.T) {
	t.Parallel()

	err := errors.New("boom")
	require.Equal(t, err, NewTextHandler[item](io.Discard, &fakePrinter{}).HandleError(err))
}
