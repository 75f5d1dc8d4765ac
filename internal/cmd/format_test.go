package cmd

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rndebug/rndebug/internal/cmd/output"
)

func TestAllowedOutputFormats(t *testing.T) {
	t.Parallel()

	want := OutputFormats{FormatJSON, FormatText, FormatYAML}
	got := AllowedOutputFormats()

	require.Equal(t, want, got)
}

func TestOutputFormats_String(t *testing.T) {
	t.Parallel()

	f := AllowedOutputFormats()
	// Should join lower-case names in lexicographical order
	want := "json, text, yaml"
	got := f.String()

	require.Equal(t, want, got)
}

func TestOutputFormat_StringAndType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fmt  OutputFormat
		want string
	}{
		{
			"JSON",
			FormatJSON,
			"json",
		},
		{
			"Text",
			FormatText,
			"text",
		},
		{
			"YAML",
			FormatYAML,
			"yaml",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.want, tc.fmt.String())
			require.Equal(t, "format", tc.fmt.Type())
		})
	}
}

func TestOutputFormat_Set_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  OutputFormat
	}{
		{
			"json",
			"json",
			FormatJSON,
		},
		{
			"text",
			"text",
			FormatText,
		},
		{
			"yaml",
			"yaml",
			FormatYAML,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var f OutputFormat
			err := f.Set(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.want, f)
		})
	}
}

func TestOutputFormat_Set_Invalid(t *testing.T) {
	t.Parallel()

	invalid := "xml"
	var f OutputFormat
	err := f.Set(invalid)
	require.Error(t, err)
	// error message should mention invalid value and allowed list
	require.ErrorContains(t, err, fmt.Sprintf("invalid format '%s'", invalid))
	allowed := AllowedOutputFormats()
	require.Contains(t, err.Error(), allowed.String())
}

func TestNewHandler(t *testing.T) {
	t.Parallel()

	p := &stubPrinter{}

	tests := []struct {
		name    string
		format  OutputFormat
		printer output.Printer[string]
		want    any
		wantErr string
	}{
		{name: "json", format: FormatJSON, want: &output.JSONHandler[string]{}},
		{name: "yaml", format: FormatYAML, want: &output.YAMLHandler[string]{}},
		{name: "text", format: FormatText, printer: p, want: &output.TextHandler[string]{}},
		{name: "empty defaults to text", format: "", printer: p, want: &output.TextHandler[string]{}},
		{name: "text without printer", format: FormatText, wantErr: "no text printer available"},
		{name: "unknown", format: "xml", wantErr: "invalid format 'xml'"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h, err := NewHandler[string](io.Discard, tc.format, tc.printer)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.IsType(t, tc.want, h)
		})
	}
}

type stubPrinter struct{}

func (stubPrinter) Header(io.Writer, int)              {}
func (stubPrinter) SetHeader(output.WriteFunc[string]) {}
func (stubPrinter) Footer(io.Writer, int)              {}
func (stubPrinter) SetFooter(output.WriteFunc[string]) {}

func (stubPrinter) Item(w io.Writer, elem string) error {
	_, err := io.WriteString(w, elem)
	return err
}
