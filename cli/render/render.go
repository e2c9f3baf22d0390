// Package render provides output rendering for the livewatch CLI.
//
// Format selection:
//   - If stdout is a TTY, default to table
//   - Otherwise default to json
//   - --format always overrides the default
//
// --no-color affects table headers only.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from the --format and --no-color flags,
// writing to the app's writer.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}

	out := io.Writer(os.Stdout)
	if c.App != nil && c.App.Writer != nil {
		out = c.App.Writer
	}

	if format == "" {
		if f, ok := out.(*os.File); ok && isTTY(f) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}

	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color"),
		out:     out,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{
		format:  format,
		noColor: noColor,
		out:     out,
	}
}

// Format returns the selected format.
func (r *Renderer) Format() Format { return r.format }

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) header(s string) string {
	if r.noColor {
		return s
	}
	return headerStyle.Render(s)
}

func (r *Renderer) renderTable(data any) error {
	v := indirect(reflect.ValueOf(data))
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		return r.renderRows(v)
	}
	return r.renderFields(v)
}

// renderRows prints one row per element with a header from the first.
func (r *Renderer) renderRows(v reflect.Value) error {
	if v.Len() == 0 {
		_, err := fmt.Fprintln(r.out, "(no results)")
		return err
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	cols := columns(indirect(v.Index(0)))

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = r.header(strings.ToUpper(c.name))
	}
	fmt.Fprintln(w, strings.Join(names, "\t"))

	for i := range v.Len() {
		row := indirect(v.Index(i))
		vals := make([]string, len(cols))
		for j, c := range cols {
			vals[j] = formatValue(c.get(row))
		}
		fmt.Fprintln(w, strings.Join(vals, "\t"))
	}
	return w.Flush()
}

// renderFields prints "name: value" lines for a struct or map.
func (r *Renderer) renderFields(v reflect.Value) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	switch v.Kind() {
	case reflect.Struct, reflect.Map:
		for _, c := range columns(v) {
			fmt.Fprintf(w, "%s\t%s\n", r.header(c.name+":"), formatValue(c.get(v)))
		}
	default:
		fmt.Fprintf(w, "%s\n", formatValue(v))
	}
	return w.Flush()
}

type column struct {
	name string
	get  func(reflect.Value) reflect.Value
}

// columns lists the exported, non-skipped fields of a struct, or the
// sorted keys of a map.
func columns(v reflect.Value) []column {
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		var cols []column
		for i := range t.NumField() {
			f := t.Field(i)
			name, ok := fieldName(f)
			if !ok {
				continue
			}
			cols = append(cols, column{name: name, get: func(row reflect.Value) reflect.Value {
				return row.Field(i)
			}})
		}
		return cols
	case reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		cols := make([]column, len(keys))
		for i, k := range keys {
			cols[i] = column{name: fmt.Sprint(k.Interface()), get: func(row reflect.Value) reflect.Value {
				return row.MapIndex(k)
			}}
		}
		return cols
	default:
		return []column{{name: "value", get: func(row reflect.Value) reflect.Value { return row }}}
	}
}

// fieldName prefers the json tag. Unexported and "-" fields are skipped.
func fieldName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	tag := f.Tag.Get("json")
	name, _, _ := strings.Cut(tag, ",")
	switch name {
	case "-":
		return "", false
	case "":
		return strings.ToLower(f.Name), true
	default:
		return name, true
	}
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

var (
	stringerType = reflect.TypeFor[fmt.Stringer]()
	timeType     = reflect.TypeFor[time.Time]()
)

func formatValue(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return ""
	}

	switch {
	case v.Type() == timeType:
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	case v.Type().Implements(stringerType):
		return v.Interface().(fmt.Stringer).String()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// isTTY returns true if f is a character device.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
