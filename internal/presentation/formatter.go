package presentation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ryanuber/columnize"
)

// Output formats accepted by the CLI.
const (
	FormatJSON  = "json"
	FormatTable = "table"
)

// column delimiter for columnize; never appears in attribute values
const delim = "\x1f"

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
	format string
}

// NewFormatter creates a new formatter. Unknown formats are rejected.
func NewFormatter(writer io.Writer, format string) (*Formatter, error) {
	switch format {
	case FormatJSON, FormatTable:
	default:
		return nil, fmt.Errorf("unknown output format %q (want %s or %s)", format, FormatJSON, FormatTable)
	}
	return &Formatter{
		writer: writer,
		format: format,
	}, nil
}

// FormatPvDs writes pvds in the configured format.
func (f *Formatter) FormatPvDs(pvds []PvDDTO) error {
	if f.format == FormatJSON {
		return f.encode(pvds)
	}
	if len(pvds) == 0 {
		_, err := fmt.Fprintln(f.writer, "No PvDs.")
		return err
	}

	rows := []string{row("ID", "SOURCE", "ATTRIBUTES", "ADDRESSES", "UPDATED")}
	for _, p := range pvds {
		attrs := make([]string, len(p.Attributes))
		for i, a := range p.Attributes {
			attrs[i] = a.Key + "=" + a.Value
		}
		updated := "-"
		if p.UpdatedAt != nil {
			updated = p.UpdatedAt.Format(time.RFC3339)
		}
		rows = append(rows, row(
			p.ID,
			orDash(p.Source),
			orDash(strings.Join(attrs, ", ")),
			orDash(strings.Join(p.Addresses, ", ")),
			updated,
		))
	}
	return f.table(rows)
}

// FormatCheckResults writes declaration check results in the configured format.
func (f *Formatter) FormatCheckResults(results []CheckResultDTO) error {
	if f.format == FormatJSON {
		return f.encode(results)
	}

	rows := []string{row("FILE", "ID", "ATTRIBUTES", "ADDRESSES", "STATUS")}
	for _, r := range results {
		status := "ok"
		if r.Error != "" {
			status = r.Error
		}
		rows = append(rows, row(
			r.File,
			orDash(r.ID),
			fmt.Sprint(r.Attributes),
			fmt.Sprint(r.Addresses),
			status,
		))
	}
	return f.table(rows)
}

func (f *Formatter) encode(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (f *Formatter) table(rows []string) error {
	cfg := columnize.DefaultConfig()
	cfg.Delim = delim
	_, err := fmt.Fprintln(f.writer, columnize.Format(rows, cfg))
	return err
}

func row(cols ...string) string {
	for i, c := range cols {
		cols[i] = strings.ReplaceAll(c, delim, " ")
	}
	return strings.Join(cols, delim)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
