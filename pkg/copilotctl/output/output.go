package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatWide     Format = "wide"
	FormatTemplate Format = "template"
)

// ParseFormat accepts "table", "wide", "json", "yaml" and
// "template=<go template>". The template text is returned separately.
func ParseFormat(s string) (Format, string, error) {
	if rest, ok := strings.CutPrefix(s, "template="); ok {
		if rest == "" {
			return "", "", fmt.Errorf("template format requires a template, e.g. -o 'template={{.id}}'")
		}
		return FormatTemplate, rest, nil
	}
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML, FormatWide:
		return f, "", nil
	case "":
		return FormatTable, "", nil
	default:
		return "", "", fmt.Errorf("unknown output format: %s", s)
	}
}

func WriteObject(w io.Writer, format Format, obj any) error {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(obj)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, string(data))
		return err
	case FormatTable:
		return fmt.Errorf("table format requires a specific formatter")
	case FormatWide:
		return fmt.Errorf("wide format requires a specific formatter")
	case FormatTemplate:
		return fmt.Errorf("template format requires WriteTemplate")
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// WriteTemplate renders obj with a text/template that has the sprig
// function map. obj is round-tripped through JSON first so templates use
// the wire field names.
func WriteTemplate(w io.Writer, text string, obj any) error {
	tmpl, err := template.New("output").Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}
	if !strings.HasSuffix(text, "\n") {
		_, err = fmt.Fprintln(w)
	}
	return err
}
