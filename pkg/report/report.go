// Package report renders, archives and validates backfill reports.
package report

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Sumatoshi-tech/benchfill/pkg/backfill"
	"github.com/Sumatoshi-tech/benchfill/pkg/persist"
)

// Format names an output rendering.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
	FormatPlot Format = "plot"
)

// ErrUnknownFormat is returned for format names outside Formats.
var ErrUnknownFormat = errors.New("unknown report format")

// Formats lists every supported format.
func Formats() []Format {
	return []Format{FormatJSON, FormatYAML, FormatText, FormatPlot}
}

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))

	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Render writes r to w in format f.
func Render(w io.Writer, r *backfill.Report, f Format) error {
	switch f {
	case FormatJSON:
		return persist.NewJSONCodec().Encode(w, r)
	case FormatYAML:
		return persist.YAMLCodec{}.Encode(w, r)
	case FormatText:
		return RenderText(w, r)
	case FormatPlot:
		return RenderPlot(w, r)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}
