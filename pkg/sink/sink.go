// Package sink forwards finished backfill reports to results stores.
package sink

import (
	"context"
	"errors"

	"github.com/Sumatoshi-tech/benchfill/pkg/backfill"
	"github.com/Sumatoshi-tech/benchfill/pkg/report"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("sink closed")

var (
	_ backfill.Sink = (*SQLite)(nil)
	_ backfill.Sink = (*Influx)(nil)
	_ backfill.Sink = (*File)(nil)
)

// File writes the report to a local file; the extension picks the codec.
type File struct {
	Path string
}

// Name implements backfill.Sink.
func (f *File) Name() string { return "file:" + f.Path }

// Write implements backfill.Sink.
func (f *File) Write(_ context.Context, r *backfill.Report) error {
	return report.Save(f.Path, r)
}
