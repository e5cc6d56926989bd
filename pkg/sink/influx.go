package sink

import (
	"context"
	"errors"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Sumatoshi-tech/benchfill/pkg/backfill"
)

// Measurement names written to InfluxDB.
const (
	MeasurementResult   = "benchmark_result"
	MeasurementRevision = "backfill_revision"
)

// ErrInfluxConfig is returned when a required connection setting is missing.
var ErrInfluxConfig = errors.New("influx sink misconfigured")

// InfluxOptions locate a bucket.
type InfluxOptions struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Influx writes one point per benchmark result and one per revision. Points
// are stamped with the commit time so a backfill lines up with live runs.
type Influx struct {
	name   string
	writer api.WriteAPIBlocking
	client influxdb2.Client
}

// NewInflux connects to the server described by opts.
func NewInflux(opts InfluxOptions) (*Influx, error) {
	if opts.URL == "" || opts.Org == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("%w: url, org and bucket are required", ErrInfluxConfig)
	}

	client := influxdb2.NewClient(opts.URL, opts.Token)

	return &Influx{
		name:   fmt.Sprintf("influx:%s/%s", opts.URL, opts.Bucket),
		writer: client.WriteAPIBlocking(opts.Org, opts.Bucket),
		client: client,
	}, nil
}

// NewInfluxWriter wraps an existing blocking writer.
func NewInfluxWriter(name string, writer api.WriteAPIBlocking) *Influx {
	return &Influx{name: name, writer: writer}
}

// Name implements backfill.Sink.
func (s *Influx) Name() string { return s.name }

// Write implements backfill.Sink.
func (s *Influx) Write(ctx context.Context, r *backfill.Report) error {
	points := Points(r)
	if len(points) == 0 {
		return nil
	}

	err := s.writer.WritePoint(ctx, points...)
	if err != nil {
		return fmt.Errorf("influx: write %d points: %w", len(points), err)
	}

	return nil
}

// Close releases the client, if this sink owns one.
func (s *Influx) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// Points converts a report into line-protocol points. Skipped revisions are
// left out: they carry no measurement.
func Points(r *backfill.Report) []*write.Point {
	var points []*write.Point

	for _, rev := range r.Revisions {
		if rev.Status == backfill.StatusSkipped {
			continue
		}

		tags := map[string]string{
			"repository": r.Repository,
			"revision":   rev.Revision,
			"run_id":     r.RunID,
			"subset":     string(r.Subset),
		}

		revTags := cloneTags(tags)
		revTags["status"] = string(rev.Status)

		if rev.FailedState != "" {
			revTags["failed_state"] = string(rev.FailedState)
		}

		points = append(points, influxdb2.NewPoint(
			MeasurementRevision,
			revTags,
			map[string]any{
				"duration_seconds": rev.DurationSeconds,
				"results":          len(rev.Results),
			},
			rev.CommittedAt,
		))

		for _, res := range rev.Results {
			resTags := cloneTags(tags)
			resTags["test"] = res.Test

			points = append(points, influxdb2.NewPoint(
				MeasurementResult,
				resTags,
				map[string]any{
					"mean":   res.Mean,
					"stddev": res.StdDev,
					"median": res.Median,
					"min":    res.Min,
					"max":    res.Max,
					"rounds": res.Rounds,
					"passed": res.Passed,
				},
				rev.CommittedAt,
			))
		}
	}

	return points
}

func cloneTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags)+2)
	for k, v := range tags {
		out[k] = v
	}

	return out
}
