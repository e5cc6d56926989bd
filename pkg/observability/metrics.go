package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRequestsTotal    = "benchfill.index.requests.total"
	metricRequestDuration  = "benchfill.index.request.duration.seconds"
	metricErrorsTotal      = "benchfill.index.errors.total"
	metricInflightRequests = "benchfill.index.inflight.requests"

	metricRevisionsTotal   = "benchfill.revisions.total"
	metricRevisionDuration = "benchfill.revision.duration.seconds"

	attrOp     = "op"
	attrStatus = "status"

	// StatusOK marks a request that was served.
	StatusOK = "ok"
	// StatusNotFound marks a request for a project or file that is not seeded.
	StatusNotFound = "not_found"
	// StatusClientError marks any other 4xx response.
	StatusClientError = "client_error"

	statusError = "error"
)

// requestBucketBoundaries covers sub-millisecond index hits up to slow
// multi-megabyte artifact downloads.
var requestBucketBoundaries = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// revisionBucketBoundaries covers a failed checkout through a full install and benchmark run.
var revisionBucketBoundaries = []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600}

// REDMetrics holds the OTel instruments for Rate, Error, Duration metrics
// of the package index server.
type REDMetrics struct {
	requestsTotal    metric.Int64Counter
	requestDuration  metric.Float64Histogram
	errorsTotal      metric.Int64Counter
	inflightRequests metric.Int64UpDownCounter
}

// NewREDMetrics creates RED metric instruments from the given meter.
func NewREDMetrics(mt metric.Meter) (*REDMetrics, error) {
	reqTotal, err := mt.Int64Counter(metricRequestsTotal,
		metric.WithDescription("Total number of index requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRequestsTotal, err)
	}

	reqDuration, err := mt.Float64Histogram(metricRequestDuration,
		metric.WithDescription("Index request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(requestBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRequestDuration, err)
	}

	errTotal, err := mt.Int64Counter(metricErrorsTotal,
		metric.WithDescription("Total number of index server errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricErrorsTotal, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricInflightRequests,
		metric.WithDescription("Number of in-flight index requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricInflightRequests, err)
	}

	return &REDMetrics{
		requestsTotal:    reqTotal,
		requestDuration:  reqDuration,
		errorsTotal:      errTotal,
		inflightRequests: inflight,
	}, nil
}

// RecordRequest records a completed request with its operation, status, and duration.
func (rm *REDMetrics) RecordRequest(ctx context.Context, op, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrOp, op),
		attribute.String(attrStatus, status),
	)

	rm.requestsTotal.Add(ctx, 1, attrs)
	rm.requestDuration.Record(ctx, duration.Seconds(), attrs)

	if status == statusError {
		rm.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrOp, op),
		))
	}
}

// TrackInflight increments the in-flight gauge and returns a function to decrement it.
func (rm *REDMetrics) TrackInflight(ctx context.Context, op string) func() {
	attrs := metric.WithAttributes(attribute.String(attrOp, op))
	rm.inflightRequests.Add(ctx, 1, attrs)

	return func() {
		rm.inflightRequests.Add(ctx, -1, attrs)
	}
}

// RevisionMetrics counts revision outcomes of backfill runs.
type RevisionMetrics struct {
	revisionsTotal   metric.Int64Counter
	revisionDuration metric.Float64Histogram
}

// NewRevisionMetrics creates revision outcome instruments from the given meter.
func NewRevisionMetrics(mt metric.Meter) (*RevisionMetrics, error) {
	total, err := mt.Int64Counter(metricRevisionsTotal,
		metric.WithDescription("Revisions processed by outcome"),
		metric.WithUnit("{revision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRevisionsTotal, err)
	}

	duration, err := mt.Float64Histogram(metricRevisionDuration,
		metric.WithDescription("Wall time spent on one revision in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(revisionBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRevisionDuration, err)
	}

	return &RevisionMetrics{revisionsTotal: total, revisionDuration: duration}, nil
}

// RecordRevision records one finished revision.
func (rv *RevisionMetrics) RecordRevision(ctx context.Context, status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String(attrStatus, status))

	rv.revisionsTotal.Add(ctx, 1, attrs)
	rv.revisionDuration.Record(ctx, duration.Seconds(), attrs)
}
