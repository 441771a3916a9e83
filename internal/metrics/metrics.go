// Package metrics defines Prometheus metrics for rastore storage operations.
package metrics

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/bleepstore/rastore/randomaccess"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for transfer size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

var (
	// OperationsTotal counts storage operations by backend, operation and
	// status ("success", "out_of_bounds", "error").
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rastore_operations_total",
			Help: "Storage operations by backend, operation and status",
		},
		[]string{"backend", "operation", "status"},
	)

	// OperationDuration observes operation latency in seconds.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rastore_operation_duration_seconds",
			Help:    "Storage operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// TransferSize observes the payload size of reads and writes in bytes.
	TransferSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rastore_transfer_size_bytes",
			Help:    "Payload size of reads and writes in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"backend", "operation"},
	)

	// BytesReadTotal counts bytes returned by Read and ReadTo.
	BytesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rastore_bytes_read_total",
			Help: "Total bytes read",
		},
		[]string{"backend"},
	)

	// BytesWrittenTotal counts bytes accepted by Write.
	BytesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rastore_bytes_written_total",
			Help: "Total bytes written",
		},
		[]string{"backend"},
	)

	// OutOfBoundsTotal counts requests rejected by bounds checks.
	OutOfBoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rastore_out_of_bounds_total",
			Help: "Requests rejected as out of bounds",
		},
		[]string{"backend", "operation"},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			OperationsTotal,
			OperationDuration,
			TransferSize,
			BytesReadTotal,
			BytesWrittenTotal,
			OutOfBoundsTotal,
		)
	})
}

// WriteText writes every family in the gatherer in the Prometheus text
// exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encoding %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Instrument wraps s so that every operation is counted and timed under
// the given backend label. Closing the result closes s when it implements
// io.Closer.
func Instrument(backend string, s randomaccess.Storage) randomaccess.Storage {
	return &instrumented{backend: backend, next: s}
}

type instrumented struct {
	backend string
	next    randomaccess.Storage
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	status := "success"
	switch {
	case err == nil:
	case randomaccess.IsOutOfBounds(err):
		status = "out_of_bounds"
		OutOfBoundsTotal.WithLabelValues(i.backend, op).Inc()
	default:
		status = "error"
	}
	OperationsTotal.WithLabelValues(i.backend, op, status).Inc()
	OperationDuration.WithLabelValues(i.backend, op).Observe(time.Since(start).Seconds())
}

func (i *instrumented) Write(ctx context.Context, offset uint64, data []byte) error {
	start := time.Now()
	err := i.next.Write(ctx, offset, data)
	i.observe("write", start, err)
	if err == nil {
		BytesWrittenTotal.WithLabelValues(i.backend).Add(float64(len(data)))
		TransferSize.WithLabelValues(i.backend, "write").Observe(float64(len(data)))
	}
	return err
}

func (i *instrumented) Read(ctx context.Context, offset, length uint64) ([]byte, error) {
	start := time.Now()
	buf, err := i.next.Read(ctx, offset, length)
	i.observe("read", start, err)
	if err == nil {
		BytesReadTotal.WithLabelValues(i.backend).Add(float64(len(buf)))
		TransferSize.WithLabelValues(i.backend, "read").Observe(float64(len(buf)))
	}
	return buf, err
}

func (i *instrumented) ReadTo(ctx context.Context, offset, length uint64, w io.Writer) error {
	start := time.Now()
	cw := &countingWriter{w: w}
	err := i.next.ReadTo(ctx, offset, length, cw)
	i.observe("read_to", start, err)
	BytesReadTotal.WithLabelValues(i.backend).Add(float64(cw.n))
	if err == nil {
		TransferSize.WithLabelValues(i.backend, "read_to").Observe(float64(cw.n))
	}
	return err
}

func (i *instrumented) Del(ctx context.Context, offset, length uint64) error {
	start := time.Now()
	err := i.next.Del(ctx, offset, length)
	i.observe("del", start, err)
	return err
}

func (i *instrumented) Truncate(ctx context.Context, length uint64) error {
	start := time.Now()
	err := i.next.Truncate(ctx, length)
	i.observe("truncate", start, err)
	return err
}

func (i *instrumented) Len(ctx context.Context) (uint64, error) {
	start := time.Now()
	n, err := i.next.Len(ctx)
	i.observe("len", start, err)
	return n, err
}

func (i *instrumented) IsEmpty(ctx context.Context) (bool, error) {
	start := time.Now()
	empty, err := i.next.IsEmpty(ctx)
	i.observe("is_empty", start, err)
	return empty, err
}

func (i *instrumented) SyncAll(ctx context.Context) error {
	start := time.Now()
	err := i.next.SyncAll(ctx)
	i.observe("sync_all", start, err)
	return err
}

func (i *instrumented) Close() error {
	if c, ok := i.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// countingWriter counts bytes passed through to w.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
