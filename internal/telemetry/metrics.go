// Copyright 2025 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package telemetry

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Attr is a single metric dimension, the same shape the teacher's
// common.MetricAttr uses to keep callers from depending on
// attribute.KeyValue directly.
type Attr struct{ Key, Value string }

const (
	// OpKey annotates the FUSE op processed (lookup, read, mkdir, ...).
	OpKey = "fs_op"
	// MountKey annotates the mount a metric belongs to.
	MountKey = "mount"
	// CacheHitKey annotates a read as served from the local cache or not.
	CacheHitKey = "cache_hit"
	// ImportKindKey annotates an importqueue.Kind by name.
	ImportKindKey = "import_kind"
)

var attrSets sync.Map

func attributeSet(attrs []Attr) metric.MeasurementOption {
	key := ""
	for _, a := range attrs {
		key += a.Key + "=" + a.Value + ";"
	}
	if v, ok := attrSets.Load(key); ok {
		return v.(metric.MeasurementOption)
	}
	kvs := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		kvs[i] = attribute.String(a.Key, a.Value)
	}
	opt := metric.WithAttributeSet(attribute.NewSet(kvs...))
	v, _ := attrSets.LoadOrStore(key, opt)
	return v.(metric.MeasurementOption)
}

// defaultLatencyDistribution mirrors the teacher's common.defaultLatencyDistribution
// bucket boundaries -- tuned for microsecond/millisecond FUSE op latencies.
var defaultLatencyDistribution = metric.WithExplicitBucketBoundaries(
	1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100,
	130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000, 10000,
	20000, 50000, 100000)

// Metrics holds every instrument the daemon records against (spec.md's
// ambient Metrics & tracing stack). Grounded on the teacher's otelMetrics
// (common/otel_metrics.go), generalized from a single GCS mount's fs/gcs/
// file_cache measures to scmfsd's mount/import/journal/cache domain.
type Metrics struct {
	opsCount      metric.Int64Counter
	opsErrorCount metric.Int64Counter
	opsLatency    metric.Float64Histogram

	cacheReadCount metric.Int64Counter
	cacheBytes     metric.Int64Counter

	importEnqueued metric.Int64Counter
	importLatency  metric.Float64Histogram

	mountCount        metric.Int64UpDownCounter
	journalEntryCount metric.Int64Counter

	inodesLoadedAtomic *atomic.Int64
}

// NewMetrics registers every instrument against the global OTel
// MeterProvider, the way NewOTelMetrics does in the teacher. Call
// StartMeterProvider first so the instruments bind to a provider that
// actually has a reader attached; otherwise they bind to the no-op
// default, which is harmless but never exports anything.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("scmfsd")

	opsCount, err := meter.Int64Counter("fs/ops_count",
		metric.WithDescription("Cumulative FUSE operations processed."))
	if err != nil {
		return nil, err
	}
	opsErrorCount, err := meter.Int64Counter("fs/ops_error_count",
		metric.WithDescription("Cumulative FUSE operations that returned an error."))
	if err != nil {
		return nil, err
	}
	opsLatency, err := meter.Float64Histogram("fs/ops_latency",
		metric.WithDescription("Distribution of FUSE operation latencies."),
		metric.WithUnit("us"), defaultLatencyDistribution)
	if err != nil {
		return nil, err
	}
	cacheReadCount, err := meter.Int64Counter("cache/read_count",
		metric.WithDescription("Reads served from localstore/objectcache, by cache_hit."))
	if err != nil {
		return nil, err
	}
	cacheBytes, err := meter.Int64Counter("cache/read_bytes_count",
		metric.WithDescription("Bytes served from localstore/objectcache."),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	importEnqueued, err := meter.Int64Counter("import/enqueued_count",
		metric.WithDescription("Objects enqueued onto the shared import queue, by kind."))
	if err != nil {
		return nil, err
	}
	importLatency, err := meter.Float64Histogram("import/fetch_latency",
		metric.WithDescription("Latency of a remote.Backend batch fetch."),
		metric.WithUnit("ms"), defaultLatencyDistribution)
	if err != nil {
		return nil, err
	}
	mountCount, err := meter.Int64UpDownCounter("server/mount_count",
		metric.WithDescription("Currently registered mounts."))
	if err != nil {
		return nil, err
	}
	journalEntryCount, err := meter.Int64Counter("journal/entry_count",
		metric.WithDescription("Entries appended to a mount's journal."))
	if err != nil {
		return nil, err
	}

	var inodesLoaded atomic.Int64
	_, err = meter.Int64ObservableUpDownCounter("inode/loaded_count",
		metric.WithDescription("Inodes currently resident in an inode.Map."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(inodesLoaded.Load())
			return nil
		}))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		opsCount:           opsCount,
		opsErrorCount:      opsErrorCount,
		opsLatency:         opsLatency,
		cacheReadCount:     cacheReadCount,
		cacheBytes:         cacheBytes,
		importEnqueued:     importEnqueued,
		importLatency:      importLatency,
		mountCount:         mountCount,
		journalEntryCount:  journalEntryCount,
		inodesLoadedAtomic: &inodesLoaded,
	}, nil
}

func (m *Metrics) OpsCount(ctx context.Context, n int64, attrs ...Attr) {
	m.opsCount.Add(ctx, n, attributeSet(attrs))
}

func (m *Metrics) OpsErrorCount(ctx context.Context, n int64, attrs ...Attr) {
	m.opsErrorCount.Add(ctx, n, attributeSet(attrs))
}

func (m *Metrics) OpsLatency(ctx context.Context, latency time.Duration, attrs ...Attr) {
	m.opsLatency.Record(ctx, float64(latency.Microseconds()), attributeSet(attrs))
}

func (m *Metrics) CacheRead(ctx context.Context, bytes int64, hit bool) {
	hitStr := "false"
	if hit {
		hitStr = "true"
	}
	attr := attributeSet([]Attr{{Key: CacheHitKey, Value: hitStr}})
	m.cacheReadCount.Add(ctx, 1, attr)
	m.cacheBytes.Add(ctx, bytes, attr)
}

func (m *Metrics) ImportEnqueued(ctx context.Context, n int64, kind string) {
	m.importEnqueued.Add(ctx, n, attributeSet([]Attr{{Key: ImportKindKey, Value: kind}}))
}

func (m *Metrics) ImportLatency(ctx context.Context, latency time.Duration, kind string) {
	m.importLatency.Record(ctx, float64(latency.Milliseconds()), attributeSet([]Attr{{Key: ImportKindKey, Value: kind}}))
}

func (m *Metrics) MountOpened(ctx context.Context) { m.mountCount.Add(ctx, 1) }
func (m *Metrics) MountClosed(ctx context.Context) { m.mountCount.Add(ctx, -1) }

func (m *Metrics) JournalAppended(ctx context.Context, mount string) {
	m.journalEntryCount.Add(ctx, 1, attributeSet([]Attr{{Key: MountKey, Value: mount}}))
}

func (m *Metrics) SetInodesLoaded(n int64) { m.inodesLoadedAtomic.Store(n) }

// StartMeterProvider installs an OTel MeterProvider backed by the
// Prometheus exporter (go.opentelemetry.io/otel/exporters/prometheus) and
// returns the http.Handler the /metrics endpoint should serve, plus a
// shutdown func. Grounded on the teacher's internal/monitor exporter
// wiring (otelexporters_test.go): a reader-backed provider registered
// with otel.SetMeterProvider before NewMetrics is called.
func StartMeterProvider() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return promhttp.Handler(), provider.Shutdown, nil
}

// OpenCensus compatibility: the daemon still registers a handful of
// stats.Views for tools (e.g. legacy dashboards) that only speak the
// OpenCensus view model, the way the teacher keeps both oc_metrics.go
// and otel_metrics.go side by side during its OTel migration.
var (
	ocOpKey, _ = tag.NewKey(OpKey)

	OCOpsCount = stats.Int64("scmfsd/ops_count", "Cumulative FUSE operations processed.", stats.UnitDimensionless)

	opsCountView = &view.View{
		Name:        "scmfsd/ops_count",
		Measure:     OCOpsCount,
		Description: "Cumulative FUSE operations processed, by op.",
		TagKeys:     []tag.Key{ocOpKey},
		Aggregation: view.Count(),
	}
)

// RegisterOpenCensusViews registers the daemon's OpenCensus views; call
// once at startup alongside StartMeterProvider.
func RegisterOpenCensusViews() error {
	return view.Register(opsCountView)
}

// RecordOpenCensusOp records one FUSE op against the OpenCensus view,
// for the legacy exporter path.
func RecordOpenCensusOp(ctx context.Context, op string) {
	ctx, err := tag.New(ctx, tag.Upsert(ocOpKey, op))
	if err != nil {
		return
	}
	stats.Record(ctx, OCOpsCount.M(1))
}
