package metrics

import (
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/nakabonne/tstorage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Metric names shared by the radius and app packages
const (
	RadiusAccept       = "radius_accept"
	RadiusReject       = "radius_reject"
	RadiusDropped      = "radius_dropped"
	RadiusAcctStart    = "radius_acct_start"
	RadiusAcctStop     = "radius_acct_stop"
	RadiusAcctUpdate   = "radius_acct_update"
	RadiusAcctOnOff    = "radius_acct_onoff"
	RadiusOnline       = "radius_online"
	RadiusCoaSent      = "radius_coa_sent"
	RadiusCoaFailed    = "radius_coa_failed"
	BillingSettled     = "billing_settled"
	BillingDisconnects = "billing_disconnects"
)

// maxLatencySamples bounds the buffer drained by the stats job
const maxLatencySamples = 4096

var (
	mu      sync.Mutex
	storage tstorage.Storage

	counters = map[string]int64{}
	samples  []float64

	registry = prometheus.NewRegistry()

	radiusCounters = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "radbill",
		Name:      "events_total",
		Help:      "Total RADIUS and billing events by type",
	}, []string{"type"})

	gauges = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "radbill",
		Name:      "gauge",
		Help:      "Sampled process and system gauges",
	}, []string{"name"})

	authLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "radbill",
		Name:      "auth_latency_seconds",
		Help:      "Access-Request processing latency",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	registry.MustRegister(radiusCounters, gauges, authLatency)
}

// InitMetrics opens the time series storage under workdir/data/metrics
func InitMetrics(workdir string) error {
	dataPath := path.Join(workdir, "data", "metrics")
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return err
	}
	s, err := tstorage.NewStorage(
		tstorage.WithDataPath(dataPath),
		tstorage.WithTimestampPrecision(tstorage.Seconds),
		tstorage.WithPartitionDuration(time.Hour),
		tstorage.WithRetention(7*24*time.Hour),
	)
	if err != nil {
		return err
	}
	mu.Lock()
	storage = s
	mu.Unlock()
	return nil
}

// Registry exposes the prometheus registry for the admin HTTP listener
func Registry() *prometheus.Registry {
	return registry
}

// Incr bumps the named event counter by one
func Incr(name string) {
	Add(name, 1)
}

func Add(name string, v int64) {
	mu.Lock()
	counters[name] += v
	mu.Unlock()
	radiusCounters.WithLabelValues(name).Add(float64(v))
}

// SetGauge records an instantaneous value
func SetGauge(name string, value int64) {
	gauges.WithLabelValues(name).Set(float64(value))
	insert(name, float64(value), time.Now())
}

// ObserveAuthLatency records the processing time of one Access-Request
func ObserveAuthLatency(d time.Duration) {
	authLatency.Observe(d.Seconds())
	mu.Lock()
	if len(samples) < maxLatencySamples {
		samples = append(samples, float64(d.Microseconds()))
	}
	mu.Unlock()
}

// Counters returns a copy of the cumulative event counters
func Counters() map[string]int64 {
	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]int64, len(counters))
	for k, v := range counters {
		out[k] = v
	}
	return out
}

// LatencySummary aggregates the collected latency samples (microseconds)
type LatencySummary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	Max   float64 `json:"max"`
}

// DrainLatency summarizes and resets the latency sample buffer
func DrainLatency() LatencySummary {
	mu.Lock()
	data := samples
	samples = nil
	mu.Unlock()

	if len(data) == 0 {
		return LatencySummary{}
	}
	sum := LatencySummary{Count: len(data)}
	sum.Mean, _ = stats.Mean(data)
	sum.P50, _ = stats.Percentile(data, 50)
	sum.P95, _ = stats.Percentile(data, 95)
	sum.Max, _ = stats.Max(data)
	return sum
}

// Flush persists the current counter values as data points
func Flush() {
	now := time.Now()
	snapshot := Counters()
	names := make([]string, 0, len(snapshot))
	for k := range snapshot {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		insert(name, float64(snapshot[name]), now)
	}
}

// Query returns the stored points of a metric since the given time
func Query(name string, since time.Time) ([]*tstorage.DataPoint, error) {
	mu.Lock()
	s := storage
	mu.Unlock()
	if s == nil {
		return nil, nil
	}
	points, err := s.Select(name, nil, since.Unix(), time.Now().Unix()+1)
	if err == tstorage.ErrNoDataPoints {
		return nil, nil
	}
	return points, err
}

func insert(name string, value float64, ts time.Time) {
	mu.Lock()
	s := storage
	mu.Unlock()
	if s == nil {
		return
	}
	err := s.InsertRows([]tstorage.Row{{
		Metric:    name,
		DataPoint: tstorage.DataPoint{Timestamp: ts.Unix(), Value: value},
	}})
	if err != nil {
		zap.L().Warn("metrics insert error", zap.String("metric", name), zap.Error(err))
	}
}

// Close flushes and closes the storage
func Close() error {
	mu.Lock()
	s := storage
	storage = nil
	mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}
