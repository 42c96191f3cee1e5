package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Namespace prefixes every metric name.
const Namespace = "beta_publisher"

// Upload results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Recorder receives run events.
type Recorder interface {
	IncUploads(result string)
	IncToolProvision(source string)
	ObserveRun(duration time.Duration, succeeded bool)
	Push(ctx context.Context) error
}

// Noop implements Recorder without emitting anything.
type Noop struct{}

func (Noop) IncUploads(string)              {}
func (Noop) IncToolProvision(string)        {}
func (Noop) ObserveRun(time.Duration, bool) {}
func (Noop) Push(context.Context) error     { return nil }

// Prom implements Recorder on a private registry so nothing leaks into the
// process-wide default one.
type Prom struct {
	registry      *prometheus.Registry
	uploads       *prometheus.CounterVec
	toolProvision *prometheus.CounterVec
	runDuration   prometheus.Gauge
	lastSuccess   prometheus.Gauge
	pusher        *push.Pusher
}

// PushOptions configure the Pushgateway target.
type PushOptions struct {
	URL string
	Job string
	// Grouping adds labels identifying this agent or job.
	Grouping map[string]string
	Client   *http.Client
}

var errPushURLRequired = errors.New("pushgateway url must be provided")

// NewProm registers the run metrics and prepares the pusher.
func NewProm(opts PushOptions) (*Prom, error) {
	if opts.URL == "" {
		return nil, errPushURLRequired
	}

	p := &Prom{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "uploads_total",
			Help:      "Artifact uploads by result",
		}, []string{"result"}),
		toolProvision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tool_provision_total",
			Help:      "Upload tool provisioning by source",
		}, []string{"source"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last run",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}),
	}

	p.registry.MustRegister(p.uploads, p.toolProvision, p.runDuration, p.lastSuccess)

	pusher := push.New(opts.URL, opts.Job).Gatherer(p.registry)
	for name, value := range opts.Grouping {
		pusher = pusher.Grouping(name, value)
	}

	if opts.Client != nil {
		pusher = pusher.Client(opts.Client)
	}

	p.pusher = pusher

	return p, nil
}

// IncUploads counts one artifact upload.
func (p *Prom) IncUploads(result string) {
	p.uploads.WithLabelValues(result).Inc()
}

// IncToolProvision counts how the upload tool was obtained.
func (p *Prom) IncToolProvision(source string) {
	p.toolProvision.WithLabelValues(source).Inc()
}

// ObserveRun records the run duration. The success timestamp only moves on success.
func (p *Prom) ObserveRun(duration time.Duration, succeeded bool) {
	p.runDuration.Set(duration.Seconds())

	if succeeded {
		p.lastSuccess.SetToCurrentTime()
	}
}

// Push replaces the metrics of this job and grouping on the gateway.
func (p *Prom) Push(ctx context.Context) error {
	if err := p.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}

	return nil
}
