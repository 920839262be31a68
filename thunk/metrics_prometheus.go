package thunk

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetricsOptions configures NewPrometheusMetrics.
type PrometheusMetricsOptions struct {
	Registerer  prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

var _ MetricHook = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements MetricHook using Prometheus counters.
type PrometheusMetrics struct {
	collectiveStarted   *prometheus.CounterVec
	collectiveCompleted *prometheus.CounterVec
	collectiveFailed    *prometheus.CounterVec
	bindFailed          *prometheus.CounterVec
}

// NewPrometheusMetrics constructs a MetricHook backed by Prometheus counters.
func NewPrometheusMetrics(opts PrometheusMetricsOptions) (*PrometheusMetrics, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &PrometheusMetrics{
		collectiveStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "collectives_thunk_started_total",
			Help:        "Number of collective thunk executions started",
			ConstLabels: opts.ConstLabels,
		}, executionLabelKeys),
		collectiveCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "collectives_thunk_completed_total",
			Help:        "Number of collective thunk executions completed successfully",
			ConstLabels: opts.ConstLabels,
		}, executionLabelKeys),
		collectiveFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "collectives_thunk_failed_total",
			Help:        "Number of collective thunk executions that resolved with an error",
			ConstLabels: opts.ConstLabels,
		}, failureLabelKeys),
		bindFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "collectives_thunk_bind_failed_total",
			Help:        "Number of communicator binding failures",
			ConstLabels: opts.ConstLabels,
		}, failureLabelKeys),
	}

	var err error
	if p.collectiveStarted, err = registerCounterVec(reg, p.collectiveStarted); err != nil {
		return nil, err
	}
	if p.collectiveCompleted, err = registerCounterVec(reg, p.collectiveCompleted); err != nil {
		return nil, err
	}
	if p.collectiveFailed, err = registerCounterVec(reg, p.collectiveFailed); err != nil {
		return nil, err
	}
	if p.bindFailed, err = registerCounterVec(reg, p.bindFailed); err != nil {
		return nil, err
	}

	return p, nil
}

var (
	executionLabelKeys = []string{labelKind, labelOp, labelModule}
	failureLabelKeys   = []string{labelKind, labelOp, labelModule, labelReason}
)

func (p *PrometheusMetrics) CollectiveStarted(attrs map[string]string) {
	p.collectiveStarted.With(labels(attrs, executionLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) CollectiveCompleted(attrs map[string]string) {
	p.collectiveCompleted.With(labels(attrs, executionLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) CollectiveFailed(_ error, attrs map[string]string) {
	p.collectiveFailed.With(labels(attrs, failureLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) BindFailed(_ error, attrs map[string]string) {
	p.bindFailed.With(labels(attrs, failureLabelKeys...)).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}

func labels(attrs map[string]string, keys ...string) prometheus.Labels {
	labs := make(prometheus.Labels, len(keys))
	for _, key := range keys {
		labs[key] = attrs[key]
	}
	return labs
}
