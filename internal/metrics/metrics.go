package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trading-decision-engine/internal/models"
)

const namespace = "decision_engine"

// Recorder holds every engine collector on its own registry
type Recorder struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	vetoes        *prometheus.CounterVec
	tradesOpened  *prometheus.CounterVec
	tradesClosed  *prometheus.CounterVec
	realizedPnL   *prometheus.CounterVec
	brokerCalls   *prometheus.CounterVec
	brokerLatency *prometheus.HistogramVec
	brokerDown    *prometheus.GaugeVec
	confidence    *prometheus.GaugeVec
	weights       *prometheus.GaugeVec
	regimeChanges *prometheus.CounterVec
}

// New creates a recorder with Go and process collectors registered
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_cycles_total",
			Help:      "Worker cycles by outcome (ok, error, skipped)",
		}, []string{"worker", "result"}),
		cycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_cycle_duration_seconds",
			Help:      "Duration of completed worker cycles",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"worker"}),
		vetoes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vetoes_total",
			Help:      "Rejected trade candidates by error kind",
		}, []string{"kind"}),
		tradesOpened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_opened_total",
			Help:      "Positions opened by strategy",
		}, []string{"strategy"}),
		tradesClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_closed_total",
			Help:      "Positions closed by strategy and reason",
		}, []string{"strategy", "reason", "outcome"}),
		realizedPnL: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realized_pnl_abs_total",
			Help:      "Absolute realized PnL by strategy and sign",
		}, []string{"strategy", "outcome"}),
		brokerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_calls_total",
			Help:      "Broker gateway calls by operation and result",
		}, []string{"broker", "op", "result"}),
		brokerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broker_call_duration_seconds",
			Help:      "Broker gateway call latency including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"broker", "op"}),
		brokerDown: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_degraded",
			Help:      "1 while a broker is marked degraded",
		}, []string{"broker"}),
		confidence: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "confidence_normalized",
			Help:      "Latest normalized confidence per asset",
		}, []string{"asset", "strategy"}),
		weights: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pillar_weight",
			Help:      "Current learned pillar weight",
		}, []string{"asset", "strategy", "pillar"}),
		regimeChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regime_changes_total",
			Help:      "Regime transitions by asset and new regime",
		}, []string{"asset", "regime"}),
	}
}

// Handler serves the registry for scraping
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// CycleCompleted records a finished worker cycle
func (r *Recorder) CycleCompleted(worker string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.cycles.WithLabelValues(worker, result).Inc()
	r.cycleDuration.WithLabelValues(worker).Observe(took.Seconds())
}

// CycleSkipped records a tick dropped because the previous cycle still ran
func (r *Recorder) CycleSkipped(worker string) {
	r.cycles.WithLabelValues(worker, "skipped").Inc()
}

// Veto counts a rejected candidate by its error kind
func (r *Recorder) Veto(err error) {
	r.vetoes.WithLabelValues(models.KindName(err)).Inc()
}

// TradeOpened counts an opened position
func (r *Recorder) TradeOpened(strategy string) {
	r.tradesOpened.WithLabelValues(strategy).Inc()
}

// TradeClosed counts a closed position and its PnL
func (r *Recorder) TradeClosed(p models.Position) {
	outcome := "win"
	if p.PnL <= 0 {
		outcome = "loss"
	}
	r.tradesClosed.WithLabelValues(p.Strategy, p.CloseReason, outcome).Inc()
	abs := p.PnL
	if abs < 0 {
		abs = -abs
	}
	r.realizedPnL.WithLabelValues(p.Strategy, outcome).Add(abs)
}

// BrokerCall matches the gateway call observer signature
func (r *Recorder) BrokerCall(broker, op string, took time.Duration, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, models.ErrBrokerUnavailable):
		result = "unavailable"
	default:
		result = "rejected"
	}
	r.brokerCalls.WithLabelValues(broker, op, result).Inc()
	r.brokerLatency.WithLabelValues(broker, op).Observe(took.Seconds())
}

// BrokerDegraded sets the degraded gauge
func (r *Recorder) BrokerDegraded(broker string, degraded bool) {
	v := 0.0
	if degraded {
		v = 1
	}
	r.brokerDown.WithLabelValues(broker).Set(v)
}

// Confidence records the latest score for an asset
func (r *Recorder) Confidence(s models.ConfidenceScore) {
	r.confidence.WithLabelValues(s.AssetID, s.Strategy).Set(s.Normalized())
}

// Weights records a weight version
func (r *Recorder) Weights(h models.WeightHistory) {
	for _, p := range models.AllPillars {
		r.weights.WithLabelValues(h.AssetID, h.Strategy, string(p)).Set(h.Weights.Get(p))
	}
}

// RegimeChanged counts a regime transition
func (r *Recorder) RegimeChanged(assetID string, to models.Regime) {
	r.regimeChanges.WithLabelValues(assetID, string(to)).Inc()
}
