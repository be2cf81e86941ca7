package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-decision-engine/internal/models"
)

func TestRecorderCounts(t *testing.T) {
	r := New()

	r.CycleCompleted("signal", 20*time.Millisecond, nil)
	r.CycleCompleted("signal", 20*time.Millisecond, errors.New("boom"))
	r.CycleSkipped("signal")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cycles.WithLabelValues("signal", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cycles.WithLabelValues("signal", "skipped")))

	r.Veto(models.Veto(models.ErrStaleCooldown, "59 minutes left"))
	r.Veto(models.Veto(models.ErrStaleCooldown, "12 minutes left"))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.vetoes.WithLabelValues("StaleCooldown")))

	r.BrokerCall("mt5", "place_order", time.Millisecond, models.Veto(models.ErrBrokerUnavailable, "timeout"))
	r.BrokerCall("mt5", "place_order", time.Millisecond, models.Veto(models.ErrInvalidSignal, "bad volume"))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.brokerCalls.WithLabelValues("mt5", "place_order", "unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.brokerCalls.WithLabelValues("mt5", "place_order", "rejected")))

	r.TradeClosed(models.Position{Strategy: "swing", CloseReason: models.CloseStopLoss, PnL: -31.5})
	assert.Equal(t, 31.5, testutil.ToFloat64(r.realizedPnL.WithLabelValues("swing", "loss")))

	r.Weights(models.WeightHistory{AssetID: "GOLD", Strategy: "swing",
		Weights: models.PillarWeights{BaseSignal: 31, TrendConfluence: 35, Volatility: 14, Sentiment: 20}})
	assert.Equal(t, 31.0, testutil.ToFloat64(r.weights.WithLabelValues("GOLD", "swing", "base_signal")))
}

func TestHandlerServesRegistry(t *testing.T) {
	r := New()
	r.BrokerDegraded("oanda", true)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `decision_engine_broker_degraded{broker="oanda"} 1`)
}
