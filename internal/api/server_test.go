package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-decision-engine/internal/auth"
	"trading-decision-engine/internal/engine"
	"trading-decision-engine/internal/events"
	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/monitor"
	"trading-decision-engine/internal/strategy"
)

type fakeEngine struct {
	mu        sync.Mutex
	settings  *strategy.Settings
	positions []models.Position
	closeErr  error
	lastLimit int
	updated   []strategy.Profile
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	s, err := strategy.DefaultSettings(strategy.Standard)
	require.NoError(t, err)
	return &fakeEngine{
		settings: s,
		positions: []models.Position{
			{ID: "p1", AssetID: "GOLD", Broker: "paper", Status: models.PositionOpen, EntryPrice: 2000},
		},
	}
}

func (f *fakeEngine) IsRunning() bool { return true }

func (f *fakeEngine) Assets() []models.Asset {
	return []models.Asset{{ID: "GOLD"}}
}

func (f *fakeEngine) Asset(id string) (models.Asset, bool) {
	if id == "GOLD" {
		return models.Asset{ID: "GOLD"}, true
	}
	return models.Asset{}, false
}

func (f *fakeEngine) CurrentConfidence(assetID string) (models.ConfidenceScore, bool) {
	return models.ConfidenceScore{AssetID: assetID, Aggregate: 75, Ceiling: 100, Passed: true}, true
}

func (f *fakeEngine) CurrentRegime(assetID string) (engine.RegimeView, bool) {
	return engine.RegimeView{}, false
}

func (f *fakeEngine) CurrentWeights(assetID string, name strategy.Name) (models.WeightHistory, error) {
	if _, err := strategy.ParseName(string(name)); err != nil {
		return models.WeightHistory{}, err
	}
	return models.WeightHistory{AssetID: assetID, Strategy: string(name), Version: 3}, nil
}

func (f *fakeEngine) WeightSeries(assetID string, name strategy.Name) []models.WeightHistory {
	return []models.WeightHistory{{AssetID: assetID, Version: 1}, {AssetID: assetID, Version: 2}}
}

func (f *fakeEngine) RecentVetoes(ctx context.Context, assetID string, limit int) ([]models.AuditLogEntry, error) {
	f.mu.Lock()
	f.lastLimit = limit
	f.mu.Unlock()
	return []models.AuditLogEntry{{AssetID: "GOLD", Kind: "risk_limit_exceeded"}}, nil
}

func (f *fakeEngine) RiskSummary(ctx context.Context) []engine.RiskView {
	return []engine.RiskView{{RiskState: models.RiskState{Broker: "paper", Balance: 10000}, Circuit: "closed"}}
}

func (f *fakeEngine) Positions(openOnly bool) []models.Position {
	return f.positions
}

func (f *fakeEngine) ClosePosition(ctx context.Context, id string) (models.Position, error) {
	if f.closeErr != nil {
		return models.Position{}, f.closeErr
	}
	p := f.positions[0]
	p.Status = models.PositionClosed
	return p, nil
}

func (f *fakeEngine) Settings() *strategy.Settings { return f.settings }

func (f *fakeEngine) UpdateProfile(p strategy.Profile) ([]monitor.RefreshReport, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.updated = append(f.updated, p)
	f.mu.Unlock()
	return []monitor.RefreshReport{{Strategy: p.Name, Matched: 1, Updated: 1}}, nil
}

func (f *fakeEngine) SetActiveTier(name strategy.TierName) ([]monitor.RefreshReport, error) {
	if _, err := f.settings.RiskTier(name); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeEngine) BreakerStats() map[string]interface{} {
	return map[string]interface{}{"tripped": false}
}

func newTestServer(t *testing.T, cfg ServerConfig, jwt *auth.JWTManager) (*Server, *fakeEngine, *events.EventBus) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	eng := newFakeEngine(t)
	bus := events.NewEventBus()
	s, err := NewServer(cfg, eng, bus, jwt, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# metrics")
	}))
	require.NoError(t, err)
	return s, eng, bus
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, ServerConfig{}, nil)
	w := do(t, s.Handler(), http.MethodGet, "/api/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, true, resp["running"])
}

func TestMetricsRoute(t *testing.T) {
	s, _, _ := newTestServer(t, ServerConfig{}, nil)
	w := do(t, s.Handler(), http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# metrics", w.Body.String())
}

func TestAssetQueries(t *testing.T) {
	s, _, _ := newTestServer(t, ServerConfig{}, nil)
	h := s.Handler()

	tests := []struct {
		name string
		path string
		want int
	}{
		{"list", "/api/assets", http.StatusOK},
		{"confidence", "/api/assets/GOLD/confidence", http.StatusOK},
		{"unknown asset", "/api/assets/SILVER/confidence", http.StatusNotFound},
		{"no regime yet", "/api/assets/GOLD/regime", http.StatusNotFound},
		{"weight history", "/api/assets/GOLD/weights", http.StatusOK},
		{"weights for strategy", "/api/assets/GOLD/weights?strategy=swing", http.StatusOK},
		{"weights for unknown strategy", "/api/assets/GOLD/weights?strategy=martingale", http.StatusBadRequest},
		{"risk", "/api/risk", http.StatusOK},
		{"positions", "/api/positions", http.StatusOK},
		{"settings", "/api/settings", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodGet, tt.path, "", "")
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestConfidenceIncludesNormalized(t *testing.T) {
	s, _, _ := newTestServer(t, ServerConfig{}, nil)
	w := do(t, s.Handler(), http.MethodGet, "/api/assets/GOLD/confidence", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Normalized float64 `json:"normalized"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.InDelta(t, 0.75, resp.Normalized, 1e-9)
}

func TestAuditLimit(t *testing.T) {
	s, eng, _ := newTestServer(t, ServerConfig{}, nil)
	h := s.Handler()

	w := do(t, h, http.MethodGet, "/api/audit?asset=GOLD&limit=5", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, eng.lastLimit)

	w = do(t, h, http.MethodGet, "/api/audit?limit=zero", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClosePosition(t *testing.T) {
	s, eng, _ := newTestServer(t, ServerConfig{}, nil)
	h := s.Handler()

	w := do(t, h, http.MethodPost, "/api/positions/nope/close", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodPost, "/api/positions/p1/close", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var closed models.Position
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &closed))
	assert.Equal(t, models.PositionClosed, closed.Status)

	eng.closeErr = models.Veto(models.ErrInvalidSignal, "position p1 already closed")
	w = do(t, h, http.MethodPost, "/api/positions/p1/close", "", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	eng.closeErr = models.Veto(models.ErrBrokerUnavailable, "paper degraded")
	w = do(t, h, http.MethodPost, "/api/positions/p1/close", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUpdateStrategy(t *testing.T) {
	s, eng, _ := newTestServer(t, ServerConfig{}, nil)
	h := s.Handler()

	profile, err := eng.settings.Profile(strategy.Swing)
	require.NoError(t, err)
	profile.StopLossPct = 1.0
	body, err := json.Marshal(profile)
	require.NoError(t, err)

	w := do(t, h, http.MethodPut, "/api/strategies/swing", string(body), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, eng.updated, 1)
	assert.Equal(t, 1.0, eng.updated[0].StopLossPct)

	profile.Ceiling = 0
	body, _ = json.Marshal(profile)
	w = do(t, h, http.MethodPut, "/api/strategies/swing", string(body), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPut, "/api/strategies/martingale", string(body), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodPut, "/api/strategies/swing", "{not json", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetTier(t *testing.T) {
	s, _, _ := newTestServer(t, ServerConfig{}, nil)
	h := s.Handler()

	w := do(t, h, http.MethodPut, "/api/tier", `{"tier":"aggressive"}`, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPut, "/api/tier", `{"tier":"reckless"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPut, "/api/tier", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthEnabledRequiresToken(t *testing.T) {
	jwt, err := auth.NewJWTManager("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)
	s, _, _ := newTestServer(t, ServerConfig{AuthEnabled: true}, jwt)
	h := s.Handler()

	viewer, err := jwt.GenerateAccessToken(auth.OperatorClaims{Subject: "watcher", Role: auth.RoleViewer})
	require.NoError(t, err)
	operator, err := jwt.GenerateAccessToken(auth.OperatorClaims{Subject: "desk", Role: auth.RoleOperator})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/health", "", "").Code, "health stays open")
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/assets", "", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/assets", "", viewer).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/positions/p1/close", "", viewer).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/positions/p1/close", "", operator).Code)
}

func TestAuthEnabledWithoutManager(t *testing.T) {
	_, err := NewServer(ServerConfig{AuthEnabled: true}, newFakeEngine(t), nil, nil, nil)
	assert.Error(t, err)
}

func TestWebSocketStreamsFilteredEvents(t *testing.T) {
	s, _, bus := newTestServer(t, ServerConfig{}, nil)
	go s.Hub().Run()
	defer s.Hub().Stop()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?types=veto_issued&asset=GOLD"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Hub().GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	bus.Publish(events.Event{Type: events.EventTradeOpened, AssetID: "GOLD"})
	bus.Publish(events.Event{Type: events.EventVetoIssued, AssetID: "SILVER"})
	bus.Publish(events.Event{Type: events.EventVetoIssued, AssetID: "GOLD", Data: map[string]interface{}{"kind": "duplicate_position"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got events.Event
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, events.EventVetoIssued, got.Type)
	assert.Equal(t, "GOLD", got.AssetID)
	assert.Equal(t, "duplicate_position", got.Data["kind"])
}
