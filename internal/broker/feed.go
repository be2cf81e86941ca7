package broker

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"trading-decision-engine/internal/confidence"
	"trading-decision-engine/internal/models"
)

// MemoryFeed serves bars and ticks set by the caller
type MemoryFeed struct {
	mu    sync.RWMutex
	bars  map[string][]models.Bar // asset|timeframe
	ticks map[string]models.Tick
}

// NewMemoryFeed creates an empty feed
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		bars:  make(map[string][]models.Bar),
		ticks: make(map[string]models.Tick),
	}
}

func barKey(assetID, timeframe string) string {
	return assetID + "|" + timeframe
}

// SetBars replaces the series for an asset and timeframe
func (f *MemoryFeed) SetBars(assetID, timeframe string, bars []models.Bar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bars[barKey(assetID, timeframe)] = append([]models.Bar(nil), bars...)
}

// AppendBar adds one bar to a series
func (f *MemoryFeed) AppendBar(assetID, timeframe string, bar models.Bar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := barKey(assetID, timeframe)
	f.bars[k] = append(f.bars[k], bar)
}

// SetTick replaces the live quote for an asset
func (f *MemoryFeed) SetTick(assetID string, tick models.Tick) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks[assetID] = tick
}

func (f *MemoryFeed) GetRecentBars(_ context.Context, assetID, timeframe string, count int) ([]models.Bar, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	series, ok := f.bars[barKey(assetID, timeframe)]
	if !ok {
		return nil, models.Veto(models.ErrDataUnavailable, "no %s bars for %s", timeframe, assetID)
	}
	if count > 0 && len(series) > count {
		series = series[len(series)-count:]
	}
	return append([]models.Bar(nil), series...), nil
}

func (f *MemoryFeed) GetLiveTick(_ context.Context, assetID string) (models.Tick, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.ticks[assetID]
	if !ok {
		return models.Tick{}, models.Veto(models.ErrDataUnavailable, "no quote for %s", assetID)
	}
	return t, nil
}

// TimeframeDuration maps a timeframe label to its bar length
func TimeframeDuration(tf string) time.Duration {
	switch tf {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	}
	return time.Minute
}

// SyntheticConfig seeds the random walk for one asset
type SyntheticConfig struct {
	BasePrice  float64 `json:"base_price"`
	Volatility float64 `json:"volatility"` // hourly fractional range
	Drift      float64 `json:"drift"`      // hourly fractional bias
	Spread     float64 `json:"spread"`
}

// SyntheticFeed generates a random-walk market per asset for dry runs.
// One price path per asset moves on a one-minute clock; every timeframe's
// bars are back-filled from, and then bridged to, that path.
type SyntheticFeed struct {
	*MemoryFeed
	mu      sync.Mutex
	rng     *rand.Rand
	assets  map[string]SyntheticConfig
	price   map[string]float64
	priceAt map[string]time.Time
	last    map[string]time.Time // asset|timeframe -> last bar open
	history int
	now     func() time.Time
}

// NewSyntheticFeed creates a feed that back-fills history bars on first use
func NewSyntheticFeed(assets map[string]SyntheticConfig, history int, seed int64) *SyntheticFeed {
	if history <= 0 {
		history = 300
	}
	return &SyntheticFeed{
		MemoryFeed: NewMemoryFeed(),
		rng:        rand.New(rand.NewSource(seed)),
		assets:     assets,
		price:      make(map[string]float64),
		priceAt:    make(map[string]time.Time),
		last:       make(map[string]time.Time),
		history:    history,
		now:        time.Now,
	}
}

// SetClock overrides the time source
func (s *SyntheticFeed) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *SyntheticFeed) GetRecentBars(ctx context.Context, assetID, timeframe string, count int) ([]models.Bar, error) {
	if err := s.advance(assetID, timeframe); err != nil {
		return nil, err
	}
	return s.MemoryFeed.GetRecentBars(ctx, assetID, timeframe, count)
}

func (s *SyntheticFeed) GetLiveTick(ctx context.Context, assetID string) (models.Tick, error) {
	if err := s.advance(assetID, ""); err != nil {
		return models.Tick{}, err
	}
	return s.MemoryFeed.GetLiveTick(ctx, assetID)
}

// advance moves the asset's price path to now and, when timeframe is set,
// appends that timeframe's missing bars.
func (s *SyntheticFeed) advance(assetID, timeframe string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.assets[assetID]
	if !ok {
		return models.Veto(models.ErrDataUnavailable, "no synthetic market for %s", assetID)
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.004
	}
	now := s.now()

	price := s.walkPrice(assetID, cfg, now)
	half := cfg.Spread / 2
	s.MemoryFeed.SetTick(assetID, models.Tick{Bid: price - half, Ask: price + half, Price: price, Time: now})

	if timeframe == "" {
		return nil
	}

	step := TimeframeDuration(timeframe)
	current := now.Truncate(step)
	key := barKey(assetID, timeframe)
	last, seeded := s.last[key]
	if !seeded {
		s.MemoryFeed.SetBars(assetID, timeframe, s.backfill(current, step, price, cfg))
		s.last[key] = current
		return nil
	}

	n := int(current.Sub(last) / step)
	if n <= 0 {
		return nil
	}
	if n > s.history {
		n = s.history
	}
	prev := price
	if bars, _ := s.MemoryFeed.GetRecentBars(context.Background(), assetID, timeframe, 1); len(bars) > 0 {
		prev = bars[0].Close
	}
	for _, bar := range s.bridge(current, step, n, prev, price, cfg) {
		s.MemoryFeed.AppendBar(assetID, timeframe, bar)
	}
	s.last[key] = current
	s.trim(key)
	return nil
}

// walkPrice applies one random step per elapsed minute
func (s *SyntheticFeed) walkPrice(assetID string, cfg SyntheticConfig, now time.Time) float64 {
	price, ok := s.price[assetID]
	if !ok {
		s.price[assetID] = cfg.BasePrice
		s.priceAt[assetID] = now
		return cfg.BasePrice
	}
	minutes := int(now.Sub(s.priceAt[assetID]) / time.Minute)
	if minutes > 24*60 {
		minutes = 24 * 60
	}
	sigma := cfg.Volatility / math.Sqrt(60)
	for i := 0; i < minutes; i++ {
		price *= 1 + (s.rng.Float64()-0.5)*sigma*2 + cfg.Drift/60
	}
	if minutes > 0 {
		s.price[assetID] = price
		s.priceAt[assetID] = s.priceAt[assetID].Add(time.Duration(minutes) * time.Minute)
	}
	return price
}

func (s *SyntheticFeed) stepChange(step time.Duration, cfg SyntheticConfig) float64 {
	scale := math.Sqrt(step.Hours())
	return (s.rng.Float64()-0.5)*cfg.Volatility*2*scale + cfg.Drift*step.Hours()
}

// backfill builds history bars that end at price, walking backwards
func (s *SyntheticFeed) backfill(current time.Time, step time.Duration, price float64, cfg SyntheticConfig) []models.Bar {
	closes := make([]float64, s.history)
	closes[s.history-1] = price
	for i := s.history - 1; i > 0; i-- {
		closes[i-1] = closes[i] / (1 + s.stepChange(step, cfg))
	}
	bars := make([]models.Bar, s.history)
	for i := range closes {
		open := closes[i]
		if i > 0 {
			open = closes[i-1]
		}
		bars[i] = s.makeBar(current.Add(-time.Duration(s.history-1-i)*step), open, closes[i], step, cfg)
	}
	return bars
}

// bridge walks n bars from prev and bends the path so the last close is price
func (s *SyntheticFeed) bridge(current time.Time, step time.Duration, n int, prev, price float64, cfg SyntheticConfig) []models.Bar {
	closes := make([]float64, n)
	p := prev
	for i := range closes {
		p *= 1 + s.stepChange(step, cfg)
		closes[i] = p
	}
	gap := price - closes[n-1]
	bars := make([]models.Bar, n)
	open := prev
	for i := range closes {
		c := closes[i] + gap*float64(i+1)/float64(n)
		bars[i] = s.makeBar(current.Add(-time.Duration(n-1-i)*step), open, c, step, cfg)
		open = c
	}
	return bars
}

func (s *SyntheticFeed) makeBar(openTime time.Time, open, closePrice float64, step time.Duration, cfg SyntheticConfig) models.Bar {
	wick := cfg.Volatility * 0.5 * math.Sqrt(step.Hours())
	return models.Bar{
		OpenTime: openTime,
		Open:     open,
		High:     math.Max(open, closePrice) * (1 + s.rng.Float64()*wick),
		Low:      math.Min(open, closePrice) * (1 - s.rng.Float64()*wick),
		Close:    closePrice,
		Volume:   1000 + s.rng.Float64()*5000,
	}
}

func (s *SyntheticFeed) trim(key string) {
	s.MemoryFeed.mu.Lock()
	defer s.MemoryFeed.mu.Unlock()
	if series := s.MemoryFeed.bars[key]; len(series) > s.history*2 {
		s.MemoryFeed.bars[key] = append([]models.Bar(nil), series[len(series)-s.history:]...)
	}
}

// StaticSentiment serves sentiment values set by the caller
type StaticSentiment struct {
	mu          sync.RWMutex
	positioning map[string]float64
	news        map[string]float64
	events      map[string][]confidence.ScheduledEvent
}

// NewStaticSentiment creates an empty sentiment feed
func NewStaticSentiment() *StaticSentiment {
	return &StaticSentiment{
		positioning: make(map[string]float64),
		news:        make(map[string]float64),
		events:      make(map[string][]confidence.ScheduledEvent),
	}
}

// SetPositioning sets a bias in -1..1
func (s *StaticSentiment) SetPositioning(assetID string, bias float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positioning[assetID] = bias
}

// SetNews sets a news score in -1..1
func (s *StaticSentiment) SetNews(assetID string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.news[assetID] = score
}

// AddEvent schedules a calendar event for an asset
func (s *StaticSentiment) AddEvent(assetID string, ev confidence.ScheduledEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[assetID] = append(s.events[assetID], ev)
}

func (s *StaticSentiment) GetPositioning(_ context.Context, assetID string) (*float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.positioning[assetID]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *StaticSentiment) GetNewsSentiment(_ context.Context, assetID string) (*float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.news[assetID]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *StaticSentiment) GetPendingEvents(_ context.Context, assetID string) ([]confidence.ScheduledEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]confidence.ScheduledEvent(nil), s.events[assetID]...), nil
}
