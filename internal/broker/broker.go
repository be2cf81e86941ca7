package broker

import (
	"context"
	"time"

	"trading-decision-engine/internal/confidence"
	"trading-decision-engine/internal/models"
)

// PriceFeed supplies bars and live quotes per asset
type PriceFeed interface {
	// GetRecentBars returns up to count bars, oldest first
	GetRecentBars(ctx context.Context, assetID, timeframe string, count int) ([]models.Bar, error)
	GetLiveTick(ctx context.Context, assetID string) (models.Tick, error)
}

// OrderRequest is a market order with protective levels attached
type OrderRequest struct {
	ClientID   string // stable across retries so the broker can drop duplicates
	AssetID    string
	Symbol     string
	Direction  models.Direction
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
}

// OrderResult is a filled order
type OrderResult struct {
	Ticket    string
	FillPrice float64
	FilledAt  time.Time
}

// Gateway is one broker connection
type Gateway interface {
	Name() string
	ListOpenPositions(ctx context.Context) ([]models.BrokerPosition, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	ModifyOrder(ctx context.Context, ticket string, stopLoss, takeProfit float64) error
	ClosePosition(ctx context.Context, ticket string) (float64, error)
	GetAccountState(ctx context.Context) (models.AccountState, error)
}

// SentimentFeed supplies positioning, news and calendar data. Nil values mean no data.
type SentimentFeed interface {
	GetPositioning(ctx context.Context, assetID string) (*float64, error)
	GetNewsSentiment(ctx context.Context, assetID string) (*float64, error)
	GetPendingEvents(ctx context.Context, assetID string) ([]confidence.ScheduledEvent, error)
}

// LoadSentiment gathers everything the sentiment pillar reads. Feed errors
// leave the matching field empty so the pillar scores neutral.
func LoadSentiment(ctx context.Context, feed SentimentFeed, assetID string) (confidence.Sentiment, []error) {
	var s confidence.Sentiment
	if feed == nil {
		return s, nil
	}
	var errs []error
	if v, err := feed.GetPositioning(ctx, assetID); err != nil {
		errs = append(errs, err)
	} else {
		s.Positioning = v
	}
	if v, err := feed.GetNewsSentiment(ctx, assetID); err != nil {
		errs = append(errs, err)
	} else {
		s.News = v
	}
	if events, err := feed.GetPendingEvents(ctx, assetID); err != nil {
		errs = append(errs, err)
	} else {
		s.Events = events
	}
	return s, errs
}
