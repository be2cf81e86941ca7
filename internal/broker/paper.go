package broker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trading-decision-engine/internal/models"
)

// PaperConfig configures a simulated broker account
type PaperConfig struct {
	Name     string  `json:"name" validate:"required"`
	Balance  float64 `json:"balance" default:"10000" validate:"gt=0"`
	Leverage float64 `json:"leverage" default:"100" validate:"gt=0"`
}

type paperPosition struct {
	models.BrokerPosition
	assetID   string
	unitValue float64
}

// PaperGateway fills market orders against a price feed and keeps its own
// book and balance. Used for dry runs and tests.
type PaperGateway struct {
	config    PaperConfig
	feed      PriceFeed
	unitValue func(assetID string) float64

	mu        sync.RWMutex
	balance   float64
	positions map[string]*paperPosition
	byClient  map[string]OrderResult
	failures  map[string]error
}

// NewPaperGateway creates a simulated broker. unitValue may be nil.
func NewPaperGateway(config PaperConfig, feed PriceFeed, unitValue func(assetID string) float64) *PaperGateway {
	if config.Leverage <= 0 {
		config.Leverage = 100
	}
	if unitValue == nil {
		unitValue = func(string) float64 { return 1 }
	}
	return &PaperGateway{
		config:    config,
		feed:      feed,
		unitValue: unitValue,
		balance:   config.Balance,
		positions: make(map[string]*paperPosition),
		byClient:  make(map[string]OrderResult),
		failures:  make(map[string]error),
	}
}

func (p *PaperGateway) Name() string {
	return p.config.Name
}

// FailNext makes every call to op return err until cleared with a nil err
func (p *PaperGateway) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

func (p *PaperGateway) failure(op string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.failures[op]
}

func (p *PaperGateway) ListOpenPositions(ctx context.Context) ([]models.BrokerPosition, error) {
	if err := p.failure("list_open_positions"); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.BrokerPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos.BrokerPosition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (p *PaperGateway) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := p.failure("place_order"); err != nil {
		return OrderResult{}, err
	}
	if req.Quantity <= 0 {
		return OrderResult{}, models.Veto(models.ErrInvalidSignal, "quantity %.4f must be positive", req.Quantity)
	}

	p.mu.RLock()
	prior, dup := p.byClient[req.ClientID]
	p.mu.RUnlock()
	if req.ClientID != "" && dup {
		return prior, nil
	}

	tick, err := p.feed.GetLiveTick(ctx, req.AssetID)
	if err != nil {
		return OrderResult{}, fmt.Errorf("quote for %s: %w", req.AssetID, err)
	}
	fill := tick.Ask
	if req.Direction == models.Short {
		fill = tick.Bid
	}
	if fill <= 0 {
		fill = tick.Price
	}

	res := OrderResult{Ticket: uuid.New().String()[:8], FillPrice: fill, FilledAt: time.Now()}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[res.Ticket] = &paperPosition{
		BrokerPosition: models.BrokerPosition{
			Ticket:     res.Ticket,
			Symbol:     req.Symbol,
			Direction:  req.Direction,
			Quantity:   req.Quantity,
			EntryPrice: fill,
			StopLoss:   req.StopLoss,
			TakeProfit: req.TakeProfit,
		},
		assetID:   req.AssetID,
		unitValue: p.unitValue(req.AssetID),
	}
	if req.ClientID != "" {
		p.byClient[req.ClientID] = res
	}
	return res, nil
}

func (p *PaperGateway) ModifyOrder(ctx context.Context, ticket string, stopLoss, takeProfit float64) error {
	if err := p.failure("modify_order"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[ticket]
	if !ok {
		return models.Veto(models.ErrInvalidSignal, "ticket %s not open", ticket)
	}
	pos.StopLoss = stopLoss
	pos.TakeProfit = takeProfit
	return nil
}

func (p *PaperGateway) ClosePosition(ctx context.Context, ticket string) (float64, error) {
	if err := p.failure("close_position"); err != nil {
		return 0, err
	}
	p.mu.RLock()
	pos, ok := p.positions[ticket]
	p.mu.RUnlock()
	if !ok {
		return 0, models.Veto(models.ErrInvalidSignal, "ticket %s not open", ticket)
	}

	tick, err := p.feed.GetLiveTick(ctx, pos.assetID)
	if err != nil {
		return 0, fmt.Errorf("quote for %s: %w", pos.assetID, err)
	}
	exit := tick.Bid
	if pos.Direction == models.Short {
		exit = tick.Ask
	}
	if exit <= 0 {
		exit = tick.Price
	}
	p.settle(ticket, exit)
	return exit, nil
}

// CloseAt removes a position as if the broker closed it at price, for
// stop-outs that happen between reconciles.
func (p *PaperGateway) CloseAt(ticket string, price float64) bool {
	p.mu.RLock()
	_, ok := p.positions[ticket]
	p.mu.RUnlock()
	if ok {
		p.settle(ticket, price)
	}
	return ok
}

func (p *PaperGateway) settle(ticket string, exit float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[ticket]
	if !ok {
		return
	}
	p.balance += pnl(pos.BrokerPosition, exit, pos.unitValue)
	delete(p.positions, ticket)
}

func (p *PaperGateway) GetAccountState(ctx context.Context) (models.AccountState, error) {
	if err := p.failure("get_account_state"); err != nil {
		return models.AccountState{}, err
	}
	p.mu.RLock()
	open := make([]paperPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		open = append(open, *pos)
	}
	balance := p.balance
	p.mu.RUnlock()

	state := models.AccountState{Balance: balance, Equity: balance}
	for _, pos := range open {
		tick, err := p.feed.GetLiveTick(ctx, pos.assetID)
		if err != nil {
			continue
		}
		state.Equity += pnl(pos.BrokerPosition, tick.Price, pos.unitValue)
		state.Margin += pos.Quantity * tick.Price * pos.unitValue / p.config.Leverage
	}
	return state, nil
}

// pnl of a position at price in account currency
func pnl(pos models.BrokerPosition, price, unitValue float64) float64 {
	move := price - pos.EntryPrice
	if pos.Direction == models.Short {
		move = -move
	}
	return math.Round(move*pos.Quantity*unitValue*100) / 100
}
