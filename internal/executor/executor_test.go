package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundarb/internal/config"
	"fundarb/internal/domain"
	"fundarb/internal/exchange"
)

// placedOrder records one trade call against the fake gateway.
type placedOrder struct {
	symbol     string
	side       domain.OrderSide
	qty        decimal.Decimal
	reduceOnly bool
}

// fakeGateway scripts leg outcomes and records every trade call.
type fakeGateway struct {
	mu         sync.Mutex
	price      decimal.Decimal
	spotErr    error
	perpErr    error
	spotOrders []placedOrder
	perpOrders []placedOrder
	ticker     domain.Ticker
}

func newFakeGateway(price decimal.Decimal) *fakeGateway {
	return &fakeGateway{
		price:  price,
		ticker: domain.Ticker{LastPrice: price},
	}
}

func (g *fakeGateway) PlaceSpotOrder(_ context.Context, symbol string, side domain.OrderSide, qty decimal.Decimal, _ domain.OrderType) (domain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spotOrders = append(g.spotOrders, placedOrder{symbol: symbol, side: side, qty: qty})
	if g.spotErr != nil {
		return domain.Order{}, g.spotErr
	}
	return domain.Order{
		ID: "spot-1", Symbol: symbol, Side: side, Type: domain.OrderTypeMarket,
		Price: g.price, Amount: qty, Filled: qty,
		Status: domain.OrderStatusFilled, CreatedAt: time.Now(),
	}, nil
}

func (g *fakeGateway) PlacePerpOrder(_ context.Context, symbol string, side domain.OrderSide, qty decimal.Decimal, _ domain.OrderType, reduceOnly bool) (domain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.perpOrders = append(g.perpOrders, placedOrder{symbol: symbol, side: side, qty: qty, reduceOnly: reduceOnly})
	if g.perpErr != nil {
		return domain.Order{}, g.perpErr
	}
	return domain.Order{
		ID: "perp-1", Symbol: symbol, Side: side, Type: domain.OrderTypeMarket,
		Price: g.price, Amount: qty, Filled: qty,
		Status: domain.OrderStatusFilled, CreatedAt: time.Now(),
	}, nil
}

func (g *fakeGateway) SetLeverage(context.Context, string, int) error { return nil }
func (g *fakeGateway) GetTicker(context.Context, string) (domain.Ticker, error) {
	return g.ticker, nil
}

func (g *fakeGateway) GetFundingRate(context.Context, string) (domain.FundingRate, error) {
	return domain.FundingRate{}, nil
}
func (g *fakeGateway) GetFundingRates(context.Context) ([]domain.FundingRate, error) {
	return nil, nil
}
func (g *fakeGateway) GetOrderBook(context.Context, string, int) (domain.OrderBook, error) {
	return domain.OrderBook{}, nil
}
func (g *fakeGateway) GetTickers(context.Context) ([]domain.Ticker, error) { return nil, nil }
func (g *fakeGateway) HasSpotMarket(context.Context, string) (bool, error) { return true, nil }
func (g *fakeGateway) GetSpotBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (g *fakeGateway) GetPerpBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (g *fakeGateway) GetPosition(context.Context, string) (domain.PerpPosition, error) {
	return domain.PerpPosition{}, nil
}
func (g *fakeGateway) GetPositions(context.Context) ([]domain.PerpPosition, error) {
	return nil, nil
}
func (g *fakeGateway) GetSpotBalances(context.Context) (map[string]exchange.SpotBalance, error) {
	return nil, nil
}
func (g *fakeGateway) GetFundingHistory(context.Context, int64, int) ([]domain.FundingPayment, error) {
	return nil, nil
}
func (g *fakeGateway) Close() error { return nil }

// memStore is an in-memory domain.PositionStore.
type memStore struct {
	mu        sync.Mutex
	positions map[string]domain.ArbitragePosition
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[string]domain.ArbitragePosition)}
}

func (s *memStore) Save(_ context.Context, p domain.ArbitragePosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Symbol] = p
	return nil
}

func (s *memStore) Get(_ context.Context, symbol string) (domain.ArbitragePosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	if !ok {
		return domain.ArbitragePosition{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memStore) List(context.Context) ([]domain.ArbitragePosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ArbitragePosition, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, symbol)
	return nil
}

func (s *memStore) AddFunding(_ context.Context, symbol string, income decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	if !ok {
		return domain.ErrNotFound
	}
	p.FundingEarned = p.FundingEarned.Add(income)
	p.SettlementCount++
	s.positions[symbol] = p
	return nil
}

func (s *memStore) UpdateSpotLeg(_ context.Context, symbol string, qty, value decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	if !ok {
		return domain.ErrNotFound
	}
	p.SpotQty = qty
	p.SpotValue = value
	s.positions[symbol] = p
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.positions)
}

func testPool(rate float64, price int64) domain.Pool {
	return domain.Pool{
		Symbol:      "BTC/USDT:USDT",
		FundingRate: decimal.NewFromFloat(rate),
		Price:       decimal.NewFromInt(price),
	}
}

func newTestExecutor(gw *fakeGateway, store *memStore) *Executor {
	return New(gw, store, nil, config.Defaults().Executor, slog.Default())
}

func TestOpenRejectsNonPositiveRate(t *testing.T) {
	gw := newFakeGateway(decimal.NewFromInt(50))
	store := newMemStore()
	exec := newTestExecutor(gw, store)

	_, err := exec.OpenArbitrage(context.Background(), testPool(-0.001, 50), decimal.NewFromInt(100))
	require.ErrorIs(t, err, domain.ErrNegativeRate)
	assert.Empty(t, gw.spotOrders, "no order may be placed before validation passes")
	assert.Empty(t, gw.perpOrders)
}

func TestOpenCommitsMatchedPosition(t *testing.T) {
	gw := newFakeGateway(decimal.NewFromInt(50))
	store := newMemStore()
	exec := newTestExecutor(gw, store)

	pos, err := exec.OpenArbitrage(context.Background(), testPool(0.006, 50), decimal.NewFromInt(100))
	require.NoError(t, err)

	two := decimal.NewFromInt(2)
	assert.True(t, pos.SpotQty.Equal(two), "spot qty %s", pos.SpotQty)
	assert.True(t, pos.PerpQty.Equal(two.Neg()), "perp qty %s", pos.PerpQty)
	assert.True(t, pos.NotionalValue().Equal(decimal.NewFromInt(100)))
	assert.True(t, pos.Delta().IsZero())
	assert.Equal(t, 1, store.count())
}

func TestOpenCompensatesSpotWhenPerpFails(t *testing.T) {
	gw := newFakeGateway(decimal.NewFromInt(50))
	gw.perpErr = errors.New("margin insufficient")
	store := newMemStore()
	exec := newTestExecutor(gw, store)

	_, err := exec.OpenArbitrage(context.Background(), testPool(0.006, 50), decimal.NewFromInt(100))
	require.Error(t, err)

	// The filled 2 spot units were sold back.
	require.Len(t, gw.spotOrders, 2)
	assert.Equal(t, domain.OrderSideBuy, gw.spotOrders[0].side)
	assert.Equal(t, domain.OrderSideSell, gw.spotOrders[1].side)
	assert.True(t, gw.spotOrders[1].qty.Equal(decimal.NewFromInt(2)))

	assert.Equal(t, 0, store.count(), "store must hold nothing after compensation")
	_, held := exec.Position("BTC/USDT:USDT")
	assert.False(t, held)
}

func TestOpenCompensatesPerpWhenSpotFails(t *testing.T) {
	gw := newFakeGateway(decimal.NewFromInt(50))
	gw.spotErr = errors.New("insufficient balance")
	store := newMemStore()
	exec := newTestExecutor(gw, store)

	_, err := exec.OpenArbitrage(context.Background(), testPool(0.006, 50), decimal.NewFromInt(100))
	require.Error(t, err)

	// The filled perp short was covered reduce-only.
	require.Len(t, gw.perpOrders, 2)
	assert.Equal(t, domain.OrderSideSell, gw.perpOrders[0].side)
	assert.Equal(t, domain.OrderSideBuy, gw.perpOrders[1].side)
	assert.True(t, gw.perpOrders[1].reduceOnly)
	assert.Equal(t, 0, store.count())
}

func TestOpenBothLegsFailIsNoOp(t *testing.T) {
	gw := newFakeGateway(decimal.NewFromInt(50))
	gw.spotErr = errors.New("down")
	gw.perpErr = errors.New("down")
	store := newMemStore()
	exec := newTestExecutor(gw, store)

	_, err := exec.OpenArbitrage(context.Background(), testPool(0.006, 50), decimal.NewFromInt(100))
	require.ErrorIs(t, err, domain.ErrBothLegsFailed)
	assert.Len(t, gw.spotOrders, 1, "no compensation when nothing filled")
	assert.Len(t, gw.perpOrders, 1)
	assert.Equal(t, 0, store.count())
}

func TestOpenRejectsDuplicateSymbol(t *testing.T) {
	gw := newFakeGateway(decimal.NewFromInt(50))
	store := newMemStore()
	exec := newTestExecutor(gw, store)

	_, err := exec.OpenArbitrage(context.Background(), testPool(0.006, 50), decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = exec.OpenArbitrage(context.Background(), testPool(0.006, 50), decimal.NewFromInt(100))
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCloseRemovesPositionAndRealizesFunding(t *testing.T) {
	gw := newFakeGateway(decimal.NewFromInt(50))
	store := newMemStore()
	exec := newTestExecutor(gw, store)

	_, err := exec.OpenArbitrage(context.Background(), testPool(0.006, 50), decimal.NewFromInt(100))
	require.NoError(t, err)
	require.NoError(t, exec.ApplyFunding(context.Background(), "BTC/USDT:USDT", decimal.NewFromFloat(0.6)))

	realized, err := exec.CloseArbitrage(context.Background(), "BTC/USDT:USDT")
	require.NoError(t, err)

	// Flat price and zero fees: the realized profit is exactly the funding.
	assert.True(t, realized.Equal(decimal.NewFromFloat(0.6)), "realized %s", realized)
	assert.Equal(t, 0, store.count())
	_, held := exec.Position("BTC/USDT:USDT")
	assert.False(t, held)

	// Unwind used a reduce-only cover.
	last := gw.perpOrders[len(gw.perpOrders)-1]
	assert.Equal(t, domain.OrderSideBuy, last.side)
	assert.True(t, last.reduceOnly)
}

func TestCloseKeepsRecordWhenOneLegFails(t *testing.T) {
	gw := newFakeGateway(decimal.NewFromInt(50))
	store := newMemStore()
	exec := newTestExecutor(gw, store)

	_, err := exec.OpenArbitrage(context.Background(), testPool(0.006, 50), decimal.NewFromInt(100))
	require.NoError(t, err)

	gw.perpErr = errors.New("exchange rejected")
	_, err = exec.CloseArbitrage(context.Background(), "BTC/USDT:USDT")
	require.Error(t, err)

	assert.Equal(t, 1, store.count(), "half-closed position must stay recorded for reconciliation")
	_, held := exec.Position("BTC/USDT:USDT")
	assert.True(t, held)
}

func TestCloseUnknownSymbol(t *testing.T) {
	gw := newFakeGateway(decimal.NewFromInt(50))
	exec := newTestExecutor(gw, newMemStore())

	_, err := exec.CloseArbitrage(context.Background(), "XRP/USDT:USDT")
	require.ErrorIs(t, err, domain.ErrNoPosition)
}

func TestRebalanceRealignsSpotLeg(t *testing.T) {
	gw := newFakeGateway(decimal.NewFromInt(50))
	store := newMemStore()
	exec := newTestExecutor(gw, store)

	_, err := exec.OpenArbitrage(context.Background(), testPool(0.006, 50), decimal.NewFromInt(100))
	require.NoError(t, err)

	// Force drift: spot leg shrank to 1.5 against a 2-unit perp short.
	exec.mu.Lock()
	p := exec.positions["BTC/USDT:USDT"]
	p.SpotQty = decimal.NewFromFloat(1.5)
	p.SpotValue = p.SpotQty.Mul(p.SpotAvgPrice)
	exec.positions["BTC/USDT:USDT"] = p
	exec.mu.Unlock()

	require.NoError(t, exec.Rebalance(context.Background(), "BTC/USDT:USDT"))

	got, _ := exec.Position("BTC/USDT:USDT")
	assert.True(t, got.SpotQty.Equal(decimal.NewFromInt(2)), "spot qty %s", got.SpotQty)
	assert.True(t, got.Delta().IsZero())

	stored, err := store.Get(context.Background(), "BTC/USDT:USDT")
	require.NoError(t, err)
	assert.True(t, stored.SpotQty.Equal(decimal.NewFromInt(2)))
}

func TestReduceShrinksBothLegs(t *testing.T) {
	gw := newFakeGateway(decimal.NewFromInt(50))
	store := newMemStore()
	exec := newTestExecutor(gw, store)

	_, err := exec.OpenArbitrage(context.Background(), testPool(0.006, 50), decimal.NewFromInt(100))
	require.NoError(t, err)

	require.NoError(t, exec.Reduce(context.Background(), "BTC/USDT:USDT", decimal.NewFromFloat(0.5)))

	got, _ := exec.Position("BTC/USDT:USDT")
	assert.True(t, got.SpotQty.Equal(decimal.NewFromInt(1)), "spot qty %s", got.SpotQty)
	assert.True(t, got.PerpQty.Equal(decimal.NewFromInt(-1)), "perp qty %s", got.PerpQty)
	assert.True(t, got.Delta().IsZero())
}

func TestEstimatePnLMarksToMarket(t *testing.T) {
	gw := newFakeGateway(decimal.NewFromInt(50))
	store := newMemStore()
	exec := newTestExecutor(gw, store)

	_, err := exec.OpenArbitrage(context.Background(), testPool(0.006, 50), decimal.NewFromInt(100))
	require.NoError(t, err)
	require.NoError(t, exec.ApplyFunding(context.Background(), "BTC/USDT:USDT", decimal.NewFromFloat(0.3)))

	// Price moved to 55: spot gains 10, perp short loses 10, net is funding.
	gw.ticker = domain.Ticker{LastPrice: decimal.NewFromInt(55)}

	est, err := exec.EstimatePnL(context.Background(), "BTC/USDT:USDT")
	require.NoError(t, err)
	assert.True(t, est.SpotPnL.Equal(decimal.NewFromInt(10)), "spot pnl %s", est.SpotPnL)
	assert.True(t, est.PerpPnL.Equal(decimal.NewFromInt(-10)), "perp pnl %s", est.PerpPnL)
	assert.True(t, est.Net.Equal(decimal.NewFromFloat(0.3)), "net %s", est.Net)
}

func TestSyncLoadsPersistedPositions(t *testing.T) {
	gw := newFakeGateway(decimal.NewFromInt(50))
	store := newMemStore()
	require.NoError(t, store.Save(context.Background(), domain.ArbitragePosition{
		Symbol:  "ETH/USDT:USDT",
		SpotQty: decimal.NewFromInt(5),
		PerpQty: decimal.NewFromInt(-5),
	}))

	exec := newTestExecutor(gw, store)
	require.NoError(t, exec.Sync(context.Background()))

	_, held := exec.Position("ETH/USDT:USDT")
	assert.True(t, held)
	assert.Len(t, exec.Positions(), 1)
}
