package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
	"github.com/shopspring/decimal"

	"meanrev/internal/logger"
)

// Compile-time interface check.
var _ Gateway = (*AlpacaGateway)(nil)

// AlpacaGateway implements Gateway on the Alpaca trading and market-data
// APIs. Order updates arrive on the trading stream; trades and bars on the
// market-data websocket.
type AlpacaGateway struct {
	client    *alpaca.Client
	apiKey    string
	apiSecret string
	feed      string
	dataURL   string
}

type AlpacaOpts struct {
	APIKey    string
	APISecret string
	BaseURL   string
	DataURL   string
	Feed      string
}

func NewAlpacaGateway(opts AlpacaOpts) *AlpacaGateway {
	return &AlpacaGateway{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.BaseURL,
		}),
		apiKey:    opts.APIKey,
		apiSecret: opts.APISecret,
		feed:      opts.Feed,
		dataURL:   opts.DataURL,
	}
}

func (g *AlpacaGateway) Name() string { return "alpaca" }

func (g *AlpacaGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	qty := decimal.NewFromFloat(req.Qty)
	order, err := g.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpaca.Side(req.Side),
		Type:          alpaca.OrderType(req.Type),
		TimeInForce:   alpaca.TimeInForce(req.TimeInForce),
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca place order %s %s %v: %w", req.Side, req.Symbol, req.Qty, err)
	}
	return &OrderAck{
		BrokerOrderID: order.ID,
		ClientOrderID: order.ClientOrderID,
		Status:        string(order.Status),
		SubmittedAt:   order.SubmittedAt,
	}, nil
}

func (g *AlpacaGateway) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := g.client.CancelOrder(brokerOrderID); err != nil {
		return fmt.Errorf("alpaca cancel order %s: %w", brokerOrderID, err)
	}
	return nil
}

func (g *AlpacaGateway) GetAccount(ctx context.Context) (*AccountInfo, error) {
	acct, err := g.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("alpaca get account: %w", err)
	}
	return &AccountInfo{
		Cash:           acct.Cash.InexactFloat64(),
		PortfolioValue: acct.PortfolioValue.InexactFloat64(),
	}, nil
}

func (g *AlpacaGateway) GetPosition(ctx context.Context, symbol string) (float64, error) {
	pos, err := g.client.GetPosition(symbol)
	if err != nil {
		// No open position comes back as a 404, which means flat.
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("alpaca get position %s: %w", symbol, err)
	}
	return pos.Qty.InexactFloat64(), nil
}

type alpacaStream struct {
	cancel context.CancelFunc
	stocks *stream.StocksClient
}

func (s *alpacaStream) Close() error {
	s.cancel()
	return nil
}

func (g *AlpacaGateway) Subscribe(ctx context.Context, symbols []string, handlers StreamHandlers) (StreamHandle, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	opts := []stream.StockOption{
		stream.WithCredentials(g.apiKey, g.apiSecret),
	}
	if g.dataURL != "" {
		opts = append(opts, stream.WithBaseURL(g.dataURL))
	}
	if handlers.OnTrade != nil {
		opts = append(opts, stream.WithTrades(func(t stream.Trade) {
			handlers.OnTrade(Trade{
				Symbol:    t.Symbol,
				Price:     t.Price,
				Size:      float64(t.Size),
				Timestamp: t.Timestamp,
			})
		}, symbols...))
	}
	if handlers.OnBar != nil {
		opts = append(opts, stream.WithBars(func(b stream.Bar) {
			handlers.OnBar(Bar{
				Symbol:    b.Symbol,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    float64(b.Volume),
				Timestamp: b.Timestamp,
			})
		}, symbols...))
	}

	stocks := stream.NewStocksClient(marketdata.Feed(g.feed), opts...)
	if err := stocks.Connect(streamCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("alpaca stream connect: %w", err)
	}
	go func() {
		if err := <-stocks.Terminated(); err != nil {
			logger.Errorf("alpaca market-data stream terminated: %v", err)
		}
	}()

	if handlers.OnOrderUpdate != nil {
		g.client.StreamTradeUpdatesInBackground(streamCtx, func(tu alpaca.TradeUpdate) {
			ts := time.Now()
			if tu.Timestamp != nil {
				ts = *tu.Timestamp
			}
			handlers.OnOrderUpdate(OrderUpdate{
				Event:         tu.Event,
				ClientOrderID: tu.Order.ClientOrderID,
				BrokerOrderID: tu.Order.ID,
				Status:        string(tu.Order.Status),
				Side:          Side(tu.Order.Side),
				FilledQty:     tu.Order.FilledQty.InexactFloat64(),
				Timestamp:     ts,
			})
		})
	}

	return &alpacaStream{cancel: cancel, stocks: stocks}, nil
}
