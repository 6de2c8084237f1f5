package tradernet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/helmsman/internal/domain"
)

// positionRow is the wire shape of one portfolio position.
type positionRow struct {
	Symbol       string  `json:"i"`
	Quantity     float64 `json:"q"`
	AvgPrice     float64 `json:"bal_price_a"`
	CurrentPrice float64 `json:"mkt_price"`
	Currency     string  `json:"curr"`
	OpenDate     string  `json:"open_dt"`
}

// cashRow is the wire shape of one cash balance.
type cashRow struct {
	Currency string  `json:"curr"`
	Amount   float64 `json:"s"`
}

// GetPortfolio returns current positions and per-currency cash.
func (c *Client) GetPortfolio(ctx context.Context) ([]domain.Position, []domain.CashBalance, error) {
	result, err := c.request(ctx, "getPositionJson", map[string]interface{}{})
	if err != nil {
		return nil, nil, err
	}

	var payload struct {
		Result struct {
			Ps struct {
				Pos []positionRow `json:"pos"`
				Acc []cashRow     `json:"acc"`
			} `json:"ps"`
		} `json:"result"`
	}
	if err := decodeInto(result, &payload); err != nil {
		return nil, nil, &domain.BrokerError{Op: "getPositionJson", Err: err}
	}

	positions := make([]domain.Position, 0, len(payload.Result.Ps.Pos))
	for _, row := range payload.Result.Ps.Pos {
		p := domain.Position{
			Symbol:       strings.ToUpper(row.Symbol),
			Quantity:     int(row.Quantity),
			AvgPrice:     row.AvgPrice,
			CurrentPrice: row.CurrentPrice,
			Currency:     strings.ToUpper(row.Currency),
		}
		if t, err := time.Parse("2006-01-02", row.OpenDate); err == nil {
			p.FirstBoughtAt = t
		}
		positions = append(positions, p)
	}

	balances := make([]domain.CashBalance, 0, len(payload.Result.Ps.Acc))
	for _, row := range payload.Result.Ps.Acc {
		balances = append(balances, domain.CashBalance{
			Currency: strings.ToUpper(row.Currency),
			Amount:   row.Amount,
		})
	}

	return positions, balances, nil
}

// GetQuote returns the current quote for one symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	quotes, err := c.GetQuotes(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	q, ok := quotes[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("quote %s: %w", symbol, domain.ErrNotFound)
	}
	return q, nil
}

// GetQuotes returns current quotes for a symbol set.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) (map[string]*domain.Quote, error) {
	result, err := c.request(ctx, "getStockQuotesJson", map[string]interface{}{
		"tickers": strings.Join(symbols, ","),
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Result struct {
			Q []struct {
				Symbol   string  `json:"c"`
				Price    float64 `json:"ltp"`
				Bid      float64 `json:"bbp"`
				Ask      float64 `json:"bap"`
				Currency string  `json:"curr"`
			} `json:"q"`
		} `json:"result"`
	}
	if err := decodeInto(result, &payload); err != nil {
		return nil, &domain.BrokerError{Op: "getStockQuotesJson", Err: err}
	}

	quotes := make(map[string]*domain.Quote, len(payload.Result.Q))
	for _, row := range payload.Result.Q {
		symbol := strings.ToUpper(row.Symbol)
		quotes[symbol] = &domain.Quote{
			Symbol:   symbol,
			Price:    row.Price,
			Bid:      row.Bid,
			Ask:      row.Ask,
			Currency: strings.ToUpper(row.Currency),
		}
	}
	return quotes, nil
}

// PlaceOrder submits a market order and returns the broker order id.
func (c *Client) PlaceOrder(ctx context.Context, symbol, side string, quantity float64) (*domain.OrderResult, error) {
	actionID := 1 // buy
	if strings.EqualFold(side, "SELL") {
		actionID = 3
	}

	result, err := c.request(ctx, "putTradeOrder", map[string]interface{}{
		"instr_name": symbol,
		"action_id":  actionID,
		"order_type": 1, // market
		"qty":        quantity,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		OrderID interface{} `json:"order_id"`
		Price   float64     `json:"price"`
	}
	if err := decodeInto(result, &payload); err != nil {
		return nil, &domain.BrokerError{Op: "putTradeOrder", Err: err}
	}

	return &domain.OrderResult{
		OrderID:  fmt.Sprintf("%v", payload.OrderID),
		Symbol:   strings.ToUpper(symbol),
		Side:     strings.ToUpper(side),
		Quantity: quantity,
		Price:    payload.Price,
	}, nil
}

// GetRecentOrders returns orders placed within the lookback window.
func (c *Client) GetRecentOrders(ctx context.Context, lookbackHours int) ([]domain.OrderResult, error) {
	trades, err := c.GetTradesHistory(ctx, time.Now().Add(-time.Duration(lookbackHours)*time.Hour))
	if err != nil {
		return nil, err
	}
	orders := make([]domain.OrderResult, 0, len(trades))
	for _, t := range trades {
		orders = append(orders, domain.OrderResult{
			OrderID:  t.ID,
			Symbol:   t.Symbol,
			Side:     t.Side,
			Quantity: t.Quantity,
			Price:    t.Price,
		})
	}
	return orders, nil
}

// BrokerTrade is one executed trade as the broker reports it.
type BrokerTrade struct {
	ID                 string
	Symbol             string
	Side               string
	Quantity           float64
	Price              float64
	Currency           string
	Commission         float64
	CommissionCurrency string
	ExecutedAt         time.Time
}

// GetTradesHistory returns executed trades since startDate, newest first.
func (c *Client) GetTradesHistory(ctx context.Context, startDate time.Time) ([]BrokerTrade, error) {
	result, err := c.request(ctx, "getTradesJson", map[string]interface{}{
		"beginDate": startDate.Format("02.01.2006"),
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Result struct {
			Trades []struct {
				ID                 interface{} `json:"id"`
				Symbol             string      `json:"instr_nm"`
				Side               string      `json:"operation"`
				Quantity           float64     `json:"q"`
				Price              float64     `json:"p"`
				Currency           string      `json:"curr_c"`
				Commission         float64     `json:"commission"`
				CommissionCurrency string      `json:"commission_currency"`
				Date               string      `json:"date"`
			} `json:"trades"`
		} `json:"result"`
	}
	if err := decodeInto(result, &payload); err != nil {
		return nil, &domain.BrokerError{Op: "getTradesJson", Err: err}
	}

	trades := make([]BrokerTrade, 0, len(payload.Result.Trades))
	for _, row := range payload.Result.Trades {
		t := BrokerTrade{
			ID:                 fmt.Sprintf("%v", row.ID),
			Symbol:             strings.ToUpper(row.Symbol),
			Side:               normalizeSide(row.Side),
			Quantity:           row.Quantity,
			Price:              row.Price,
			Currency:           strings.ToUpper(row.Currency),
			Commission:         row.Commission,
			CommissionCurrency: strings.ToUpper(row.CommissionCurrency),
		}
		if parsed, err := time.Parse("2006-01-02 15:04:05", row.Date); err == nil {
			t.ExecutedAt = parsed
		}
		trades = append(trades, t)
	}
	return trades, nil
}

func normalizeSide(op string) string {
	if strings.EqualFold(op, "S") || strings.EqualFold(op, "SELL") {
		return "SELL"
	}
	return "BUY"
}

// BrokerCashFlow is one account transaction as the broker reports it.
type BrokerCashFlow struct {
	ID         string
	FlowType   string
	Amount     float64
	Currency   string
	OccurredAt time.Time
	Comment    string
}

// GetCashFlows returns account transactions since startDate.
func (c *Client) GetCashFlows(ctx context.Context, startDate time.Time) ([]BrokerCashFlow, error) {
	result, err := c.request(ctx, "getBrokerTransactions", map[string]interface{}{
		"date_from": startDate.Format("02.01.2006"),
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Result struct {
			Transactions []struct {
				ID       interface{} `json:"id"`
				TypeID   string      `json:"type_id"`
				Amount   float64     `json:"sm"`
				Currency string      `json:"curr"`
				Date     string      `json:"date"`
				Comment  string      `json:"comment"`
			} `json:"transactions"`
		} `json:"result"`
	}
	if err := decodeInto(result, &payload); err != nil {
		return nil, &domain.BrokerError{Op: "getBrokerTransactions", Err: err}
	}

	flows := make([]BrokerCashFlow, 0, len(payload.Result.Transactions))
	for _, row := range payload.Result.Transactions {
		f := BrokerCashFlow{
			ID:       fmt.Sprintf("%v", row.ID),
			FlowType: row.TypeID,
			Amount:   row.Amount,
			Currency: strings.ToUpper(row.Currency),
			Comment:  row.Comment,
		}
		if parsed, err := time.Parse("2006-01-02 15:04:05", row.Date); err == nil {
			f.OccurredAt = parsed
		}
		flows = append(flows, f)
	}
	return flows, nil
}

// SecurityInfo is instrument metadata from the broker.
type SecurityInfo struct {
	Symbol   string  `json:"ticker"`
	Name     string  `json:"name"`
	ISIN     string  `json:"isin"`
	Currency string  `json:"curr"`
	Lot      int     `json:"lot"`
	MarketID string  `json:"mkt_short_code"`
	Price    float64 `json:"ltp"`
}

// GetSecurityInfo returns instrument metadata for a symbol.
func (c *Client) GetSecurityInfo(ctx context.Context, symbol string) (*SecurityInfo, error) {
	result, err := c.request(ctx, "getSecurityInfo", map[string]interface{}{
		"ticker": symbol, "sup": true,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Result SecurityInfo `json:"result"`
	}
	if err := decodeInto(result, &payload); err != nil {
		return nil, &domain.BrokerError{Op: "getSecurityInfo", Err: err}
	}
	if payload.Result.Symbol == "" {
		return nil, fmt.Errorf("security info %s: %w", symbol, domain.ErrNotFound)
	}
	info := payload.Result
	info.Symbol = strings.ToUpper(info.Symbol)
	info.Currency = strings.ToUpper(info.Currency)
	if info.Lot < 1 {
		info.Lot = 1
	}
	return &info, nil
}

// FindSymbol searches instruments by free-text query.
func (c *Client) FindSymbol(ctx context.Context, query string) ([]SecurityInfo, error) {
	result, err := c.request(ctx, "tickerFinder", map[string]interface{}{
		"text": query,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Found []SecurityInfo `json:"found"`
	}
	if err := decodeInto(result, &payload); err != nil {
		return nil, &domain.BrokerError{Op: "tickerFinder", Err: err}
	}
	for i := range payload.Found {
		payload.Found[i].Symbol = strings.ToUpper(payload.Found[i].Symbol)
	}
	return payload.Found, nil
}

// MarketState is one market's status from getMarketStatus.
type MarketState struct {
	ID     string `json:"i"`
	Name   string `json:"n2"`
	Status string `json:"s"` // OPEN, CLOSED, ...
}

// GetMarketStatus returns the broker's view of per-market open state.
func (c *Client) GetMarketStatus(ctx context.Context) ([]MarketState, error) {
	result, err := c.request(ctx, "getMarketStatus", map[string]interface{}{})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Result struct {
			M []MarketState `json:"m"`
		} `json:"result"`
	}
	if err := decodeInto(result, &payload); err != nil {
		return nil, &domain.BrokerError{Op: "getMarketStatus", Err: err}
	}
	return payload.Result.M, nil
}

// GetFXRate quotes an FX pair via its pair instrument, e.g. EURUSD_T0.ITS.
func (c *Client) GetFXRate(ctx context.Context, pairSymbol string) (float64, error) {
	quote, err := c.GetQuote(ctx, pairSymbol)
	if err != nil {
		return 0, err
	}
	if quote.Price <= 0 {
		return 0, fmt.Errorf("fx pair %s: no price", pairSymbol)
	}
	return quote.Price, nil
}
