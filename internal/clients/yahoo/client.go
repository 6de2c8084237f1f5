// Package yahoo is the fallback market-data provider: historical OHLCV,
// quotes, fundamentals, and classification metadata for securities the
// broker cannot serve. Built on go-yfinance.
package yahoo

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnjoon/go-yfinance/pkg/lookup"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/multi"
	"github.com/wnjoon/go-yfinance/pkg/ticker"

	"github.com/aristath/helmsman/internal/domain"
)

// Client wraps go-yfinance with symbol resolution and retry.
type Client struct {
	log zerolog.Logger
}

// NewClient creates a Yahoo Finance client.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		log: log.With().Str("client", "yahoo").Logger(),
	}
}

// brokerToYahoo converts a broker-suffixed symbol to Yahoo format when no
// explicit yahoo_symbol is configured. US securities drop the suffix,
// Japanese map to .T, Greek to .AT; everything else passes through.
func brokerToYahoo(symbol string) string {
	symbol = strings.ToUpper(symbol)
	switch {
	case strings.HasSuffix(symbol, ".US"):
		return symbol[:len(symbol)-3]
	case strings.HasSuffix(symbol, ".JP"):
		return symbol[:len(symbol)-3] + ".T"
	case strings.HasSuffix(symbol, ".GR"):
		return symbol[:len(symbol)-3] + ".AT"
	default:
		return symbol
	}
}

// resolveSymbol picks the Yahoo symbol: an explicit override wins (ISIN
// overrides are looked up first), otherwise the broker symbol is mapped.
func (c *Client) resolveSymbol(symbol, yahooSymbol string) string {
	if yahooSymbol != "" {
		if domain.DetectIdentifierType(yahooSymbol) == domain.IdentifierISIN {
			resolved, err := c.LookupTickerFromISIN(yahooSymbol)
			if err != nil {
				c.log.Warn().Err(err).Str("isin", yahooSymbol).Msg("ISIN lookup failed, using ISIN directly")
				return yahooSymbol
			}
			return resolved
		}
		return yahooSymbol
	}
	return brokerToYahoo(symbol)
}

// LookupTickerFromISIN resolves an ISIN to a Yahoo ticker symbol.
func (c *Client) LookupTickerFromISIN(isin string) (string, error) {
	if isin == "" {
		return "", fmt.Errorf("ISIN cannot be empty")
	}

	lookupClient, err := lookup.New(isin)
	if err != nil {
		return "", fmt.Errorf("failed to create lookup client: %w", err)
	}
	defer lookupClient.Close()

	results, err := lookupClient.Stock(1)
	if err != nil {
		return "", fmt.Errorf("failed to lookup ISIN: %w", err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("no ticker found for ISIN %s: %w", isin, domain.ErrNotFound)
	}
	return results[0].Symbol, nil
}

// GetCurrentPrice fetches the latest price with exponential-backoff retry.
// Pre/post market prices are accepted when the regular price is missing.
func (c *Client) GetCurrentPrice(symbol, yahooSymbol string, maxRetries int) (float64, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	resolved := c.resolveSymbol(symbol, yahooSymbol)

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(1<<uint(attempt-1)) * time.Second)
		}

		price, err := c.fetchPrice(resolved)
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt+1).Msg("Price fetch failed")
			continue
		}
		return price, nil
	}
	return 0, fmt.Errorf("failed to get price for %s after %d attempts: %w", symbol, maxRetries, lastErr)
}

func (c *Client) fetchPrice(resolved string) (float64, error) {
	t, err := ticker.New(resolved)
	if err != nil {
		return 0, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	quote, err := t.Quote()
	if err == nil && quote != nil {
		switch {
		case quote.RegularMarketPrice > 0:
			return quote.RegularMarketPrice, nil
		case quote.PreMarketPrice > 0:
			return quote.PreMarketPrice, nil
		case quote.PostMarketPrice > 0:
			return quote.PostMarketPrice, nil
		}
	}

	info, err := t.Info()
	if err != nil {
		return 0, fmt.Errorf("failed to get ticker info: %w", err)
	}
	if info.CurrentPrice > 0 {
		return info.CurrentPrice, nil
	}
	if info.RegularMarketPreviousClose > 0 {
		return info.RegularMarketPreviousClose, nil
	}
	return 0, fmt.Errorf("no valid price for %s", resolved)
}

// GetBatchQuotes fetches latest closes for many symbols in one download.
// The map value is the configured yahoo_symbol override (may be empty).
func (c *Client) GetBatchQuotes(symbolMap map[string]string) (map[string]float64, error) {
	if len(symbolMap) == 0 {
		return map[string]float64{}, nil
	}

	symbols := make([]string, 0, len(symbolMap))
	resolvedToBroker := make(map[string]string, len(symbolMap))
	for brokerSymbol, override := range symbolMap {
		resolved := c.resolveSymbol(brokerSymbol, override)
		symbols = append(symbols, resolved)
		resolvedToBroker[resolved] = brokerSymbol
	}

	params := models.DefaultDownloadParams()
	params.Symbols = symbols
	params.Period = "5d"
	params.Interval = "1d"

	result, err := multi.Download(symbols, &params)
	if err != nil {
		return nil, fmt.Errorf("failed to download batch quotes: %w", err)
	}

	quotes := make(map[string]float64)
	for resolved, brokerSymbol := range resolvedToBroker {
		if bars, ok := result.Data[resolved]; ok && len(bars) > 0 {
			quotes[brokerSymbol] = bars[len(bars)-1].Close
		} else if ferr, ok := result.Errors[resolved]; ok {
			c.log.Warn().Err(ferr).Str("symbol", resolved).Msg("Batch quote failed for symbol")
		}
	}
	return quotes, nil
}

// GetHistoricalPrices fetches daily OHLCV bars for a period like "1y".
func (c *Client) GetHistoricalPrices(symbol, yahooSymbol, period string) ([]domain.PriceBar, error) {
	resolved := c.resolveSymbol(symbol, yahooSymbol)

	t, err := ticker.New(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	bars, err := t.History(models.HistoryParams{
		Period:     period,
		Interval:   "1d",
		AutoAdjust: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get historical prices for %s: %w", symbol, err)
	}

	out := make([]domain.PriceBar, 0, len(bars))
	for _, bar := range bars {
		out = append(out, domain.PriceBar{
			Symbol: strings.ToUpper(symbol),
			Date:   bar.Date,
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: int64(bar.Volume),
		})
	}
	return out, nil
}

// Fundamentals is the scoring-relevant subset of ticker info. Zero values
// mean the field was unavailable.
type Fundamentals struct {
	Symbol        string
	PERatio       float64
	ForwardPE     float64
	PriceToBook   float64
	ProfitMargin  float64
	ROE           float64
	DebtToEquity  float64
	DividendYield float64
	PayoutRatio   float64
	MarketCap     float64
}

// GetFundamentals fetches fundamental metrics for scoring.
func (c *Client) GetFundamentals(symbol, yahooSymbol string) (*Fundamentals, error) {
	resolved := c.resolveSymbol(symbol, yahooSymbol)

	t, err := ticker.New(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	info, err := t.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to get ticker info for %s: %w", symbol, err)
	}

	f := &Fundamentals{
		Symbol:        strings.ToUpper(symbol),
		PERatio:       info.TrailingPE,
		ForwardPE:     info.ForwardPE,
		PriceToBook:   info.PriceToBook,
		ProfitMargin:  info.ProfitMargins,
		ROE:           info.ReturnOnEquity,
		DebtToEquity:  info.DebtToEquity,
		DividendYield: info.DividendYield,
		MarketCap:     float64(info.MarketCap),
	}
	// payout = DPS/EPS = (DPS/P) * (P/EPS)
	if info.DividendYield > 0 && info.TrailingPE > 0 {
		f.PayoutRatio = info.DividendYield * info.TrailingPE
	}
	return f, nil
}

// SecurityProfile is the classification metadata used for group
// assignment (geography and industry sleeves).
type SecurityProfile struct {
	Symbol   string
	Name     string
	Country  string
	Exchange string
	Industry string
}

// GetSecurityProfile fetches name, country, exchange, and industry.
func (c *Client) GetSecurityProfile(symbol, yahooSymbol string) (*SecurityProfile, error) {
	resolved := c.resolveSymbol(symbol, yahooSymbol)

	t, err := ticker.New(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	info, err := t.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to get ticker info for %s: %w", symbol, err)
	}

	name := info.LongName
	if name == "" {
		name = info.ShortName
	}
	return &SecurityProfile{
		Symbol:   strings.ToUpper(symbol),
		Name:     name,
		Country:  info.Country,
		Exchange: info.Exchange,
		Industry: info.Industry,
	}, nil
}

// AnalystOpinion is the sell-side consensus condensed to a [0,1] score.
type AnalystOpinion struct {
	Symbol         string
	Recommendation string
	TargetPrice    float64
	UpsidePct      float64
	NumAnalysts    int
	Score          float64
}

var recommendationScores = map[string]float64{
	"strongbuy":  1.0,
	"buy":        0.8,
	"hold":       0.5,
	"sell":       0.2,
	"strongsell": 0.0,
}

// scoreRecommendation maps a Yahoo recommendation key onto [0,1].
// Unknown or empty keys are treated as hold.
func scoreRecommendation(key string) float64 {
	if score, ok := recommendationScores[strings.ToLower(key)]; ok {
		return score
	}
	return 0.5
}

// GetAnalystOpinion fetches the recommendation consensus and price
// targets for a security.
func (c *Client) GetAnalystOpinion(symbol, yahooSymbol string) (*AnalystOpinion, error) {
	resolved := c.resolveSymbol(symbol, yahooSymbol)

	t, err := ticker.New(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	targets, err := t.AnalystPriceTargets()
	if err != nil {
		return nil, fmt.Errorf("failed to get price targets for %s: %w", symbol, err)
	}

	key := targets.RecommendationKey
	if rec, err := t.Recommendations(); err == nil && len(rec.Trend) > 0 {
		// The latest trend period is more current than the consensus key.
		latest := rec.Trend[0]
		switch {
		case latest.StrongBuy > 0:
			key = "strongBuy"
		case latest.Buy > 0:
			key = "buy"
		case latest.Hold > 0:
			key = "hold"
		case latest.Sell > 0:
			key = "sell"
		case latest.StrongSell > 0:
			key = "strongSell"
		}
	}
	if key == "" {
		key = "hold"
	}

	target := targets.Mean
	if target == 0 {
		target = targets.Median
	}
	upside := 0.0
	if targets.Current > 0 && target > 0 {
		upside = (target - targets.Current) / targets.Current * 100
	}

	return &AnalystOpinion{
		Symbol:         strings.ToUpper(symbol),
		Recommendation: key,
		TargetPrice:    target,
		UpsidePct:      upside,
		NumAnalysts:    int(targets.NumberOfAnalysts),
		Score:          scoreRecommendation(key),
	}, nil
}
