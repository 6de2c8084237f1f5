// Package exchangerate fetches historical/reference FX rates from
// exchangerate-api.com, with a persistent cache and stale-data fallback.
// Used when the broker cannot quote a live FX rate.
package exchangerate

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/modules/cache"
)

const cacheTTL = 6 * time.Hour

// Client for exchangerate-api.com.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
	cache   *cache.Repository // optional; nil disables caching
}

// NewClient creates an exchangerate-api.com client.
func NewClient(cacheRepo *cache.Repository, log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://api.exchangerate-api.com/v4/latest",
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "exchangerate-api").Logger(),
		cache:   cacheRepo,
	}
}

type cachedRate struct {
	Rate      float64 `msgpack:"rate"`
	FetchedAt int64   `msgpack:"fetched_at"`
}

// GetRate returns units of `to` per 1 `from`. On API failure a stale
// cached rate is still returned: stale data beats no data here.
func (c *Client) GetRate(from, to string) (float64, error) {
	if from == to {
		return 1.0, nil
	}

	cacheKey := "exchangerate:" + from + ":" + to

	if c.cache != nil {
		var cached cachedRate
		if ok, _ := c.cache.Get(cacheKey, &cached); ok {
			if time.Since(time.Unix(cached.FetchedAt, 0)) < cacheTTL {
				return cached.Rate, nil
			}
		}
	}

	rate, err := c.fetchRate(from, to)
	if err != nil {
		if stale, ok := c.getStale(cacheKey); ok {
			c.log.Warn().Err(err).
				Str("from", from).Str("to", to).Float64("rate", stale).
				Msg("API failed, using stale cached rate")
			return stale, nil
		}
		return 0, err
	}

	if c.cache != nil {
		// Kept without TTL so a dead API still has a fallback value.
		_ = c.cache.Set(cacheKey, cachedRate{Rate: rate, FetchedAt: time.Now().Unix()}, 0)
	}
	return rate, nil
}

func (c *Client) fetchRate(from, to string) (float64, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, from)
	resp, err := c.client.Get(url)
	if err != nil {
		return 0, fmt.Errorf("exchange rate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("exchange rate API returned status %d", resp.StatusCode)
	}

	var result struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode exchange rate response: %w", err)
	}

	rate, ok := result.Rates[to]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("no rate for %s in %s response", to, from)
	}
	return rate, nil
}

func (c *Client) getStale(cacheKey string) (float64, bool) {
	if c.cache == nil {
		return 0, false
	}
	var cached cachedRate
	if ok, _ := c.cache.Get(cacheKey, &cached); ok && cached.Rate > 0 {
		return cached.Rate, true
	}
	return 0, false
}
