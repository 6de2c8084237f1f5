// Package tradernet is the broker API client: authenticated REST calls
// plus a market-status websocket. It implements the narrow capability
// surface the agent consumes (domain.Broker) and the wider sync methods.
package tradernet

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// Client is an authenticated Tradernet REST client.
type Client struct {
	baseURL    string
	publicKey  string
	privateKey string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a broker client. Credentials may be empty; calls
// then fail with a BrokerError.
func NewClient(baseURL, publicKey, privateKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		publicKey:  publicKey,
		privateKey: privateKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("client", "tradernet").Logger(),
	}
}

// IsConnected reports whether credentials are configured and the API
// answers an authenticated no-op.
func (c *Client) IsConnected(ctx context.Context) bool {
	if c.publicKey == "" || c.privateKey == "" {
		return false
	}
	_, err := c.request(ctx, "getPositionJson", map[string]interface{}{})
	return err == nil
}

// sign computes the request signature: HMAC-SHA256 over payload+timestamp.
func sign(privateKey, message string) string {
	mac := hmac.New(sha256.New, []byte(privateKey))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// request performs one authenticated POST to /api/<cmd>.
func (c *Client) request(ctx context.Context, cmd string, params interface{}) (map[string]interface{}, error) {
	if c.publicKey == "" || c.privateKey == "" {
		return nil, &domain.BrokerError{Op: cmd, Err: fmt.Errorf("credentials not configured")}
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params for %s: %w", cmd, err)
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := sign(c.privateKey, string(payload)+timestamp)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/%s", c.baseURL, cmd), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", cmd, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-NtApi-PublicKey", c.publicKey)
	req.Header.Set("X-NtApi-Timestamp", timestamp)
	req.Header.Set("X-NtApi-Sig", signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.BrokerError{Op: cmd, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.BrokerError{Op: cmd, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.BrokerError{Op: cmd, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &domain.BrokerError{Op: cmd, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	// The API answers maps for most commands but bare arrays for a few.
	switch v := raw.(type) {
	case map[string]interface{}:
		if errMsg, ok := v["errMsg"].(string); ok && errMsg != "" {
			return nil, &domain.BrokerError{Op: cmd, Err: fmt.Errorf("%s", errMsg)}
		}
		return v, nil
	case []interface{}:
		return map[string]interface{}{"result": v}, nil
	default:
		return map[string]interface{}{"result": v}, nil
	}
}

// decodeInto round-trips a loosely typed API fragment into a struct.
func decodeInto(fragment interface{}, out interface{}) error {
	raw, err := json.Marshal(fragment)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
