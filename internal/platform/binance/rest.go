package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/tradeagent/internal/crypto"
)

// RESTClient is the REST client for the Binance spot API. It handles market
// data, account and order endpoints.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	recvWindow time.Duration
}

// NewRESTClient creates a REST client.
//
// baseURL is the API root, e.g. "https://api.binance.com". auth may be nil
// for market-data-only use.
func NewRESTClient(baseURL string, auth *crypto.HMACAuth, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		auth:       auth,
		recvWindow: 5 * time.Second,
	}
}

// Authenticated reports whether signed endpoints can be called.
func (c *RESTClient) Authenticated() bool {
	return c.auth.Configured()
}

// Ping checks connectivity.
func (c *RESTClient) Ping(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodGet, "/api/v3/ping", nil, false); err != nil {
		return fmt.Errorf("binance/rest: ping: %w", err)
	}
	return nil
}

// TickerPrice returns the latest price for symbol.
func (c *RESTClient) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.do(ctx, http.MethodGet, "/api/v3/ticker/price", params, false)
	if err != nil {
		return 0, fmt.Errorf("binance/rest: ticker %s: %w", symbol, err)
	}

	var t TickerPrice
	if err := json.Unmarshal(body, &t); err != nil {
		return 0, fmt.Errorf("binance/rest: decode ticker: %w", err)
	}
	return parseFloat(t.Price), nil
}

// Account returns balances for the authenticated account.
func (c *RESTClient) Account(ctx context.Context) (Account, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true)
	if err != nil {
		return Account{}, fmt.Errorf("binance/rest: account: %w", err)
	}

	var acc Account
	if err := json.Unmarshal(body, &acc); err != nil {
		return Account{}, fmt.Errorf("binance/rest: decode account: %w", err)
	}
	return acc, nil
}

// SymbolInfo returns the trading rules for one symbol.
func (c *RESTClient) SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false)
	if err != nil {
		return SymbolInfo{}, fmt.Errorf("binance/rest: exchange info %s: %w", symbol, err)
	}

	var info ExchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return SymbolInfo{}, fmt.Errorf("binance/rest: decode exchange info: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol == symbol {
			return s, nil
		}
	}
	return SymbolInfo{}, fmt.Errorf("binance/rest: exchange info %s: symbol not listed", symbol)
}

// MarketOrder places a MARKET order for quantity units of the base asset.
func (c *RESTClient) MarketOrder(ctx context.Context, symbol, side, quantity string) (OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", quantity)
	params.Set("newOrderRespType", "FULL")

	body, err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return OrderResponse{}, fmt.Errorf("binance/rest: %s %s %s: %w", side, quantity, symbol, err)
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderResponse{}, fmt.Errorf("binance/rest: decode order: %w", err)
	}
	return resp, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// do builds, optionally signs, sends and reads a request. Signed requests
// carry the API key header and a signature over the query string.
func (c *RESTClient) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	var query string
	if signed {
		if !c.auth.Configured() {
			return nil, fmt.Errorf("signed request %s without credentials", path)
		}
		query = c.auth.SignQuery(params, c.recvWindow)
	} else if len(params) > 0 {
		query = params.Encode()
	}

	target := c.baseURL + path
	if query != "" {
		target += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.auth.Key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus decodes non-2xx responses into an *APIError.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	apiErr := &APIError{HTTPStatus: statusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Msg == "" {
		apiErr.Msg = strings.TrimSpace(string(body))
	}
	return apiErr
}
