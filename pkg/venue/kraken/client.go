package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gridcore/pkg/venue"
)

// Config holds Kraken credentials.
type Config struct {
	APIKey    string
	APISecret string // base64-encoded private key
	BaseURL   string // override for testing
}

// Client is a Kraken spot trading client.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

// New creates a Kraken client.
func New(cfg Config) *Client {
	base := "https://api.kraken.com"
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// AddOrder submits an order.
func (c *Client) AddOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderResult, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return venue.OrderResult{}, errors.New("kraken: API key/secret required")
	}

	params := url.Values{}
	params.Set("pair", req.Pair)
	params.Set("type", strings.ToLower(req.Side))
	params.Set("ordertype", strings.ToLower(req.Type))
	params.Set("volume", formatFloat(req.Qty))
	if strings.ToLower(req.Type) == "limit" {
		params.Set("price", formatFloat(req.Price))
	}
	if req.ClientID != "" {
		params.Set("userref", req.ClientID)
	}

	var resp struct {
		Txid []string `json:"txid"`
	}
	if err := c.doPrivate(ctx, "/0/private/AddOrder", params, &resp); err != nil {
		return venue.OrderResult{}, err
	}
	if len(resp.Txid) == 0 {
		return venue.OrderResult{}, &venue.Error{Code: venue.CodeRejected, Message: "no transaction id returned"}
	}

	return venue.OrderResult{
		OrderID: resp.Txid[0],
		Status:  venue.StatusOpen,
		Pair:    req.Pair,
		Side:    req.Side,
		Type:    req.Type,
		Price:   req.Price,
		Qty:     req.Qty,
		Created: time.Now(),
	}, nil
}

// QueryOrder fetches a single order by transaction id.
func (c *Client) QueryOrder(ctx context.Context, id, pair string) (venue.OrderResult, error) {
	params := url.Values{}
	params.Set("txid", id)

	var resp map[string]orderInfo
	if err := c.doPrivate(ctx, "/0/private/QueryOrders", params, &resp); err != nil {
		return venue.OrderResult{}, err
	}
	info, ok := resp[id]
	if !ok {
		return venue.OrderResult{}, venue.ErrOrderNotFound
	}

	return venue.OrderResult{
		OrderID: id,
		Status:  mapStatus(info.Status),
		Pair:    pair,
		Side:    info.Descr.Type,
		Type:    info.Descr.OrderType,
		Price:   toFloat(info.Descr.Price),
		Qty:     toFloat(info.Vol),
		Filled:  toFloat(info.VolExec),
		Avg:     toFloat(info.PriceAvg),
		Fee:     toFloat(info.Fee),
	}, nil
}

// CancelOrder cancels an open order. Returns false when the order was already
// terminal or unknown.
func (c *Client) CancelOrder(ctx context.Context, id, pair string) (bool, error) {
	params := url.Values{}
	params.Set("txid", id)

	var resp struct {
		Count int `json:"count"`
	}
	if err := c.doPrivate(ctx, "/0/private/CancelOrder", params, &resp); err != nil {
		if errors.Is(err, venue.ErrOrderNotFound) {
			return false, nil
		}
		return false, err
	}
	return resp.Count > 0, nil
}

type orderInfo struct {
	Status   string `json:"status"`
	Vol      string `json:"vol"`
	VolExec  string `json:"vol_exec"`
	PriceAvg string `json:"price"`
	Fee      string `json:"fee"`
	Descr    struct {
		Type      string `json:"type"`
		OrderType string `json:"ordertype"`
		Price     string `json:"price"`
	} `json:"descr"`
}

// doPrivate signs and performs a private API request, decoding the result
// into out and mapping Kraken error strings to typed failures.
func (c *Client) doPrivate(ctx context.Context, path string, params url.Values, out any) error {
	nonce := strconv.FormatInt(time.Now().UnixNano()/int64(time.Millisecond), 10)
	params.Set("nonce", nonce)
	encoded := params.Encode()

	sig, err := sign(path, nonce, encoded, c.cfg.APISecret)
	if err != nil {
		return fmt.Errorf("kraken: sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", c.cfg.APIKey)
	req.Header.Set("API-Sign", sig)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return fmt.Errorf("kraken %s status %d: %s", path, res.StatusCode, string(body))
	}

	var envelope struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("kraken: decode response: %w", err)
	}
	if len(envelope.Error) > 0 {
		return mapError(envelope.Error[0])
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("kraken: decode result: %w", err)
		}
	}
	return nil
}

// mapError converts Kraken error strings into typed venue failures.
func mapError(msg string) error {
	switch {
	case strings.Contains(msg, "Insufficient funds"):
		return &venue.Error{Code: venue.CodeInsufficientFunds, Message: msg}
	case strings.Contains(msg, "Unknown asset pair"):
		return &venue.Error{Code: venue.CodeInvalidPair, Message: msg}
	case strings.Contains(msg, "Unknown order"):
		return venue.ErrOrderNotFound
	default:
		return &venue.Error{Code: venue.CodeRejected, Message: msg}
	}
}

func mapStatus(s string) venue.Status {
	switch strings.ToLower(s) {
	case "open", "pending":
		return venue.StatusOpen
	case "closed":
		return venue.StatusClosed
	case "canceled":
		return venue.StatusCanceled
	case "expired":
		return venue.StatusExpired
	default:
		return venue.StatusUnknown
	}
}

// sign builds the API-Sign header: HMAC-SHA512 of path + SHA256(nonce + post
// data), keyed with the base64-decoded secret.
func sign(path, nonce, encoded, secret string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", err
	}
	sha := sha256.Sum256([]byte(nonce + encoded))
	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(path))
	mac.Write(sha[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func toFloat(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
