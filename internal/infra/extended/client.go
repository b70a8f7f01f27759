package extended

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/whizzler-rizzler/market-maker-remixed/internal/domain"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/infra"

	"github.com/go-resty/resty/v2"
)

// Per-endpoint timeouts. Reads are cheap, order submission carries signing
// and matching-engine latency.
const (
	fetchTimeout  = 5 * time.Second
	ordersTimeout = 3 * time.Second
	createTimeout = 10 * time.Second
	cancelTimeout = 5 * time.Second
)

// Client is the Extended REST API client (boundary layer). Fetch never
// returns an error: the cache pipeline treats every upstream failure as a
// skipped cycle. Order operations return errors for the gateway to normalize.
type Client struct {
	http   *resty.Client
	signer *Signer
	logger *slog.Logger
}

// NewClient creates a new Extended API client.
func NewClient(cfg *infra.Config) *Client {
	ext := cfg.API.Extended

	c := resty.New().
		SetBaseURL(ext.BaseURL).
		SetTimeout(createTimeout).
		SetHeader("X-Api-Key", ext.APIKey).
		SetHeader("User-Agent", infra.UserAgent).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   c,
		signer: NewSigner(ext.PublicKey, ext.PrivateKey, ext.ClientID, ext.VaultID),
		logger: slog.Default().With("module", "extended_client"),
	}
}

// endpointFor maps a cache topic to its upstream read endpoint and timeout.
func endpointFor(topic domain.Topic) (string, time.Duration) {
	switch topic {
	case domain.TopicPositions:
		return "/user/positions", fetchTimeout
	case domain.TopicBalance:
		return "/user/balance", fetchTimeout
	case domain.TopicTrades:
		return "/user/trades", fetchTimeout
	case domain.TopicOrders:
		return "/orders", ordersTimeout
	}
	return "", 0
}

// Fetch retrieves the latest payload for a topic. On any failure (transport,
// non-2xx, malformed body) it logs and reports ok=false; the caller simply
// skips that cycle's update.
func (c *Client) Fetch(ctx context.Context, topic domain.Topic) (json.RawMessage, bool) {
	path, timeout := endpointFor(topic)
	if path == "" {
		c.logger.Error("Unknown fetch topic", slog.String("topic", topic.String()))
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.http.R().SetContext(ctx).Get(path)
	if err != nil {
		c.logger.Warn("Fetch failed", slog.String("topic", topic.String()), slog.Any("error", err))
		return nil, false
	}
	if resp.IsError() {
		c.logger.Warn("Fetch returned error status",
			slog.String("topic", topic.String()), slog.Int("status", resp.StatusCode()))
		return nil, false
	}

	body := resp.Body()
	if !json.Valid(body) {
		c.logger.Warn("Fetch returned malformed body", slog.String("topic", topic.String()))
		return nil, false
	}

	payload := make(json.RawMessage, len(body))
	copy(payload, body)
	return payload, true
}

// orderPayload is the signed order submission body.
type orderPayload struct {
	Market         string    `json:"market"`
	Side           string    `json:"side"`
	Type           string    `json:"type"`
	Price          string    `json:"price"`
	Size           string    `json:"size"`
	TimeInForce    string    `json:"timeInForce"`
	ReduceOnly     bool      `json:"reduceOnly"`
	ClientID       string    `json:"clientId,omitempty"`
	StarkPublicKey string    `json:"starknetPublicKey,omitempty"`
	Signature      Signature `json:"signature"`
}

// CreateOrder signs and submits an order. Returns the raw response body and
// HTTP status; a non-2xx status or transport failure is returned as an error
// with the status it was observed at (0 when no response was received).
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (json.RawMessage, int, error) {
	body := orderPayload{
		Market:         req.Market,
		Side:           string(req.Side),
		Type:           "LIMIT",
		Price:          req.Price,
		Size:           req.Size,
		TimeInForce:    string(req.TimeInForce),
		ReduceOnly:     req.ReduceOnly,
		ClientID:       c.signer.ClientID(),
		StarkPublicKey: c.signer.PublicKey(),
		Signature:      c.signer.SignOrder(req),
	}

	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post("/orders")
	if err != nil {
		return nil, 0, domain.NewNetworkError("create order", err)
	}

	status := resp.StatusCode()
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, status, fmt.Errorf("HTTP %d: %s", status, truncate(resp.Body(), 200))
	}

	c.logger.Info("Order created",
		slog.String("market", req.Market), slog.String("side", string(req.Side)),
		slog.String("price", req.Price))
	return append(json.RawMessage(nil), resp.Body()...), status, nil
}

// CancelOrder cancels an order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, cancelTimeout)
	defer cancel()

	resp, err := c.http.R().SetContext(ctx).SetPathParam("id", orderID).Delete("/orders/{id}")
	if err != nil {
		return 0, domain.NewNetworkError("cancel order", err)
	}

	status := resp.StatusCode()
	if status != http.StatusOK && status != http.StatusNoContent {
		return status, fmt.Errorf("HTTP %d: %s", status, truncate(resp.Body(), 200))
	}

	c.logger.Info("Order cancelled", slog.String("order_id", orderID))
	return status, nil
}

// OpenOrders fetches open orders, optionally filtered by market.
func (c *Client) OpenOrders(ctx context.Context, market string) (json.RawMessage, int, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	r := c.http.R().SetContext(ctx)
	if market != "" {
		r.SetQueryParam("market", market)
	}

	resp, err := r.Get("/orders")
	if err != nil {
		return nil, 0, domain.NewNetworkError("open orders", err)
	}

	status := resp.StatusCode()
	if resp.IsError() {
		return nil, status, fmt.Errorf("HTTP %d: %s", status, truncate(resp.Body(), 200))
	}
	return append(json.RawMessage(nil), resp.Body()...), status, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
