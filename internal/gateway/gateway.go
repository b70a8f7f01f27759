package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/whizzler-rizzler/market-maker-remixed/internal/domain"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/infra"
)

// ExchangeAPI is the authenticated exchange surface the gateway drives.
// *extended.Client satisfies it.
type ExchangeAPI interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (json.RawMessage, int, error)
	CancelOrder(ctx context.Context, orderID string) (int, error)
	OpenOrders(ctx context.Context, market string) (json.RawMessage, int, error)
}

// AuditStore records order submissions for later inspection. May be nil.
type AuditStore interface {
	RecordOrder(audit *domain.OrderAudit) error
}

// Gateway is the single authenticated mutation path to the exchange. Both the
// HTTP API and the quote engine submit through it; every outcome is normalized
// into a domain.Result so callers never handle transport errors directly.
type Gateway struct {
	api     ExchangeAPI
	audit   AuditStore
	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewGateway wires a gateway. audit may be nil to disable the audit trail.
func NewGateway(api ExchangeAPI, audit AuditStore, metrics *infra.Metrics) *Gateway {
	return &Gateway{
		api:     api,
		audit:   audit,
		metrics: metrics,
		logger:  slog.Default().With("module", "gateway"),
	}
}

// CreateOrder validates, signs and submits an order. The returned Result
// carries the exchange response body on success and the error text plus HTTP
// status on failure.
func (g *Gateway) CreateOrder(ctx context.Context, req domain.OrderRequest) domain.Result {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return domain.Result{Success: false, Error: err.Error(), Status: 422}
	}

	body, status, err := g.api.CreateOrder(ctx, req)
	if err != nil {
		g.logger.Error("❌ Order creation failed",
			slog.String("market", req.Market),
			slog.String("side", string(req.Side)),
			slog.Any("error", err))
		g.recordAudit(req, orderIDOf(body), domain.AuditActionCreate, false, status)
		return domain.Result{Success: false, Error: err.Error(), Status: normalizeStatus(status)}
	}

	g.metrics.RecordOrderCreated()
	g.logger.Info("✅ Order created",
		slog.String("market", req.Market),
		slog.String("side", string(req.Side)),
		slog.String("price", req.Price))
	g.recordAudit(req, orderIDOf(body), domain.AuditActionCreate, true, status)

	return domain.Result{Success: true, Data: body, Status: status}
}

// CancelOrder cancels one resting order by exchange id.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) domain.Result {
	if orderID == "" {
		return domain.Result{Success: false, Error: "order id must not be empty", Status: 422}
	}

	status, err := g.api.CancelOrder(ctx, orderID)
	audit := &domain.OrderAudit{OrderID: orderID, Action: domain.AuditActionCancel, StatusCode: status}
	if err != nil {
		g.logger.Error("❌ Order cancel failed",
			slog.String("order_id", orderID),
			slog.Any("error", err))
		g.writeAudit(audit)
		return domain.Result{Success: false, Error: err.Error(), Status: normalizeStatus(status)}
	}

	g.metrics.RecordOrderCancelled()
	g.logger.Info("🗑️ Order cancelled", slog.String("order_id", orderID))
	audit.Success = true
	g.writeAudit(audit)

	return domain.Result{Success: true, Message: "Order " + orderID + " cancelled", Status: status}
}

// OpenOrders reads the resting orders straight from the exchange, bypassing
// the cache.
func (g *Gateway) OpenOrders(ctx context.Context, market string) domain.Result {
	body, status, err := g.api.OpenOrders(ctx, market)
	if err != nil {
		return domain.Result{Success: false, Error: err.Error(), Status: normalizeStatus(status)}
	}
	return domain.Result{Success: true, Data: body, Status: status}
}

// recordAudit writes the audit row for a create attempt. Best effort.
func (g *Gateway) recordAudit(req domain.OrderRequest, orderID, action string, success bool, status int) {
	g.writeAudit(&domain.OrderAudit{
		OrderID:    orderID,
		Market:     req.Market,
		Side:       string(req.Side),
		Price:      req.Price,
		Size:       req.Size,
		Action:     action,
		Success:    success,
		StatusCode: status,
	})
}

func (g *Gateway) writeAudit(audit *domain.OrderAudit) {
	if g.audit == nil {
		return
	}
	if err := g.audit.RecordOrder(audit); err != nil {
		g.logger.Warn("⚠️ Order audit write failed", slog.Any("error", err))
	}
}

// orderIDOf extracts the exchange order id from a create response body, empty
// when absent or unparseable.
func orderIDOf(body json.RawMessage) string {
	if body == nil {
		return ""
	}
	var env struct {
		ID   any `json:"id"`
		Data struct {
			ID      any `json:"id"`
			OrderID any `json:"order_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	for _, v := range []any{env.Data.OrderID, env.Data.ID, env.ID} {
		switch s := v.(type) {
		case string:
			return s
		case float64:
			b, _ := json.Marshal(s)
			return string(b)
		}
	}
	return ""
}

func normalizeStatus(status int) int {
	if status == 0 {
		return 500
	}
	return status
}
