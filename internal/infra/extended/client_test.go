package extended

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/whizzler-rizzler/market-maker-remixed/internal/domain"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/infra"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &infra.Config{}
	cfg.API.Extended.BaseURL = srv.URL
	cfg.API.Extended.APIKey = "test-key"
	cfg.API.Extended.PublicKey = "pub"
	cfg.API.Extended.PrivateKey = "priv"
	cfg.API.Extended.ClientID = "client-1"
	cfg.API.Extended.VaultID = "vault-1"
	return NewClient(cfg)
}

func TestClient_FetchSuccess(t *testing.T) {
	var gotPath, gotKey string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		w.Write([]byte(`{"data":{"balance":"100"}}`))
	}))

	payload, ok := client.Fetch(context.Background(), domain.TopicBalance)
	if !ok {
		t.Fatal("fetch should succeed")
	}
	if gotPath != "/user/balance" {
		t.Errorf("expected /user/balance, got %s", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("expected API key header, got %q", gotKey)
	}
	if string(payload) != `{"data":{"balance":"100"}}` {
		t.Errorf("unexpected payload: %s", payload)
	}
}

func TestClient_FetchFailuresReturnNotOK(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data": oops`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testClient(t, tt.handler)
			if _, ok := client.Fetch(context.Background(), domain.TopicPositions); ok {
				t.Error("fetch should report ok=false")
			}
		})
	}
}

func TestClient_FetchUnknownTopic(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	if _, ok := client.Fetch(context.Background(), domain.Topic("bogus")); ok {
		t.Error("unknown topic should report ok=false")
	}
}

func TestClient_CreateOrderSignsPayload(t *testing.T) {
	var got orderPayload
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"ord-1"}}`))
	}))

	req := domain.OrderRequest{
		Market:      "BTC-USD",
		Side:        domain.SideBuy,
		Price:       "50000",
		Size:        "0.01",
		TimeInForce: domain.TIFPostOnly,
	}
	body, status, err := client.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if status != http.StatusCreated {
		t.Errorf("expected 201, got %d", status)
	}
	if string(body) != `{"data":{"id":"ord-1"}}` {
		t.Errorf("unexpected body: %s", body)
	}

	if got.Type != "LIMIT" {
		t.Errorf("expected LIMIT order type, got %s", got.Type)
	}
	if got.ClientID != "client-1" || got.StarkPublicKey != "pub" {
		t.Errorf("identity fields missing: %+v", got)
	}
	if got.Signature.R == "" || got.Signature.S == "" {
		t.Error("order must carry a signature")
	}
}

func TestClient_CreateOrderRejected(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"POST_ONLY would cross the book"}`))
	}))

	_, status, err := client.CreateOrder(context.Background(), domain.OrderRequest{
		Market: "BTC-USD", Side: domain.SideBuy, Price: "1", Size: "1", TimeInForce: domain.TIFPostOnly,
	})
	if err == nil {
		t.Fatal("rejection should surface as error")
	}
	if status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", status)
	}
}

func TestClient_CancelOrder(t *testing.T) {
	var gotPath, gotMethod string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))

	status, err := client.CancelOrder(context.Background(), "ord-42")
	if err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	if status != http.StatusNoContent {
		t.Errorf("expected 204, got %d", status)
	}
	if gotMethod != http.MethodDelete || gotPath != "/orders/ord-42" {
		t.Errorf("unexpected request: %s %s", gotMethod, gotPath)
	}
}

func TestClient_OpenOrdersMarketFilter(t *testing.T) {
	var gotQuery string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("market")
		w.Write([]byte(`{"data":[]}`))
	}))

	if _, _, err := client.OpenOrders(context.Background(), "BTC-USD"); err != nil {
		t.Fatalf("OpenOrders failed: %v", err)
	}
	if gotQuery != "BTC-USD" {
		t.Errorf("expected market query param, got %q", gotQuery)
	}
}
