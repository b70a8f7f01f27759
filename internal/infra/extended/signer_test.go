package extended

import (
	"strings"
	"testing"
	"time"

	"github.com/whizzler-rizzler/market-maker-remixed/internal/domain"
)

func testOrder() domain.OrderRequest {
	return domain.OrderRequest{
		Market:      "BTC-USD",
		Side:        domain.SideBuy,
		Price:       "50000",
		Size:        "0.01",
		TimeInForce: domain.TIFPostOnly,
	}
}

func fixedSigner(priv string) *Signer {
	s := NewSigner("pub", priv, "client-1", "vault-1")
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func TestSigner_Deterministic(t *testing.T) {
	s := fixedSigner("secret")

	a := s.SignOrder(testOrder())
	b := s.SignOrder(testOrder())

	if a != b {
		t.Error("same order and nonce must produce the same signature")
	}
	if !strings.HasPrefix(a.R, "0x") || !strings.HasPrefix(a.S, "0x") {
		t.Errorf("components must be hex-prefixed, got R=%s S=%s", a.R, a.S)
	}
	if len(a.R) != 34 || len(a.S) != 34 {
		t.Errorf("expected 16-byte components, got R len %d, S len %d", len(a.R), len(a.S))
	}
}

func TestSigner_FieldsCovered(t *testing.T) {
	s := fixedSigner("secret")
	base := s.SignOrder(testOrder())

	mutations := []func(*domain.OrderRequest){
		func(r *domain.OrderRequest) { r.Market = "ETH-USD" },
		func(r *domain.OrderRequest) { r.Side = domain.SideSell },
		func(r *domain.OrderRequest) { r.Price = "50001" },
		func(r *domain.OrderRequest) { r.Size = "0.02" },
		func(r *domain.OrderRequest) { r.TimeInForce = domain.TIFGTC },
		func(r *domain.OrderRequest) { r.ReduceOnly = true },
	}
	for i, mutate := range mutations {
		req := testOrder()
		mutate(&req)
		if s.SignOrder(req) == base {
			t.Errorf("mutation %d did not change the signature", i)
		}
	}
}

func TestSigner_NonceChangesSignature(t *testing.T) {
	s := fixedSigner("secret")
	a := s.SignOrder(testOrder())

	s.now = func() time.Time { return time.Unix(1700000001, 0) }
	b := s.SignOrder(testOrder())

	if a == b {
		t.Error("a different nonce must produce a different signature")
	}
}

func TestSigner_KeyChangesSignature(t *testing.T) {
	a := fixedSigner("secret-a").SignOrder(testOrder())
	b := fixedSigner("secret-b").SignOrder(testOrder())

	if a == b {
		t.Error("different private keys must produce different signatures")
	}
}

func TestCanonicalOrder(t *testing.T) {
	got := canonicalOrder(testOrder(), "vault-1", 1700000000)
	want := "BTC-USD:BUY:50000:0.01:POST_ONLY:0:vault-1:1700000000"
	if got != want {
		t.Errorf("canonical form mismatch:\n got %s\nwant %s", got, want)
	}
}
