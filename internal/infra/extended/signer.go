package extended

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/whizzler-rizzler/market-maker-remixed/internal/domain"
)

// Signature is the two-component order signature the exchange expects.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
}

// Signer produces order signatures from the account's Stark key pair. The
// wire scheme is opaque to the rest of the proxy; the gateway only forwards
// whatever this collaborator attaches.
type Signer struct {
	publicKey  string
	privateKey string
	clientID   string
	vaultID    string
	now        func() time.Time
}

// NewSigner creates a new Signer instance
func NewSigner(publicKey, privateKey, clientID, vaultID string) *Signer {
	return &Signer{
		publicKey:  publicKey,
		privateKey: privateKey,
		clientID:   clientID,
		vaultID:    vaultID,
		now:        time.Now,
	}
}

// PublicKey returns the account public key attached to signed orders.
func (s *Signer) PublicKey() string {
	return s.publicKey
}

// ClientID returns the exchange client identifier.
func (s *Signer) ClientID() string {
	return s.clientID
}

// SignOrder signs the canonical order payload with the account private key.
// The nonce is the unix timestamp in seconds, so two identical orders signed
// in different seconds produce different signatures.
func (s *Signer) SignOrder(req domain.OrderRequest) Signature {
	nonce := s.now().Unix()
	return s.signPayload(canonicalOrder(req, s.vaultID, nonce))
}

// canonicalOrder serializes the fields covered by the signature in a fixed
// order. Field order must never change: the exchange recomputes this exact
// string during verification.
func canonicalOrder(req domain.OrderRequest, vaultID string, nonce int64) string {
	reduceOnly := 0
	if req.ReduceOnly {
		reduceOnly = 1
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s:%d:%s:%d",
		req.Market, req.Side, req.Price, req.Size, req.TimeInForce, reduceOnly, vaultID, nonce)
}

func (s *Signer) signPayload(payload string) Signature {
	mac := hmac.New(sha256.New, []byte(s.privateKey))
	mac.Write([]byte(payload))
	sum := mac.Sum(nil)

	return Signature{
		R: "0x" + hex.EncodeToString(sum[:16]),
		S: "0x" + hex.EncodeToString(sum[16:]),
	}
}
