// Package security provides the gateway operator's Ed25519 identity,
// used to sign consent audit entries so the audit trail is
// tamper-evident. A LoadOrCreateKeypair helper, repurposed here for a
// single local signer rather than a network of peers.
package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// Keypair holds the gateway operator's signing identity.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeypair creates a new Ed25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, domain.WrapError(domain.KindCrypto, "generate ed25519 keypair", err)
	}
	return &Keypair{Public: pub, Private: priv}, nil
}

// Sign signs msg with the keypair's private key.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Private, msg)
}

// Verify checks sig over msg against the keypair's public key.
func (k *Keypair) Verify(msg, sig []byte) bool {
	return ed25519.Verify(k.Public, msg, sig)
}

// LoadOrCreateKeypair loads an existing keypair from
// <gatewayHome>/keys/, or generates and persists a new one on first
// run. A missing gatewayHome (empty string) builds an ephemeral,
// unpersisted keypair — used by tests and by deployments that disable
// consent auditing.
func LoadOrCreateKeypair(gatewayHome string) (*Keypair, error) {
	if gatewayHome == "" {
		return GenerateKeypair()
	}

	keyDir := filepath.Join(gatewayHome, "keys")
	pubPath := filepath.Join(keyDir, "gateway.pub")
	privPath := filepath.Join(keyDir, "gateway.key")

	pubBytes, pubErr := os.ReadFile(pubPath)
	privBytes, privErr := os.ReadFile(privPath)
	if pubErr == nil && privErr == nil {
		pub, err := hex.DecodeString(string(pubBytes))
		if err != nil {
			return nil, domain.WrapError(domain.KindCrypto, "decode public key", err)
		}
		priv, err := hex.DecodeString(string(privBytes))
		if err != nil {
			return nil, domain.WrapError(domain.KindCrypto, "decode private key", err)
		}
		return &Keypair{Public: ed25519.PublicKey(pub), Private: ed25519.PrivateKey(priv)}, nil
	}

	kp, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return nil, domain.WrapError(domain.KindInternal, "create key directory", err)
	}
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(kp.Public)), 0o644); err != nil {
		return nil, domain.WrapError(domain.KindInternal, "persist public key", err)
	}
	if err := os.WriteFile(privPath, []byte(hex.EncodeToString(kp.Private)), 0o600); err != nil {
		return nil, domain.WrapError(domain.KindInternal, "persist private key", err)
	}
	return kp, nil
}
