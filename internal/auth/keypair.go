// Package auth implements node authentication: Ed25519 signed request
// envelopes and claim-code derivation, ported from the node's crypto
// utilities (parsers/crypto.rs) into stdlib crypto/ed25519.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/legacy3/wowlab-sub001/internal/domain"
)

const claimCodeLength = 8

// Keypair is a node's Ed25519 signing identity.
type Keypair struct {
	priv ed25519.PrivateKey
}

// GenerateKeypair creates a new random keypair.
func GenerateKeypair() (Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("generate keypair: %w", err)
	}
	return Keypair{priv: priv}, nil
}

// KeypairFromSeed rebuilds a keypair from its 32-byte Ed25519 seed.
func KeypairFromSeed(seed []byte) (Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return Keypair{}, domain.ErrInvalidKeyLength
	}
	return Keypair{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// KeypairFromBase64Seed decodes a base64 seed and rebuilds the keypair.
func KeypairFromBase64Seed(seedB64 string) (Keypair, error) {
	seed, err := base64.StdEncoding.DecodeString(seedB64)
	if err != nil {
		return Keypair{}, domain.ErrInvalidEncoding
	}
	return KeypairFromSeed(seed)
}

// PublicKey returns the 32-byte Ed25519 public key.
func (k Keypair) PublicKey() ed25519.PublicKey {
	return k.priv.Public().(ed25519.PublicKey)
}

// SeedBase64 returns the private seed, base64-encoded, for persistence.
func (k Keypair) SeedBase64() string {
	return base64.StdEncoding.EncodeToString(k.priv.Seed())
}

// PublicKeyBase64 returns the public key, base64-encoded, for transport.
func (k Keypair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(k.PublicKey())
}

// ClaimCode derives this keypair's human-readable claim code.
func (k Keypair) ClaimCode() string {
	return DeriveClaimCode(k.PublicKey())
}

// Sign signs message with the private key.
func (k Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.priv, message)
}

// SignBase64 signs message and returns the signature, base64-encoded.
func (k Keypair) SignBase64(message []byte) string {
	return base64.StdEncoding.EncodeToString(k.Sign(message))
}

// DeriveClaimCode returns the first 8 characters of the base32-no-pad
// encoding of SHA256(publicKey), uppercased — a short code a node operator
// can type by hand to link a node to their account.
func DeriveClaimCode(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:])
	return strings.ToUpper(encoded[:claimCodeLength])
}

// VerifySignature verifies a raw signature against a raw public key.
func VerifySignature(publicKey, message, signature []byte) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return domain.ErrInvalidKeyLength
	}
	if len(signature) != ed25519.SignatureSize {
		return domain.ErrInvalidKeyLength
	}
	if !ed25519.Verify(publicKey, message, signature) {
		return domain.ErrVerificationFailed
	}
	return nil
}

// VerifySignatureBase64 verifies a base64-encoded signature against a
// base64-encoded public key.
func VerifySignatureBase64(publicKeyB64 string, message []byte, signatureB64 string) error {
	publicKey, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return domain.ErrInvalidEncoding
	}
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return domain.ErrInvalidEncoding
	}
	return VerifySignature(publicKey, message, signature)
}

// SHA256Hex returns the lowercase hex SHA256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BuildSignMessage builds the canonical string a node signs for one
// request: timestamp \0 METHOD \0 path \0 hex(sha256(body)).
func BuildSignMessage(timestampUnix int64, method, path string, body []byte) string {
	return fmt.Sprintf("%d\x00%s\x00%s\x00%s", timestampUnix, method, path, SHA256Hex(body))
}
