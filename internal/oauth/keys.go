package oauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
)

// ErrNoSigningKey is returned when no key is configured and ephemeral keys
// are not allowed.
var ErrNoSigningKey = errors.New("OAUTH_PRIVATE_KEY_PEM or OAUTH_PRIVATE_KEY_PATH is required")

// KeyManager holds the RS256 signing key and its key id.
type KeyManager struct {
	privateKey *rsa.PrivateKey
	kid        string
	ephemeral  bool
}

// LoadKeyManager loads the signing key described by cfg. With no key and
// AllowEphemeralKey set, a fresh key is generated; tokens signed with it do
// not survive a restart.
func LoadKeyManager(cfg KeyConfig) (*KeyManager, error) {
	pemValue := cfg.PrivateKeyPEM
	if pemValue == "" && cfg.PrivateKeyPath != "" {
		data, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read OAUTH_PRIVATE_KEY_PATH: %w", err)
		}
		pemValue = string(data)
	}
	if pemValue == "" {
		if !cfg.AllowEphemeralKey {
			return nil, ErrNoSigningKey
		}
		km, err := GenerateKeyManager(2048)
		if err != nil {
			return nil, err
		}
		km.ephemeral = true
		return km, nil
	}
	return ParseKeyManager(strings.ReplaceAll(pemValue, `\n`, "\n"))
}

// ParseKeyManager parses a PKCS#1 or PKCS#8 RSA private key.
func ParseKeyManager(pemValue string) (*KeyManager, error) {
	block, _ := pem.Decode([]byte(pemValue))
	if block == nil {
		return nil, fmt.Errorf("invalid private key PEM")
	}

	var key *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		key = parsed
	} else if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		key = rsaKey
	} else {
		return nil, fmt.Errorf("unable to parse RSA private key")
	}
	return newKeyManager(key)
}

// GenerateKeyManager creates a key manager around a new RSA key.
func GenerateKeyManager(bits int) (*KeyManager, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return newKeyManager(key)
}

func newKeyManager(key *rsa.PrivateKey) (*KeyManager, error) {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return &KeyManager{privateKey: key, kid: base64.RawURLEncoding.EncodeToString(sum[:])}, nil
}

func (k *KeyManager) PrivateKey() *rsa.PrivateKey { return k.privateKey }
func (k *KeyManager) PublicKey() *rsa.PublicKey   { return &k.privateKey.PublicKey }
func (k *KeyManager) KID() string                 { return k.kid }

// Ephemeral reports whether the key was generated at startup.
func (k *KeyManager) Ephemeral() bool { return k.ephemeral }

// JWK is the public half of the signing key in RFC 7517 form.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS returns the key set served at the jwks endpoint.
func (k *KeyManager) JWKS() map[string][]JWK {
	pub := k.PublicKey()
	return map[string][]JWK{"keys": {{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: k.kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}
