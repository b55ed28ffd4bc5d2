package oauth

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePKCS8(t *testing.T, km *KeyManager) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(km.PrivateKey())
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func TestLoadKeyManagerFromPEMAndPath(t *testing.T) {
	km := sharedKeys(t)
	pemValue := encodePKCS8(t, km)

	fromEnv, err := LoadKeyManager(KeyConfig{PrivateKeyPEM: strings.ReplaceAll(pemValue, "\n", `\n`)})
	require.NoError(t, err)
	assert.Equal(t, km.KID(), fromEnv.KID())
	assert.False(t, fromEnv.Ephemeral())

	path := filepath.Join(t.TempDir(), "key.pem")
	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(km.PrivateKey())})
	require.NoError(t, os.WriteFile(path, pkcs1, 0o600))
	fromFile, err := LoadKeyManager(KeyConfig{PrivateKeyPath: path})
	require.NoError(t, err)
	assert.Equal(t, km.KID(), fromFile.KID())
}

func TestLoadKeyManagerWithoutKey(t *testing.T) {
	_, err := LoadKeyManager(KeyConfig{})
	assert.ErrorIs(t, err, ErrNoSigningKey)

	km, err := LoadKeyManager(KeyConfig{AllowEphemeralKey: true})
	require.NoError(t, err)
	assert.True(t, km.Ephemeral())
}

func TestParseKeyManagerRejectsGarbage(t *testing.T) {
	_, err := ParseKeyManager("not pem")
	assert.Error(t, err)
	_, err = ParseKeyManager(string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte("junk")})))
	assert.Error(t, err)
}

func TestJWKS(t *testing.T) {
	km := sharedKeys(t)
	set := km.JWKS()
	require.Len(t, set["keys"], 1)
	k := set["keys"][0]
	assert.Equal(t, "RSA", k.Kty)
	assert.Equal(t, "RS256", k.Alg)
	assert.Equal(t, km.KID(), k.Kid)
	assert.Equal(t, "AQAB", k.E)
	assert.NotEmpty(t, k.N)
}
