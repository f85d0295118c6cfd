package keystore_test

import (
	"os"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacedatabank/marketd/internal/keystore"
)

const testKeyHex = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := keystore.Encrypt(testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := keystore.Decrypt(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := keystore.Encrypt(testKeyHex, "hunter2")
	require.NoError(t, err)

	_, err = keystore.Decrypt(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	a, err := keystore.Encrypt(testKeyHex, "hunter2")
	require.NoError(t, err)
	b, err := keystore.Encrypt(testKeyHex, "hunter2")
	require.NoError(t, err)

	// Fresh salt and nonce per call.
	assert.NotEqual(t, a, b)
}

func TestLoadRawKey(t *testing.T) {
	key, err := keystore.Load(keystore.KeyConfig{RawPrivateKey: testKeyHex})
	require.NoError(t, err)

	want, err := ethcrypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(want.PublicKey), ethcrypto.PubkeyToAddress(key.PublicKey))

	// 0x prefix is accepted.
	_, err = keystore.Load(keystore.KeyConfig{RawPrivateKey: "0x" + testKeyHex})
	require.NoError(t, err)
}

func TestLoadEncryptedKeyFile(t *testing.T) {
	blob, err := keystore.Encrypt(testKeyHex, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "operator.key")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	key, err := keystore.Load(keystore.KeyConfig{
		EncryptedKeyPath: path,
		KeyPassword:      "hunter2",
	})
	require.NoError(t, err)

	want, err := ethcrypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(want.PublicKey), ethcrypto.PubkeyToAddress(key.PublicKey))
}

func TestLoadNoSource(t *testing.T) {
	_, err := keystore.Load(keystore.KeyConfig{})
	assert.Error(t, err)
}
