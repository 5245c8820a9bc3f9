package cipher

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/decred/dcrd/hdkeychain/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testMnemonic is a fixed valid 12-word phrase for deterministic tests.
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// testMaster derives the master key for the fixed test phrase.
func testMaster(t *testing.T) *hdkeychain.ExtendedKey {
	t.Helper()

	seed, err := SeedFromMnemonic(testMnemonic)
	require.NoError(t, err)
	defer seed.Destroy()

	master, err := MasterKeyFromSeed(seed.Bytes())
	require.NoError(t, err)
	return master
}

func TestGenerateMnemonic(t *testing.T) {
	t.Parallel()

	mnemonic, err := GenerateMnemonic()
	require.NoError(t, err)

	words := strings.Fields(mnemonic)
	assert.Len(t, words, 12)
	assert.NoError(t, ValidateMnemonic(mnemonic))

	// Two phrases should not collide
	other, err := GenerateMnemonic()
	require.NoError(t, err)
	assert.NotEqual(t, mnemonic, other)
}

func TestValidateMnemonic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:  "valid 12 words",
			input: testMnemonic,
		},
		{
			name:  "uppercase and extra whitespace",
			input: "  Abandon  abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon ABOUT ",
		},
		{
			name:  "numbered list format",
			input: "1. abandon\n2. abandon\n3. abandon\n4. abandon\n5. abandon\n6. abandon\n7. abandon\n8. abandon\n9. abandon\n10. abandon\n11. abandon\n12. about",
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
		{
			name:    "wrong word count",
			input:   "abandon abandon abandon",
			wantErr: true,
		},
		{
			name:    "bad checksum",
			input:   "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon",
			wantErr: true,
		},
		{
			name:    "non-wordlist word",
			input:   "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon zzzzz",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateMnemonic(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMnemonic)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDetectTypos(t *testing.T) {
	t.Parallel()

	typos := DetectTypos("abandon abandno abandon")
	require.Len(t, typos, 1)
	assert.Equal(t, 1, typos[0].Index)
	assert.Equal(t, "abandno", typos[0].Word)
	assert.Equal(t, "abandon", typos[0].Suggestion)
	assert.LessOrEqual(t, typos[0].Distance, MaxTypoDistance)

	assert.Nil(t, DetectTypos(""))
	assert.Nil(t, DetectTypos(testMnemonic))
}

func TestDeriveKeypairDeterministic(t *testing.T) {
	t.Parallel()

	master := testMaster(t)

	kp1, err := DeriveKeypair(master, 0, 0)
	require.NoError(t, err)
	kp2, err := DeriveKeypair(master, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, kp1, kp2)

	// Distinct accounts and indices yield distinct keys
	kpAcct, err := DeriveKeypair(master, 1, 0)
	require.NoError(t, err)
	kpIdx, err := DeriveKeypair(master, 0, 1)
	require.NoError(t, err)
	assert.NotEqual(t, kp1.Public, kpAcct.Public)
	assert.NotEqual(t, kp1.Public, kpIdx.Public)

	assert.Equal(t, "EC", kp1.Public.Kty)
	assert.Equal(t, "secp256k1", kp1.Public.Crv)
	assert.Empty(t, kp1.Public.D)
	assert.NotEmpty(t, kp1.Private.D)
}

func TestMasterKeySerializationRoundTrip(t *testing.T) {
	t.Parallel()

	master := testMaster(t)

	xpriv, xpub := SerializeMasterKey(master)
	assert.True(t, strings.HasPrefix(xpriv, "xprv"))
	assert.True(t, strings.HasPrefix(xpub, "xpub"))

	parsed, err := ParseMasterKey(xpriv)
	require.NoError(t, err)

	kp1, err := DeriveKeypair(master, 3, 7)
	require.NoError(t, err)
	kp2, err := DeriveKeypair(parsed, 3, 7)
	require.NoError(t, err)
	assert.Equal(t, kp1, kp2)
}

func TestJWKRoundTrip(t *testing.T) {
	t.Parallel()

	master := testMaster(t)
	kp, err := DeriveKeypair(master, 0, 0)
	require.NoError(t, err)

	pub, err := PublicKeyFromJWK(kp.Public)
	require.NoError(t, err)
	priv, err := PrivateKeyFromJWK(kp.Private)
	require.NoError(t, err)
	assert.Equal(t, pub.SerializeCompressed(), priv.PubKey().SerializeCompressed())

	_, err = PrivateKeyFromJWK(kp.Public)
	assert.ErrorIs(t, err, ErrMissingPrivateKey)

	_, err = PublicKeyFromJWK(JWK{Kty: "RSA"})
	assert.ErrorIs(t, err, ErrInvalidJWK)
}

func TestHashMessage(t *testing.T) {
	t.Parallel()

	// SHA-256 of the empty string
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashMessage(""))

	assert.Equal(t, HashMessage("hello"), HashMessage("hello"))
	assert.NotEqual(t, HashMessage("hello"), HashMessage("hello "))
}

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	a, err := Canonicalize([]byte(`{"b": 1, "a": 2}`))
	require.NoError(t, err)
	b, err := Canonicalize([]byte(`{"a":2,"b":1}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, `{"a":2,"b":1}`, string(a))

	_, err = Canonicalize([]byte(`{not json`))
	assert.Error(t, err)
}

func TestSignAndVerify(t *testing.T) {
	t.Parallel()

	master := testMaster(t)
	kp, err := DeriveKeypair(master, 0, 0)
	require.NoError(t, err)

	hash := HashMessage("a signed statement")
	sig, err := SignHash(hash, kp.Private)
	require.NoError(t, err)

	assert.True(t, VerifySig(hash, sig, kp.Public))

	// Any mutation fails verification
	otherHash := HashMessage("a different statement")
	assert.False(t, VerifySig(otherHash, sig, kp.Public))
	assert.False(t, VerifySig(hash, sig[:len(sig)-2], kp.Public))

	otherKp, err := DeriveKeypair(master, 1, 0)
	require.NoError(t, err)
	assert.False(t, VerifySig(hash, sig, otherKp.Public))

	// Malformed inputs verify false, never panic
	assert.False(t, VerifySig("zz", sig, kp.Public))
	assert.False(t, VerifySig(hash, "zz", kp.Public))
	assert.False(t, VerifySig(hash, sig, JWK{}))
}

func TestSignHashRejectsBadDigest(t *testing.T) {
	t.Parallel()

	master := testMaster(t)
	kp, err := DeriveKeypair(master, 0, 0)
	require.NoError(t, err)

	_, err = SignHash("abcd", kp.Private)
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestEncryptDecryptMessage(t *testing.T) {
	t.Parallel()

	master := testMaster(t)

	sender, err := DeriveKeypair(master, 0, 0)
	require.NoError(t, err)
	receiver, err := DeriveKeypair(master, 1, 0)
	require.NoError(t, err)

	plaintext := []byte("Hi Bob!")
	ciphertext, err := EncryptMessage(receiver.Public, sender.Private, plaintext)
	require.NoError(t, err)

	// ECDH is symmetric: the receiver decrypts with the sender's public key
	got, err := DecryptMessage(sender.Public, receiver.Private, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	// A third party cannot decrypt
	eve, err := DeriveKeypair(master, 2, 0)
	require.NoError(t, err)
	_, err = DecryptMessage(sender.Public, eve.Private, ciphertext)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	// Fresh nonce per encryption
	other, err := EncryptMessage(receiver.Public, sender.Private, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, ciphertext, other)

	// Garbage input
	_, err = DecryptMessage(sender.Public, receiver.Private, "!!!not base64!!!")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
	_, err = DecryptMessage(sender.Public, receiver.Private, "AAAA")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestEncryptToSelf(t *testing.T) {
	t.Parallel()

	master := testMaster(t)
	kp, err := DeriveKeypair(master, 0, 0)
	require.NoError(t, err)

	// The sender copy of an envelope is encrypted to the sender's own key
	ciphertext, err := EncryptMessage(kp.Public, kp.Private, []byte("note to self"))
	require.NoError(t, err)

	got, err := DecryptMessage(kp.Public, kp.Private, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "note to self", string(got))
}

func TestPassphraseEncryption(t *testing.T) {
	t.Parallel()

	SetScryptWorkFactor(10)

	plaintext := []byte(`{"counter":3}`)
	ciphertext, err := EncryptWithPassphrase(plaintext, testMnemonic)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	got, err := DecryptWithPassphrase(ciphertext, testMnemonic)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	_, err = DecryptWithPassphrase(ciphertext, "wrong passphrase")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDeriveSymmetricKey(t *testing.T) {
	t.Parallel()

	ikm := []byte("master key material")

	key1, err := DeriveSymmetricKey(ikm, "vault/did:mdip:abc")
	require.NoError(t, err)
	key2, err := DeriveSymmetricKey(ikm, "vault/did:mdip:abc")
	require.NoError(t, err)
	assert.Equal(t, key1, key2)
	assert.Len(t, key1, 32)

	keyOther, err := DeriveSymmetricKey(ikm, "vault/did:mdip:xyz")
	require.NoError(t, err)
	assert.NotEqual(t, key1, keyOther)

	sealed, err := EncryptWithKey(key1, []byte("identity record"))
	require.NoError(t, err)
	opened, err := DecryptWithKey(key1, sealed)
	require.NoError(t, err)
	assert.Equal(t, "identity record", string(opened))

	_, err = DecryptWithKey(keyOther, sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestSecureBytes(t *testing.T) {
	t.Parallel()

	sb := SecureBytesFromSlice([]byte("seed material"))
	assert.Equal(t, 13, sb.Len())
	assert.Equal(t, []byte("seed material"), sb.Bytes())

	sb.Destroy()
	assert.Nil(t, sb.Bytes())
	assert.Equal(t, 0, sb.Len())
	assert.False(t, sb.IsLocked())

	// Double destroy is safe
	sb.Destroy()
}

func TestSeedFromMnemonic(t *testing.T) {
	t.Parallel()

	seed, err := SeedFromMnemonic(testMnemonic)
	require.NoError(t, err)
	defer seed.Destroy()

	// BIP39 seeds are 64 bytes
	assert.Equal(t, 64, seed.Len())

	// Same phrase, same seed
	again, err := SeedFromMnemonic(testMnemonic)
	require.NoError(t, err)
	defer again.Destroy()
	assert.Equal(t, seed.Bytes(), again.Bytes())

	_, err = SeedFromMnemonic("not a valid phrase")
	assert.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestEncryptDecryptSecure(t *testing.T) {
	t.Parallel()

	SetScryptWorkFactor(10)

	sb := SecureBytesFromSlice([]byte("sensitive phrase"))
	defer sb.Destroy()

	sealed, err := EncryptSecure(sb, "passphrase")
	require.NoError(t, err)

	// The source container survives encryption
	assert.Equal(t, []byte("sensitive phrase"), sb.Bytes())

	opened, err := DecryptSecure(sealed, "passphrase")
	require.NoError(t, err)
	defer opened.Destroy()
	assert.Equal(t, []byte("sensitive phrase"), opened.Bytes())

	_, err = DecryptSecure(sealed, "wrong")
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	// A destroyed container cannot be encrypted
	dead := SecureBytesFromSlice([]byte("x"))
	dead.Destroy()
	_, err = EncryptSecure(dead, "passphrase")
	assert.Error(t, err)
}

func TestFormatTypoSuggestions(t *testing.T) {
	t.Parallel()

	assert.Empty(t, FormatTypoSuggestions(nil))

	out := FormatTypoSuggestions(DetectTypos("abandon abandno xqzjw"))
	assert.Contains(t, out, "word 2: 'abandno' - did you mean 'abandon'?")
	assert.Contains(t, out, "word 3: 'xqzjw' is not a valid BIP39 word")
}

func TestJWKJSONShape(t *testing.T) {
	t.Parallel()

	master := testMaster(t)
	kp, err := DeriveKeypair(master, 0, 0)
	require.NoError(t, err)

	data, err := json.Marshal(kp.Public)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"d"`)

	var back JWK
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, kp.Public, back)
}
