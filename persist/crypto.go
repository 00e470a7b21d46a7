package persist

import (
	"context"
	"crypto/rand"

	"github.com/Yawning/aez"
	"golang.org/x/crypto/scrypt"

	"github.com/sensei-labs/senseid/esenseid"
	"github.com/sensei-labs/senseid/kv"
)

// Seed/macaroon-at-rest encryption, spec.md §4.3: "encrypted-at-rest with
// a key derived from passphrase via a slow KDF; the raw seed never
// persists in plaintext." Grounded on lnd's aezeed cipherseed scheme,
// which encrypts with the same Yawning/aez AEAD this module's go.mod
// already pins: a per-record random salt feeds scrypt to derive the AEAD
// key, and a per-record random nonce is authenticated alongside the
// ciphertext so two records never reuse a (key, nonce) pair.
const (
	saltSize  = 16
	nonceSize = 16
	keySize   = 32
	// aezTau is the authentication tag length in bytes appended by
	// aez.Encrypt; aez.Decrypt reports authentication failure by
	// returning ok=false rather than an error.
	aezTau = 16

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

func deriveKey(passphrase, salt []byte) ([]byte, error) {
	key, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindCrypto, err)
	}
	return key, nil
}

// seal returns salt || nonce || ciphertext, the on-disk layout for an
// encrypted seed or macaroon blob.
func seal(passphrase, plaintext []byte, ad [][]byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, esenseid.Wrap(esenseid.KindCrypto, err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, esenseid.Wrap(esenseid.KindCrypto, err)
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	ciphertext := aez.Encrypt(key, nonce, ad, aezTau, plaintext)

	out := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

func open(passphrase, sealed []byte, ad [][]byte) ([]byte, error) {
	if len(sealed) < saltSize+nonceSize {
		return nil, esenseid.New(esenseid.KindCrypto, "sealed record too short")
	}
	salt := sealed[:saltSize]
	nonce := sealed[saltSize : saltSize+nonceSize]
	ciphertext := sealed[saltSize+nonceSize:]

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	plaintext, ok := aez.Decrypt(key, nonce, ad, aezTau, ciphertext)
	if !ok {
		return nil, esenseid.New(esenseid.KindCrypto, "authentication failed decrypting sealed record")
	}
	return plaintext, nil
}

// StoreSeed encrypts seed under passphrase and writes it to the node's
// seed key. The raw seed is never written to the KV layer in plaintext.
func (p *Persister) StoreSeed(ctx context.Context, passphrase, seed []byte) error {
	sealed, err := seal(passphrase, seed, [][]byte{[]byte(kv.KeySeed)})
	if err != nil {
		return err
	}
	return p.kv.Put(ctx, kv.KeySeed, sealed, 0)
}

// LoadSeed reads and decrypts the node's seed. Returns
// esenseid.ErrEntropyNotFound if no seed has been stored yet.
func (p *Persister) LoadSeed(ctx context.Context, passphrase []byte) ([]byte, error) {
	sealed, err := p.kv.MustGet(ctx, kv.KeySeed)
	if err != nil {
		return nil, err
	}
	return open(passphrase, sealed, [][]byte{[]byte(kv.KeySeed)})
}

// StoreMacaroon encrypts an issued macaroon under the node's
// passphrase-derived key and writes it to the node's KV namespace under
// the macaroon prefix plus id (not to the Store's macaroons table);
// id distinguishes one macaroon from another under the same node, since
// spec.md §3 allows multiple macaroons per node.
func (p *Persister) StoreMacaroon(ctx context.Context, passphrase []byte, id string, macaroon []byte) error {
	key := kv.PrefixMacaroon + id
	sealed, err := seal(passphrase, macaroon, [][]byte{[]byte(key)})
	if err != nil {
		return err
	}
	return p.kv.Put(ctx, key, sealed, 0)
}

// LoadMacaroon decrypts a previously stored macaroon.
func (p *Persister) LoadMacaroon(ctx context.Context, passphrase []byte, id string) ([]byte, error) {
	key := kv.PrefixMacaroon + id
	sealed, err := p.kv.MustGet(ctx, key)
	if err != nil {
		return nil, err
	}
	return open(passphrase, sealed, [][]byte{[]byte(key)})
}
