package credential

import (
	"context"
	"errors"

	"github.com/sotrian/sotrian/backend/internal/store"
)

// ErrNotFound signals that the caller has no credential configured. The
// relay fails fast on it without contacting the detection engine.
var ErrNotFound = errors.New("no upstream credential configured")

// Resolver maps a caller identity to a decrypted upstream credential.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (string, error)
}

// Decrypt turns a stored blob back into the plaintext credential.
// Encryption-at-rest is outside this core; the transform is injected.
type Decrypt func(blob []byte) (string, error)

// PlainDecrypt passes blobs through unchanged, for deployments that handle
// encryption at the storage layer.
func PlainDecrypt(blob []byte) (string, error) {
	return string(blob), nil
}

// StaticResolver hands out one fixed credential for every caller. Used when
// the server is configured with a shared engine key.
type StaticResolver struct {
	key string
}

// NewStaticResolver wraps a fixed credential; an empty key resolves to
// ErrNotFound.
func NewStaticResolver(key string) *StaticResolver {
	return &StaticResolver{key: key}
}

// Resolve returns the fixed credential.
func (r *StaticResolver) Resolve(_ context.Context, _ string) (string, error) {
	if r.key == "" {
		return "", ErrNotFound
	}
	return r.key, nil
}

// StoreResolver looks up per-user credential blobs and decrypts them with
// the injected transform.
type StoreResolver struct {
	creds   store.CredentialStore
	decrypt Decrypt
}

// NewStoreResolver builds a resolver over the credential store. A nil
// decrypt defaults to the pass-through transform.
func NewStoreResolver(creds store.CredentialStore, decrypt Decrypt) *StoreResolver {
	if decrypt == nil {
		decrypt = PlainDecrypt
	}
	return &StoreResolver{creds: creds, decrypt: decrypt}
}

// Resolve fetches and decrypts the caller's credential.
func (r *StoreResolver) Resolve(ctx context.Context, userID string) (string, error) {
	blob, err := r.creds.GetCredential(ctx, userID)
	if errors.Is(err, store.ErrCredentialNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	key, err := r.decrypt(blob)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", ErrNotFound
	}
	return key, nil
}

// Chain tries resolvers in order, returning the first credential found.
type Chain []Resolver

// Resolve walks the chain; only ErrNotFound falls through to the next link.
func (c Chain) Resolve(ctx context.Context, userID string) (string, error) {
	for _, r := range c {
		key, err := r.Resolve(ctx, userID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		return key, nil
	}
	return "", ErrNotFound
}
