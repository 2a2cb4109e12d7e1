package auth

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/polariscompute/polaris-gateway/internal/keystore"
)

// ErrInvalidCredential covers malformed, unknown, and revoked credentials.
// The three cases collapse outwardly so callers cannot probe which one hit.
var ErrInvalidCredential = errors.New("invalid credential")

// Validator turns an opaque bearer string into a verified principal.
type Validator struct {
	store    keystore.Store
	touchTTL time.Duration
}

// NewValidator creates a Validator over the given credential store.
func NewValidator(store keystore.Store) *Validator {
	return &Validator{store: store, touchTTL: 5 * time.Second}
}

// Validate resolves raw to a Principal or returns ErrInvalidCredential.
//
// Keys failing the shape check are rejected before any store access. On a
// hit, last-used metadata is updated on a detached goroutine; that update is
// best-effort and can never fail or delay the validation itself.
func (v *Validator) Validate(ctx context.Context, raw string) (keystore.Principal, error) {
	if !ValidShape(raw) {
		return keystore.Principal{}, ErrInvalidCredential
	}

	cred, err := v.store.LookupActive(ctx, Fingerprint(raw))
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return keystore.Principal{}, ErrInvalidCredential
		}
		return keystore.Principal{}, err
	}

	go v.touch(cred.ID)

	return cred.Principal(), nil
}

func (v *Validator) touch(credentialID string) {
	ctx, cancel := context.WithTimeout(context.Background(), v.touchTTL)
	defer cancel()
	if err := v.store.TouchLastUsed(ctx, credentialID, time.Now()); err != nil {
		log.Debug().Err(err).Str("credential_id", credentialID).Msg("last-used touch failed")
	}
}
