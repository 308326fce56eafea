// Package vault stores per-owner channel credentials encrypted at rest.
package vault

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/channel"
	"github.com/capitalize-ai/outreach-engine/internal/config"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/store"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
)

const (
	nonceSize = 24
	keyInfo   = "outreach-engine/credential-vault/v1"
)

var errSealedTooShort = errors.New("sealed credential too short")

// Vault seals credentials with NaCl secretbox under a key derived from the
// configured master secret.
type Vault struct {
	store      *store.Store
	transports *channel.Registry
	key        [32]byte
	logger     *logger.Logger
	now        func() time.Time
}

// New derives the sealing key and creates a vault.
func New(cfg config.VaultConfig, st *store.Store, transports *channel.Registry, log *logger.Logger) (*Vault, error) {
	if cfg.MasterKey == "" {
		return nil, errors.New("vault master key is required")
	}
	v := &Vault{
		store:      st,
		transports: transports,
		logger:     log,
		now:        time.Now,
	}
	kdf := hkdf.New(sha256.New, []byte(cfg.MasterKey), nil, []byte(keyInfo))
	if _, err := io.ReadFull(kdf, v.key[:]); err != nil {
		return nil, fmt.Errorf("failed to derive vault key: %w", err)
	}
	return v, nil
}

func (v *Vault) seal(creds model.Credentials) ([]byte, error) {
	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to encode credentials: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &v.key), nil
}

func (v *Vault) open(sealed []byte) (model.Credentials, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, errSealedTooShort
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &v.key)
	if !ok {
		return nil, errors.New("credential decryption failed")
	}
	var creds model.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return creds, nil
}

func missingKeys(c model.Channel, creds model.Credentials) []string {
	var missing []string
	for _, key := range model.RequiredCredentialKeys(c) {
		if creds[key] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// Store seals and saves credentials for owner on channel. Any previous
// validation is discarded.
func (v *Vault) Store(ctx context.Context, ownerID string, c model.Channel, creds model.Credentials, dailyLimit, rateLimit int) (*model.ChannelCredential, error) {
	if !c.Valid() {
		return nil, apperr.Validation("unknown channel %q", c)
	}
	if missing := missingKeys(c, creds); len(missing) > 0 {
		return nil, apperr.Validation("%s credentials missing keys %v", c, missing)
	}

	sealed, err := v.seal(creds)
	if err != nil {
		return nil, err
	}

	now := v.now().UTC()
	record := &model.ChannelCredential{
		OwnerID:    ownerID,
		Channel:    c,
		Sealed:     sealed,
		DailyLimit: dailyLimit,
		RateLimit:  rateLimit,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing, err := v.store.GetCredential(ctx, ownerID, c); err == nil {
		record.CreatedAt = existing.CreatedAt
	}
	if err := v.store.PutCredential(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store credentials: %w", err)
	}

	v.logger.Info("channel credentials stored",
		zap.String("owner_id", ownerID),
		zap.String("channel", string(c)),
	)
	return record, nil
}

// Get decrypts the owner's credentials for channel.
func (v *Vault) Get(ctx context.Context, ownerID string, c model.Channel) (model.Credentials, error) {
	record, err := v.store.GetCredential(ctx, ownerID, c)
	if apperr.IsNotFound(err) {
		return nil, apperr.Validation("no %s credentials configured", c)
	}
	if err != nil {
		return nil, err
	}
	if !record.IsActive {
		return nil, apperr.Validation("%s credentials are disabled", c)
	}
	return v.open(record.Sealed)
}

// Validate checks that the owner's credentials for channel are complete and
// accepted by the channel's transport. The outcome is recorded.
func (v *Vault) Validate(ctx context.Context, ownerID string, c model.Channel) error {
	record, err := v.store.GetCredential(ctx, ownerID, c)
	if apperr.IsNotFound(err) {
		return apperr.Validation("no %s credentials configured", c)
	}
	if err != nil {
		return err
	}

	creds, err := v.open(record.Sealed)
	if err != nil {
		return apperr.Validation("%s credentials unreadable: %v", c, err)
	}

	verr := v.check(ctx, c, creds)

	now := v.now().UTC()
	record.UpdatedAt = now
	if verr != nil {
		record.LastError = verr.Error()
		record.ValidatedAt = nil
	} else {
		record.LastError = ""
		record.ValidatedAt = &now
	}
	if err := v.store.PutCredential(ctx, record); err != nil {
		return fmt.Errorf("failed to record validation: %w", err)
	}

	if verr != nil {
		v.logger.Warn("channel credentials rejected",
			zap.String("owner_id", ownerID),
			zap.String("channel", string(c)),
			zap.Error(verr),
		)
		return apperr.Validation("%s credentials invalid: %v", c, verr)
	}
	return nil
}

func (v *Vault) check(ctx context.Context, c model.Channel, creds model.Credentials) error {
	if missing := missingKeys(c, creds); len(missing) > 0 {
		return fmt.Errorf("missing keys %v", missing)
	}
	transport, err := v.transports.Get(c)
	if err != nil {
		return err
	}
	return transport.ValidateCredentials(ctx, creds)
}

// ValidateAll validates every channel and returns a ValidationError naming
// each channel that failed.
func (v *Vault) ValidateAll(ctx context.Context, ownerID string, channels []model.Channel) error {
	failed := make(map[string]string)
	for _, c := range channels {
		if err := v.Validate(ctx, ownerID, c); err != nil {
			if !apperr.IsValidation(err) {
				return err
			}
			failed[string(c)] = err.Error()
		}
	}
	if len(failed) > 0 {
		return apperr.ValidationFields("missing or invalid channel credentials", failed)
	}
	return nil
}

// DailyLimit returns the owner's configured daily send cap for channel, or
// zero when none is set.
func (v *Vault) DailyLimit(ctx context.Context, ownerID string, c model.Channel) (int, error) {
	record, err := v.store.GetCredential(ctx, ownerID, c)
	if apperr.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return record.DailyLimit, nil
}
