package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/internal/entity"
	"github.com/hypothesize-tech/courier/signature"
)

const (
	defaultTimeout = 15 * time.Second
	initialVersion = "1.0.0"
)

// Service provides subscription management operations.
type Service struct {
	store  Store
	cipher Cipher
	logger *slog.Logger
}

// NewService creates a new subscription service. A nil cipher selects
// NoopCipher; production deployments supply the platform's credential
// cipher.
func NewService(store Store, cipher Cipher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cipher == nil {
		cipher = NoopCipher{}
	}
	return &Service{
		store:  store,
		cipher: cipher,
		logger: logger,
	}
}

// Create registers a new webhook subscription.
func (svc *Service) Create(ctx context.Context, in Input) (*Subscription, error) {
	if in.URL == "" {
		return nil, &ValidationError{Field: "url", Message: "required"}
	}
	if _, err := url.ParseRequestURI(in.URL); err != nil {
		return nil, &ValidationError{Field: "url", Message: "invalid URL"}
	}

	if in.UserID == "" {
		return nil, &ValidationError{Field: "user_id", Message: "required"}
	}

	if len(in.EventTypes) == 0 {
		return nil, &ValidationError{Field: "event_types", Message: "at least one event type pattern required"}
	}

	retry := in.Retry
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy()
	}
	if !retry.Valid() {
		return nil, &ValidationError{Field: "retry", Message: "max retries, multiplier, and initial delay must be positive"}
	}

	auth := in.Auth
	if auth.Type == "" {
		auth.Type = AuthNone
	}
	if !auth.Type.Valid() {
		return nil, &ValidationError{Field: "auth.type", Message: "unknown auth type"}
	}
	auth, err := svc.encryptAuth(auth)
	if err != nil {
		return nil, fmt.Errorf("subscription: encrypt credentials: %w", err)
	}

	secret := in.Secret
	if secret == "" {
		secret = signature.GenerateSecret()
	}

	timeout := in.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	sub := &Subscription{
		Entity:      entity.New(),
		ID:          id.NewSubscriptionID(),
		UserID:      in.UserID,
		URL:         in.URL,
		Description: in.Description,
		EventTypes:  in.EventTypes,
		Active:      true,
		Auth:        auth,
		Filters:     in.Filters,
		Headers:     in.Headers,
		Secret:      secret,
		Template:    in.Template,
		Retry:       retry,
		Timeout:     timeout,
		RateLimit:   in.RateLimit,
		Version:     initialVersion,
		Metadata:    in.Metadata,
	}

	if err := svc.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	return sub, nil
}

// Get returns a subscription by ID.
func (svc *Service) Get(ctx context.Context, subID id.ID) (*Subscription, error) {
	return svc.store.GetSubscription(ctx, subID)
}

// Update modifies an existing subscription in place. Changed credential
// fields are re-encrypted; a structural change (URL, event types, or
// template) bumps the subscription version.
func (svc *Service) Update(ctx context.Context, subID id.ID, in Input) (*Subscription, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	structural := false

	if in.URL != "" && in.URL != sub.URL {
		if _, err := url.ParseRequestURI(in.URL); err != nil {
			return nil, &ValidationError{Field: "url", Message: "invalid URL"}
		}
		sub.URL = in.URL
		structural = true
	}
	if in.Description != "" {
		sub.Description = in.Description
	}
	if len(in.EventTypes) > 0 && !equalStrings(in.EventTypes, sub.EventTypes) {
		sub.EventTypes = in.EventTypes
		structural = true
	}
	if in.Template != sub.Template && (in.Template != "" || sub.Template != "") {
		sub.Template = in.Template
		structural = true
	}
	if in.Headers != nil {
		sub.Headers = in.Headers
	}
	if !in.Filters.Empty() {
		sub.Filters = in.Filters
	}
	if in.Retry != (RetryPolicy{}) {
		if !in.Retry.Valid() {
			return nil, &ValidationError{Field: "retry", Message: "max retries, multiplier, and initial delay must be positive"}
		}
		sub.Retry = in.Retry
	}
	if in.Timeout > 0 {
		sub.Timeout = in.Timeout
	}
	if in.RateLimit >= 0 {
		sub.RateLimit = in.RateLimit
	}
	if in.Metadata != nil {
		sub.Metadata = in.Metadata
	}

	if in.Auth.Type != "" {
		if !in.Auth.Type.Valid() {
			return nil, &ValidationError{Field: "auth.type", Message: "unknown auth type"}
		}
		merged, err := svc.mergeAuth(sub.Auth, in.Auth)
		if err != nil {
			return nil, fmt.Errorf("subscription: encrypt credentials: %w", err)
		}
		sub.Auth = merged
	}

	if structural {
		sub.Version = bumpVersion(sub.Version)
	}

	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	return sub, nil
}

// Delete removes a subscription. The store cascades deletion of its
// delivery history.
func (svc *Service) Delete(ctx context.Context, subID id.ID) error {
	return svc.store.DeleteSubscription(ctx, subID)
}

// List returns subscriptions for a user.
func (svc *Service) List(ctx context.Context, userID string, opts ListOpts) ([]*Subscription, error) {
	return svc.store.ListSubscriptions(ctx, userID, opts)
}

// SetActive enables or disables a subscription.
func (svc *Service) SetActive(ctx context.Context, subID id.ID, active bool, reason string) error {
	return svc.store.SetActive(ctx, subID, active, reason)
}

// RotateSecret generates a new signing secret for a subscription.
func (svc *Service) RotateSecret(ctx context.Context, subID id.ID) (string, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return "", err
	}

	newSecret := signature.GenerateSecret()

	sub.Secret = newSecret
	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return "", err
	}

	return newSecret, nil
}

// DecryptAuth resolves a subscription's credentials to plaintext for
// header construction.
func (svc *Service) DecryptAuth(auth Auth) (Auth, error) {
	out := auth
	var err error
	if out.Username, err = svc.decryptField(auth.Username); err != nil {
		return Auth{}, err
	}
	if out.Password, err = svc.decryptField(auth.Password); err != nil {
		return Auth{}, err
	}
	if out.Token, err = svc.decryptField(auth.Token); err != nil {
		return Auth{}, err
	}
	if out.HeaderValue, err = svc.decryptField(auth.HeaderValue); err != nil {
		return Auth{}, err
	}
	return out, nil
}

func (svc *Service) decryptField(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	return svc.cipher.Decrypt(v)
}

func (svc *Service) encryptField(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	return svc.cipher.Encrypt(v)
}

// encryptAuth encrypts every populated credential field.
func (svc *Service) encryptAuth(auth Auth) (Auth, error) {
	out := auth
	var err error
	if out.Username, err = svc.encryptField(auth.Username); err != nil {
		return Auth{}, err
	}
	if out.Password, err = svc.encryptField(auth.Password); err != nil {
		return Auth{}, err
	}
	if out.Token, err = svc.encryptField(auth.Token); err != nil {
		return Auth{}, err
	}
	if out.HeaderValue, err = svc.encryptField(auth.HeaderValue); err != nil {
		return Auth{}, err
	}
	return out, nil
}

// mergeAuth applies an update over existing auth, re-encrypting only the
// credential fields the caller supplied.
func (svc *Service) mergeAuth(current, in Auth) (Auth, error) {
	out := current
	out.Type = in.Type

	var err error
	if in.Username != "" {
		if out.Username, err = svc.encryptField(in.Username); err != nil {
			return Auth{}, err
		}
	}
	if in.Password != "" {
		if out.Password, err = svc.encryptField(in.Password); err != nil {
			return Auth{}, err
		}
	}
	if in.Token != "" {
		if out.Token, err = svc.encryptField(in.Token); err != nil {
			return Auth{}, err
		}
	}
	if in.HeaderName != "" {
		out.HeaderName = in.HeaderName
	}
	if in.HeaderValue != "" {
		if out.HeaderValue, err = svc.encryptField(in.HeaderValue); err != nil {
			return Auth{}, err
		}
	}
	return out, nil
}

// bumpVersion increments the patch segment of a dotted version string.
// Unparseable versions restart at the initial version.
func bumpVersion(v string) string {
	parts := strings.Split(v, ".")
	last := parts[len(parts)-1]
	n, err := strconv.Atoi(last)
	if err != nil {
		return initialVersion
	}
	parts[len(parts)-1] = strconv.Itoa(n + 1)
	return strings.Join(parts, ".")
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "subscription validation: " + e.Field + ": " + e.Message
}
