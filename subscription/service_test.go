package subscription_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hypothesize-tech/courier/store/memory"
	"github.com/hypothesize-tech/courier/subscription"
)

// reverseCipher is a trivially reversible cipher for tests.
type reverseCipher struct{}

func (reverseCipher) Encrypt(v string) (string, error) { return "enc:" + v, nil }

func (reverseCipher) Decrypt(v string) (string, error) {
	out, ok := strings.CutPrefix(v, "enc:")
	if !ok {
		return "", errors.New("not encrypted")
	}
	return out, nil
}

func newTestService() *subscription.Service {
	return subscription.NewService(memory.New(), reverseCipher{}, nil)
}

func validInput() subscription.Input {
	return subscription.Input{
		UserID:     "user-1",
		URL:        "https://example.com/hook",
		EventTypes: []string{"cost.*"},
	}
}

func TestCreateDefaults(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	sub, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !sub.Active {
		t.Error("new subscription not active")
	}
	if !strings.HasPrefix(sub.Secret, "whsec_") {
		t.Errorf("secret = %q, want whsec_ prefix", sub.Secret)
	}
	if len(sub.Secret) != 70 {
		t.Errorf("secret length = %d, want 70", len(sub.Secret))
	}
	if sub.Retry != subscription.DefaultRetryPolicy() {
		t.Errorf("retry = %+v, want defaults", sub.Retry)
	}
	if sub.Timeout != 15*time.Second {
		t.Errorf("timeout = %s, want 15s", sub.Timeout)
	}
	if sub.Auth.Type != subscription.AuthNone {
		t.Errorf("auth type = %q, want none", sub.Auth.Type)
	}
	if sub.Version != "1.0.0" {
		t.Errorf("version = %q", sub.Version)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*subscription.Input)
		field  string
	}{
		{"missing url", func(in *subscription.Input) { in.URL = "" }, "url"},
		{"malformed url", func(in *subscription.Input) { in.URL = "not a url" }, "url"},
		{"missing user", func(in *subscription.Input) { in.UserID = "" }, "user_id"},
		{"no event types", func(in *subscription.Input) { in.EventTypes = nil }, "event_types"},
		{
			"broken retry",
			func(in *subscription.Input) { in.Retry = subscription.RetryPolicy{MaxRetries: -1} },
			"retry",
		},
		{
			"unknown auth type",
			func(in *subscription.Input) { in.Auth = subscription.Auth{Type: "kerberos"} },
			"auth.type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			_, err := svc.Create(ctx, in)
			var verr *subscription.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestCreateEncryptsCredentials(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	in := validInput()
	in.Auth = subscription.Auth{
		Type:     subscription.AuthBasic,
		Username: "alice",
		Password: "s3cret",
	}

	sub, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sub.Auth.Username != "enc:alice" || sub.Auth.Password != "enc:s3cret" {
		t.Errorf("credentials stored unencrypted: %+v", sub.Auth)
	}

	plain, err := svc.DecryptAuth(sub.Auth)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain.Username != "alice" || plain.Password != "s3cret" {
		t.Errorf("decrypted = %+v", plain)
	}
}

func TestCreateKeepsCallerSecret(t *testing.T) {
	svc := newTestService()

	in := validInput()
	in.Secret = "whsec_caller_chosen"
	sub, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sub.Secret != "whsec_caller_chosen" {
		t.Errorf("secret = %q", sub.Secret)
	}
}

func TestUpdateBumpsVersionOnStructuralChange(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	sub, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Non-structural change keeps the version.
	updated, err := svc.Update(ctx, sub.ID, subscription.Input{Description: "billing alerts"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != "1.0.0" {
		t.Errorf("version = %q after description change, want 1.0.0", updated.Version)
	}
	if updated.Description != "billing alerts" {
		t.Errorf("description = %q", updated.Description)
	}

	// URL change is structural.
	updated, err = svc.Update(ctx, sub.ID, subscription.Input{URL: "https://example.com/v2"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != "1.0.1" {
		t.Errorf("version = %q after url change, want 1.0.1", updated.Version)
	}

	// So is an event type change.
	updated, err = svc.Update(ctx, sub.ID, subscription.Input{EventTypes: []string{"budget.*"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != "1.0.2" {
		t.Errorf("version = %q after event types change, want 1.0.2", updated.Version)
	}
}

func TestUpdateMergesAuthCredentials(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	in := validInput()
	in.Auth = subscription.Auth{
		Type:     subscription.AuthBasic,
		Username: "alice",
		Password: "old",
	}
	sub, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Supplying only the password keeps the stored username.
	updated, err := svc.Update(ctx, sub.ID, subscription.Input{
		Auth: subscription.Auth{Type: subscription.AuthBasic, Password: "new"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Auth.Username != "enc:alice" {
		t.Errorf("username = %q, existing credential lost", updated.Auth.Username)
	}
	if updated.Auth.Password != "enc:new" {
		t.Errorf("password = %q", updated.Auth.Password)
	}
}

func TestRotateSecret(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	sub, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	old := sub.Secret

	rotated, err := svc.RotateSecret(ctx, sub.ID)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated == old {
		t.Error("secret unchanged after rotation")
	}
	if !strings.HasPrefix(rotated, "whsec_") {
		t.Errorf("rotated secret = %q", rotated)
	}

	got, err := svc.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Secret != rotated {
		t.Error("rotated secret not persisted")
	}
}

func TestSetActiveRecordsReason(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	sub, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.SetActive(ctx, sub.ID, false, "too many failures"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, err := svc.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Active {
		t.Error("subscription still active")
	}
	if got.DeactivatedReason != "too many failures" {
		t.Errorf("reason = %q", got.DeactivatedReason)
	}

	if err := svc.SetActive(ctx, sub.ID, true, ""); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	got, err = svc.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Active {
		t.Error("subscription not reactivated")
	}
	if got.DeactivatedReason != "" {
		t.Errorf("reason = %q after reactivation, want empty", got.DeactivatedReason)
	}
}

func TestDeleteRemovesSubscription(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	sub, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, sub.ID); err == nil {
		t.Error("subscription still present after delete")
	}
}

func TestListFiltersByUser(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	for _, userID := range []string{"user-1", "user-1", "user-2"} {
		in := validInput()
		in.UserID = userID
		if _, err := svc.Create(ctx, in); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	subs, err := svc.List(ctx, "user-1", subscription.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("got %d subscriptions, want 2", len(subs))
	}
}
