package delivery_test

import (
	"encoding/base64"
	"strconv"
	"testing"

	"github.com/hypothesize-tech/courier/delivery"
	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/internal/entity"
	"github.com/hypothesize-tech/courier/signature"
	"github.com/hypothesize-tech/courier/subscription"
)

func headerTestSubscription() *subscription.Subscription {
	return &subscription.Subscription{
		Entity:     entity.New(),
		ID:         id.NewSubscriptionID(),
		UserID:     "user-1",
		URL:        "https://example.com/hook",
		Secret:     "whsec_headertest",
		EventTypes: []string{"*"},
		Active:     true,
	}
}

func headerTestDelivery() *delivery.Delivery {
	return &delivery.Delivery{
		Entity:  entity.New(),
		ID:      id.NewDeliveryID(),
		EventID: id.NewEventID(),
		Attempt: 1,
		Status:  delivery.StatusPending,
	}
}

func TestHeaderBuilderStandardHeaders(t *testing.T) {
	hb := delivery.NewHeaderBuilder(signature.NewSigner(), nil, nil)
	sub := headerTestSubscription()
	d := headerTestDelivery()
	body := []byte(`{"hello":"world"}`)

	headers := hb.Build(sub, d, body)

	if headers["Content-Type"] != "application/json" {
		t.Error("missing Content-Type")
	}
	if headers[delivery.HeaderWebhookID] != sub.ID.String() {
		t.Error("missing webhook id header")
	}
	if headers[delivery.HeaderDelivery] != d.ID.String() {
		t.Error("missing delivery id header")
	}
	if headers[delivery.HeaderEventID] != d.EventID.String() {
		t.Error("missing event id header")
	}
	if headers[delivery.HeaderTimestamp] == "" {
		t.Error("missing timestamp header")
	}
	if headers[delivery.HeaderSignature] == "" {
		t.Error("missing signature header")
	}
}

func TestHeaderBuilderSignatureMatchesTimestamp(t *testing.T) {
	hb := delivery.NewHeaderBuilder(signature.NewSigner(), nil, nil)
	sub := headerTestSubscription()
	d := headerTestDelivery()
	body := []byte(`{"a":1}`)

	headers := hb.Build(sub, d, body)

	ts, err := strconv.ParseInt(headers[delivery.HeaderTimestamp], 10, 64)
	if err != nil {
		t.Fatalf("parse timestamp: %v", err)
	}
	if !signature.Verify(body, sub.Secret, ts, headers[delivery.HeaderSignature]) {
		t.Error("signature does not verify against the timestamp header")
	}
}

func TestHeaderBuilderCustomHeadersCannotClobberSignature(t *testing.T) {
	hb := delivery.NewHeaderBuilder(signature.NewSigner(), nil, nil)
	sub := headerTestSubscription()
	sub.Headers = map[string]string{
		"X-Custom":               "yes",
		delivery.HeaderTimestamp: "1",
		delivery.HeaderSignature: "sha256=forged",
		delivery.HeaderWebhookID: "overridden",
	}
	d := headerTestDelivery()
	body := []byte(`{}`)

	headers := hb.Build(sub, d, body)

	if headers["X-Custom"] != "yes" {
		t.Error("custom header not applied")
	}
	// Custom headers may override identification defaults.
	if headers[delivery.HeaderWebhookID] != "overridden" {
		t.Error("expected custom header to override webhook id")
	}
	// But never the timestamp or signature.
	if headers[delivery.HeaderTimestamp] == "1" {
		t.Error("custom header overrode the timestamp")
	}
	if headers[delivery.HeaderSignature] == "sha256=forged" {
		t.Error("custom header overrode the signature")
	}
}

func TestHeaderBuilderBasicAuth(t *testing.T) {
	hb := delivery.NewHeaderBuilder(signature.NewSigner(), nil, nil)
	sub := headerTestSubscription()
	sub.Auth = subscription.Auth{
		Type:     subscription.AuthBasic,
		Username: "alice",
		Password: "s3cret",
	}
	d := headerTestDelivery()

	headers := hb.Build(sub, d, nil)

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:s3cret"))
	if headers["Authorization"] != want {
		t.Errorf("Authorization = %q, want %q", headers["Authorization"], want)
	}
}

func TestHeaderBuilderBearerAuth(t *testing.T) {
	hb := delivery.NewHeaderBuilder(signature.NewSigner(), nil, nil)
	sub := headerTestSubscription()
	sub.Auth = subscription.Auth{
		Type:  subscription.AuthBearer,
		Token: "tok_123",
	}
	d := headerTestDelivery()

	headers := hb.Build(sub, d, nil)

	if headers["Authorization"] != "Bearer tok_123" {
		t.Errorf("Authorization = %q, want Bearer tok_123", headers["Authorization"])
	}
}

func TestHeaderBuilderCustomHeaderAuth(t *testing.T) {
	hb := delivery.NewHeaderBuilder(signature.NewSigner(), nil, nil)
	sub := headerTestSubscription()
	sub.Auth = subscription.Auth{
		Type:        subscription.AuthCustomHeader,
		HeaderName:  "X-Api-Key",
		HeaderValue: "key_456",
	}
	d := headerTestDelivery()

	headers := hb.Build(sub, d, nil)

	if headers["X-Api-Key"] != "key_456" {
		t.Errorf("X-Api-Key = %q, want key_456", headers["X-Api-Key"])
	}
}

func TestHeaderBuilderNoAuth(t *testing.T) {
	hb := delivery.NewHeaderBuilder(signature.NewSigner(), nil, nil)
	sub := headerTestSubscription()
	d := headerTestDelivery()

	headers := hb.Build(sub, d, nil)

	if _, ok := headers["Authorization"]; ok {
		t.Error("unexpected Authorization header")
	}
}

func TestHeaderBuilderReplayEventID(t *testing.T) {
	hb := delivery.NewHeaderBuilder(signature.NewSigner(), nil, nil)
	sub := headerTestSubscription()
	d := headerTestDelivery()
	d.Metadata = map[string]string{
		delivery.MetaReplayEventID: "evt_original_replay_1700000000",
	}

	headers := hb.Build(sub, d, nil)

	if headers[delivery.HeaderEventID] != "evt_original_replay_1700000000" {
		t.Errorf("event id header = %q, want the replay id", headers[delivery.HeaderEventID])
	}
}
