package delivery_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hypothesize-tech/courier/delivery"
	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/internal/entity"
	"github.com/hypothesize-tech/courier/signature"
	"github.com/hypothesize-tech/courier/subscription"
)

func senderTestPair(url string) (*subscription.Subscription, *delivery.Delivery) {
	sub := &subscription.Subscription{
		Entity:     entity.New(),
		ID:         id.NewSubscriptionID(),
		UserID:     "user-1",
		URL:        url,
		Secret:     "whsec_sendertest",
		EventTypes: []string{"*"},
		Active:     true,
	}
	d := &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		EventID:        id.NewEventID(),
		SubscriptionID: sub.ID,
		Attempt:        1,
		Status:         delivery.StatusPending,
		Body:           []byte(`{"event":"cost.alert","amount":42}`),
	}
	return sub, d
}

func newTestSender() *delivery.Sender {
	hb := delivery.NewHeaderBuilder(signature.NewSigner(), nil, nil)
	return delivery.NewSender(hb, 5*time.Second)
}

func TestSenderDeliversSignedPayload(t *testing.T) {
	var (
		gotBody    []byte
		gotHeaders http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sub, d := senderTestPair(srv.URL)
	res := newTestSender().Send(context.Background(), sub, d)

	if res.Err != nil {
		t.Fatalf("unexpected send error: %v", res.Err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if string(gotBody) != string(d.Body) {
		t.Errorf("body = %q, want %q", gotBody, d.Body)
	}
	if gotHeaders.Get("Content-Type") != "application/json" {
		t.Error("missing Content-Type")
	}
	if gotHeaders.Get(delivery.HeaderDelivery) != d.ID.String() {
		t.Error("missing delivery id header")
	}

	sig := gotHeaders.Get(delivery.HeaderSignature)
	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("signature %q missing sha256= prefix", sig)
	}
	ts, err := strconv.ParseInt(gotHeaders.Get(delivery.HeaderTimestamp), 10, 64)
	if err != nil {
		t.Fatalf("parse timestamp: %v", err)
	}
	if !signature.Verify(gotBody, sub.Secret, ts, sig) {
		t.Error("signature does not verify")
	}
}

func TestSenderRecordsSnapshots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", "req-1")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"ok":true}`)) //nolint:errcheck // best effort
	}))
	defer srv.Close()

	sub, d := senderTestPair(srv.URL)
	res := newTestSender().Send(context.Background(), sub, d)

	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", res.StatusCode)
	}
	if d.Request == nil {
		t.Fatal("request snapshot not recorded")
	}
	if d.Request.URL != srv.URL || d.Request.Method != http.MethodPost {
		t.Errorf("request snapshot = %s %s", d.Request.Method, d.Request.URL)
	}
	if d.Response == nil {
		t.Fatal("response snapshot not recorded")
	}
	if d.Response.StatusCode != http.StatusAccepted {
		t.Errorf("response snapshot status = %d", d.Response.StatusCode)
	}
	if d.Response.Body != `{"ok":true}` {
		t.Errorf("response snapshot body = %q", d.Response.Body)
	}
	if d.Response.Headers["X-Request-Id"] != "req-1" {
		t.Error("response headers not captured")
	}
}

func TestSenderTruncatesLargeResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 10_000))) //nolint:errcheck // best effort
	}))
	defer srv.Close()

	sub, d := senderTestPair(srv.URL)
	res := newTestSender().Send(context.Background(), sub, d)

	if len(res.Body) != 1024 {
		t.Errorf("stored body length = %d, want 1024", len(res.Body))
	}
}

func TestSenderCapturesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sub, d := senderTestPair(srv.URL)
	res := newTestSender().Send(context.Background(), sub, d)

	if res.Err != nil {
		t.Fatalf("unexpected transport error: %v", res.Err)
	}
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", res.StatusCode)
	}
	if !strings.Contains(res.Body, "boom") {
		t.Error("error body not captured")
	}
}

func TestSenderSubscriptionTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	sub, d := senderTestPair(srv.URL)
	sub.Timeout = 50 * time.Millisecond
	res := newTestSender().Send(context.Background(), sub, d)

	if res.Err == nil {
		t.Fatal("expected a timeout error")
	}
	outcome, info := delivery.Classify(res)
	if info.Type != delivery.ErrTypeTimeout {
		t.Errorf("classified as %s, want %s", info.Type, delivery.ErrTypeTimeout)
	}
	if outcome != delivery.OutcomeRetryable {
		t.Error("timeout should be retryable")
	}
}

func TestSenderConnectionRefused(t *testing.T) {
	sub, d := senderTestPair("http://127.0.0.1:1")
	res := newTestSender().Send(context.Background(), sub, d)

	if res.Err == nil {
		t.Fatal("expected a connection error")
	}
	outcome, info := delivery.Classify(res)
	if info.Type != delivery.ErrTypeNetwork {
		t.Errorf("classified as %s, want %s", info.Type, delivery.ErrTypeNetwork)
	}
	if outcome != delivery.OutcomeTerminal {
		t.Error("connection refused should be terminal")
	}
}
