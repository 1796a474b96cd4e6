package delivery

import (
	"encoding/base64"
	"log/slog"
	"strconv"
	"time"

	"github.com/hypothesize-tech/courier/signature"
	"github.com/hypothesize-tech/courier/subscription"
)

// Standard delivery headers.
const (
	HeaderWebhookID = "X-Courier-Webhook-ID"
	HeaderDelivery  = "X-Courier-Delivery-ID"
	HeaderEventID   = "X-Courier-Event-ID"
	HeaderTimestamp = "X-Courier-Timestamp"
	HeaderSignature = "X-Courier-Signature"

	userAgent = "Courier/1.0"
)

// CredentialDecrypter resolves a subscription's stored credentials to
// plaintext. Implemented by subscription.Service.
type CredentialDecrypter interface {
	DecryptAuth(auth subscription.Auth) (subscription.Auth, error)
}

// HeaderBuilder assembles the header set for one delivery attempt.
type HeaderBuilder struct {
	signer  *signature.Signer
	creds   CredentialDecrypter
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewHeaderBuilder creates a header builder. creds may be nil when no
// subscription uses authenticated targets.
func NewHeaderBuilder(signer *signature.Signer, creds CredentialDecrypter, logger *slog.Logger) *HeaderBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	if signer == nil {
		signer = signature.NewSigner()
	}
	return &HeaderBuilder{
		signer:  signer,
		creds:   creds,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Build assembles headers for one attempt: standard identification
// headers, merged subscriber headers, the auth header, and the HMAC
// signature over "timestamp.body". Subscriber headers may override the
// defaults, but never the timestamp or signature.
func (h *HeaderBuilder) Build(sub *subscription.Subscription, d *Delivery, body []byte) map[string]string {
	ts := h.nowFunc().UnixMilli()

	headers := map[string]string{
		"Content-Type":  "application/json",
		"User-Agent":    userAgent,
		HeaderWebhookID: sub.ID.String(),
		HeaderDelivery:  d.ID.String(),
		HeaderEventID:   d.EventID.String(),
	}
	if replayID, ok := d.Metadata[MetaReplayEventID]; ok && replayID != "" {
		headers[HeaderEventID] = replayID
	}

	// Subscriber custom headers: allowed to override the defaults above.
	for k, v := range sub.Headers {
		headers[k] = v
	}

	h.applyAuth(sub, headers)

	// Timestamp and signature are set last so custom headers cannot
	// clobber them and the signed timestamp always matches the header.
	headers[HeaderTimestamp] = strconv.FormatInt(ts, 10)
	headers[HeaderSignature] = h.signer.Sign(body, sub.Secret, ts)

	return headers
}

func (h *HeaderBuilder) applyAuth(sub *subscription.Subscription, headers map[string]string) {
	if sub.Auth.Type == "" || sub.Auth.Type == subscription.AuthNone {
		return
	}

	auth := sub.Auth
	if h.creds != nil {
		decrypted, err := h.creds.DecryptAuth(sub.Auth)
		if err != nil {
			h.logger.Warn("credential decryption failed, sending without auth",
				"subscription_id", sub.ID, "auth_type", sub.Auth.Type, "error", err)
			return
		}
		auth = decrypted
	}

	switch auth.Type {
	case subscription.AuthBasic:
		raw := auth.Username + ":" + auth.Password
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
	case subscription.AuthBearer:
		headers["Authorization"] = "Bearer " + auth.Token
	case subscription.AuthCustomHeader:
		if auth.HeaderName != "" {
			headers[auth.HeaderName] = auth.HeaderValue
		}
	case subscription.AuthOAuth2:
		// Declared but not implemented: skip rather than fail the build.
		h.logger.Warn("oauth2 auth is not implemented, sending without auth",
			"subscription_id", sub.ID)
	}
}
