package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
)

const (
	defaultWebhookTimeout = 10 * time.Second

	HeaderTopic     = "X-Keygate-Topic"
	HeaderEventType = "X-Keygate-Event-Type"
	HeaderEventID   = "X-Keygate-Event-Id"
	HeaderOwner     = "X-Keygate-Owner"
	HeaderSignature = "X-Keygate-Signature"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookPublisher POSTs events as JSON. The signature header has the form
// "t=<unix>,v1=<hex hmac-sha256 of "<unix>.<body>">". Non-2xx responses are
// errors so the dispatcher retries them.
type WebhookPublisher struct {
	url    string
	secret []byte
	client *http.Client
	now    func() time.Time
}

func NewWebhookPublisher(url, secret string, timeout time.Duration) *WebhookPublisher {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookPublisher{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

func (p *WebhookPublisher) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTopic, topic)
	req.Header.Set(HeaderEventType, event.EventType)
	req.Header.Set(HeaderEventID, event.EventID)
	req.Header.Set(HeaderOwner, event.OwnerID)
	req.Header.Set(HeaderSignature, signatureHeader(p.secret, p.now().Unix(), payload))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func signatureHeader(secret []byte, ts int64, body []byte) string {
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + sign(secret, ts, body)
}

func sign(secret []byte, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header produced by WebhookPublisher.
// Signatures older than tolerance are rejected; a zero tolerance disables
// the age check.
func VerifySignature(secret, header string, body []byte, tolerance time.Duration, now time.Time) error {
	var ts int64
	var got string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			ts = parsed
		case "v1":
			got = v
		}
	}
	if ts == 0 || got == "" {
		return ErrInvalidSignature
	}
	if tolerance > 0 && now.Sub(time.Unix(ts, 0)) > tolerance {
		return fmt.Errorf("%w: timestamp too old", ErrInvalidSignature)
	}
	want := sign([]byte(secret), ts, body)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return ErrInvalidSignature
	}
	return nil
}
