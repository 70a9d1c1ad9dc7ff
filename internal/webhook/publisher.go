// Package webhook posts ledger events to tenant endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
	"golang.org/x/time/rate"
)

const (
	HeaderSignature = "X-Pointgate-Signature"
	HeaderEvent     = "X-Pointgate-Event"
	HeaderKey       = "Idempotency-Key"
)

// Publisher signs and posts event bodies. Each tenant gets its own rate limiter
// so one slow or noisy tenant cannot starve the others.
type Publisher struct {
	client *http.Client
	qps    rate.Limit
	burst  int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

type Option func(*Publisher)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Publisher) {
		if c != nil {
			p.client = c
		}
	}
}

func NewPublisher(timeout time.Duration, qps float64, burst int, opts ...Option) *Publisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if qps <= 0 {
		qps = 20
	}
	if burst <= 0 {
		burst = 40
	}
	p := &Publisher{
		client:   &http.Client{Timeout: timeout},
		qps:      rate.Limit(qps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Name() string { return "webhook" }

// Deliver posts ev to the tenant's webhook URL. Tenants without one are skipped.
func (p *Publisher) Deliver(ctx context.Context, tenant *model.Tenant, ev model.EventBody) error {
	if tenant == nil || tenant.Webhook.URL == "" {
		return nil
	}
	if err := p.limiter(tenant.ID).Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit: %w", err)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tenant.Webhook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(ev.Event))
	req.Header.Set(HeaderKey, ev.IdempotencyKey)
	if tenant.Webhook.Secret != "" {
		req.Header.Set(HeaderSignature, Sign([]byte(tenant.Webhook.Secret), p.now(), body))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", tenant.Webhook.URL, resp.StatusCode)
	}
	return nil
}

func (p *Publisher) limiter(tenantID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(p.qps, p.burst)
		p.limiters[tenantID] = l
	}
	return l
}

// Sign returns the signature header value "t=<unix>,v1=<hex hmac>". The MAC covers
// "<unix>.<body>" so a captured body cannot be replayed under a new timestamp.
func Sign(secret []byte, at time.Time, body []byte) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + mac(secret, ts, body)
}

// Verify checks a signature header and rejects timestamps older than tolerance.
func Verify(secret []byte, header string, body []byte, now time.Time, tolerance time.Duration) bool {
	var ts, sig string
	for _, part := range bytes.Split([]byte(header), []byte(",")) {
		kv := bytes.SplitN(part, []byte("="), 2)
		if len(kv) != 2 {
			continue
		}
		switch string(kv[0]) {
		case "t":
			ts = string(kv[1])
		case "v1":
			sig = string(kv[1])
		}
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || sig == "" {
		return false
	}
	if tolerance > 0 && now.Sub(time.Unix(unix, 0)) > tolerance {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(mac(secret, ts, body)))
}

func mac(secret []byte, ts string, body []byte) string {
	m := hmac.New(sha256.New, secret)
	_, _ = m.Write([]byte(ts))
	_, _ = m.Write([]byte("."))
	_, _ = m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}
