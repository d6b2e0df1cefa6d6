package fiscal

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
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fiscalhub/internal/core/id"
	"fiscalhub/pkg/logger"
)

// SignatureHeader carries "sha256=<hex hmac of the body>".
const SignatureHeader = "X-Fiscal-Signature"

// Webhook delivery defaults.
const (
	DefaultWebhookTimeout   = 10 * time.Second
	DefaultFailureThreshold = 10
	defaultMaxConcurrent    = 8
)

// WebhookSubscription is a tenant endpoint notified of document events.
type WebhookSubscription struct {
	ID             id.ID      `db:"id" json:"id"`
	TenantID       string     `db:"tenant_id" json:"tenantId"`
	URL            string     `db:"url" json:"url"`
	Events         []Event    `db:"events" json:"events"`
	Secret         string     `db:"secret" json:"-"`
	FailureCount   int        `db:"failure_count" json:"failureCount"`
	Active         bool       `db:"active" json:"active"`
	LastError      string     `db:"last_error" json:"lastError,omitempty"`
	LastDeliveryAt *time.Time `db:"last_delivery_at" json:"lastDeliveryAt,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

// NewWebhookSubscription creates an active subscription.
func NewWebhookSubscription(tenantID, url, secret string, events []Event) *WebhookSubscription {
	now := time.Now().UTC()
	return &WebhookSubscription{
		ID:        id.New(),
		TenantID:  tenantID,
		URL:       url,
		Events:    events,
		Secret:    secret,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Subscribed reports whether the subscription wants event.
func (s *WebhookSubscription) Subscribed(event Event) bool {
	return slices.Contains(s.Events, event)
}

// WebhookPayload is the JSON body delivered to subscribers.
type WebhookPayload struct {
	Event      Event     `json:"event"`
	DocumentID id.ID     `json:"document_id"`
	TenantID   string    `json:"tenant_id"`
	Number     int64     `json:"number"`
	Series     string    `json:"series"`
	Status     Status    `json:"status"`
	AccessKey  string    `json:"access_key,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewWebhookPayload snapshots doc for event.
func NewWebhookPayload(doc *FiscalDocument, event Event, at time.Time) WebhookPayload {
	return WebhookPayload{
		Event:      event,
		DocumentID: doc.ID,
		TenantID:   doc.TenantID,
		Number:     doc.Number,
		Series:     doc.Series,
		Status:     doc.Status,
		AccessKey:  doc.AccessKey,
		OccurredAt: at.UTC(),
	}
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header value in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// DispatcherConfig configures webhook delivery.
type DispatcherConfig struct {
	Timeout          time.Duration
	FailureThreshold int
	MaxConcurrent    int
}

// DispatchReport tallies one dispatch.
type DispatchReport struct {
	Attempted   int
	Delivered   int
	Failed      int
	Deactivated int
}

// WebhookDispatcher delivers signed events to subscribers. Failures are
// counted and logged but never returned to the caller.
type WebhookDispatcher struct {
	repo   WebhookRepository
	client *http.Client
	cfg    DispatcherConfig
}

// NewWebhookDispatcher creates a dispatcher. A nil client uses one with cfg.Timeout.
func NewWebhookDispatcher(repo WebhookRepository, client *http.Client, cfg DispatcherConfig) *WebhookDispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWebhookTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &WebhookDispatcher{repo: repo, client: client, cfg: cfg}
}

// Dispatch notifies every active subscription of the tenant that wants event.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, doc *FiscalDocument, event Event) DispatchReport {
	return d.DispatchPayload(ctx, NewWebhookPayload(doc, event, time.Now()))
}

// DispatchPayload delivers a prepared payload. Each subscription is attempted
// independently and concurrently.
func (d *WebhookDispatcher) DispatchPayload(ctx context.Context, p WebhookPayload) DispatchReport {
	var report DispatchReport
	log := logger.FromContext(ctx).With("event", p.Event, "document_id", p.DocumentID)

	subs, err := d.repo.ListActive(ctx, p.TenantID, p.Event)
	if err != nil {
		log.Warnw("webhook subscriptions not loaded", "error", err)
		return report
	}
	if len(subs) == 0 {
		return report
	}

	body, err := json.Marshal(p)
	if err != nil {
		log.Errorw("webhook payload not encoded", "error", err)
		return report
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxConcurrent)
	for _, sub := range subs {
		g.Go(func() error {
			delivered, deactivated := d.attempt(gctx, sub, body)
			mu.Lock()
			defer mu.Unlock()
			report.Attempted++
			if delivered {
				report.Delivered++
			} else {
				report.Failed++
			}
			if deactivated {
				report.Deactivated++
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// attempt delivers body to one subscription and records the outcome.
func (d *WebhookDispatcher) attempt(ctx context.Context, sub *WebhookSubscription, body []byte) (delivered, deactivated bool) {
	log := logger.FromContext(ctx).With("subscription_id", sub.ID, "url", sub.URL)

	err := d.post(ctx, sub, body)
	if err == nil {
		if rerr := d.repo.RecordSuccess(ctx, sub.ID); rerr != nil {
			log.Warnw("webhook success not recorded", "error", rerr)
		}
		return true, false
	}

	failures, deactivated, rerr := d.repo.RecordFailure(ctx, sub.ID, d.cfg.FailureThreshold, err.Error())
	if rerr != nil {
		log.Warnw("webhook failure not recorded", "error", rerr)
	}
	log.Warnw("webhook delivery failed", "error", err, "failures", failures)
	if deactivated {
		log.Warnw("webhook subscription deactivated", "threshold", d.cfg.FailureThreshold)
	}
	return false, deactivated
}

func (d *WebhookDispatcher) post(ctx context.Context, sub *WebhookSubscription, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "fiscalhub-webhooks/1")
	req.Header.Set(SignatureHeader, Sign(sub.Secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint answered %d", resp.StatusCode)
	}
	return nil
}
