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
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/clock"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

// Signature and delivery headers
const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
	HeaderSignature = "X-Webhook-Signature"
)

// Retry delays between delivery attempts
var retryDelays = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
	1 * time.Minute,
}

// Service posts job events to the callback URL a job was created with
type Service struct {
	client     *http.Client
	secret     string
	maxRetries int
	clock      clock.Clock
	logger     *logging.Logger
}

// Option configures the Service
type Option func(*Service)

// WithHTTPClient replaces the delivery client
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithClock replaces the clock used between retries
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// NewService creates a new webhook service. An empty secret sends unsigned payloads.
func NewService(secret string, timeout time.Duration, maxRetries int, logger *logging.Logger, opts ...Option) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Service{
		client:     &http.Client{Timeout: timeout},
		secret:     secret,
		maxRetries: maxRetries,
		clock:      clock.New(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deliver posts an event and retries on transport errors and non-2xx answers
func (s *Service) Deliver(ctx context.Context, callbackURL, event string, data interface{}) error {
	payload, err := json.Marshal(models.WebhookEvent{
		ID:        uuid.New().String(),
		Event:     event,
		Timestamp: s.clock.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	deliveryID := uuid.New().String()
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelays[min(attempt-1, len(retryDelays)-1)]
			if err := s.clock.Sleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = s.deliver(ctx, callbackURL, event, deliveryID, payload)
		if lastErr == nil {
			return nil
		}
		s.logger.WithError(lastErr).WithField("attempt", attempt+1).Warnf("Webhook delivery to %s failed", callbackURL)
	}

	return fmt.Errorf("webhook delivery failed after %d attempts: %w", s.maxRetries+1, lastErr)
}

func (s *Service) deliver(ctx context.Context, url, event, deliveryID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mediadl-webhook/1.0")
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderDelivery, deliveryID)

	if s.secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature header against payload
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

// NotifyJobCompleted sends notification when a job completes
func (s *Service) NotifyJobCompleted(ctx context.Context, job *models.DownloadJob) error {
	if job.CallbackURL == "" {
		return nil
	}
	return s.Deliver(ctx, job.CallbackURL, models.WebhookEventJobCompleted, job)
}

// NotifyJobFailed sends notification when a job fails for good
func (s *Service) NotifyJobFailed(ctx context.Context, job *models.DownloadJob) error {
	if job.CallbackURL == "" {
		return nil
	}
	return s.Deliver(ctx, job.CallbackURL, models.WebhookEventJobFailed, job)
}
