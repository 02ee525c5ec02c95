package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	alertQueueSize   = 256
	alertSendTimeout = 10 * time.Second
	alertRetryDelay  = time.Second
)

// AlertWebhook delivers anomaly alerts to an HTTP endpoint. Alerts are
// queued without blocking the request path and dropped when the queue is
// full. Notify has the AlertFunc signature.
type AlertWebhook struct {
	url        string
	authHeader string // "Header: Value"
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration

	alerts    chan AlertEvent
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAlertWebhook starts a dispatcher posting to url. authHeader, when set,
// is sent as one extra request header, e.g. "Authorization: Bearer xyz".
func NewAlertWebhook(url, authHeader string, logger *slog.Logger) *AlertWebhook {
	if logger == nil {
		logger = slog.Default()
	}
	w := &AlertWebhook{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: alertSendTimeout},
		logger:     logger.With("component", "alert_webhook"),
		retryDelay: alertRetryDelay,
		alerts:     make(chan AlertEvent, alertQueueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Notify queues e for delivery.
func (w *AlertWebhook) Notify(e AlertEvent) {
	select {
	case w.alerts <- e:
	default:
		w.logger.Warn("queue full, dropping alert", "type", e.Type)
	}
}

// Close delivers queued alerts and stops the dispatcher. Notify must not be
// called after Close.
func (w *AlertWebhook) Close() {
	w.closeOnce.Do(func() { close(w.alerts) })
	w.wg.Wait()
}

func (w *AlertWebhook) loop() {
	defer w.wg.Done()
	for e := range w.alerts {
		w.send(e)
	}
}

// send posts e, retrying once on a transport error or 5xx.
func (w *AlertWebhook) send(e AlertEvent) {
	body, err := json.Marshal(e)
	if err != nil {
		w.logger.Warn("marshal failed", "error", err)
		return
	}
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			time.Sleep(w.retryDelay)
		}
		status, err := w.post(body)
		switch {
		case err != nil:
			w.logger.Warn("delivery failed", "error", err, "attempt", attempt)
		case status >= 500:
			w.logger.Warn("server error", "status", status, "attempt", attempt)
		case status >= 400:
			w.logger.Warn("alert rejected", "status", status)
			return
		default:
			return
		}
	}
}

func (w *AlertWebhook) post(body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), alertSendTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "funstudy-alerts/1.0")
	if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
		req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
