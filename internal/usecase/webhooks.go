package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hookq/internal/config"
	"hookq/internal/domain"
	"hookq/internal/ports"
	"hookq/internal/signer"
	"hookq/pkg/backoff"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxDeliveryResponse = 1000

// WebhookManager records domain events, fans them out to subscribed
// endpoints and runs the internal reaction for each event type.
type WebhookManager struct {
	// Queue may be nil, in which case events are processed inline.
	Queue         ports.EventQueue
	Audit         ports.EventAudit
	Endpoints     ports.EndpointRegistry
	Notifications ports.NotificationStore
	Workflow      ports.WorkflowClient
	HTTP          *http.Client
	Cfg           config.Webhooks
	Worker        config.Worker
	RetryPolicy   domain.WebhookRetryPolicy
	Now           func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

func NewWebhookManager(q ports.EventQueue, audit ports.EventAudit, endpoints ports.EndpointRegistry, cfg config.Webhooks, worker config.Worker) *WebhookManager {
	return &WebhookManager{
		Queue:       q,
		Audit:       audit,
		Endpoints:   endpoints,
		HTTP:        &http.Client{},
		Cfg:         cfg,
		Worker:      worker,
		RetryPolicy: domain.DefaultWebhookRetryPolicy(),
		Now:         time.Now,
		running:     make(map[string]struct{}),
	}
}

// CreateEvent audits the event and queues it by priority. When the queue
// is unavailable the event is processed before returning.
func (m *WebhookManager) CreateEvent(ctx context.Context, t domain.EventType, data map[string]any, userID, orgID, source string) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownEventType, t)
	}
	if data == nil {
		data = map[string]any{}
	}
	if source == "" {
		source = "api"
	}
	now := m.Now().UTC()
	p := domain.WebhookPayload{
		EventType:      t,
		EventID:        uuid.NewString(),
		Timestamp:      now,
		Source:         source,
		Data:           data,
		UserID:         userID,
		OrganizationID: orgID,
	}

	err := m.Audit.InsertEvent(ctx, domain.EventRecord{
		ID:             p.EventID,
		EventType:      t,
		Source:         source,
		UserID:         userID,
		OrganizationID: orgID,
		Data:           data,
		Status:         domain.EventPending,
		CreatedAt:      now,
	})
	if err != nil {
		return "", fmt.Errorf("audit event: %w", err)
	}

	l := log.Ctx(ctx).With().Str("event_id", p.EventID).Str("event_type", string(t)).Logger()
	if m.Queue != nil {
		err := m.Queue.PushEvent(ctx, p)
		if err == nil {
			l.Info().Bool("high_priority", t.HighPriority()).Msg("event queued")
			return p.EventID, nil
		}
		l.Warn().Err(err).Msg("event queue unavailable, processing inline")
	}
	_ = m.Process(ctx, p)
	return p.EventID, nil
}

func (m *WebhookManager) UserRegistered(ctx context.Context, userID string, data map[string]any) (string, error) {
	return m.CreateEvent(ctx, domain.EventUserRegistered, data, userID, "", "api")
}

func (m *WebhookManager) PaymentConfirmed(ctx context.Context, userID string, data map[string]any) (string, error) {
	return m.CreateEvent(ctx, domain.EventPaymentConfirmed, data, userID, "", "api")
}

func (m *WebhookManager) AgentCreated(ctx context.Context, userID string, data map[string]any) (string, error) {
	return m.CreateEvent(ctx, domain.EventAgentCreated, data, userID, "", "api")
}

func (m *WebhookManager) OnboardingCompleted(ctx context.Context, userID string) (string, error) {
	data := map[string]any{"completed_at": m.Now().UTC().Format(time.RFC3339)}
	return m.CreateEvent(ctx, domain.EventOnboardingCompleted, data, userID, "", "api")
}

// EventStatus merges the audit record with the cached processing result.
func (m *WebhookManager) EventStatus(ctx context.Context, id string) (*domain.EventStatusView, error) {
	rec, err := m.Audit.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &domain.EventStatusView{EventRecord: *rec}
	if m.Queue != nil {
		res, err := m.Queue.GetEventResult(ctx, id)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("event_id", id).Msg("reading event result failed")
		}
		view.ProcessingResult = res
	}
	return view, nil
}

// Process delivers one event. Delivery failures only decide the final
// status; an error is returned, and a retry scheduled, when processing
// itself could not run.
func (m *WebhookManager) Process(ctx context.Context, p domain.WebhookPayload) error {
	l := log.Ctx(ctx).With().Str("event_id", p.EventID).Str("event_type", string(p.EventType)).Logger()
	l.Info().Int("retry_count", p.RetryCount).Msg("processing event")

	err := m.process(ctx, p)
	if err == nil {
		return nil
	}

	l.Error().Err(err).Msg("event processing failed")
	if uerr := m.Audit.UpdateEventStatus(ctx, p.EventID, domain.EventFailed, err.Error(), m.Now().UTC()); uerr != nil {
		l.Error().Err(uerr).Msg("marking event failed")
	}
	if p.RetryCount < domain.MaxEventRetries {
		m.scheduleRetry(ctx, p)
	}
	return err
}

func (m *WebhookManager) process(ctx context.Context, p domain.WebhookPayload) error {
	if err := m.Audit.UpdateEventStatus(ctx, p.EventID, domain.EventProcessing, "", m.Now().UTC()); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	var workflow *domain.SyncResult
	if m.Workflow != nil {
		res := m.Workflow.Forward(ctx, p.EventType, p.Data)
		workflow = &res
	}

	endpoints, err := m.Endpoints.ActiveEndpoints(ctx, p.EventType)
	if err != nil {
		return fmt.Errorf("load endpoints: %w", err)
	}

	deliveries := make([]domain.Delivery, len(endpoints))
	var wg sync.WaitGroup
	for i, ep := range endpoints {
		i, ep := i, ep
		wg.Add(1)
		go func() {
			defer wg.Done()
			deliveries[i] = m.deliver(ctx, p, ep)
		}()
	}
	wg.Wait()

	m.react(ctx, p)

	ok := 0
	for _, d := range deliveries {
		if d.Status == domain.DeliverySuccess {
			ok++
		}
	}
	status := domain.EventCompleted
	if ok < len(deliveries) {
		status = domain.EventFailed
	}
	now := m.Now().UTC()
	if err := m.Audit.UpdateEventStatus(ctx, p.EventID, status, "", now); err != nil {
		return fmt.Errorf("mark %s: %w", status, err)
	}

	if m.Queue != nil {
		res := domain.EventResult{
			WorkflowResult:       workflow,
			Deliveries:           len(deliveries),
			SuccessfulDeliveries: ok,
			ProcessedAt:          now,
		}
		if err := m.Queue.SaveEventResult(ctx, p.EventID, res, m.Cfg.ResultTTL); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("event_id", p.EventID).Msg("caching event result failed")
		}
	}
	log.Ctx(ctx).Info().Str("event_id", p.EventID).Str("status", string(status)).
		Int("deliveries", len(deliveries)).Int("successful", ok).Msg("event processed")
	return nil
}

// DeliveryBody is the canonical JSON sent to endpoints. Map keys marshal in
// sorted order, so the bytes are stable for signing.
func DeliveryBody(p domain.WebhookPayload) ([]byte, error) {
	body := map[string]any{
		"event":     string(p.EventType),
		"event_id":  p.EventID,
		"timestamp": p.Timestamp.UTC().Format(time.RFC3339Nano),
		"data":      p.Data,
	}
	if p.UserID != "" {
		body["user_id"] = p.UserID
	}
	if p.OrganizationID != "" {
		body["organization_id"] = p.OrganizationID
	}
	return json.Marshal(body)
}

// deliver makes one attempt against one endpoint and always records it.
func (m *WebhookManager) deliver(ctx context.Context, p domain.WebhookPayload, ep domain.Endpoint) domain.Delivery {
	l := log.Ctx(ctx).With().Str("event_id", p.EventID).Str("endpoint_id", ep.ID).Logger()
	start := m.Now()
	d := domain.Delivery{
		ID:            uuid.NewString(),
		EventID:       p.EventID,
		EndpointID:    ep.ID,
		AttemptNumber: p.RetryCount + 1,
	}

	code, body, headers, err := m.post(ctx, p, ep)
	end := m.Now()
	d.DurationMS = end.Sub(start).Milliseconds()
	d.DeliveredAt = end.UTC()

	switch {
	case err != nil && isTimeout(err):
		d.Status = domain.DeliveryTimeout
		d.ErrorMessage = "request timeout"
		l.Warn().Err(err).Msg("webhook delivery timed out")
	case err != nil:
		d.Status = domain.DeliveryFailed
		d.ErrorMessage = err.Error()
		l.Error().Err(err).Msg("webhook delivery failed")
	default:
		d.StatusCode = code
		d.ResponseBody = body
		d.ResponseHeaders = headers
		d.Status = domain.DeliverySuccess
		if code >= 400 {
			d.Status = domain.DeliveryFailed
		}
		l.Info().Int("status_code", code).Msg("webhook delivered")
	}

	if err := m.Audit.InsertDelivery(context.WithoutCancel(ctx), d); err != nil {
		l.Error().Err(err).Msg("recording delivery failed")
	}
	return d
}

func (m *WebhookManager) post(ctx context.Context, p domain.WebhookPayload, ep domain.Endpoint) (int, string, map[string]string, error) {
	body, err := DeliveryBody(p)
	if err != nil {
		return 0, "", nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, ep.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.Cfg.UserAgent != "" {
		req.Header.Set("User-Agent", m.Cfg.UserAgent)
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	if ep.Secret != "" {
		ts := signer.Timestamp(p.Timestamp)
		req.Header.Set(signer.SignatureHeader, signer.New(ep.Secret).Sign(string(body), ts))
		req.Header.Set(signer.TimestampHeader, ts)
	}

	resp, err := m.HTTP.Do(req)
	if err != nil {
		return 0, "", nil, err
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(io.LimitReader(resp.Body, maxDeliveryResponse))
	if err != nil && isTimeout(err) {
		return 0, "", nil, err
	}
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return resp.StatusCode, string(text), headers, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (m *WebhookManager) scheduleRetry(ctx context.Context, p domain.WebhookPayload) {
	p.RetryCount++
	pol := m.RetryPolicy
	delay := backoff.Exponential(backoff.Seconds(pol.BaseDelay), backoff.Seconds(pol.MaxDelay), pol.BackoffFactor, p.RetryCount)
	at := m.Now().Add(delay)

	l := log.Ctx(ctx).With().Str("event_id", p.EventID).Int("attempt", p.RetryCount).Logger()
	if m.Queue == nil {
		l.Warn().Msg("no event queue, retry dropped")
		return
	}
	if err := m.Queue.ScheduleEventRetry(ctx, p, at); err != nil {
		l.Error().Err(err).Msg("scheduling event retry failed")
		return
	}
	l.Info().Dur("delay", delay).Msg("event retry scheduled")
}

// Run is the webhook worker loop. High-priority events are popped before
// normal ones in every cycle.
func (m *WebhookManager) Run(ctx context.Context) error {
	if m.Queue == nil {
		return fmt.Errorf("webhook worker needs an event queue")
	}
	work, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	log.Ctx(ctx).Info().Int("max_concurrent", m.Worker.MaxConcurrent).Msg("webhook worker started")
	for {
		wait := m.Worker.PollInterval
		if err := m.cycle(ctx, work); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("webhook worker cycle failed")
			wait = m.Worker.ErrorBackoff
		}
		select {
		case <-ctx.Done():
			log.Ctx(ctx).Info().Int("in_flight", m.inFlight()).Msg("webhook worker stopping")
			if !waitFor(&m.wg, m.Worker.ShutdownGrace) {
				log.Ctx(ctx).Warn().Int("in_flight", m.inFlight()).Msg("grace period over, cancelling events")
				cancelWork()
				m.wg.Wait()
			}
			log.Ctx(ctx).Info().Msg("webhook worker stopped")
			return nil
		case <-time.After(wait):
		}
	}
}

func (m *WebhookManager) cycle(ctx, work context.Context) error {
	n, err := m.Queue.PromoteDueEvents(ctx, m.Now())
	if err != nil {
		return fmt.Errorf("promote event retries: %w", err)
	}
	if n > 0 {
		log.Ctx(ctx).Debug().Int("count", n).Msg("event retries promoted")
	}

	for _, high := range []bool{true, false} {
		if m.Worker.MaxConcurrent > 0 && m.inFlight() >= m.Worker.MaxConcurrent {
			return nil
		}
		p, err := m.Queue.PopEvent(ctx, high)
		if err != nil {
			return fmt.Errorf("pop event: %w", err)
		}
		if p != nil {
			m.dispatch(work, *p)
		}
	}
	return nil
}

func (m *WebhookManager) inFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func (m *WebhookManager) dispatch(ctx context.Context, p domain.WebhookPayload) {
	key := fmt.Sprintf("%s#%d", p.EventID, p.RetryCount)
	m.mu.Lock()
	m.running[key] = struct{}{}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.running, key)
			m.mu.Unlock()
		}()
		_ = m.Process(ctx, p)
	}()
}

// Wait blocks until every dispatched event has been processed.
func (m *WebhookManager) Wait() {
	m.wg.Wait()
}
