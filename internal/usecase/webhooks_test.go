package usecase

import (
	"context"
	"errors"
	"hookq/internal/config"
	"hookq/internal/domain"
	"hookq/internal/infra/sqlitestore"
	"hookq/internal/signer"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type webhookEnv struct {
	wm    *WebhookManager
	store *sqlitestore.Store
	clock *fakeClock
}

func newWebhookEnv(t *testing.T, queued bool) *webhookEnv {
	t.Helper()
	store := newStore(t)
	clock := newClock()
	cfg := config.Webhooks{UserAgent: "hookq-test", Timeout: 5 * time.Second, ResultTTL: time.Hour}

	var wm *WebhookManager
	if queued {
		wm = NewWebhookManager(newRedis(t), store, store, cfg, testWorker())
	} else {
		wm = NewWebhookManager(nil, store, store, cfg, testWorker())
	}
	wm.Notifications = store
	wm.Now = clock.Now
	return &webhookEnv{wm: wm, store: store, clock: clock}
}

func (e *webhookEnv) step(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := e.wm.cycle(ctx, ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	e.wm.Wait()
}

func (e *webhookEnv) endpoint(t *testing.T, ep domain.Endpoint) {
	t.Helper()
	ep.Active = true
	if err := e.store.UpsertEndpoint(context.Background(), ep); err != nil {
		t.Fatalf("UpsertEndpoint: %v", err)
	}
}

func TestPaymentConfirmedWithoutEndpoints(t *testing.T) {
	e := newWebhookEnv(t, true)
	ctx := context.Background()

	id, err := e.wm.PaymentConfirmed(ctx, "u1", map[string]any{"amount": 49})
	if err != nil {
		t.Fatalf("PaymentConfirmed: %v", err)
	}
	rec, err := e.store.GetEvent(ctx, id)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if rec.Status != domain.EventPending {
		t.Fatalf("queued event status = %s", rec.Status)
	}

	e.step(t)

	view, err := e.wm.EventStatus(ctx, id)
	if err != nil {
		t.Fatalf("EventStatus: %v", err)
	}
	if view.Status != domain.EventCompleted {
		t.Fatalf("status = %s", view.Status)
	}
	if view.ProcessingResult == nil || view.ProcessingResult.Deliveries != 0 {
		t.Errorf("processing result = %+v", view.ProcessingResult)
	}

	ns, err := e.store.ListNotifications(ctx, "u1")
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(ns) != 1 {
		t.Fatalf("got %d notifications, want 1", len(ns))
	}
	if ns[0].Metadata["onboarding_step"] != float64(2) {
		t.Errorf("metadata = %+v", ns[0].Metadata)
	}
}

func TestHighPriorityEventsGoFirst(t *testing.T) {
	e := newWebhookEnv(t, true)
	ctx := context.Background()

	low, err := e.wm.CreateEvent(ctx, domain.EventAgentUpdated, nil, "", "org1", "")
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	high, err := e.wm.UserRegistered(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("UserRegistered: %v", err)
	}

	first, err := e.wm.Queue.PopEvent(ctx, true)
	if err != nil || first == nil || first.EventID != high {
		t.Fatalf("high queue gave %+v, %v", first, err)
	}
	next, err := e.wm.Queue.PopEvent(ctx, false)
	if err != nil || next == nil || next.EventID != low {
		t.Fatalf("normal queue gave %+v, %v", next, err)
	}
}

func TestEventFansOutToEndpoints(t *testing.T) {
	secret := "whsec"
	var gotSig, gotTS string
	var gotBody []byte
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(signer.SignatureHeader)
		gotTS = r.Header.Get(signer.TimestampHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("X-Reply", "yes")
		_, _ = w.Write([]byte("thanks"))
	}))
	defer ok.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer broken.Close()

	e := newWebhookEnv(t, false)
	e.endpoint(t, domain.Endpoint{ID: "ok", URL: ok.URL, Secret: secret, Events: []domain.EventType{domain.EventAgentCreated}})
	e.endpoint(t, domain.Endpoint{ID: "broken", URL: broken.URL, Events: []domain.EventType{domain.EventAgentCreated}})
	e.endpoint(t, domain.Endpoint{ID: "other", URL: broken.URL, Events: []domain.EventType{domain.EventPaymentFailed}})

	ctx := context.Background()
	id, err := e.wm.AgentCreated(ctx, "u1", map[string]any{"name": "Ana"})
	if err != nil {
		t.Fatalf("AgentCreated: %v", err)
	}

	rec, err := e.store.GetEvent(ctx, id)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if rec.Status != domain.EventFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}

	ds, err := e.store.ListDeliveries(ctx, id)
	if err != nil {
		t.Fatalf("ListDeliveries: %v", err)
	}
	if len(ds) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(ds))
	}
	byEndpoint := map[string]domain.Delivery{}
	for _, d := range ds {
		byEndpoint[d.EndpointID] = d
	}
	if d := byEndpoint["ok"]; d.Status != domain.DeliverySuccess || d.StatusCode != 200 || d.ResponseBody != "thanks" || d.AttemptNumber != 1 {
		t.Errorf("ok delivery = %+v", d)
	}
	if d := byEndpoint["broken"]; d.Status != domain.DeliveryFailed || d.StatusCode != http.StatusBadGateway {
		t.Errorf("broken delivery = %+v", d)
	}

	if !signer.New(secret).Verify(string(gotBody), gotTS, gotSig) {
		t.Errorf("signature %q does not verify", gotSig)
	}

	ns, err := e.store.ListNotifications(ctx, "u1")
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(ns) != 1 || ns[0].Message != "Your agent 'Ana' was created." {
		t.Errorf("notifications = %+v", ns)
	}
}

func TestDeliveryTimeoutIsRecorded(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()

	e := newWebhookEnv(t, false)
	e.endpoint(t, domain.Endpoint{
		ID:          "slow",
		URL:         slow.URL,
		Events:      []domain.EventType{domain.EventSystemError},
		RetryPolicy: domain.WebhookRetryPolicy{TimeoutSeconds: 1},
	})

	ctx := context.Background()
	id, err := e.wm.CreateEvent(ctx, domain.EventSystemError, map[string]any{"msg": "x"}, "", "", "monitor")
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	ds, err := e.store.ListDeliveries(ctx, id)
	if err != nil {
		t.Fatalf("ListDeliveries: %v", err)
	}
	if len(ds) != 1 || ds[0].Status != domain.DeliveryTimeout || ds[0].ErrorMessage != "request timeout" {
		t.Fatalf("deliveries = %+v", ds)
	}
}

func TestUnreachableEndpointIsRecorded(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e := newWebhookEnv(t, false)
	e.endpoint(t, domain.Endpoint{ID: "gone", URL: url, Events: []domain.EventType{domain.EventUserUpdated}})

	ctx := context.Background()
	id, err := e.wm.CreateEvent(ctx, domain.EventUserUpdated, nil, "u2", "", "")
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	ds, err := e.store.ListDeliveries(ctx, id)
	if err != nil {
		t.Fatalf("ListDeliveries: %v", err)
	}
	if len(ds) != 1 || ds[0].Status != domain.DeliveryFailed || ds[0].ErrorMessage == "" {
		t.Fatalf("deliveries = %+v", ds)
	}
}

func TestCreateEventRejectsUnknownType(t *testing.T) {
	e := newWebhookEnv(t, false)
	_, err := e.wm.CreateEvent(context.Background(), "user.exploded", nil, "", "", "")
	if !errors.Is(err, domain.ErrUnknownEventType) {
		t.Fatalf("err = %v", err)
	}
}

// flakyAudit fails the transition into processing.
type flakyAudit struct {
	*sqlitestore.Store
}

func (a flakyAudit) UpdateEventStatus(ctx context.Context, id string, status domain.EventStatus, errMsg string, at time.Time) error {
	if status == domain.EventProcessing {
		return errors.New("audit unavailable")
	}
	return a.Store.UpdateEventStatus(ctx, id, status, errMsg, at)
}

func TestProcessingErrorSchedulesRetry(t *testing.T) {
	e := newWebhookEnv(t, true)
	e.wm.Audit = flakyAudit{e.store}
	ctx := context.Background()

	id, err := e.wm.OnboardingCompleted(ctx, "u1")
	if err != nil {
		t.Fatalf("OnboardingCompleted: %v", err)
	}
	e.step(t)

	rec, err := e.store.GetEvent(ctx, id)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if rec.Status != domain.EventFailed || rec.ErrorMessage == "" {
		t.Fatalf("record = %+v", rec)
	}

	q := e.wm.Queue
	n, err := q.PromoteDueEvents(ctx, e.clock.Now())
	if err != nil || n != 0 {
		t.Fatalf("retry promoted before due: %d, %v", n, err)
	}
	n, err = q.PromoteDueEvents(ctx, e.clock.Now().Add(2*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PromoteDueEvents = %d, %v", n, err)
	}
	p, err := q.PopEvent(ctx, true)
	if err != nil || p == nil {
		t.Fatalf("PopEvent = %v, %v", p, err)
	}
	if p.EventID != id || p.RetryCount != 1 {
		t.Fatalf("retried payload = %+v", p)
	}
}

func TestProcessingGivesUpAfterMaxRetries(t *testing.T) {
	e := newWebhookEnv(t, true)
	e.wm.Audit = flakyAudit{e.store}
	ctx := context.Background()

	p := domain.WebhookPayload{
		EventType:  domain.EventUserRegistered,
		EventID:    "evt-max",
		Timestamp:  e.clock.Now(),
		Data:       map[string]any{},
		RetryCount: domain.MaxEventRetries,
	}
	if err := e.wm.Process(ctx, p); err == nil {
		t.Fatal("expected processing error")
	}
	n, err := e.wm.Queue.PromoteDueEvents(ctx, e.clock.Now().Add(48*time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("retry scheduled past the limit: %d, %v", n, err)
	}
}

func TestDeliveryBodyIsStable(t *testing.T) {
	p := domain.WebhookPayload{
		EventType: domain.EventTemplateApplied,
		EventID:   "e1",
		Timestamp: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		Data:      map[string]any{"b": 1, "a": "x"},
		UserID:    "u1",
	}
	got, err := DeliveryBody(p)
	if err != nil {
		t.Fatalf("DeliveryBody: %v", err)
	}
	want := `{"data":{"a":"x","b":1},"event":"template.applied","event_id":"e1","timestamp":"2026-05-01T09:00:00Z","user_id":"u1"}`
	if string(got) != want {
		t.Fatalf("body = %s", got)
	}
}
