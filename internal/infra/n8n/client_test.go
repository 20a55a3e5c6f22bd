package n8n

import (
	"context"
	"encoding/json"
	"hookq/internal/domain"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestForward(t *testing.T) {
	var gotPath, gotUA string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUA = r.Header.Get("User-Agent")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(strings.Repeat("x", 1500)))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "hookq-test/1.0", time.Second)
	c.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	res := c.Forward(context.Background(), domain.EventPaymentConfirmed, map[string]any{"amount": 10})
	if res.Status != "success" || res.StatusCode != 200 {
		t.Fatalf("result = %+v", res)
	}
	if gotPath != "/webhook/payment-processed" {
		t.Errorf("path = %s", gotPath)
	}
	if gotUA != "hookq-test/1.0" {
		t.Errorf("user agent = %s", gotUA)
	}
	if gotBody["event"] != "payment.confirmed" || gotBody["timestamp"] != "2026-01-01T00:00:00Z" {
		t.Errorf("body = %v", gotBody)
	}
	if len(res.Response) != maxResponseBody {
		t.Errorf("response not truncated: %d", len(res.Response))
	}
}

func TestForwardOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		baseURL string
		event   domain.EventType
		status  string
	}{
		{"unmapped event is skipped", srv.URL, domain.EventSystemError, "skipped"},
		{"4xx/5xx is failed", srv.URL, domain.EventAgentCreated, "failed"},
		{"unreachable is failed", "http://127.0.0.1:1", domain.EventAgentCreated, "failed"},
		{"unconfigured is failed", "", domain.EventAgentCreated, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.baseURL, "", time.Second)
			res := c.Forward(context.Background(), tt.event, map[string]any{})
			if res.Status != tt.status {
				t.Errorf("status = %s, want %s (%+v)", res.Status, tt.status, res)
			}
		})
	}
}

func TestTrigger(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		if strings.HasSuffix(r.URL.Path, "broken") {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	res, err := c.Trigger(context.Background(), "contacts", map[string]any{"system": "n8n"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "synced" || gotPath != "/webhook/contacts" || gotBody["system"] != "n8n" {
		t.Errorf("res=%+v path=%s body=%v", res, gotPath, gotBody)
	}

	res, err = c.Trigger(context.Background(), "broken", nil)
	if err != nil || res.Status != "failed" || res.StatusCode != 500 {
		t.Errorf("broken: res=%+v err=%v", res, err)
	}

	if _, err := New("http://127.0.0.1:1", "", time.Second).Trigger(context.Background(), "x", nil); err == nil {
		t.Error("expected transport error")
	}
}
