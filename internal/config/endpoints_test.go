package config

import (
	"errors"
	"hookq/internal/domain"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "endpoints.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadEndpoints(t *testing.T) {
	path := writeFile(t, `
endpoints:
  - id: crm
    url: https://crm.example.com/hooks
    secret: s3cret
    events: [user.registered, payment.confirmed]
    headers:
      X-Tenant: acme
    retry_policy:
      max_retries: 2
      backoff_factor: 3
      base_delay: 10
      max_delay: 100
      timeout: 5
  - id: audit
    url: https://audit.example.com/in
    events: [system.error]
    active: false
`)

	eps, err := LoadEndpoints(path)
	if err != nil {
		t.Fatalf("LoadEndpoints: %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("got %d endpoints", len(eps))
	}

	crm := eps[0]
	if !crm.Active || crm.Secret != "s3cret" || crm.Headers["X-Tenant"] != "acme" {
		t.Errorf("crm = %+v", crm)
	}
	if !crm.Subscribed(domain.EventPaymentConfirmed) || crm.Subscribed(domain.EventSystemError) {
		t.Errorf("crm events = %v", crm.Events)
	}
	if crm.RetryPolicy.MaxRetries != 2 || crm.Timeout().Seconds() != 5 {
		t.Errorf("crm policy = %+v", crm.RetryPolicy)
	}

	audit := eps[1]
	if audit.Active {
		t.Error("audit endpoint should be inactive")
	}
	if audit.RetryPolicy != domain.DefaultWebhookRetryPolicy() || audit.Headers == nil {
		t.Errorf("audit defaults = %+v", audit)
	}
}

func TestLoadEndpointsRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		is   error
	}{
		{"missing url", "endpoints:\n  - id: x\n    events: [user.registered]\n", nil},
		{"unknown event", "endpoints:\n  - id: x\n    url: http://x\n    events: [user.exploded]\n", domain.ErrUnknownEventType},
		{"bad yaml", "endpoints: [", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadEndpoints(writeFile(t, tt.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Fatalf("err = %v, want %v", err, tt.is)
			}
		})
	}

	if _, err := LoadEndpoints(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
