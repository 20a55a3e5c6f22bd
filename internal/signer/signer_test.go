package signer

import (
	"strings"
	"testing"
	"time"
)

func TestSignFormat(t *testing.T) {
	s := New("secret")
	got := s.Sign(`{"a":1}`, "1700000000")
	if !strings.HasPrefix(got, "sha256=") {
		t.Fatalf("missing prefix: %s", got)
	}
	if len(got) != len("sha256=")+64 {
		t.Fatalf("unexpected length %d", len(got))
	}
	if got != s.Sign(`{"a":1}`, "1700000000") {
		t.Fatal("signing is not deterministic")
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	s := New("test-secret-for-hmac")
	payloads := []string{"", "{}", `{"event":"payment.confirmed","data":{"amount":10}}`, "ünïcode ✓"}
	stamps := []string{"0", "1700000000", Timestamp(time.Now())}

	for _, p := range payloads {
		for _, ts := range stamps {
			if !s.Verify(p, ts, s.Sign(p, ts)) {
				t.Errorf("verify failed for payload=%q ts=%q", p, ts)
			}
		}
	}
}

func mutate(s string, i int) string {
	b := []byte(s)
	b[i] ^= 0x01
	return string(b)
}

func TestVerifyRejectsSingleByteMutation(t *testing.T) {
	s := New("secret")
	payload := `{"event":"user.registered","user_id":"u1"}`
	ts := "1700000000"
	sig := s.Sign(payload, ts)

	for i := range payload {
		if s.Verify(mutate(payload, i), ts, sig) {
			t.Fatalf("mutated payload byte %d still verified", i)
		}
	}
	for i := range ts {
		if s.Verify(payload, mutate(ts, i), sig) {
			t.Fatalf("mutated timestamp byte %d still verified", i)
		}
	}
	for i := range sig {
		if s.Verify(payload, ts, mutate(sig, i)) {
			t.Fatalf("mutated signature byte %d still verified", i)
		}
	}
}

func TestVerifyRejectsOtherSecretAndEmpty(t *testing.T) {
	a, b := New("a"), New("b")
	sig := a.Sign("body", "1")
	if b.Verify("body", "1", sig) {
		t.Error("signature from another secret verified")
	}
	if a.Verify("body", "1", "") {
		t.Error("empty signature verified")
	}
}
