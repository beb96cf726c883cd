package fingerprint

import (
	"strings"
	"testing"
)

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		want    string
	}{
		{"amount", "Your payment of $47.82 is on the way", "your payment of $X is on the way"},
		{"amount with commas", "You earned $1,204.50 this week!", "you earned $X this week!"},
		{"slash date", "Pay period 1/6-1/12", "pay period DATE-DATE"},
		{"iso date", "Deposit scheduled for 2025-01-13", "deposit scheduled for DATE"},
		{"short month date", "Weekly summary Jan 13", "weekly summary DATE"},
		{"full month date", "Statement for January 13, 2025", "statement for DATE"},
		{"year only", "Your 2024 tax documents are ready", "your YEAR tax documents are ready"},
		{"long number", "Order #123456789 delivered", "order #NUM delivered"},
		{"greeting with name", "Hi John, your account is ready", "greeting, your account is ready"},
		{"greeting without name", "Hi there, quick question", "hi there, quick question"},
		{"short name kept", "Hey Al, update inside", "hey al, update inside"},
		{"trim and fold", "  Welcome To DoorDash  ", "welcome to doordash"},
		{"tax form id", "Your 1099 form is available", "your NUM form is available"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeSubject(tt.subject); got != tt.want {
				t.Errorf("NormalizeSubject(%q) = %q, want %q", tt.subject, got, tt.want)
			}
		})
	}
}

func TestSenderDomain(t *testing.T) {
	tests := []struct {
		sender string
		want   string
	}{
		{"DoorDash <no-reply@doordash.com>", "doordash.com"},
		{"support@Checkr.com", "checkr.com"},
		{"\"Pay, Team\" <pay@doordash.com>", "doordash.com"},
		{"not-an-address", "not-an-address"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SenderDomain(tt.sender); got != tt.want {
			t.Errorf("SenderDomain(%q) = %q, want %q", tt.sender, got, tt.want)
		}
	}
}

func TestMake(t *testing.T) {
	fp := Make("Hi John, you earned $52.10", "DoorDash <pay@doordash.com>")
	if len(fp) != 16 {
		t.Fatalf("fingerprint length = %d, want 16", len(fp))
	}
	if fp != strings.ToLower(fp) {
		t.Errorf("fingerprint not lowercase hex: %q", fp)
	}

	// Same template with different variables collapses.
	same := Make("Hi Maria, you earned $18.75", "pay@doordash.com")
	if fp != same {
		t.Errorf("template variants got different fingerprints: %q vs %q", fp, same)
	}

	// Same subject from a different domain does not.
	other := Make("Hi John, you earned $52.10", "pay@checkr.com")
	if fp == other {
		t.Errorf("different domains got the same fingerprint: %q", fp)
	}
}

func TestMakeDeterministic(t *testing.T) {
	a := Make("Background check complete", "no-reply@checkr.com")
	b := Make("Background check complete", "no-reply@checkr.com")
	if a != b {
		t.Errorf("fingerprint not deterministic: %q vs %q", a, b)
	}
}
