package stage_test

import (
	"testing"
	"time"

	"github.com/ignite/dasher-monitor/internal/domain"
	"github.com/ignite/dasher-monitor/internal/stage"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func hdr(subject, from string, day int) domain.EmailHeader {
	d := base.AddDate(0, 0, day)
	return domain.EmailHeader{ID: subject, Subject: subject, From: from, Date: &d}
}

func hdrNoDate(subject, from string) domain.EmailHeader {
	return domain.EmailHeader{ID: subject, Subject: subject, From: from}
}

func TestDetectEmpty(t *testing.T) {
	det := stage.Detect(nil)
	if det.Stage != domain.StageRegistered || det.Confidence != stage.ConfidenceLow {
		t.Fatalf("empty input = %s/%s, want REGISTERED/low", det.Stage, det.Confidence)
	}
	if det.Reactivated || len(det.NeedsBodyCheck) != 0 {
		t.Errorf("empty input produced signals: %+v", det)
	}
}

func TestDetectDeactivationWins(t *testing.T) {
	det := stage.Detect([]domain.EmailHeader{
		hdr("Your weekly pay is ready", "pay@doordash.com", 1),
		hdr("Your Dasher Account Has Been Deactivated", "no-reply@doordash.com", 2),
	})
	if det.Stage != domain.StageDeactivated {
		t.Fatalf("stage = %s, want DEACTIVATED", det.Stage)
	}
	if det.Confidence != stage.ConfidenceHigh {
		t.Errorf("confidence = %s, want high", det.Confidence)
	}
	if det.TriggerSubject != "Your Dasher Account Has Been Deactivated" {
		t.Errorf("trigger = %q", det.TriggerSubject)
	}
	if len(det.NeedsBodyCheck) != 0 {
		t.Errorf("short-circuit should drop pending body checks")
	}
}

func TestDetectReactivationFlipsDeactivated(t *testing.T) {
	det := stage.Detect([]domain.EmailHeader{
		hdr("Your Dasher account has been deactivated", "no-reply@doordash.com", 0),
		hdr("Welcome back", "no-reply@doordash.com", 10),
	})
	if det.Stage != domain.StageActive {
		t.Fatalf("stage = %s, want ACTIVE after reactivation", det.Stage)
	}
	if !det.Reactivated {
		t.Errorf("reactivated flag not set")
	}
}

func TestDetectBGCCompleteTentativeClear(t *testing.T) {
	det := stage.Detect([]domain.EmailHeader{
		hdr("Your background check is complete", "Checkr <no-reply@checkr.com>", 0),
	})
	if det.Stage != domain.StageBGCClear || det.Confidence != stage.ConfidenceHigh {
		t.Fatalf("got %s/%s, want BGC_CLEAR/high", det.Stage, det.Confidence)
	}
	if len(det.NeedsBodyCheck) != 1 {
		t.Fatalf("body check queue len = %d, want 1", len(det.NeedsBodyCheck))
	}
}

func TestBodyCheckPromotesToConsider(t *testing.T) {
	h := hdr("Your background check is complete", "no-reply@checkr.com", 0)
	det := stage.Detect([]domain.EmailHeader{h})

	s, conf := stage.BodyCheck("Please note: this may affect eligibility for the platform.")
	if s != domain.StageBGCConsider || conf != stage.ConfidenceMedium {
		t.Fatalf("BodyCheck = %s/%s, want BGC_CONSIDER/medium", s, conf)
	}
	det.ApplyBodyCheck(s, conf, h)
	if det.Stage != domain.StageBGCConsider {
		t.Errorf("stage after body check = %s, want BGC_CONSIDER", det.Stage)
	}
}

func TestBodyCheckExactPhraseHighConfidence(t *testing.T) {
	s, conf := stage.BodyCheck("We found items that could potentially impact your eligibility.")
	if s != domain.StageBGCConsider || conf != stage.ConfidenceHigh {
		t.Fatalf("BodyCheck = %s/%s, want BGC_CONSIDER/high", s, conf)
	}
}

func TestBodyCheckCleanStaysClear(t *testing.T) {
	h := hdr("Your background check is complete", "no-reply@checkr.com", 0)
	det := stage.Detect([]domain.EmailHeader{h})

	s, conf := stage.BodyCheck("Great news! Everything came back clean.")
	if s != domain.StageBGCClear {
		t.Fatalf("BodyCheck = %s, want BGC_CLEAR", s)
	}
	det.ApplyBodyCheck(s, conf, h)
	if det.Stage != domain.StageBGCClear {
		t.Errorf("clean body changed the stage to %s", det.Stage)
	}
}

func TestDetectActiveSignals(t *testing.T) {
	tests := []struct {
		subject string
		conf    stage.Confidence
	}{
		{"Payment processed for your Dasher account", stage.ConfidenceHigh},
		{"Your pay statement is available", stage.ConfidenceHigh},
		{"Fast Pay transfer initiated", stage.ConfidenceHigh},
		{"Your Dasher welcome gift is here", stage.ConfidenceHigh},
		{"Your first dash is done!", stage.ConfidenceMedium},
		{"Congratulations on your first dash", stage.ConfidenceMedium},
		{"You completed your 10th dash", stage.ConfidenceMedium},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			det := stage.Detect([]domain.EmailHeader{hdr(tt.subject, "no-reply@doordash.com", 0)})
			if det.Stage != domain.StageActive {
				t.Fatalf("stage = %s, want ACTIVE", det.Stage)
			}
			if det.Confidence != tt.conf {
				t.Errorf("confidence = %s, want %s", det.Confidence, tt.conf)
			}
		})
	}
}

func TestDetectIgnoresPromotionalSubjects(t *testing.T) {
	det := stage.Detect([]domain.EmailHeader{
		hdr("How was your experience?", "no-reply@doordash.com", 0),
		hdr("Time to dash, it's busy right now", "no-reply@doordash.com", 1),
		hdr("Maximize your earnings this weekend", "no-reply@doordash.com", 2),
	})
	if det.Stage != domain.StageRegistered {
		t.Fatalf("promotional mail promoted the stage to %s", det.Stage)
	}
}

func TestDetectBGCPending(t *testing.T) {
	det := stage.Detect([]domain.EmailHeader{
		hdr("Your background check is taking longer than expected", "Checkr <no-reply@checkr.com>", 0),
	})
	if det.Stage != domain.StageBGCPending || det.Confidence != stage.ConfidenceMedium {
		t.Fatalf("got %s/%s, want BGC_PENDING/medium", det.Stage, det.Confidence)
	}
}

func TestDetectBGCPendingGenericMention(t *testing.T) {
	det := stage.Detect([]domain.EmailHeader{
		hdr("An update on your background check", "no-reply@checkr.com", 0),
	})
	if det.Stage != domain.StageBGCPending || det.Confidence != stage.ConfidenceLow {
		t.Fatalf("got %s/%s, want BGC_PENDING/low", det.Stage, det.Confidence)
	}
}

func TestDetectBGCPendingRequiresVendor(t *testing.T) {
	det := stage.Detect([]domain.EmailHeader{
		hdr("An update on your background check", "newsletter@example.com", 0),
	})
	if det.Stage != domain.StageRegistered {
		t.Fatalf("non-vendor BGC mention promoted to %s", det.Stage)
	}
}

func TestDetectIdentityVerified(t *testing.T) {
	det := stage.Detect([]domain.EmailHeader{
		hdr("Your identity has been verified", "no-reply@checkr.com", 0),
	})
	if det.Stage != domain.StageIdentityVerified {
		t.Fatalf("stage = %s, want IDENTITY_VERIFIED", det.Stage)
	}
}

func TestDetectHighestPriorityWins(t *testing.T) {
	det := stage.Detect([]domain.EmailHeader{
		hdr("Your identity has been verified", "no-reply@checkr.com", 0),
		hdr("Your background check is taking longer than expected", "no-reply@checkr.com", 1),
		hdr("Payment processed for this week", "pay@doordash.com", 2),
	})
	if det.Stage != domain.StageActive {
		t.Fatalf("stage = %s, want ACTIVE", det.Stage)
	}
	if det.TriggerSubject != "Payment processed for this week" {
		t.Errorf("trigger = %q, want the active-signal subject", det.TriggerSubject)
	}
	if det.TriggerDate == nil || !det.TriggerDate.Equal(base.AddDate(0, 0, 2)) {
		t.Errorf("trigger date = %v", det.TriggerDate)
	}
}

func TestDetectUndatedSortsLast(t *testing.T) {
	det := stage.Detect([]domain.EmailHeader{
		hdrNoDate("Your Dasher account has been deactivated", "no-reply@doordash.com"),
		hdr("Your account has been reactivated", "no-reply@doordash.com", 1),
	})
	if det.Stage != domain.StageActive || !det.Reactivated {
		t.Fatalf("got %s reactivated=%v, want ACTIVE with flag", det.Stage, det.Reactivated)
	}
}

func TestDetectAllUndatedStillDetects(t *testing.T) {
	det := stage.Detect([]domain.EmailHeader{
		hdrNoDate("Payment processed for your account", "pay@doordash.com"),
	})
	if det.Stage != domain.StageActive {
		t.Fatalf("stage = %s, want ACTIVE", det.Stage)
	}
	if det.TriggerDate != nil {
		t.Errorf("trigger date = %v, want nil for undated message", det.TriggerDate)
	}
}
