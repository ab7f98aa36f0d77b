package classify

import "testing"

func TestDefaultTableBuckets(t *testing.T) {
	table := DefaultTable()

	expect := map[string]Policy{
		"user_hangup":          Success,
		"voicemail_reached":    Success,
		"dial_busy":            RetryWithIncrement,
		"dial_no_answer":       RetryWithIncrement,
		"call_declined":        RetryWithIncrement,
		"marked_spam":          RetryWithIncrement,
		"sip_routing_error":    RetryWithoutIncrement,
		"asr_failure":          RetryWithoutIncrement,
		"provider_unavailable": RetryWithoutIncrement,
		"invalid_destination":  PermanentFailure,
		"scam_detected":        PermanentFailure,
		"payment_required":     PermanentFailure,
	}

	for reason, want := range expect {
		got, ok := table.Classify(reason)
		if !ok {
			t.Errorf("reason %q not classified", reason)
			continue
		}
		if got != want {
			t.Errorf("reason %q: got %v, want %v", reason, got, want)
		}
	}
}

func TestEveryReasonInExactlyOneBucket(t *testing.T) {
	table := DefaultTable()
	for reason, policy := range table {
		switch policy {
		case Success, RetryWithIncrement, RetryWithoutIncrement, PermanentFailure:
		default:
			t.Errorf("reason %q has invalid policy %d", reason, policy)
		}
	}
}

func TestUnknownReasonFallsThrough(t *testing.T) {
	table := DefaultTable()
	if _, ok := table.Classify("alien_signal"); ok {
		t.Fatalf("expected unknown reason to be unclassified")
	}
	if _, ok := table.Classify(""); ok {
		t.Fatalf("expected empty reason to be unclassified")
	}
}

func TestTableIsExtensible(t *testing.T) {
	table := DefaultTable()
	table["carrier_blocked"] = PermanentFailure

	got, ok := table.Classify("carrier_blocked")
	if !ok || got != PermanentFailure {
		t.Fatalf("expected extended reason to classify as permanent failure, got %v ok=%v", got, ok)
	}
}
