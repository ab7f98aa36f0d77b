package classify

// Policy is the retry decision attached to a disconnection reason.
type Policy int

const (
	// Success means the call served its purpose; the task is deleted.
	Success Policy = iota
	// RetryWithIncrement covers user-attributable non-connections. The
	// retry consumes attempt budget and exhaustion deletes the task.
	RetryWithIncrement
	// RetryWithoutIncrement covers technical faults. Retries are
	// unbounded and never consume attempt budget, so an infrastructure
	// hiccup can never permanently lose a lead.
	RetryWithoutIncrement
	// PermanentFailure deletes the task immediately regardless of the
	// attempt count.
	PermanentFailure
)

// String names the policy for logs and history records.
func (p Policy) String() string {
	switch p {
	case Success:
		return "success"
	case RetryWithIncrement:
		return "retry_with_increment"
	case RetryWithoutIncrement:
		return "retry_without_increment"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Table maps disconnection reasons to retry policies. It is immutable by
// convention and injected into the feedback processor so deployments can
// extend it without touching engine logic. A reason absent from the table
// falls back to deletion with a diagnostic signal.
type Table map[string]Policy

// Classify looks up the policy for a reason. The second return value is
// false for reasons the table has not been taught about.
func (t Table) Classify(reason string) (Policy, bool) {
	p, ok := t[reason]
	return p, ok
}

// DefaultTable returns the built-in classification of known reasons.
func DefaultTable() Table {
	return Table{
		// The call connected and ran to a natural end.
		"user_hangup":       Success,
		"agent_hangup":      Success,
		"call_transferred":  Success,
		"voicemail_reached": Success,

		// The user did not connect; their attempt budget is charged.
		"dial_busy":      RetryWithIncrement,
		"dial_no_answer": RetryWithIncrement,
		"call_declined":  RetryWithIncrement,
		"marked_spam":    RetryWithIncrement,

		// Technical faults on our side of the wire.
		"dial_timeout":         RetryWithoutIncrement,
		"pipeline_timeout":     RetryWithoutIncrement,
		"asr_failure":          RetryWithoutIncrement,
		"audio_stream_error":   RetryWithoutIncrement,
		"sip_routing_error":    RetryWithoutIncrement,
		"provider_unavailable": RetryWithoutIncrement,
		"internal_error":       RetryWithoutIncrement,

		// Calling again can never help.
		"invalid_destination": PermanentFailure,
		"permission_denied":   PermanentFailure,
		"payment_required":    PermanentFailure,
		"scam_detected":       PermanentFailure,
		"participant_absent":  PermanentFailure,
	}
}
