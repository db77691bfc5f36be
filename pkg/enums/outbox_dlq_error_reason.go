package enums

// OutboxDLQErrorReason records why the relay gave up on an outbox row.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonUndecodable marks rows whose envelope or event type the relay could not resolve.
	OutboxDLQReasonUndecodable  OutboxDLQErrorReason = "undecodable"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
)

var outboxDLQErrorReasons = map[OutboxDLQErrorReason]struct{}{
	OutboxDLQReasonUndecodable:  {},
	OutboxDLQReasonNonRetryable: {},
	OutboxDLQReasonMaxAttempts:  {},
}

func (r OutboxDLQErrorReason) IsValid() bool {
	_, ok := outboxDLQErrorReasons[r]
	return ok
}

// Retryable reports whether replaying the row after an operator fix could succeed
// without touching its payload.
func (r OutboxDLQErrorReason) Retryable() bool {
	return r == OutboxDLQReasonMaxAttempts
}
