package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stripe/stripe-go/v84"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeSignature, status: http.StatusBadRequest, publicMsg: "signature verification failed"},
		{code: CodeDataIntegrity, status: http.StatusInternalServerError, publicMsg: "stored data is inconsistent"},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestWithDetailsLeavesSentinelUntouched(t *testing.T) {
	sentinel := New(CodeNotFound, "plan not found")
	detailed := sentinel.WithDetails(map[string]any{"plan_id": "gold"})

	if sentinel.Details() != nil {
		t.Fatalf("sentinel should not carry details")
	}
	if detailed.Details() == nil {
		t.Fatalf("copy should carry details")
	}
	if !stdErrors.Is(detailed, sentinel) {
		t.Fatalf("detailed copy should match its sentinel")
	}
}

func TestWrapPreservesCauseAndSentinel(t *testing.T) {
	sentinel := New(CodeStateConflict, "payment not confirmed")
	wrapped := fmt.Errorf("verify: %w", Wrap(CodeDependency, sentinel, "gateway"))

	if !stdErrors.Is(wrapped, sentinel) {
		t.Fatalf("wrapped chain should reach the sentinel")
	}
	if CodeOf(wrapped) != CodeDependency {
		t.Fatalf("expected outermost typed code, got %s", CodeOf(wrapped))
	}
	if !IsRetryable(wrapped) {
		t.Fatalf("dependency errors should be retryable")
	}
}

func TestIsRequiresSameCodeAndMessage(t *testing.T) {
	a := New(CodeNotFound, "plan not found")
	if stdErrors.Is(a, New(CodeValidation, "plan not found")) {
		t.Fatalf("different codes should not match")
	}
	if stdErrors.Is(a, New(CodeNotFound, "session not found")) {
		t.Fatalf("different messages should not match")
	}
}

func TestCodeOfUntypedError(t *testing.T) {
	if CodeOf(stdErrors.New("boom")) != CodeInternal {
		t.Fatalf("untyped errors should map to internal")
	}
	deadline := fmt.Errorf("load plan: %w", context.DeadlineExceeded)
	if CodeOf(deadline) != CodeDependency || !IsRetryable(deadline) {
		t.Fatalf("a bare deadline should read as a retryable dependency failure")
	}
	if IsRetryable(nil) {
		t.Fatalf("nil is never retryable")
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeForbidden, "no entry"))
	typed := As(err)
	if typed == nil || typed.Code() != CodeForbidden {
		t.Fatalf("expected forbidden typed error, got %v", typed)
	}
	if As(stdErrors.New("plain")) != nil {
		t.Fatalf("plain errors should not convert")
	}
}

func TestLogFieldsIncludesPostgresAndGatewayDetail(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "uq_applied_billing_events_org_key", TableName: "applied_billing_events"}
	fields := LogFields(Wrap(CodeConflict, fmt.Errorf("insert: %w", pgErr), "duplicate transition"))
	if fields["error_code"] != string(CodeConflict) {
		t.Fatalf("unexpected error_code %v", fields["error_code"])
	}
	if fields["pg_code"] != "23505" || fields["pg_constraint"] != "uq_applied_billing_events_org_key" {
		t.Fatalf("postgres fields missing: %v", fields)
	}
	if links, _ := fields["error_chain"].([]string); len(links) != 3 {
		t.Fatalf("expected three chain links, got %v", fields["error_chain"])
	}
	if _, ok := fields["pg_detail"]; ok {
		t.Fatalf("empty values must be omitted")
	}

	gwErr := &stripe.Error{Type: stripe.ErrorTypeCard, Code: stripe.ErrorCodeCardDeclined, RequestID: "req_1", HTTPStatusCode: 402}
	fields = LogFields(Wrap(CodeDependency, gwErr, "retrieve subscription"))
	if fields["gateway_error_code"] != string(stripe.ErrorCodeCardDeclined) || fields["gateway_http_status"] != 402 {
		t.Fatalf("gateway fields missing: %v", fields)
	}
	if len(LogFields(nil)) != 0 {
		t.Fatalf("nil error must produce no fields")
	}
}
