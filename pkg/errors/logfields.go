package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stripe/stripe-go/v84"
)

// LogFields flattens err into structured log fields. Postgres and gateway
// failures contribute their diagnostic fields; empty values are omitted.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	fields := map[string]any{
		"error_code":  string(CodeOf(err)),
		"error_chain": chain(err),
	}
	addPostgres(fields, err)
	addGateway(fields, err)
	return fields
}

func chain(err error) []string {
	var links []string
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		links = append(links, fmt.Sprintf("%T: %v", e, e))
	}
	return links
}

func addPostgres(fields map[string]any, err error) {
	var pgxErr *pgconn.PgError
	if stdErrors.As(err, &pgxErr) {
		put(fields, "pg_code", pgxErr.Code)
		put(fields, "pg_constraint", pgxErr.ConstraintName)
		put(fields, "pg_table", pgxErr.TableName)
		put(fields, "pg_detail", pgxErr.Detail)
		return
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		put(fields, "pg_code", string(pqErr.Code))
		put(fields, "pg_constraint", pqErr.Constraint)
		put(fields, "pg_table", pqErr.Table)
		put(fields, "pg_detail", pqErr.Detail)
	}
}

func addGateway(fields map[string]any, err error) {
	var stripeErr *stripe.Error
	if !stdErrors.As(err, &stripeErr) {
		return
	}
	put(fields, "gateway_error_type", string(stripeErr.Type))
	put(fields, "gateway_error_code", string(stripeErr.Code))
	put(fields, "gateway_decline_code", string(stripeErr.DeclineCode))
	put(fields, "gateway_request_id", stripeErr.RequestID)
	if stripeErr.HTTPStatusCode != 0 {
		fields["gateway_http_status"] = stripeErr.HTTPStatusCode
	}
}

func put(fields map[string]any, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
