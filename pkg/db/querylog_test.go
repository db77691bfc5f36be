package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/orgplans-backend/pkg/logger"
)

func newCapturingQueryLogger(slow time.Duration) (*queryLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Format: logger.FormatJSON, Output: buf})
	return newQueryLogger(logg, slow), buf
}

func TestQueryLoggerReportsSlowAndFailedStatements(t *testing.T) {
	q, buf := newCapturingQueryLogger(10 * time.Millisecond)
	stmt := func() (string, int64) { return "SELECT * FROM org_subscriptions", 1 }

	q.Trace(context.Background(), time.Now(), stmt, nil)
	if buf.Len() != 0 {
		t.Fatalf("fast successful query should not be logged: %s", buf.String())
	}

	q.Trace(context.Background(), time.Now().Add(-time.Second), stmt, nil)
	if !strings.Contains(buf.String(), `"message":"slow query"`) {
		t.Fatalf("expected slow query line, got %s", buf.String())
	}

	buf.Reset()
	q.Trace(context.Background(), time.Now(), stmt, errors.New("relation does not exist"))
	if !strings.Contains(buf.String(), `"message":"query failed"`) {
		t.Fatalf("expected failure line, got %s", buf.String())
	}
}

func TestQueryLoggerIgnoresExpectedOutcomes(t *testing.T) {
	q, buf := newCapturingQueryLogger(0)
	stmt := func() (string, int64) { return "SELECT 1", 0 }
	q.Trace(context.Background(), time.Now().Add(-time.Hour), stmt, gorm.ErrRecordNotFound)
	q.Trace(context.Background(), time.Now(), stmt, gorm.ErrDuplicatedKey)
	if buf.Len() != 0 {
		t.Fatalf("expected nothing logged, got %s", buf.String())
	}

	silent := q.LogMode(gormlogger.Silent)
	silent.Trace(context.Background(), time.Now(), stmt, errors.New("boom"))
	if buf.Len() != 0 {
		t.Fatalf("silent mode should not log, got %s", buf.String())
	}
}
