package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/tixgate/internal/authorization"
	"gorm.io/gorm"
)

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: JobReasonDeadlineExceeded},
		{name: "forbidden", err: fmt.Errorf("replay: %w", authorization.ErrForbidden), want: JobReasonForbidden},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: JobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: JobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: JobReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: JobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&pgconn.PgError{Code: "40001"}) {
		t.Fatalf("expected serialization failure to be retryable")
	}
	if IsRetryable(errors.New("bad payload")) {
		t.Fatalf("expected plain error to be terminal")
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newWorkerMetrics(registry, Config{ServiceName: "tixgate", Environment: "test"})

	m.AddBatchProcessed("expire_entitlements", "entitlements", 3)
	m.AddBatchProcessed("expire_entitlements", "entitlements", 0)

	got := testutil.ToFloat64(m.batchProcessed.WithLabelValues("expire_entitlements", "entitlements"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestIncDispatchDefaultsExecutor(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newWorkerMetrics(registry, Config{ServiceName: "tixgate", Environment: "test"})

	m.IncDispatch("", DispatchResultFailed)
	m.IncDispatch("email", DispatchResultSent)
	m.IncDispatch("email", DispatchResultSent)

	if got := testutil.ToFloat64(m.dispatchTotal.WithLabelValues("none", DispatchResultFailed)); got != 1 {
		t.Fatalf("expected 1 failed dispatch, got %v", got)
	}
	if got := testutil.ToFloat64(m.dispatchTotal.WithLabelValues("email", DispatchResultSent)); got != 2 {
		t.Fatalf("expected 2 sent dispatches, got %v", got)
	}
}
