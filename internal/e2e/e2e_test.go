package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tixgate/internal/authorization"
	"github.com/smallbiznis/tixgate/internal/clock"
	"github.com/smallbiznis/tixgate/internal/config"
	"github.com/smallbiznis/tixgate/internal/entitlement"
	entitlementdomain "github.com/smallbiznis/tixgate/internal/entitlement/domain"
	"github.com/smallbiznis/tixgate/internal/eventlog"
	"github.com/smallbiznis/tixgate/internal/ledger"
	"github.com/smallbiznis/tixgate/internal/notification"
	notificationdomain "github.com/smallbiznis/tixgate/internal/notification/domain"
	"github.com/smallbiznis/tixgate/internal/observability"
	"github.com/smallbiznis/tixgate/internal/outbox"
	"github.com/smallbiznis/tixgate/internal/payment"
	"github.com/smallbiznis/tixgate/internal/payment/adapters"
	"github.com/smallbiznis/tixgate/internal/payment/adapters/generic"
	"github.com/smallbiznis/tixgate/internal/ratelimit"
	"github.com/smallbiznis/tixgate/internal/scheduler"
	schedulertesting "github.com/smallbiznis/tixgate/internal/scheduler/testing"
	"github.com/smallbiznis/tixgate/internal/server"
	"github.com/smallbiznis/tixgate/internal/slo"
	"github.com/smallbiznis/tixgate/pkg/db/dbtest"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const (
	e2eOrg    = "7001"
	e2eSecret = "whsec_e2e"
)

type testEnv struct {
	app          *fx.App
	db           *gorm.DB
	baseURL      string
	scheduler    *scheduler.Scheduler
	entitlements entitlementdomain.Service
	httpSrv      *httptest.Server
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_CapturedPaymentActivatesAndConsumesTicket(t *testing.T) {
	resetDatabase(t, env.db)

	registerPayment(t, "pay_e2e_1", "match-1", 1)
	entID := singleEntitlement(t, "pay_e2e_1")

	effective := getEffective(t, entID)
	if effective.Access.EffectiveStatus != entitlementdomain.EffectivePending {
		t.Fatalf("expected PENDING before capture, got %s", effective.Access.EffectiveStatus)
	}

	result := sendWebhook(t, "evt_e2e_1", "payment.captured", "pay_e2e_1")
	if !result.Handled || !result.Updated || result.EntitlementsUpdated != 1 {
		t.Fatalf("unexpected fulfill result: %+v", result)
	}

	replay := sendWebhook(t, "evt_e2e_1", "payment.captured", "pay_e2e_1")
	if replay.Updated || replay.Reason != "ALREADY_APPLIED" {
		t.Fatalf("expected redelivery to be a no-op, got %+v", replay)
	}

	first := checkin(t, entID, "match-1")
	if first.Checkin.ResultCode != entitlementdomain.CheckinOK {
		t.Fatalf("expected OK on first scan, got %s", first.Checkin.ResultCode)
	}
	second := checkin(t, entID, "match-1")
	if second.Checkin.ResultCode != entitlementdomain.CheckinAlreadyUsed {
		t.Fatalf("expected ALREADY_USED on second scan, got %s", second.Checkin.ResultCode)
	}

	effective = getEffective(t, entID)
	if effective.Access.EffectiveStatus != entitlementdomain.EffectiveConsumed || effective.Access.CanCheckIn {
		t.Fatalf("expected consumed ticket, got %+v", effective.Access)
	}

	if got := dbtest.Count(t, env.db, `SELECT COUNT(*) FROM checkins WHERE entitlement_id = ? AND result_code = 'OK'`, entID); got != 1 {
		t.Fatalf("expected exactly one OK checkin, got %d", got)
	}
	if got := dbtest.Count(t, env.db, `SELECT COUNT(*) FROM ledger_entries WHERE payment_id = (SELECT id FROM payments WHERE reference = ?)`, "pay_e2e_1"); got == 0 {
		t.Fatalf("expected ledger postings for captured payment")
	}
}

func TestE2E_UnsupportedEventIsAcknowledged(t *testing.T) {
	resetDatabase(t, env.db)

	result := sendWebhook(t, "evt_e2e_2", "customer.created", "")
	if result.Handled || result.Reason != "EVENT_NOT_SUPPORTED" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := dbtest.Count(t, env.db, `SELECT COUNT(*) FROM event_log`); got != 0 {
		t.Fatalf("expected no facts for unsupported events, got %d", got)
	}
}

func TestE2E_BadSignatureRejected(t *testing.T) {
	payload := []byte(`{"id":"evt_bad","type":"payment.captured","data":{"object":{"metadata":{"paymentId":"pay_x"}}}}`)
	resp, _ := doRequest(t, http.MethodPost, "/webhooks/payments/generic", payload, map[string]string{
		generic.SignatureHeader: adapters.Sign("wrong", payload, time.Now()),
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestE2E_SchedulerExpiresLapsedEntitlements(t *testing.T) {
	resetDatabase(t, env.db)

	registerPayment(t, "pay_e2e_3", "match-3", 2)
	sendWebhook(t, "evt_e2e_3", "payment.captured", "pay_e2e_3")

	accelerator := schedulertesting.NewTimeAccelerator(env.db, time.Now)
	lapsed, err := accelerator.LapseAllActive(context.Background())
	if err != nil {
		t.Fatalf("lapse entitlements: %v", err)
	}
	if lapsed != 2 {
		t.Fatalf("expected 2 lapsed entitlements, got %d", lapsed)
	}

	if err := env.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("scheduler run: %v", err)
	}

	if got := dbtest.Count(t, env.db, `SELECT COUNT(*) FROM entitlements WHERE status = 'EXPIRED'`); got != 2 {
		t.Fatalf("expected 2 expired entitlements, got %d", got)
	}

	entID := firstEntitlement(t, "pay_e2e_3")
	scan := checkin(t, entID, "match-3")
	if scan.Checkin.ResultCode != entitlementdomain.CheckinInvalid {
		t.Fatalf("expected INVALID scan for expired ticket, got %s", scan.Checkin.ResultCode)
	}
}

func TestE2E_ScheduleChangeFanOut(t *testing.T) {
	resetDatabase(t, env.db)

	body := map[string]any{
		"match_id":  "match-9",
		"starts_at": "2026-11-01T19:00:00Z",
		"court_id":  "court-2",
		"version":   1,
		"recipients": []map[string]string{
			{"id": "u-1", "email": "one@example.com"},
			{"id": "u-2", "email": "two@example.com"},
		},
	}
	headers := opsHeaders("admin")

	resp, _ := doJSON(t, http.MethodPost, "/ops/notifications/schedule-changes", body, headers)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, "/ops/notifications/schedule-changes", body, headers)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 on retry, got %d", resp.StatusCode)
	}

	if got := dbtest.Count(t, env.db, `SELECT COUNT(*) FROM outbox_events WHERE event_type = ?`, notificationdomain.OutboxTypeScheduleChanged); got != 2 {
		t.Fatalf("expected one outbox row per recipient, got %d", got)
	}
}

func TestE2E_RolesEnforced(t *testing.T) {
	resp, _ := doJSON(t, http.MethodGet, "/ops/outbox/dead-letters", nil, opsHeaders("gate"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for gate role, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, "/ops/slo", nil, map[string]string{})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without roles, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, "/ops/slo", nil, opsHeaders("viewer"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for viewer, got %d", resp.StatusCode)
	}
}

func startEnv() (*testEnv, error) {
	conn, err := dbtest.OpenMemory("tixgate_e2e")
	if err != nil {
		return nil, err
	}

	var (
		engine       *gin.Engine
		sched        *scheduler.Scheduler
		entitlements entitlementdomain.Service
	)

	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(func() *gorm.DB { return conn }),
		fx.Provide(func(cfg config.Config) (*snowflake.Node, error) {
			return snowflake.NewNode(cfg.NodeID)
		}),
		clock.Module,
		ratelimit.Module,
		authorization.Module,
		eventlog.Module,
		outbox.Module,
		entitlement.Module,
		ledger.Module,
		payment.Module,
		notification.Module,
		slo.Module,
		scheduler.Module,
		server.Module,
		fx.Populate(&engine, &sched, &entitlements),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	httpSrv := httptest.NewServer(engine)
	return &testEnv{
		app:          app,
		db:           conn,
		baseURL:      httpSrv.URL,
		scheduler:    sched,
		entitlements: entitlements,
		httpSrv:      httpSrv,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
	if sqlDB, err := e.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("OTEL_ENABLED", "false")
	setEnvIfEmpty("DATABASE_TYPE", "sqlite")
	setEnvIfEmpty("HTTP_ADDR", "127.0.0.1:0")
	setEnvIfEmpty("REDIS_ENABLED", "false")
	setEnvIfEmpty("SCHEDULER_ENABLED", "false")
	setEnvIfEmpty("SCHEDULER_JOBS", "expire_entitlements")
	setEnvIfEmpty("WEBHOOK_SIGNING_SECRET", e2eSecret)
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func resetDatabase(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	var tables []string
	if err := dbConn.Raw(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name <> 'casbin_rule'`,
	).Scan(&tables).Error; err != nil {
		t.Fatalf("list tables: %v", err)
	}
	for _, table := range tables {
		if err := dbConn.Exec(`DELETE FROM "` + table + `"`).Error; err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}

func opsHeaders(role string) map[string]string {
	return map[string]string{
		server.HeaderRoles: role,
		server.HeaderOrg:   e2eOrg,
		server.HeaderActor: "e2e",
	}
}

func registerPayment(t *testing.T, reference, matchID string, quantity int) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, "/payments", map[string]any{
		"reference": reference,
		"provider":  generic.ProviderName,
		"currency":  "IDR",
		"items": []map[string]any{{
			"entitlement_type": "TICKET",
			"resource_type":    "match",
			"resource_id":      matchID,
			"quantity":         quantity,
			"unit_amount":      150000,
			"valid_until":      time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		}},
	}, opsHeaders("admin"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register payment: status %d body %s", resp.StatusCode, body)
	}
}

func sendWebhook(t *testing.T, eventID, eventType, reference string) fulfillResult {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":   eventID,
		"type": eventType,
		"data": map[string]any{
			"object": map[string]any{
				"id":       "ch_" + eventID,
				"metadata": map[string]string{"paymentId": reference},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal webhook: %v", err)
	}
	resp, body := doRequest(t, http.MethodPost, "/webhooks/payments/generic", payload, map[string]string{
		generic.SignatureHeader: adapters.Sign(e2eSecret, payload, time.Now()),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: status %d body %s", resp.StatusCode, body)
	}
	var result fulfillResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode webhook result: %v", err)
	}
	return result
}

type fulfillResult struct {
	Handled             bool   `json:"handled"`
	Updated             bool   `json:"updated"`
	Reason              string `json:"reason"`
	EntitlementsUpdated int64  `json:"entitlements_updated"`
}

type effectiveView struct {
	Access entitlementdomain.Access `json:"access"`
}

type checkinView struct {
	Checkin entitlementdomain.Checkin `json:"checkin"`
	Access  entitlementdomain.Access  `json:"access"`
}

func getEffective(t *testing.T, id snowflake.ID) effectiveView {
	t.Helper()
	resp, body := doJSON(t, http.MethodGet, "/entitlements/"+id.String()+"/effective", nil, opsHeaders("viewer"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("effective: status %d body %s", resp.StatusCode, body)
	}
	var envelope struct {
		Data effectiveView `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode effective: %v", err)
	}
	return envelope.Data
}

func checkin(t *testing.T, id snowflake.ID, matchID string) checkinView {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, "/entitlements/"+id.String()+"/checkins", map[string]string{
		"resource_type": "match",
		"resource_id":   matchID,
		"gate_id":       "north",
	}, opsHeaders("gate"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("checkin: status %d body %s", resp.StatusCode, body)
	}
	var envelope struct {
		Data checkinView `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode checkin: %v", err)
	}
	return envelope.Data
}

func paymentEntitlements(t *testing.T, reference string) []entitlementdomain.Entitlement {
	t.Helper()
	var paymentID snowflake.ID
	if err := env.db.Raw(`SELECT id FROM payments WHERE reference = ?`, reference).Scan(&paymentID).Error; err != nil {
		t.Fatalf("lookup payment: %v", err)
	}
	ents, err := env.entitlements.ListByPayment(context.Background(), paymentID)
	if err != nil {
		t.Fatalf("list entitlements: %v", err)
	}
	return ents
}

func singleEntitlement(t *testing.T, reference string) snowflake.ID {
	t.Helper()
	ents := paymentEntitlements(t, reference)
	if len(ents) != 1 {
		t.Fatalf("expected 1 entitlement, got %d", len(ents))
	}
	return ents[0].ID
}

func firstEntitlement(t *testing.T, reference string) snowflake.ID {
	t.Helper()
	ents := paymentEntitlements(t, reference)
	if len(ents) == 0 {
		t.Fatalf("expected entitlements for %s", reference)
	}
	return ents[0].ID
}

func doJSON(t *testing.T, method, path string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
	}
	return doRequest(t, method, path, raw, headers)
}

func doRequest(t *testing.T, method, path string, raw []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, env.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}
