// Package dbtest opens in-memory SQLite databases that mirror the Postgres schema
// closely enough for repository and service tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE event_log (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL DEFAULT 0,
		event_type TEXT NOT NULL,
		actor_user_id TEXT,
		source_type TEXT,
		source_id TEXT,
		correlation_id TEXT,
		idempotency_key TEXT,
		payload TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_event_log_org_idempotency ON event_log (org_id, idempotency_key)`,
	`CREATE TABLE outbox_events (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL DEFAULT 0,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		dedupe_key TEXT NOT NULL,
		logical_key TEXT NOT NULL,
		correlation_id TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		retries INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		next_attempt_at DATETIME,
		claim_token TEXT,
		claimed_at DATETIME,
		created_at DATETIME NOT NULL,
		sent_at DATETIME,
		dead_lettered_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_outbox_events_org_dedupe_key ON outbox_events (org_id, dedupe_key)`,
	`CREATE TABLE payments (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		reference TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_payment_id TEXT,
		owner_identity_id TEXT,
		owner_email TEXT,
		currency TEXT NOT NULL,
		subtotal_amount BIGINT NOT NULL DEFAULT 0,
		discount_amount BIGINT NOT NULL DEFAULT 0,
		platform_fee_amount BIGINT NOT NULL DEFAULT 0,
		processor_fee_amount BIGINT NOT NULL DEFAULT 0,
		total_amount BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_payments_reference ON payments (reference)`,
	`CREATE TABLE payment_items (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		payment_id BIGINT NOT NULL,
		entitlement_type TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_amount BIGINT NOT NULL,
		valid_until DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE ledger_entries (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		payment_id BIGINT NOT NULL,
		entry_type TEXT NOT NULL,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		source_event_id TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_ledger_entries_source ON ledger_entries (payment_id, entry_type, source_event_id)`,
	`CREATE TABLE entitlements (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		type TEXT NOT NULL,
		owner_identity_id TEXT,
		payment_id BIGINT NOT NULL,
		payment_item_id BIGINT NOT NULL,
		seq INTEGER NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		status TEXT NOT NULL,
		valid_until DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_entitlements_issue ON entitlements (payment_id, payment_item_id, seq)`,
	`CREATE TABLE checkins (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		entitlement_id BIGINT NOT NULL,
		result_code TEXT NOT NULL,
		gate_id TEXT,
		scanned_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_checkins_consumed ON checkins (entitlement_id) WHERE result_code = 'OK'`,
}

// Open returns a fresh shared-cache in-memory database named after the test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := OpenMemory(name)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// OpenMemory opens a named in-memory database with the schema applied. The
// caller owns the connection.
func OpenMemory(name string) (*gorm.DB, error) {
	dsn := "file:" + name + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers the way row locks would on Postgres.
	sqlDB.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("schema exec: %w", err)
		}
	}
	return db, nil
}

// Count runs a COUNT query and fails the test on error.
func Count(t testing.TB, db *gorm.DB, query string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return count
}
