// Package dbtest opens isolated in-memory SQLite databases carrying the
// towline schema, for repository and service tests.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var seq atomic.Int64

const schema = `
CREATE TABLE customers (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE,
  full_name TEXT NOT NULL,
  email TEXT NOT NULL,
  phone TEXT,
  last_lat REAL,
  last_lng REAL,
  location_updated_at DATETIME,
  fcm_token TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE providers (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE,
  full_name TEXT NOT NULL,
  email TEXT NOT NULL,
  phone TEXT,
  is_available INTEGER NOT NULL DEFAULT 0,
  avg_rating TEXT NOT NULL DEFAULT '0',
  current_lat REAL,
  current_lng REAL,
  location_updated_at DATETIME,
  payout_account_type TEXT,
  payout_bank_code TEXT,
  payout_account_number TEXT,
  payout_account_name TEXT,
  subaccount_code TEXT,
  recipient_code TEXT,
  fcm_token TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE service_requests (
  id TEXT PRIMARY KEY,
  tracking_code TEXT NOT NULL UNIQUE,
  customer_id TEXT NOT NULL,
  provider_id TEXT,
  service_type TEXT NOT NULL,
  description TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  customer_lat REAL,
  customer_lng REAL,
  customer_location_updated_at DATETIME,
  provider_lat REAL,
  provider_lng REAL,
  provider_location_updated_at DATETIME,
  quoted_amount TEXT,
  amount TEXT,
  payment_status TEXT NOT NULL DEFAULT 'unpaid',
  payment_reference TEXT UNIQUE,
  customer_email TEXT NOT NULL,
  customer_confirmed_at DATETIME,
  cancelled_by TEXT,
  cancel_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  paid_at DATETIME
);
CREATE TABLE transactions (
  id TEXT PRIMARY KEY,
  service_request_id TEXT NOT NULL,
  provider_id TEXT,
  reference TEXT NOT NULL,
  transaction_type TEXT NOT NULL,
  currency TEXT NOT NULL,
  channel TEXT,
  amount TEXT NOT NULL,
  provider_percentage TEXT NOT NULL,
  platform_percentage TEXT NOT NULL,
  provider_amount TEXT NOT NULL,
  platform_amount TEXT NOT NULL,
  transfer_code TEXT,
  transfer_reference TEXT,
  transfer_status TEXT,
  transfer_initiated_at DATETIME,
  transfer_completed_at DATETIME,
  transfer_failure_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX ux_transactions_reference ON transactions (reference);
CREATE UNIQUE INDEX ux_transactions_request_customer_payment
  ON transactions (service_request_id, transaction_type)
  WHERE transaction_type = 'customer_to_business';
CREATE UNIQUE INDEX ux_transactions_transfer_code
  ON transactions (transfer_code) WHERE transfer_code IS NOT NULL;
CREATE TABLE notifications (
  id TEXT PRIMARY KEY,
  event_id TEXT,
  recipient_id TEXT NOT NULL,
  recipient_role TEXT NOT NULL,
  service_request_id TEXT,
  type TEXT NOT NULL,
  title TEXT NOT NULL,
  body TEXT NOT NULL,
  read_at DATETIME,
  created_at DATETIME
);
CREATE UNIQUE INDEX ux_notifications_event_recipient
  ON notifications (event_id, recipient_id) WHERE event_id IS NOT NULL;
CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);
CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME
);
`

// Open returns a fresh database private to the calling test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:towline_%d?mode=memory&cache=shared&_busy_timeout=5000", seq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v\n%s", err, stmt)
		}
	}
	return conn
}
