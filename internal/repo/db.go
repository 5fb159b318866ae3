// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver), schema migrations, and the shared error
// sentinels used across repository functions.
package repo

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist (or is not
// visible to the requesting tenant).
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates an insert hit a uniqueness constraint: a settlement
// for the same (tenant, proof) pair, an idempotency key reuse, a second hold
// with the same id. Callers treat this as "the record already exists" and
// fetch the authoritative row.
var ErrDuplicate = errors.New("duplicate")

// ErrLimitReached indicates a conditional counter update matched no rows
// because the limit was already hit (coupon usage at its cap).
var ErrLimitReached = errors.New("limit reached")

// ErrConflict indicates a conditional update lost to a concurrent writer
// with different parameters (cart already paid by someone else, hold
// re-created with mismatched parameters).
var ErrConflict = errors.New("conflict")

// ErrClaimed indicates a conditional claim found the row already claimed by
// a concurrent worker whose side effect is still in flight.
var ErrClaimed = errors.New("claimed")

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for every persisted entity.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Quote{},
		&domain.CartQuote{},
		&domain.PaymentTransaction{},
		&domain.RefundQuote{},
		&domain.CreditsHold{},
		&domain.Coupon{},
		&domain.CouponRedemption{},
		&domain.PendingWebhook{},
		&domain.DlqWebhook{},
		&domain.Idempotency{},
	)
}

// isUniqueViolation detects unique-constraint violations in a
// driver-agnostic way. glebarez/sqlite often returns plain-text errors for
// UNIQUE violations instead of gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
