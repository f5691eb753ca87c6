package storage

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateRecord is returned when a call record with the same
// (call_id, type) pair already exists.
var ErrDuplicateRecord = errors.New("storage: call record already exists")

// Storage abstracts persistence for call records, bill snapshots, and the
// supporting account/config tables.
type Storage interface {
	// Call records
	SaveCallRecord(ctx context.Context, rec CallRecord) error
	// GetCallRecord returns the record for (callID, recordType), or nil when
	// no such record exists.
	GetCallRecord(ctx context.Context, callID, recordType string) (*CallRecord, error)
	// ListEndRecords returns end records with from <= timestamp < to,
	// ordered by timestamp ascending.
	ListEndRecords(ctx context.Context, from, to time.Time) ([]CallRecord, error)

	// Bill snapshots
	GetBillSnapshot(ctx context.Context, phoneNumber, period string) (*BillSnapshot, error)
	SaveBillSnapshot(ctx context.Context, snap BillSnapshot) error

	// Batch progress
	// SeedBatchProgress inserts pending rows for the given subscribers,
	// leaving rows that already exist (done or failed) untouched.
	SeedBatchProgress(ctx context.Context, batchID string, phoneNumbers []string) error
	SaveBatchProgress(ctx context.Context, progress BatchProgress) error
	GetPendingBatchSubscribers(ctx context.Context, batchID string) ([]string, error)

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Users
	CreateUser(ctx context.Context, user User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// Tokens
	CreateToken(ctx context.Context, token Token) error
	GetTokenByHash(ctx context.Context, hash string) (*Token, error)
	UpdateTokenLastUsed(ctx context.Context, id string) error

	// Casbin rules
	LoadCasbinRules(ctx context.Context) ([]CasbinRule, error)
	AddCasbinRule(ctx context.Context, rule CasbinRule) error
	RemoveCasbinRule(ctx context.Context, rule CasbinRule) error

	// Email config
	GetEmailConfig(ctx context.Context) (*EmailConfig, error)
	SaveEmailConfig(ctx context.Context, cfg EmailConfig) error

	Ping(ctx context.Context) error

	// Close releases any resources (no-op for in-memory).
	Close() error
}
