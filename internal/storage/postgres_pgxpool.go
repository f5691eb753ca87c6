package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPoolStorage is a pgxpool-backed Storage. The cron workers use this
// backend directly for advisory locks and scheduled-job bookkeeping.
type PostgresPoolStorage struct {
	pool *pgxpool.Pool
}

func OpenPostgresPool(ctx context.Context, dsn string) (*PostgresPoolStorage, error) {
	if dsn == "" {
		dsn = "postgres://localhost:5432/telebill?sslmode=disable"
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &PostgresPoolStorage{pool: pool}, nil
}

func (s *PostgresPoolStorage) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresPoolStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool exposes the underlying pool for metrics collection.
func (s *PostgresPoolStorage) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresPoolStorage) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_records (
			id SERIAL PRIMARY KEY,
			call_id TEXT NOT NULL,
			type TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			source TEXT,
			destination TEXT,
			UNIQUE (call_id, type)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_records_timestamp ON call_records (timestamp);`,
		`CREATE TABLE IF NOT EXISTS bill_snapshots (
			id SERIAL PRIMARY KEY,
			phone_number TEXT NOT NULL,
			period TEXT NOT NULL,
			payload BYTEA NOT NULL,
			computed_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bill_snapshots_phone_period ON bill_snapshots (phone_number, period);`,
		`CREATE TABLE IF NOT EXISTS batch_progress (
			id SERIAL PRIMARY KEY,
			batch_id TEXT NOT NULL,
			phone_number TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (batch_id, phone_number)
		);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMPTZ
		);`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE,
			email TEXT,
			password_hash TEXT,
			role TEXT,
			created_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ
		);`,
		`CREATE TABLE IF NOT EXISTS tokens (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			name TEXT,
			token_hash TEXT,
			role TEXT,
			created_at TIMESTAMPTZ,
			expires_at TIMESTAMPTZ,
			last_used_at TIMESTAMPTZ
		);`,
		`CREATE TABLE IF NOT EXISTS casbin_rules (
			id SERIAL PRIMARY KEY,
			ptype TEXT, v0 TEXT, v1 TEXT, v2 TEXT, v3 TEXT, v4 TEXT, v5 TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS email_configs (
			id TEXT PRIMARY KEY,
			provider TEXT,
			host TEXT,
			port INT,
			username TEXT,
			password TEXT,
			from_address TEXT,
			from_name TEXT,
			api_key TEXT,
			encryption TEXT,
			enabled BOOLEAN,
			created_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ
		);`,
		`CREATE TABLE IF NOT EXISTS scheduled_jobs (
			name TEXT PRIMARY KEY,
			last_run_at TIMESTAMPTZ,
			last_duration_ms BIGINT,
			last_success INT,
			last_error TEXT
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Call records

func (s *PostgresPoolStorage) SaveCallRecord(ctx context.Context, rec CallRecord) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO call_records (call_id, type, timestamp, source, destination)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (call_id, type) DO NOTHING`,
		rec.CallID, rec.Type, rec.Timestamp, rec.Source, rec.Destination)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateRecord
	}
	return nil
}

func (s *PostgresPoolStorage) GetCallRecord(ctx context.Context, callID, recordType string) (*CallRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, call_id, type, timestamp, COALESCE(source,''), COALESCE(destination,'')
		FROM call_records WHERE call_id=$1 AND type=$2`, callID, recordType)
	var rec CallRecord
	if err := row.Scan(&rec.ID, &rec.CallID, &rec.Type, &rec.Timestamp, &rec.Source, &rec.Destination); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresPoolStorage) ListEndRecords(ctx context.Context, from, to time.Time) ([]CallRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, call_id, type, timestamp, COALESCE(source,''), COALESCE(destination,'')
		FROM call_records
		WHERE type=$1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC`, RecordTypeEnd, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var rec CallRecord
		if err := rows.Scan(&rec.ID, &rec.CallID, &rec.Type, &rec.Timestamp, &rec.Source, &rec.Destination); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Bill snapshots

func (s *PostgresPoolStorage) GetBillSnapshot(ctx context.Context, phoneNumber, period string) (*BillSnapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, phone_number, period, payload, computed_at
		FROM bill_snapshots WHERE phone_number=$1 AND period=$2
		ORDER BY computed_at DESC LIMIT 1`, phoneNumber, period)
	var snap BillSnapshot
	if err := row.Scan(&snap.ID, &snap.PhoneNumber, &snap.Period, &snap.Payload, &snap.ComputedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

func (s *PostgresPoolStorage) SaveBillSnapshot(ctx context.Context, snap BillSnapshot) error {
	if snap.ComputedAt.IsZero() {
		snap.ComputedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bill_snapshots (phone_number, period, payload, computed_at)
		VALUES ($1,$2,$3,$4)`,
		snap.PhoneNumber, snap.Period, snap.Payload, snap.ComputedAt)
	return err
}

// Batch progress

func (s *PostgresPoolStorage) SeedBatchProgress(ctx context.Context, batchID string, phoneNumbers []string) error {
	for _, phone := range phoneNumbers {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO batch_progress (batch_id, phone_number, status, updated_at)
			VALUES ($1,$2,'pending',now())
			ON CONFLICT (batch_id, phone_number) DO NOTHING`,
			batchID, phone)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresPoolStorage) SaveBatchProgress(ctx context.Context, progress BatchProgress) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO batch_progress (batch_id, phone_number, status, error, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (batch_id, phone_number) DO UPDATE SET
			status=EXCLUDED.status,
			error=EXCLUDED.error,
			updated_at=now()`,
		progress.BatchID, progress.PhoneNumber, progress.Status, progress.Error)
	return err
}

func (s *PostgresPoolStorage) GetPendingBatchSubscribers(ctx context.Context, batchID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT phone_number FROM batch_progress
		WHERE batch_id=$1 AND status IN ('pending','failed')
		ORDER BY phone_number`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Settings

func (s *PostgresPoolStorage) GetSetting(ctx context.Context, key string) (string, error) {
	row := s.pool.QueryRow(ctx, `SELECT COALESCE(value,'') FROM settings WHERE key=$1`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func (s *PostgresPoolStorage) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1,$2,now())
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`, key, value)
	return err
}

// Users

func (s *PostgresPoolStorage) CreateUser(ctx context.Context, user User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.Role, user.CreatedAt, user.UpdatedAt)
	return err
}

func (s *PostgresPoolStorage) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, COALESCE(email,''), password_hash, role, created_at, updated_at
		FROM users WHERE username=$1`, username)
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// Tokens

func (s *PostgresPoolStorage) CreateToken(ctx context.Context, token Token) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tokens (id, user_id, name, token_hash, role, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		token.ID, token.UserID, token.Name, token.TokenHash, token.Role, token.CreatedAt, token.ExpiresAt)
	return err
}

func (s *PostgresPoolStorage) GetTokenByHash(ctx context.Context, hash string) (*Token, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, name, token_hash, role, created_at, expires_at, last_used_at
		FROM tokens WHERE token_hash=$1`, hash)
	var t Token
	if err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.TokenHash, &t.Role, &t.CreatedAt, &t.ExpiresAt, &t.LastUsedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (s *PostgresPoolStorage) UpdateTokenLastUsed(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE tokens SET last_used_at=now() WHERE id=$1`, id)
	return err
}

// Casbin

func (s *PostgresPoolStorage) LoadCasbinRules(ctx context.Context) ([]CasbinRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(ptype,''), COALESCE(v0,''), COALESCE(v1,''), COALESCE(v2,''),
		       COALESCE(v3,''), COALESCE(v4,''), COALESCE(v5,'')
		FROM casbin_rules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CasbinRule
	for rows.Next() {
		var r CasbinRule
		if err := rows.Scan(&r.ID, &r.PType, &r.V0, &r.V1, &r.V2, &r.V3, &r.V4, &r.V5); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresPoolStorage) AddCasbinRule(ctx context.Context, rule CasbinRule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO casbin_rules (ptype, v0, v1, v2, v3, v4, v5)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rule.PType, rule.V0, rule.V1, rule.V2, rule.V3, rule.V4, rule.V5)
	return err
}

func (s *PostgresPoolStorage) RemoveCasbinRule(ctx context.Context, rule CasbinRule) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM casbin_rules WHERE ptype=$1 AND v0=$2 AND v1=$3 AND v2=$4`,
		rule.PType, rule.V0, rule.V1, rule.V2)
	return err
}

// Email config

func (s *PostgresPoolStorage) GetEmailConfig(ctx context.Context) (*EmailConfig, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, provider, COALESCE(host,''), COALESCE(port,0), COALESCE(username,''),
		       COALESCE(password,''), from_address, COALESCE(from_name,''), COALESCE(api_key,''),
		       COALESCE(encryption,''), enabled, created_at, updated_at
		FROM email_configs LIMIT 1`)
	var cfg EmailConfig
	err := row.Scan(&cfg.ID, &cfg.Provider, &cfg.Host, &cfg.Port, &cfg.Username,
		&cfg.Password, &cfg.FromAddress, &cfg.FromName, &cfg.APIKey,
		&cfg.Encryption, &cfg.Enabled, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (s *PostgresPoolStorage) SaveEmailConfig(ctx context.Context, cfg EmailConfig) error {
	cfg.UpdatedAt = time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = cfg.UpdatedAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO email_configs (id, provider, host, port, username, password, from_address,
			from_name, api_key, encryption, enabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			provider=EXCLUDED.provider, host=EXCLUDED.host, port=EXCLUDED.port,
			username=EXCLUDED.username, password=EXCLUDED.password,
			from_address=EXCLUDED.from_address, from_name=EXCLUDED.from_name,
			api_key=EXCLUDED.api_key, encryption=EXCLUDED.encryption,
			enabled=EXCLUDED.enabled, updated_at=EXCLUDED.updated_at`,
		cfg.ID, cfg.Provider, cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.FromAddress,
		cfg.FromName, cfg.APIKey, cfg.Encryption, cfg.Enabled, cfg.CreatedAt, cfg.UpdatedAt)
	return err
}

// Advisory locks and scheduled jobs (used by the cron workers)

func (s *PostgresPoolStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key)
	var got bool
	if err := row.Scan(&got); err != nil {
		return false, err
	}
	return got, nil
}

func (s *PostgresPoolStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, key)
	var released bool
	if err := row.Scan(&released); err != nil {
		return false, err
	}
	return released, nil
}

func (s *PostgresPoolStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	ok := 0
	if success {
		ok = 1
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scheduled_jobs (name, last_run_at, last_duration_ms, last_success, last_error)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (name) DO UPDATE SET
			last_run_at=EXCLUDED.last_run_at,
			last_duration_ms=EXCLUDED.last_duration_ms,
			last_success=EXCLUDED.last_success,
			last_error=EXCLUDED.last_error`,
		name, started, dur.Milliseconds(), ok, errMsg)
	return err
}
