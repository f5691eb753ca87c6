package storage

import "time"

// Call record types. A completed call is a (start, end) pair sharing a call id.
const (
	RecordTypeStart = "start"
	RecordTypeEnd   = "end"
)

// CallRecord is one start or end event of a phone call. Source and
// destination are only present on start records.
type CallRecord struct {
	ID          uint      `json:"id" gorm:"primaryKey;column:id"`
	CallID      string    `json:"call_id" gorm:"column:call_id;uniqueIndex:idx_call_records_call_type"`
	Type        string    `json:"type" gorm:"column:type;uniqueIndex:idx_call_records_call_type"`
	Timestamp   time.Time `json:"timestamp" gorm:"column:timestamp;index"`
	Source      string    `json:"source,omitempty" gorm:"column:source"`
	Destination string    `json:"destination,omitempty" gorm:"column:destination"`
}

// BillSnapshot caches a computed bill payload for a subscriber and a closed
// period, so repeated bill requests do not re-price a whole month.
type BillSnapshot struct {
	ID          uint      `json:"-" gorm:"primaryKey;column:id"`
	PhoneNumber string    `json:"phone_number" gorm:"column:phone_number;index:idx_bill_snapshots_phone_period"`
	Period      string    `json:"period" gorm:"column:period;index:idx_bill_snapshots_phone_period"`
	Payload     []byte    `json:"payload" gorm:"column:payload"`
	ComputedAt  time.Time `json:"computed_at" gorm:"column:computed_at"`
}

// BatchProgress tracks one subscriber inside a billing batch run so an
// interrupted run can resume from the pending/failed rows.
type BatchProgress struct {
	ID          uint      `gorm:"primaryKey;column:id"`
	BatchID     string    `gorm:"column:batch_id;uniqueIndex:idx_batch_progress_batch_phone"`
	PhoneNumber string    `gorm:"column:phone_number;uniqueIndex:idx_batch_progress_batch_phone"`
	Status      string    `gorm:"column:status"` // pending, done, failed
	Error       string    `gorm:"column:error"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

// Setting is a key/value row for runtime-tunable configuration.
type Setting struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Value     string    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// User represents a registered user in the system.
type User struct {
	ID           string    `json:"id" gorm:"primaryKey;column:id"`
	Username     string    `json:"username" gorm:"unique;column:username"`
	Email        string    `json:"email" gorm:"column:email"`
	PasswordHash string    `json:"-" gorm:"column:password_hash"`
	Role         string    `json:"role" gorm:"column:role"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// Token represents an API access token.
type Token struct {
	ID         string     `json:"id" gorm:"primaryKey;column:id"`
	UserID     string     `json:"user_id" gorm:"column:user_id"`
	Name       string     `json:"name" gorm:"column:name"`
	TokenHash  string     `json:"-" gorm:"column:token_hash"`
	Role       string     `json:"role" gorm:"column:role"`
	CreatedAt  time.Time  `json:"created_at" gorm:"column:created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" gorm:"column:expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" gorm:"column:last_used_at"`
}

// CasbinRule represents a policy rule for RBAC.
type CasbinRule struct {
	ID    uint   `gorm:"primaryKey"`
	PType string `json:"ptype" gorm:"column:ptype"`
	V0    string `json:"v0" gorm:"column:v0"`
	V1    string `json:"v1" gorm:"column:v1"`
	V2    string `json:"v2" gorm:"column:v2"`
	V3    string `json:"v3" gorm:"column:v3"`
	V4    string `json:"v4" gorm:"column:v4"`
	V5    string `json:"v5" gorm:"column:v5"`
}

// EmailConfig holds configuration for outgoing bill emails.
type EmailConfig struct {
	ID          string    `json:"id" gorm:"primaryKey;column:id"`
	Provider    string    `json:"provider" gorm:"column:provider"` // "smtp", "sendgrid", "gmail", "resend"
	Host        string    `json:"host,omitempty" gorm:"column:host"`
	Port        int       `json:"port,omitempty" gorm:"column:port"`
	Username    string    `json:"username,omitempty" gorm:"column:username"`
	Password    string    `json:"password,omitempty" gorm:"column:password"`
	FromAddress string    `json:"from_address" gorm:"column:from_address"`
	FromName    string    `json:"from_name" gorm:"column:from_name"`
	APIKey      string    `json:"api_key,omitempty" gorm:"column:api_key"`
	Encryption  string    `json:"encryption,omitempty" gorm:"column:encryption"` // "none", "ssl", "tls"
	Enabled     bool      `json:"enabled" gorm:"column:enabled"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// ScheduledJob records the last run of a background job.
type ScheduledJob struct {
	Name           string    `gorm:"primaryKey;column:name"`
	LastRunAt      time.Time `gorm:"column:last_run_at"`
	LastDurationMs int64     `gorm:"column:last_duration_ms"`
	LastSuccess    int       `gorm:"column:last_success"`
	LastError      string    `gorm:"column:last_error"`
}
