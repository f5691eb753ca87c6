package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type GormStorage struct {
	db     *gorm.DB
	driver string
}

func NewGormStorage(driver, dsn string) (*GormStorage, error) {
	var gormDialector gorm.Dialector
	if driver == "postgres" || driver == "postgrespool" {
		gormDialector = postgres.Open(dsn)
	} else if driver == "sqlite" {
		gormDialector = sqlite.Open(dsn)
	} else {
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := gorm.Open(gormDialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	return &GormStorage{db: db, driver: driver}, nil
}

func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.AutoMigrate(
		&CallRecord{},
		&BillSnapshot{},
		&BatchProgress{},
		&Setting{},
		&User{},
		&Token{},
		&CasbinRule{},
		&EmailConfig{},
		&ScheduledJob{},
	)
}

// Call records

func (s *GormStorage) SaveCallRecord(ctx context.Context, rec CallRecord) error {
	var existing CallRecord
	result := s.db.WithContext(ctx).First(&existing, "call_id = ? AND type = ?", rec.CallID, rec.Type)
	if result.Error == nil {
		return ErrDuplicateRecord
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return result.Error
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *GormStorage) GetCallRecord(ctx context.Context, callID, recordType string) (*CallRecord, error) {
	var rec CallRecord
	result := s.db.WithContext(ctx).First(&rec, "call_id = ? AND type = ?", callID, recordType)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &rec, nil
}

func (s *GormStorage) ListEndRecords(ctx context.Context, from, to time.Time) ([]CallRecord, error) {
	var recs []CallRecord
	result := s.db.WithContext(ctx).
		Where("type = ? AND timestamp >= ? AND timestamp < ?", RecordTypeEnd, from, to).
		Order("timestamp asc").
		Find(&recs)
	return recs, result.Error
}

// Bill snapshots

func (s *GormStorage) GetBillSnapshot(ctx context.Context, phoneNumber, period string) (*BillSnapshot, error) {
	var snap BillSnapshot
	result := s.db.WithContext(ctx).
		Order("computed_at desc").
		First(&snap, "phone_number = ? AND period = ?", phoneNumber, period)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &snap, nil
}

func (s *GormStorage) SaveBillSnapshot(ctx context.Context, snap BillSnapshot) error {
	if snap.ComputedAt.IsZero() {
		snap.ComputedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(&snap).Error
}

// Batch progress

func (s *GormStorage) SeedBatchProgress(ctx context.Context, batchID string, phoneNumbers []string) error {
	if len(phoneNumbers) == 0 {
		return nil
	}
	rows := make([]BatchProgress, 0, len(phoneNumbers))
	for _, phone := range phoneNumbers {
		rows = append(rows, BatchProgress{
			BatchID:     batchID,
			PhoneNumber: phone,
			Status:      "pending",
			UpdatedAt:   time.Now(),
		})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "batch_id"}, {Name: "phone_number"}},
		DoNothing: true,
	}).Create(&rows).Error
}

func (s *GormStorage) SaveBatchProgress(ctx context.Context, progress BatchProgress) error {
	progress.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "batch_id"}, {Name: "phone_number"}},
		UpdateAll: true,
	}).Create(&progress).Error
}

func (s *GormStorage) GetPendingBatchSubscribers(ctx context.Context, batchID string) ([]string, error) {
	var numbers []string
	result := s.db.WithContext(ctx).Model(&BatchProgress{}).
		Where("batch_id = ? AND status IN ('pending', 'failed')", batchID).
		Pluck("phone_number", &numbers)
	return numbers, result.Error
}

// Settings

func (s *GormStorage) GetSetting(ctx context.Context, key string) (string, error) {
	var setting Setting
	result := s.db.WithContext(ctx).First(&setting, "key = ?", key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", result.Error
	}
	return setting.Value, nil
}

func (s *GormStorage) SetSetting(ctx context.Context, key, value string) error {
	setting := Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&setting).Error
}

// Users

func (s *GormStorage) CreateUser(ctx context.Context, user User) error {
	return s.db.WithContext(ctx).Create(&user).Error
}

func (s *GormStorage) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	result := s.db.WithContext(ctx).First(&user, "username = ?", username)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &user, nil
}

// Tokens

func (s *GormStorage) CreateToken(ctx context.Context, token Token) error {
	return s.db.WithContext(ctx).Create(&token).Error
}

func (s *GormStorage) GetTokenByHash(ctx context.Context, hash string) (*Token, error) {
	var token Token
	result := s.db.WithContext(ctx).First(&token, "token_hash = ?", hash)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &token, nil
}

func (s *GormStorage) UpdateTokenLastUsed(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&Token{}).
		Where("id = ?", id).
		Update("last_used_at", time.Now()).Error
}

// Casbin

func (s *GormStorage) LoadCasbinRules(ctx context.Context) ([]CasbinRule, error) {
	var rules []CasbinRule
	result := s.db.WithContext(ctx).Find(&rules)
	return rules, result.Error
}

func (s *GormStorage) AddCasbinRule(ctx context.Context, rule CasbinRule) error {
	return s.db.WithContext(ctx).Create(&rule).Error
}

func (s *GormStorage) RemoveCasbinRule(ctx context.Context, rule CasbinRule) error {
	return s.db.WithContext(ctx).
		Where("ptype = ? AND v0 = ? AND v1 = ? AND v2 = ?", rule.PType, rule.V0, rule.V1, rule.V2).
		Delete(&CasbinRule{}).Error
}

// Email config

func (s *GormStorage) GetEmailConfig(ctx context.Context) (*EmailConfig, error) {
	var cfg EmailConfig
	result := s.db.WithContext(ctx).First(&cfg)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &cfg, nil
}

func (s *GormStorage) SaveEmailConfig(ctx context.Context, cfg EmailConfig) error {
	cfg.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&cfg).Error
}

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// AcquireAdvisoryLock takes a session advisory lock on Postgres. On sqlite
// there is only one writer anyway, so the lock is always granted.
func (s *GormStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.driver == "sqlite" {
		return true, nil
	}
	var got bool
	result := s.db.WithContext(ctx).Raw("SELECT pg_try_advisory_lock(?)", key).Scan(&got)
	return got, result.Error
}

func (s *GormStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.driver == "sqlite" {
		return true, nil
	}
	var released bool
	result := s.db.WithContext(ctx).Raw("SELECT pg_advisory_unlock(?)", key).Scan(&released)
	return released, result.Error
}

func (s *GormStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	job := ScheduledJob{
		Name:           name,
		LastRunAt:      started,
		LastDurationMs: dur.Milliseconds(),
		LastError:      errMsg,
	}
	if success {
		job.LastSuccess = 1
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&job).Error
}
