package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/finquiz/backend/internal/config"
	"github.com/finquiz/backend/internal/models"
	"github.com/finquiz/backend/pkg/logger"
	"github.com/finquiz/backend/pkg/utils"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func init() {
	logger.Init()
	utils.ConfigureJWT("test-secret")
	utils.ConfigureEncryption("test-secret")
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return m, client
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}
	return db
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := NewDispatcher(config.SMTPConfig{From: "test@finquiz.local"}, config.NotifyConfig{
		QueueBufferSize: 10,
		MaxAttempts:     1,
		RetryDelays:     []time.Duration{time.Millisecond},
	})
	t.Cleanup(d.Close)
	return d
}

func newTestAudit(t *testing.T, client *redis.Client) *AuditService {
	t.Helper()
	a := NewAuditService(client, nil, config.AuditConfig{Retention: 7 * 24 * time.Hour})
	t.Cleanup(a.Close)
	return a
}

// storedOTPCode reads the active code for a subject straight out of the
// store, standing in for the notification a real client would receive.
func storedOTPCode(t *testing.T, client *redis.Client, subjectKey string, purpose OTPPurpose) string {
	t.Helper()

	data, err := client.Get(context.Background(), otpKey(subjectKey, purpose)).Bytes()
	if err != nil {
		t.Fatalf("failed reading stored code for %s/%s: %v", purpose, subjectKey, err)
	}

	var record otpRecord
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("failed decoding stored code: %v", err)
	}
	return record.Code
}
