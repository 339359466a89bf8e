package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/finquiz/backend/internal/config"
	"github.com/finquiz/backend/internal/reqinfo"
	"github.com/finquiz/backend/internal/storage"
	"github.com/finquiz/backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type ActorType string

const (
	ActorAdmin ActorType = "admin"
	ActorUser  ActorType = "user"
)

// AuditEntry is an append-only record of a security-relevant event.
// Entries age out at the store level after the retention window; nothing
// updates them after creation.
type AuditEntry struct {
	ID        uuid.UUID              `json:"id"`
	ActorType ActorType              `json:"actorType"`
	ActorID   *uuid.UUID             `json:"actorID,omitempty"`
	Action    string                 `json:"action"`
	Outcome   string                 `json:"outcome,omitempty"`
	IPAddress string                 `json:"ipAddress"`
	UserAgent string                 `json:"userAgent,omitempty"`
	Location  string                 `json:"location,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// AuditService appends entries best-effort through a buffered queue.
// Write failures are logged and never reach the caller whose operation
// produced the entry.
type AuditService struct {
	Redis      redis.UniversalClient
	Storage    *storage.MinIOClient
	retention  time.Duration
	queue      chan AuditEntry
	done       chan struct{}
	stopExport chan struct{}
}

func NewAuditService(client redis.UniversalClient, storageClient *storage.MinIOClient, cfg config.AuditConfig) *AuditService {
	s := &AuditService{
		Redis:      client,
		Storage:    storageClient,
		retention:  cfg.Retention,
		queue:      make(chan AuditEntry, 1000),
		done:       make(chan struct{}),
		stopExport: make(chan struct{}),
	}
	go s.processQueue()
	if storageClient != nil && cfg.ExportInterval > 0 {
		go s.exportLoop(cfg.ExportInterval)
	}
	return s
}

// Record enqueues without blocking; when the queue is full the entry is
// dropped with a warning.
func (s *AuditService) Record(actorType ActorType, actorID *uuid.UUID, action, outcome string, rc reqinfo.RequestContext, extra map[string]interface{}) {
	entry := AuditEntry{
		ID:        uuid.New(),
		ActorType: actorType,
		ActorID:   actorID,
		Action:    action,
		Outcome:   outcome,
		IPAddress: rc.OriginAddress,
		UserAgent: rc.ClientSignature,
		Location:  rc.CoarseLocation,
		Context:   extra,
		CreatedAt: time.Now().UTC(),
	}

	select {
	case s.queue <- entry:
	default:
		logger.Warn("audit_queue_full", map[string]interface{}{
			"action":  entry.Action,
			"dropped": true,
		})
	}
}

func (s *AuditService) processQueue() {
	for entry := range s.queue {
		s.write(entry)
	}
	close(s.done)
}

func (s *AuditService) write(entry AuditEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		logger.Error("audit_entry_marshal_failed", err, map[string]interface{}{
			"action": entry.Action,
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := auditKey(entry.CreatedAt, entry.ID)
	if err := s.Redis.Set(ctx, key, data, s.retention).Err(); err != nil {
		logger.Error("audit_entry_write_failed", err, map[string]interface{}{
			"action": entry.Action,
		})
	}
}

// auditKey embeds a fixed-width millisecond timestamp so lexical key
// order matches chronological order.
func auditKey(at time.Time, id uuid.UUID) string {
	return fmt.Sprintf("audit:%013d:%s", at.UnixMilli(), id)
}

// List returns the most recent entries, newest first, capped at 200.
func (s *AuditService) List(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	keys, err := s.scanKeys(ctx)
	if err != nil {
		return nil, err
	}

	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if len(keys) > limit {
		keys = keys[:limit]
	}

	entries := make([]AuditEntry, 0, len(keys))
	for _, key := range keys {
		data, err := s.Redis.Get(ctx, key).Bytes()
		if err != nil {
			// Aged out between scan and read.
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Clear removes every retained entry.
func (s *AuditService) Clear(ctx context.Context) (int64, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	removed, err := s.Redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return removed, nil
}

func (s *AuditService) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.Redis.Scan(ctx, 0, "audit:*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return keys, nil
}

func (s *AuditService) exportLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.export()
		case <-s.stopExport:
			return
		}
	}
}

func (s *AuditService) export() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := s.List(ctx, 200)
	if err != nil {
		logger.Error("audit_export_list_failed", err, nil)
		return
	}
	if len(entries) == 0 {
		return
	}

	data, err := json.Marshal(entries)
	if err != nil {
		logger.Error("audit_export_marshal_failed", err, nil)
		return
	}

	objectName := fmt.Sprintf("audit-exports/audit-%s.json", time.Now().UTC().Format("20060102T150405Z"))
	if err := s.Storage.UploadJSON(ctx, objectName, data); err != nil {
		return
	}

	logger.Info("audit_export_complete", map[string]interface{}{
		"object_name": objectName,
		"entries":     len(entries),
	})
}

// Close drains pending writes and stops the exporter.
func (s *AuditService) Close() {
	close(s.stopExport)
	close(s.queue)
	<-s.done
}
