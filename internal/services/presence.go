package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	presenceLiveKey     = "presence:live"
	presenceHistoryKey  = "presence:history"
	presenceHistoryCap  = 20
	presenceLivenessTTL = 15 * time.Minute
)

// Broadcaster receives presence snapshots for fan-out to observers.
type Broadcaster interface {
	Broadcast(v interface{})
}

type PresenceSnapshot struct {
	Count   int64   `json:"count"`
	History []int64 `json:"history"`
}

// PresenceService keeps the live-identity set and its rolling history in
// the shared store, so concurrent backend instances see the same state.
// Set add/remove and list push/trim are each atomic on the store side; no
// further coordination is taken.
type PresenceService struct {
	Redis redis.UniversalClient
	Hub   Broadcaster
}

func NewPresenceService(client redis.UniversalClient, hub Broadcaster) *PresenceService {
	return &PresenceService{Redis: client, Hub: hub}
}

func aliveKey(identityID uuid.UUID) string {
	return "presence:alive:" + identityID.String()
}

// MarkActive is idempotent; repeated calls refresh the liveness marker
// without double-counting.
func (s *PresenceService) MarkActive(ctx context.Context, identityID uuid.UUID) error {
	if err := s.Redis.SAdd(ctx, presenceLiveKey, identityID.String()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := s.Redis.Set(ctx, aliveKey(identityID), "1", presenceLivenessTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PresenceService) MarkInactive(ctx context.Context, identityID uuid.UUID) error {
	if err := s.Redis.SRem(ctx, presenceLiveKey, identityID.String()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := s.Redis.Del(ctx, aliveKey(identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Snapshot reads the current live count, pushes it onto the rolling
// history and returns both. History is capped at 20 samples, most recent
// first; the oldest sample falls off.
func (s *PresenceService) Snapshot(ctx context.Context) (*PresenceSnapshot, error) {
	count, err := s.Redis.SCard(ctx, presenceLiveKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := s.Redis.LPush(ctx, presenceHistoryKey, count).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := s.Redis.LTrim(ctx, presenceHistoryKey, 0, presenceHistoryCap-1).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	raw, err := s.Redis.LRange(ctx, presenceHistoryKey, 0, presenceHistoryCap-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	history := make([]int64, 0, len(raw))
	for _, item := range raw {
		value, err := strconv.ParseInt(item, 10, 64)
		if err != nil {
			continue
		}
		history = append(history, value)
	}

	return &PresenceSnapshot{Count: count, History: history}, nil
}

// Broadcast computes a snapshot and publishes it to all connected
// observers. Invoked opportunistically after login and logout.
func (s *PresenceService) Broadcast(ctx context.Context) (*PresenceSnapshot, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if s.Hub != nil {
		s.Hub.Broadcast(snapshot)
	}
	return snapshot, nil
}
