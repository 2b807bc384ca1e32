package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Publisher fans session lifecycle events out to interested consumers and
// keeps a small state snapshot readable without hitting the orchestrator.
// Publishing is best effort; a broken broker never affects a session.
type Publisher interface {
	SessionEvent(ctx context.Context, sessionID, kind string, fields map[string]any)
	SnapshotState(ctx context.Context, sessionID string, state any, ttl time.Duration)
}

type RedisPublisher struct {
	rdb *redis.Client
	log *logrus.Entry
}

func NewRedisPublisher(rdb *redis.Client, log *logrus.Entry) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, log: log}
}

func (p *RedisPublisher) SessionEvent(ctx context.Context, sessionID, kind string, fields map[string]any) {
	payload := map[string]any{
		"type":       kind,
		"session_id": sessionID,
		"ts":         time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		p.log.WithError(err).Warn("event marshal failed")
		return
	}
	if err := p.rdb.Publish(ctx, "meeting:"+sessionID+":events", string(b)).Err(); err != nil {
		p.log.WithError(err).WithField("session_id", sessionID).Warn("event publish failed")
	}
}

func (p *RedisPublisher) SnapshotState(ctx context.Context, sessionID string, state any, ttl time.Duration) {
	b, err := json.Marshal(state)
	if err != nil {
		p.log.WithError(err).Warn("snapshot marshal failed")
		return
	}
	if err := p.rdb.Set(ctx, "meeting:"+sessionID+":state", b, ttl).Err(); err != nil {
		p.log.WithError(err).WithField("session_id", sessionID).Warn("snapshot write failed")
	}
}

// Nop is used where no broker is configured (and by tests).
type Nop struct{}

func (Nop) SessionEvent(context.Context, string, string, map[string]any) {}
func (Nop) SnapshotState(context.Context, string, any, time.Duration)    {}
