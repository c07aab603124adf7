package verify

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/partner-dispatch/internal/errs"
	"github.com/example/partner-dispatch/internal/models"
)

// CodeStore persists issued verification codes. A code survives until its
// TTL or until the phase is consumed, whichever ends it first.
type CodeStore interface {
	Save(ctx context.Context, orderID string, phase models.VerificationPhase, code string, ttl time.Duration) error
	// Load returns errs.ErrNotFound when no code was issued or it expired.
	Load(ctx context.Context, orderID string, phase models.VerificationPhase) (code string, consumed bool, err error)
	Consume(ctx context.Context, orderID string, phase models.VerificationPhase) error
}

type memoryCode struct {
	code      string
	consumed  bool
	expiresAt time.Time
}

// MemoryCodes is the in-process CodeStore used in tests and when Redis is
// not configured.
type MemoryCodes struct {
	mu    sync.Mutex
	codes map[string]*memoryCode
	now   func() time.Time
}

func NewMemoryCodes() *MemoryCodes {
	return &MemoryCodes{codes: make(map[string]*memoryCode), now: time.Now}
}

func codeKey(orderID string, phase models.VerificationPhase) string {
	return orderID + ":" + string(phase)
}

func (m *MemoryCodes) Save(_ context.Context, orderID string, phase models.VerificationPhase, code string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[codeKey(orderID, phase)] = &memoryCode{code: code, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryCodes) Load(_ context.Context, orderID string, phase models.VerificationPhase) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.codes[codeKey(orderID, phase)]
	if !ok || m.now().After(rec.expiresAt) {
		delete(m.codes, codeKey(orderID, phase))
		return "", false, errs.NotFound("verification code", orderID)
	}
	return rec.code, rec.consumed, nil
}

func (m *MemoryCodes) Consume(_ context.Context, orderID string, phase models.VerificationPhase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.codes[codeKey(orderID, phase)]
	if !ok {
		return errs.NotFound("verification code", orderID)
	}
	rec.consumed = true
	return nil
}

// RedisCodes stores codes as hashes under order:<id>:code:<phase> so both
// server replicas see the same issued code.
type RedisCodes struct {
	client *redis.Client
}

func NewRedisCodes(client *redis.Client) *RedisCodes {
	return &RedisCodes{client: client}
}

func redisCodeKey(orderID string, phase models.VerificationPhase) string {
	return "order:" + orderID + ":code:" + string(phase)
}

func (r *RedisCodes) Save(ctx context.Context, orderID string, phase models.VerificationPhase, code string, ttl time.Duration) error {
	key := redisCodeKey(orderID, phase)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, "code", code, "consumed", 0)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.Upstream("saving verification code", err)
	}
	return nil
}

func (r *RedisCodes) Load(ctx context.Context, orderID string, phase models.VerificationPhase) (string, bool, error) {
	vals, err := r.client.HGetAll(ctx, redisCodeKey(orderID, phase)).Result()
	if err != nil {
		return "", false, errs.Upstream("loading verification code", err)
	}
	if len(vals) == 0 {
		return "", false, errs.NotFound("verification code", orderID)
	}
	return vals["code"], vals["consumed"] == "1", nil
}

func (r *RedisCodes) Consume(ctx context.Context, orderID string, phase models.VerificationPhase) error {
	key := redisCodeKey(orderID, phase)
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return errs.Upstream("consuming verification code", err)
	}
	if n == 0 {
		return errs.NotFound("verification code", orderID)
	}
	if err := r.client.HSet(ctx, key, "consumed", 1).Err(); err != nil {
		return errs.Upstream("consuming verification code", err)
	}
	return nil
}
