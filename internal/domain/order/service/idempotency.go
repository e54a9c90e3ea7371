package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pharmacy_orders/internal/domain/order/model"
	"pharmacy_orders/pkg/apperrors"

	"github.com/redis/go-redis/v9"
)

// Outcome 一次意图的最终结果，按幂等键落在 Redis。
// 同一个键无论重放多少次，拿到的都是第一次的结果。
type Outcome struct {
	OrderID string            `json:"orderId"`
	Status  model.OrderStatus `json:"status"`
	ErrKind string            `json:"errKind,omitempty"` // 终态失败也要记住，重放返回同样的错误
}

const outcomePending = "__pending__"

// Lua 脚本：已有结果直接返回；没有则原子占位，
// 防止同一个键被并发冲刷的两个副本同时执行
var claimScript = redis.NewScript(`
	local v = redis.call("GET", KEYS[1])
	if v then
		return v
	end
	redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[2])
	return ""
`)

// IdempotencyStore 服务端幂等注册表
type IdempotencyStore interface {
	// Claim 返回已有结果；成功占位时 claimed 为 true
	Claim(ctx context.Context, key string) (outcome *Outcome, claimed bool, err error)
	// SaveOutcome 记录终态结果（成功或终态失败）
	SaveOutcome(ctx context.Context, key string, outcome Outcome) error
	// Release 瞬时失败时释放占位，允许下一次冲刷重试
	Release(ctx context.Context, key string) error
}

type idempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) IdempotencyStore {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &idempotencyStore{rdb: rdb, ttl: ttl}
}

func (s *idempotencyStore) key(k string) string {
	return fmt.Sprintf("idem:%s", k)
}

func (s *idempotencyStore) Claim(ctx context.Context, key string) (*Outcome, bool, error) {
	val, err := claimScript.Run(ctx, s.rdb, []string{s.key(key)},
		outcomePending, int(s.ttl.Seconds())).Text()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}

	switch val {
	case "":
		// 占位成功，由调用方执行意图
		return nil, true, nil
	case outcomePending:
		// 另一个副本正在执行，按瞬时错误处理让冲刷稍后重试
		return nil, false, fmt.Errorf("%w: intent with same key is in flight", apperrors.ErrTransientIO)
	default:
		var outcome Outcome
		if err := json.Unmarshal([]byte(val), &outcome); err != nil {
			return nil, false, fmt.Errorf("%w: corrupt idempotency outcome: %v", apperrors.ErrTransientIO, err)
		}
		return &outcome, false, nil
	}
}

func (s *idempotencyStore) SaveOutcome(ctx context.Context, key string, outcome Outcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(key), data, s.ttl).Err()
}

func (s *idempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

// errKind 与哨兵错误的互换，结果落库用
func errKindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, apperrors.ErrStaleTransition):
		return "stale"
	case errors.Is(err, apperrors.ErrValidation):
		return "validation"
	case errors.Is(err, apperrors.ErrVerification):
		return "verification"
	case errors.Is(err, apperrors.ErrSettlementConflict):
		return "settlement_conflict"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

func errOfKind(kind string) error {
	switch kind {
	case "":
		return nil
	case "stale":
		return apperrors.ErrStaleTransition
	case "validation":
		return apperrors.ErrValidation
	case "verification":
		return apperrors.ErrVerification
	case "settlement_conflict":
		return apperrors.ErrSettlementConflict
	case "not_found":
		return apperrors.ErrNotFound
	default:
		return fmt.Errorf("replayed intent failed: %s", kind)
	}
}
