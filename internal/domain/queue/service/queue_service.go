package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	orderService "pharmacy_orders/internal/domain/order/service"
	"pharmacy_orders/internal/domain/queue/model"
	userModel "pharmacy_orders/internal/domain/user/model"
	"pharmacy_orders/pkg/apperrors"
	"pharmacy_orders/pkg/logger"
	"pharmacy_orders/pkg/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	queueKeyPrefix = "pharmacy-orders:queue:"
	deadKeyPrefix  = "pharmacy-orders:queue:dead:"
	lockKeyPrefix  = "pharmacy-orders:queue:lock:"
	deviceSetKey   = "pharmacy-orders:queue:devices"

	flushLockTTL = 2 * time.Minute
)

// QueueService 离线写队列。
// 每台设备一条 Redis 列表，严格 FIFO 重放；重放的幂等性由订单域的幂等键保证，
// 队列只负责顺序、重试与死信。
type QueueService interface {
	Enqueue(ctx context.Context, entry *model.QueueEntry) error
	List(ctx context.Context, deviceID string) ([]model.QueueEntry, error)
	Withdraw(ctx context.Context, deviceID, entryID string) error
	Flush(ctx context.Context, deviceID string) (*FlushResult, error)
	FlushAll(ctx context.Context)
	Depth(ctx context.Context, deviceID string) (int64, error)

	// ListDead 死信条目：重放被业务拒绝、重试耗尽或损坏的写入，等待用户手工处理
	ListDead(ctx context.Context, deviceID string) ([]model.QueueEntry, error)

	// Resolve 用户确认处理完毕后移除死信条目
	Resolve(ctx context.Context, deviceID, entryID string) error
}

// FlushResult 一次重放的结果汇总
type FlushResult struct {
	Replayed int `json:"replayed"`
	Skipped  int `json:"skipped"`
	Dead     int `json:"dead"`
	Remained int `json:"remained"`
}

type queueService struct {
	rdb       *redis.Client
	collector *metrics.MetricsCollector

	maxRetries int
	backoff    time.Duration
}

func NewQueueService(rdb *redis.Client, collector *metrics.MetricsCollector, maxRetries int, backoff time.Duration) QueueService {
	return &queueService{
		rdb:        rdb,
		collector:  collector,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

func (s *queueService) Enqueue(ctx context.Context, entry *model.QueueEntry) error {
	if entry.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", apperrors.ErrValidation)
	}
	if entry.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", apperrors.ErrValidation)
	}
	switch entry.Kind {
	case model.KindTransition:
		if entry.OrderID == "" || entry.Intent == nil {
			return fmt.Errorf("%w: transition entry requires orderId and intent", apperrors.ErrValidation)
		}
		if err := entry.Intent.Validate(); err != nil {
			return err
		}
	case model.KindCreate:
		if len(entry.CreatePayload) == 0 {
			return fmt.Errorf("%w: create entry requires payload", apperrors.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown entry kind %q", apperrors.ErrValidation, entry.Kind)
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, queueKeyPrefix+entry.DeviceID, data)
	pipe.SAdd(ctx, deviceSetKey, entry.DeviceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}

	s.refreshDepth(ctx, entry.DeviceID)
	logger.Log.Info("queue entry accepted",
		zap.String("device_id", entry.DeviceID),
		zap.String("entry_id", entry.ID),
		zap.String("kind", string(entry.Kind)),
	)
	return nil
}

func (s *queueService) List(ctx context.Context, deviceID string) ([]model.QueueEntry, error) {
	raw, err := s.rdb.LRange(ctx, queueKeyPrefix+deviceID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}

	entries := make([]model.QueueEntry, 0, len(raw))
	for _, item := range raw {
		var entry model.QueueEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			logger.Log.Warn("corrupt queue entry skipped", zap.String("device_id", deviceID))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Withdraw 撤回一条还未重放的条目
func (s *queueService) Withdraw(ctx context.Context, deviceID, entryID string) error {
	raw, err := s.rdb.LRange(ctx, queueKeyPrefix+deviceID, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}

	for _, item := range raw {
		var entry model.QueueEntry
		if json.Unmarshal([]byte(item), &entry) != nil {
			continue
		}
		if entry.ID == entryID {
			if err := s.rdb.LRem(ctx, queueKeyPrefix+deviceID, 1, item).Err(); err != nil {
				return fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
			}
			s.refreshDepth(ctx, deviceID)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

// Flush 按 FIFO 重放一台设备的全部待写条目。
// 同一设备同一时刻只允许一个重放者，锁在 Redis 上，多实例部署也安全。
func (s *queueService) Flush(ctx context.Context, deviceID string) (*FlushResult, error) {
	lockKey := lockKeyPrefix + deviceID
	locked, err := s.rdb.SetNX(ctx, lockKey, "1", flushLockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: device %s", apperrors.ErrFlushInProgress, deviceID)
	}
	defer s.rdb.Del(context.WithoutCancel(ctx), lockKey)

	start := time.Now()
	result := &FlushResult{}
	queueKey := queueKeyPrefix + deviceID

	for {
		if ctx.Err() != nil {
			break
		}

		item, err := s.rdb.LIndex(ctx, queueKey, 0).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
		}

		var entry model.QueueEntry
		if json.Unmarshal([]byte(item), &entry) != nil {
			// 解不开的条目直接进死信，不能卡住队头
			s.moveToDead(ctx, deviceID, item)
			result.Dead++
			continue
		}

		replayErr := s.replay(ctx, &entry)
		switch {
		case replayErr == nil:
			s.rdb.LPop(ctx, queueKey)
			s.collector.RecordReplay("ok")
			result.Replayed++

		case errors.Is(replayErr, apperrors.ErrTransientIO):
			entry.Retries++
			entry.LastError = replayErr.Error()
			if entry.Retries > s.maxRetries {
				s.rdb.LPop(ctx, queueKey)
				s.moveToDeadEntry(ctx, deviceID, &entry)
				s.collector.RecordReplay("dead")
				result.Dead++
				continue
			}
			// 回写重试计数后指数退避；队头不动，保持 FIFO
			if data, err := json.Marshal(&entry); err == nil {
				s.rdb.LSet(ctx, queueKey, 0, data)
			}
			wait := s.backoff * time.Duration(1<<(entry.Retries-1))
			logger.Log.Warn("queue replay retrying",
				zap.String("device_id", deviceID),
				zap.String("entry_id", entry.ID),
				zap.Int("retries", entry.Retries),
				zap.Duration("wait", wait),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}

		default:
			// 业务性拒绝（过期流转、校验失败等）不可重试：
			// 条目连同拒绝原因进死信，留给用户手工处理
			entry.LastError = replayErr.Error()
			s.rdb.LPop(ctx, queueKey)
			s.moveToDeadEntry(ctx, deviceID, &entry)
			s.collector.RecordReplay("rejected")
			logger.Log.Info("queue entry rejected on replay",
				zap.String("device_id", deviceID),
				zap.String("entry_id", entry.ID),
				zap.Error(replayErr),
			)
			result.Skipped++
		}
	}

	depth := s.refreshDepth(ctx, deviceID)
	result.Remained = int(depth)
	s.collector.RecordFlush(time.Since(start))

	logger.Log.Info("queue flush finished",
		zap.String("device_id", deviceID),
		zap.Int("replayed", result.Replayed),
		zap.Int("skipped", result.Skipped),
		zap.Int("dead", result.Dead),
		zap.Int("remained", result.Remained),
	)
	return result, nil
}

// FlushAll 连接恢复时重放所有已知设备的队列
func (s *queueService) FlushAll(ctx context.Context) {
	devices, err := s.rdb.SMembers(ctx, deviceSetKey).Result()
	if err != nil {
		logger.Log.Warn("queue device enumeration failed", zap.Error(err))
		return
	}
	for _, device := range devices {
		if _, err := s.Flush(ctx, device); err != nil {
			logger.Log.Warn("queue flush failed", zap.String("device_id", device), zap.Error(err))
		}
	}
}

func (s *queueService) ListDead(ctx context.Context, deviceID string) ([]model.QueueEntry, error) {
	raw, err := s.rdb.LRange(ctx, deadKeyPrefix+deviceID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}

	entries := make([]model.QueueEntry, 0, len(raw))
	for _, item := range raw {
		var entry model.QueueEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			// 原始损坏条目没有结构，退化成只带原文的占位条目展示给用户
			entries = append(entries, model.QueueEntry{
				DeviceID:  deviceID,
				LastError: "corrupt entry: " + item,
			})
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *queueService) Resolve(ctx context.Context, deviceID, entryID string) error {
	raw, err := s.rdb.LRange(ctx, deadKeyPrefix+deviceID, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}

	for _, item := range raw {
		var entry model.QueueEntry
		if json.Unmarshal([]byte(item), &entry) != nil {
			continue
		}
		if entry.ID == entryID {
			if err := s.rdb.LRem(ctx, deadKeyPrefix+deviceID, 1, item).Err(); err != nil {
				return fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
			}
			logger.Log.Info("dead letter resolved",
				zap.String("device_id", deviceID),
				zap.String("entry_id", entryID),
			)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (s *queueService) Depth(ctx context.Context, deviceID string) (int64, error) {
	depth, err := s.rdb.LLen(ctx, queueKeyPrefix+deviceID).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}
	return depth, nil
}

func (s *queueService) replay(ctx context.Context, entry *model.QueueEntry) error {
	actor := &userModel.Actor{
		UserID:   entry.ActorID,
		Role:     entry.ActorRole,
		DeviceID: entry.DeviceID,
	}

	switch entry.Kind {
	case model.KindCreate:
		var input orderService.CreateOrderInput
		if err := json.Unmarshal(entry.CreatePayload, &input); err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
		}
		input.IdempotencyKey = entry.IdempotencyKey
		_, err := orderService.GlobalOrderService.CreateOrder(ctx, actor, input)
		return err

	case model.KindTransition:
		intent := *entry.Intent
		if intent.IdempotencyKey == "" {
			intent.IdempotencyKey = entry.IdempotencyKey
		}
		_, err := orderService.GlobalOrderService.Apply(ctx, entry.OrderID, actor, intent)
		return err

	default:
		return fmt.Errorf("%w: unknown entry kind %q", apperrors.ErrValidation, entry.Kind)
	}
}

func (s *queueService) moveToDead(ctx context.Context, deviceID, raw string) {
	s.rdb.LPop(ctx, queueKeyPrefix+deviceID)
	if err := s.rdb.RPush(ctx, deadKeyPrefix+deviceID, raw).Err(); err != nil {
		logger.Log.Error("dead letter write failed", zap.String("device_id", deviceID), zap.Error(err))
	}
}

func (s *queueService) moveToDeadEntry(ctx context.Context, deviceID string, entry *model.QueueEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.rdb.RPush(ctx, deadKeyPrefix+deviceID, data).Err(); err != nil {
		logger.Log.Error("dead letter write failed", zap.String("device_id", deviceID), zap.Error(err))
	}
	logger.Log.Error("queue entry moved to dead letter",
		zap.String("device_id", deviceID),
		zap.String("entry_id", entry.ID),
		zap.String("last_error", entry.LastError),
	)
}

func (s *queueService) refreshDepth(ctx context.Context, deviceID string) int64 {
	depth, err := s.rdb.LLen(ctx, queueKeyPrefix+deviceID).Result()
	if err != nil {
		return 0
	}
	s.collector.SetQueueDepth(deviceID, depth)
	return depth
}
