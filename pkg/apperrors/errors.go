package apperrors

import "errors"

// 核心错误分类。服务层只返回这些哨兵错误（或其包装），
// HTTP 层再统一映射为业务码，避免 service 依赖 gin。
var (
	// ErrValidation 意图参数非法（缺字段、金额非正等），未触碰任何状态
	ErrValidation = errors.New("validation failed")

	// ErrStaleTransition 预期状态与存储状态不一致（乐观并发冲突），调用方需重读后重试
	ErrStaleTransition = errors.New("stale transition")

	// ErrNotFound 资源不存在。租户越权也返回该错误，避免暴露其他商家的订单是否存在
	ErrNotFound = errors.New("not found")

	// ErrVerification 收货码不匹配，可重试，不改变订单状态
	ErrVerification = errors.New("verification failed")

	// ErrSettlementConflict 托管资金重复释放，原结算保持不变
	ErrSettlementConflict = errors.New("settlement conflict")

	// ErrTransientIO 存储暂时不可达，唯一允许自动重试的类别（由离线队列退避重试）
	ErrTransientIO = errors.New("transient io error")

	// ErrFlushInProgress 设备队列重放锁被占用，稍后重试即可
	ErrFlushInProgress = errors.New("flush in progress")
)

// IsRetryable 判断错误是否可以由队列自动重试
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientIO)
}
