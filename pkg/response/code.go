package response

// 业务状态码
const (
	CodeSuccess = 0
	CodeError   = 1

	// 用户/权限模块错误 100xx
	ErrUserExists   = 10001
	ErrUserNotFound = 10002
	ErrAuthFailed   = 10003
	ErrTokenInvalid = 10004
	ErrNoPermission = 10005

	// 订单模块错误 200xx
	ErrOrderNotFound    = 20001
	ErrStaleTransition  = 20002
	ErrInvalidIntent    = 20003
	ErrCodeVerification = 20004

	// 账本/结算模块错误 300xx
	ErrSettlementConflict = 30001

	// 离线队列错误 400xx
	ErrQueueEntryNotFound = 40001
	ErrFlushInProgress    = 40002

	// 系统错误 500xx
	ErrServerInternal   = 50001
	ErrInvalidParam     = 50002
	ErrTooManyRequests  = 50003
	ErrStoreUnreachable = 50004
)
