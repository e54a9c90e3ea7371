package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	orderModel "pharmacy_orders/internal/domain/order/model"
	"pharmacy_orders/internal/domain/queue/model"
	"pharmacy_orders/internal/domain/queue/service"
	commonHandler "pharmacy_orders/internal/pkg/common"
	"pharmacy_orders/pkg/apperrors"
	"pharmacy_orders/pkg/response"

	"github.com/gin-gonic/gin"
)

type QueueHandler struct {
	service service.QueueService
	monitor *service.ConnectivityMonitor
}

func NewQueueHandler(s service.QueueService, monitor *service.ConnectivityMonitor) *QueueHandler {
	return &QueueHandler{service: s, monitor: monitor}
}

type EnqueueInput struct {
	Kind           model.EntryKind    `json:"kind" binding:"required,oneof=create transition"`
	IdempotencyKey string             `json:"idempotencyKey" binding:"required"`
	OrderID        string             `json:"orderId"`
	Intent         *orderModel.Intent `json:"intent"`
	CreatePayload  json.RawMessage    `json:"createPayload"`
}

// Enqueue 提交离线写条目
// @Summary 提交离线写条目
// @Tags Queue
// @Accept json
// @Produce json
// @Param input body EnqueueInput true "Entry"
// @Success 200 {object} response.Response{data=model.QueueEntry}
// @Security Bearer
// @Router /queue/entries [post]
func (h *QueueHandler) Enqueue(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)
	if actor.DeviceID == "" {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "X-Device-ID header is required")
		return
	}

	var input EnqueueInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	entry := &model.QueueEntry{
		DeviceID:       actor.DeviceID,
		Kind:           input.Kind,
		IdempotencyKey: input.IdempotencyKey,
		OrderID:        input.OrderID,
		Intent:         input.Intent,
		CreatePayload:  input.CreatePayload,
		ActorID:        actor.UserID,
		ActorRole:      actor.Role,
	}

	if err := h.service.Enqueue(c.Request.Context(), entry); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, entry)
}

// List 查看本设备待重放条目
// @Summary 待重放条目
// @Tags Queue
// @Produce json
// @Success 200 {object} response.Response
// @Security Bearer
// @Router /queue/entries [get]
func (h *QueueHandler) List(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)
	if actor.DeviceID == "" {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "X-Device-ID header is required")
		return
	}

	entries, err := h.service.List(c.Request.Context(), actor.DeviceID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"list": entries, "depth": len(entries)})
}

// Withdraw 撤回未重放条目
// @Summary 撤回未重放条目
// @Tags Queue
// @Produce json
// @Param id path string true "Entry ID"
// @Success 200 {object} response.Response
// @Security Bearer
// @Router /queue/entries/{id} [delete]
func (h *QueueHandler) Withdraw(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)
	if actor.DeviceID == "" {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "X-Device-ID header is required")
		return
	}

	if err := h.service.Withdraw(c.Request.Context(), actor.DeviceID, c.Param("id")); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			response.Error(c, http.StatusNotFound, response.ErrQueueEntryNotFound, "queue entry not found")
			return
		}
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// DeadLetters 查看本设备死信条目
// @Summary 死信条目
// @Tags Queue
// @Produce json
// @Success 200 {object} response.Response
// @Security Bearer
// @Router /queue/dead [get]
func (h *QueueHandler) DeadLetters(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)
	if actor.DeviceID == "" {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "X-Device-ID header is required")
		return
	}

	entries, err := h.service.ListDead(c.Request.Context(), actor.DeviceID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"list": entries, "count": len(entries)})
}

// ResolveDead 用户处理完毕后移除死信条目
// @Summary 移除死信条目
// @Tags Queue
// @Produce json
// @Param id path string true "Entry ID"
// @Success 200 {object} response.Response
// @Security Bearer
// @Router /queue/dead/{id} [delete]
func (h *QueueHandler) ResolveDead(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)
	if actor.DeviceID == "" {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "X-Device-ID header is required")
		return
	}

	if err := h.service.Resolve(c.Request.Context(), actor.DeviceID, c.Param("id")); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			response.Error(c, http.StatusNotFound, response.ErrQueueEntryNotFound, "dead letter entry not found")
			return
		}
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// Flush 主动触发本设备重放
// @Summary 触发队列重放
// @Tags Queue
// @Produce json
// @Success 200 {object} response.Response{data=service.FlushResult}
// @Security Bearer
// @Router /queue/flush [post]
func (h *QueueHandler) Flush(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)
	if actor.DeviceID == "" {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "X-Device-ID header is required")
		return
	}

	result, err := h.service.Flush(c.Request.Context(), actor.DeviceID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// Connectivity 当前连接状态
// @Summary 后端连接状态
// @Tags Queue
// @Produce json
// @Success 200 {object} response.Response
// @Router /queue/connectivity [get]
func (h *QueueHandler) Connectivity(c *gin.Context) {
	response.Success(c, gin.H{"online": h.monitor.Online()})
}
