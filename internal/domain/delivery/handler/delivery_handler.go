package handler

import (
	"net/http"

	"pharmacy_orders/internal/domain/delivery/repository"
	commonHandler "pharmacy_orders/internal/pkg/common"
	"pharmacy_orders/internal/pkg/uploader"
	"pharmacy_orders/pkg/logger"
	"pharmacy_orders/pkg/response"
	"pharmacy_orders/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type DeliveryHandler struct {
	tasks repository.TaskRepository
}

func NewDeliveryHandler(tasks repository.TaskRepository) *DeliveryHandler {
	return &DeliveryHandler{tasks: tasks}
}

// MyTasks 配送员任务列表
// @Summary 我的配送任务
// @Tags Delivery
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Limit"
// @Success 200 {object} response.Response
// @Security Bearer
// @Router /delivery/tasks [get]
func (h *DeliveryHandler) MyTasks(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)

	var query utils.Pagination
	_ = c.ShouldBindQuery(&query)
	offset, limit := query.GetPageOffset()

	tasks, total, err := h.tasks.ListByDriver(actor.UserID, offset, limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}
	response.Success(c, utils.NewPageResult(tasks, total, query))
}

// UploadProof 上传送达凭证照片
// @Summary 上传送达凭证
// @Tags Delivery
// @Accept multipart/form-data
// @Produce json
// @Param orderId path string true "Order ID"
// @Param file formData file true "Photo"
// @Success 200 {object} response.Response
// @Security Bearer
// @Router /delivery/tasks/{orderId}/proof [post]
func (h *DeliveryHandler) UploadProof(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)
	orderID := c.Param("orderId")

	task, err := h.tasks.GetByOrderID(orderID)
	if err != nil || task.Driver != actor.UserID {
		response.Error(c, http.StatusNotFound, response.ErrOrderNotFound, "not found")
		return
	}

	if uploader.GlobalUploader == nil {
		response.Error(c, http.StatusServiceUnavailable, response.ErrServerInternal, "upload service unavailable")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "file is required")
		return
	}

	url, err := uploader.GlobalUploader.UploadFile(file)
	if err != nil {
		logger.Log.Error("proof upload failed", zap.String("order_id", orderID), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, "upload failed")
		return
	}

	if err := h.tasks.SetProofURL(orderID, url); err != nil {
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}
	response.Success(c, gin.H{"url": url})
}
