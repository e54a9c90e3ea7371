package handler

import (
	"net/http"

	"pharmacy_orders/internal/domain/order/model"
	"pharmacy_orders/internal/domain/order/service"
	userModel "pharmacy_orders/internal/domain/user/model"
	commonHandler "pharmacy_orders/internal/pkg/common"
	"pharmacy_orders/pkg/response"
	"pharmacy_orders/pkg/utils"

	"github.com/gin-gonic/gin"
)

// orderView 在订单之上附带仅顾客可见的收货码
type orderView struct {
	*model.Order
	DeliveryCode string `json:"deliveryCode,omitempty"`
}

func viewFor(order *model.Order, actor *userModel.Actor) orderView {
	view := orderView{Order: order}
	if actor.Role == userModel.RoleCustomer && order.CustomerID == actor.UserID {
		view.DeliveryCode = order.DeliveryOTP
	}
	return view
}

type OrderHandler struct {
	service service.OrderService
}

func NewOrderHandler(s service.OrderService) *OrderHandler {
	return &OrderHandler{service: s}
}

// Create 创建订单
// @Summary 创建订单
// @Tags Order
// @Accept json
// @Produce json
// @Param input body service.CreateOrderInput true "Order"
// @Success 200 {object} response.Response{data=model.Order}
// @Security Bearer
// @Router /orders [post]
func (h *OrderHandler) Create(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)

	var input service.CreateOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	order, err := h.service.CreateOrder(c.Request.Context(), actor, input)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, order)
}

type TransitionInput struct {
	Type           model.IntentType  `json:"type" binding:"required"`
	Expected       model.OrderStatus `json:"expected" binding:"required"`
	IdempotencyKey string            `json:"idempotencyKey"`
	Code           string            `json:"code"`
	CourierName    string            `json:"courierName"`
	Reason         string            `json:"reason"`
}

// Transition 推进订单状态机
// @Summary 提交状态流转意图
// @Tags Order
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param input body TransitionInput true "Intent"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 409 {object} response.Response "状态已变化"
// @Failure 422 {object} response.Response "收货码错误"
// @Security Bearer
// @Router /orders/{id}/transition [post]
func (h *OrderHandler) Transition(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)

	var input TransitionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	intent := model.Intent{
		Type:           input.Type,
		Expected:       input.Expected,
		IdempotencyKey: input.IdempotencyKey,
		Code:           input.Code,
		CourierName:    input.CourierName,
		Reason:         input.Reason,
	}

	order, err := h.service.Apply(c.Request.Context(), c.Param("id"), actor, intent)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, order)
}

type VerifyInput struct {
	Code           string `json:"code" binding:"required,len=4"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// VerifyDelivery 收货码核销（confirm_delivery 的快捷入口）
// @Summary 收货码核销
// @Tags Order
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param input body VerifyInput true "Code"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 422 {object} response.Response "收货码错误"
// @Security Bearer
// @Router /orders/{id}/verify [post]
func (h *OrderHandler) VerifyDelivery(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)

	var input VerifyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	intent := model.Intent{
		Type:           model.IntentConfirmDelivery,
		Expected:       model.StatusInTransit,
		IdempotencyKey: input.IdempotencyKey,
		Code:           input.Code,
	}

	order, err := h.service.Apply(c.Request.Context(), c.Param("id"), actor, intent)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, order)
}

// Get 查询订单详情
// @Summary 订单详情
// @Tags Order
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} response.Response{data=model.Order}
// @Security Bearer
// @Router /orders/{id} [get]
func (h *OrderHandler) Get(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)

	order, err := h.service.GetOrder(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, viewFor(order, actor))
}

// List 订单列表（按角色裁剪：顾客看自己的，商家侧看本租户的）
// @Summary 订单列表
// @Tags Order
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Limit"
// @Success 200 {object} response.Response
// @Security Bearer
// @Router /orders [get]
func (h *OrderHandler) List(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)

	var query utils.Pagination
	_ = c.ShouldBindQuery(&query)

	orders, total, err := h.service.ListOrders(c.Request.Context(), actor, query.Page, query.Limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, utils.NewPageResult(orders, total, query))
}
