package handler

import (
	"errors"
	"net/http"

	"pharmacy_orders/internal/domain/user/service"
	commonHandler "pharmacy_orders/internal/pkg/common"
	"pharmacy_orders/pkg/response"
	"pharmacy_orders/pkg/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type UserHandler struct {
	service service.UserService
}

func NewUserHandler(s service.UserService) *UserHandler {
	return &UserHandler{service: s}
}

type SendOTPInput struct {
	Mobile string `json:"mobile" binding:"required"`
}

// SendOTP 发送登录验证码
// @Summary 发送登录验证码
// @Tags Auth
// @Accept json
// @Produce json
// @Param input body SendOTPInput true "Mobile"
// @Success 200 {object} response.Response
// @Router /auth/otp [post]
func (h *UserHandler) SendOTP(c *gin.Context) {
	var input SendOTPInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if err := h.service.SendOTP(input.Mobile); err != nil {
		response.Fail(c, response.ErrTooManyRequests, err.Error())
		return
	}
	response.Success(c, nil)
}

type LoginInput struct {
	Mobile string `json:"mobile" binding:"required"`
	Code   string `json:"code" binding:"required"`
}

// LoginOrRegister 验证码登录（新手机号自动注册为顾客）
// @Summary 验证码登录
// @Tags Auth
// @Accept json
// @Produce json
// @Param input body LoginInput true "Credentials"
// @Success 200 {object} response.Response{data=string} "JWT"
// @Router /auth/login [post]
func (h *UserHandler) LoginOrRegister(c *gin.Context) {
	var input LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	token, err := h.service.LoginOrRegister(input.Mobile, input.Code)
	if err != nil {
		response.Error(c, http.StatusUnauthorized, response.ErrAuthFailed, err.Error())
		return
	}
	response.Success(c, gin.H{"token": token})
}

// GetStaff 商家查看名下员工
// @Summary 员工列表
// @Tags User
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Limit"
// @Success 200 {object} response.Response
// @Router /staff [get]
func (h *UserHandler) GetStaff(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)

	var query utils.Pagination
	_ = c.ShouldBindQuery(&query)

	staff, total, err := h.service.GetStaff(actor.UserID, query.Page, query.Limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}
	response.Success(c, utils.NewPageResult(staff, total, query))
}

type UpdateCommissionInput struct {
	Rate float64 `json:"rate" binding:"min=0,max=100"`
}

// UpdateStaffCommission 调整业务员分成费率
// @Summary 调整业务员分成费率
// @Tags User
// @Accept json
// @Produce json
// @Param id path string true "Staff ID"
// @Param input body UpdateCommissionInput true "Rate"
// @Success 200 {object} response.Response
// @Router /staff/{id}/commission [put]
func (h *UserHandler) UpdateStaffCommission(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)

	var input UpdateCommissionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	staff, err := h.service.UpdateStaffCommission(actor.UserID, c.Param("id"), input.Rate)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.Error(c, http.StatusNotFound, response.ErrUserNotFound, "staff not found")
			return
		}
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}
	response.Success(c, staff)
}
