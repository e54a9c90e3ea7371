package service

import (
	"errors"

	"pharmacy_orders/internal/domain/user/model"
	"pharmacy_orders/internal/domain/user/repository"
	"pharmacy_orders/internal/pkg/otp"
	"pharmacy_orders/pkg/utils"

	"gorm.io/gorm"
)

// UserService 用户服务接口
type UserService interface {
	LoginOrRegister(mobile, code string) (string, error)
	SendOTP(mobile string) error
	GetUser(id string) (*model.User, error)
	GetStaff(employerID string, page, limit int) ([]model.User, int64, error)
	UpdateStaffCommission(employerID, staffID string, rate float64) (*model.User, error)
}

// userService 实现
type userService struct {
	repo repository.UserRepository
	otp  otp.OTPService
}

// NewUserService 创建用户服务
func NewUserService(repo repository.UserRepository, otp otp.OTPService) UserService {
	return &userService{repo: repo, otp: otp}
}

// LoginOrRegister 登录或注册
func (s *userService) LoginOrRegister(mobile, code string) (string, error) {
	// 1. 验证验证码
	if !s.otp.Verify(mobile, code) {
		return "", errors.New("invalid verification code")
	}

	// 2. 查询用户是否存在
	user, err := s.repo.GetByMobile(mobile)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 3. 不存在则注册为顾客
			user = &model.User{
				Mobile:   mobile,
				Nickname: "User_" + mobile[len(mobile)-4:], // 默认昵称
				Role:     model.RoleCustomer,
				Status:   model.StatusNormal,
			}
			if err := s.repo.Create(user); err != nil {
				return "", err
			}
		} else {
			return "", err
		}
	}

	// 4. 检查用户状态
	if user.Status == model.StatusDisabled {
		return "", errors.New("account is disabled")
	}

	// 5. 生成 Token
	token, _, err := utils.GenerateToken(user.ID, user.Role)
	if err != nil {
		return "", err
	}

	return token, nil
}

func (s *userService) SendOTP(mobile string) error {
	_, err := s.otp.Send(mobile)
	return err
}

// GetUser 获取用户详情
func (s *userService) GetUser(id string) (*model.User, error) {
	return s.repo.GetByID(id)
}

// GetStaff 获取商家员工列表
func (s *userService) GetStaff(employerID string, page, limit int) ([]model.User, int64, error) {
	p := utils.Pagination{Page: page, Limit: limit}
	offset, l := p.GetPageOffset()
	return s.repo.GetStaffList(employerID, offset, l)
}

// UpdateStaffCommission 商家调整业务员分成费率
func (s *userService) UpdateStaffCommission(employerID, staffID string, rate float64) (*model.User, error) {
	if rate < 0 || rate > 100 {
		return nil, errors.New("commission rate must be within [0, 100]")
	}

	staff, err := s.repo.GetByID(staffID)
	if err != nil {
		return nil, err
	}
	// 只能调整自己名下员工
	if staff.EmployerID != employerID {
		return nil, gorm.ErrRecordNotFound
	}

	staff.CommissionRate = rate
	if err := s.repo.Update(staff); err != nil {
		return nil, err
	}
	return staff, nil
}
