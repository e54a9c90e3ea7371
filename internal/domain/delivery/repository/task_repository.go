package repository

import (
	"time"

	"pharmacy_orders/internal/domain/delivery/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TaskRepository 配送任务镜像存储
type TaskRepository interface {
	GetByOrderID(orderID string) (*model.DeliveryTask, error)
	ListByDriver(driverID string, offset, limit int) ([]model.DeliveryTask, int64, error)

	// UpsertAssigned 接单镜像：创建或覆盖任务为已分配
	UpsertAssigned(orderID, driverID, driverName, otp string, at time.Time) error
	MarkPickedUp(orderID string, at time.Time) error
	MarkDelivered(orderID string, at time.Time) error
	SetProofURL(orderID, url string) error
}

type taskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) GetByOrderID(orderID string) (*model.DeliveryTask, error) {
	var task model.DeliveryTask
	if err := r.db.Where("order_id = ?", orderID).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepository) ListByDriver(driverID string, offset, limit int) ([]model.DeliveryTask, int64, error) {
	var tasks []model.DeliveryTask
	var total int64

	q := r.db.Model(&model.DeliveryTask{}).Where("driver = ?", driverID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Offset(offset).Limit(limit).Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (r *taskRepository) UpsertAssigned(orderID, driverID, driverName, otp string, at time.Time) error {
	task := &model.DeliveryTask{
		OrderID:    orderID,
		Driver:     driverID,
		DriverName: driverName,
		Status:     model.TaskAssigned,
		AssignedAt: &at,
		OTP:        otp,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"driver", "driver_name", "status", "assigned_at", "otp", "updated_at",
		}),
	}).Create(task).Error
}

func (r *taskRepository) MarkPickedUp(orderID string, at time.Time) error {
	return r.db.Model(&model.DeliveryTask{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"status":       model.TaskPickedUp,
			"picked_up_at": at,
		}).Error
}

func (r *taskRepository) MarkDelivered(orderID string, at time.Time) error {
	return r.db.Model(&model.DeliveryTask{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"status":       model.TaskDelivered,
			"delivered_at": at,
		}).Error
}

func (r *taskRepository) SetProofURL(orderID, url string) error {
	return r.db.Model(&model.DeliveryTask{}).
		Where("order_id = ?", orderID).
		Update("proof_url", url).Error
}
