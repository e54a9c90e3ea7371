package worker

import (
	"log"
	"time"

	"pharmacy_orders/internal/domain/ledger/model"
)

// SettlementConsumer 已释放托管流水的下游消费者。
// 钱包入账、骑手积分等副作用不属于账本本身，
// 以可插拔消费者的形式挂在释放事件之后。
type SettlementConsumer interface {
	Name() string
	Consume(tx *model.LedgerTransaction) error
}

// SettlementTask 待分发的释放事件
type SettlementTask struct {
	Tx    *model.LedgerTransaction
	Retry int // 重试次数
}

// WorkerPool 结算事件分发池
type WorkerPool struct {
	TaskQueue  chan SettlementTask
	RetryQueue chan SettlementTask // 重试队列
	Consumers  []SettlementConsumer
	WorkerNum  int
	MaxRetry   int // 最大重试次数
}

func NewWorkerPool(consumers []SettlementConsumer, workerNum int, bufferSize int) *WorkerPool {
	return &WorkerPool{
		TaskQueue:  make(chan SettlementTask, bufferSize),
		RetryQueue: make(chan SettlementTask, bufferSize/2),
		Consumers:  consumers,
		WorkerNum:  workerNum,
		MaxRetry:   3, // 最多重试3次
	}
}

func (p *WorkerPool) Start() {
	for i := 0; i < p.WorkerNum; i++ {
		go p.worker(i)
	}
	// 启动重试处理协程
	go p.retryWorker()
	log.Printf("Settlement worker pool started with %d workers", p.WorkerNum)
}

func (p *WorkerPool) worker(id int) {
	for task := range p.TaskQueue {
		if err := p.processTask(task); err != nil {
			log.Printf("[Worker %d] Failed to dispatch settlement (OrderID: %s): %v",
				id, task.Tx.OrderID, err)

			// 如果未达到最大重试次数，加入重试队列
			if task.Retry < p.MaxRetry {
				task.Retry++
				select {
				case p.RetryQueue <- task:
					log.Printf("[Worker %d] Settlement added to retry queue (attempt %d/%d)",
						id, task.Retry, p.MaxRetry)
				default:
					log.Printf("[Worker %d] Retry queue full, settlement dropped: order %s", id, task.Tx.OrderID)
					p.logFailedTask(task, err)
				}
			} else {
				log.Printf("[Worker %d] Settlement exceeded max retries, dropped: order %s", id, task.Tx.OrderID)
				p.logFailedTask(task, err)
			}
		}
	}
}

func (p *WorkerPool) retryWorker() {
	for task := range p.RetryQueue {
		// 延迟重试，避免立即重试
		time.Sleep(time.Duration(task.Retry) * time.Second)

		// 重新加入主队列
		select {
		case p.TaskQueue <- task:
			log.Printf("[RetryWorker] Settlement re-queued (attempt %d/%d)", task.Retry, p.MaxRetry)
		default:
			log.Printf("[RetryWorker] Main queue full, settlement dropped: order %s", task.Tx.OrderID)
			p.logFailedTask(task, nil)
		}
	}
}

func (p *WorkerPool) processTask(task SettlementTask) error {
	// 消费者之间互不影响，单个失败整体重试；
	// 消费者自身必须对重复投递免疫（以 OrderID 判重）
	for _, c := range p.Consumers {
		if err := c.Consume(task.Tx); err != nil {
			log.Printf("[Settlement] Consumer %s failed for order %s: %v", c.Name(), task.Tx.OrderID, err)
			return err
		}
	}
	return nil
}

func (p *WorkerPool) logFailedTask(task SettlementTask, err error) {
	// 死信：目前只落日志，接入消息队列后可改为持久化投递
	log.Printf("[DeadLetter] Settlement dispatch failed permanently: OrderID=%s, Error=%v",
		task.Tx.OrderID, err)
}

func (p *WorkerPool) AddTask(task SettlementTask) {
	select {
	case p.TaskQueue <- task:
		// 任务入队成功
	default:
		log.Printf("Settlement worker pool queue full, dropping task: order %s", task.Tx.OrderID)
		p.logFailedTask(task, nil)
	}
}
