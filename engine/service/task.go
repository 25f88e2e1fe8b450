package service

import (
	"time"

	"github.com/goccy/go-json"

	"xsell/database"
	"xsell/database/model"
)

// Task types the runner knows how to dispatch.
const (
	TaskProvision       = "provision"
	TaskRevoke          = "revoke"
	TaskSyncServerStats = "sync_server_stats"
	TaskSyncClientUsage = "sync_client_usage"
)

// RevokeArgs is the payload of a revoke task.
type RevokeArgs struct {
	IdempotencyKey string `json:"idempotencyKey"`
}

// ServerArgs is the payload of per-server maintenance tasks.
type ServerArgs struct {
	ServerId int `json:"serverId"`
}

// TaskService is the durable work queue on top of the task table.
// Delivery is at-least-once: claims are leases, and stale leases return
// to the queue, so the same task can reach a handler more than once.
type TaskService struct{}

// Enqueue stores one work item. A queued or running task with the same
// type and idempotency key absorbs the duplicate.
func (s *TaskService) Enqueue(taskType string, payload any, idempotencyKey string) (*model.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	db := database.GetDB()

	if idempotencyKey != "" {
		var existing model.Task
		err := db.Where("type = ? AND idempotency_key = ? AND status IN ?",
			taskType, idempotencyKey, []model.TaskStatus{model.TaskQueued, model.TaskRunning}).
			First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if !database.IsNotFound(err) {
			return nil, err
		}
	}

	task := &model.Task{
		Type:           taskType,
		Payload:        string(data),
		IdempotencyKey: idempotencyKey,
		Status:         model.TaskQueued,
		NextRunAt:      time.Now().UnixMilli(),
	}
	if err := db.Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

// Claim leases the oldest due task. The conditional update makes the
// claim safe against concurrent workers; losing the race returns nil as
// if the queue were empty.
func (s *TaskService) Claim() (*model.Task, error) {
	db := database.GetDB()

	var task model.Task
	err := db.Where("status = ? AND next_run_at <= ?", model.TaskQueued, time.Now().UnixMilli()).
		Order("id asc").First(&task).Error
	if database.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res := db.Model(&model.Task{}).
		Where("id = ? AND status = ?", task.Id, model.TaskQueued).
		Updates(map[string]any{"status": model.TaskRunning, "updated_at": time.Now().UnixMilli()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	task.Status = model.TaskRunning
	task.Attempts++
	if err := db.Model(&model.Task{}).Where("id = ?", task.Id).Update("attempts", task.Attempts).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// Complete settles a task successfully.
func (s *TaskService) Complete(task *model.Task) error {
	task.Status = model.TaskDone
	task.LastError = ""
	return database.GetDB().Save(task).Error
}

// Fail records one failed attempt. The task goes back to the queue with
// exponential backoff until the attempt budget is spent or the failure is
// fatal, at which point it lands in failed for good.
func (s *TaskService) Fail(task *model.Task, failure string, maxAttempts int, backoffBase time.Duration, fatal bool) error {
	task.LastError = failure

	if fatal || task.Attempts >= maxAttempts {
		task.Status = model.TaskFailed
	} else {
		delay := backoffBase
		for i := 1; i < task.Attempts; i++ {
			delay *= 2
		}
		task.Status = model.TaskQueued
		task.NextRunAt = time.Now().Add(delay).UnixMilli()
	}
	return database.GetDB().Save(task).Error
}

// RequeueStale returns tasks whose lease looks abandoned (a crashed
// worker) to the queue. This is where at-least-once redelivery comes
// from.
func (s *TaskService) RequeueStale(age time.Duration) (int64, error) {
	db := database.GetDB()
	cutoff := time.Now().Add(-age).UnixMilli()

	res := db.Model(&model.Task{}).
		Where("status = ? AND updated_at < ?", model.TaskRunning, cutoff).
		Updates(map[string]any{"status": model.TaskQueued, "next_run_at": time.Now().UnixMilli()})
	return res.RowsAffected, res.Error
}

// Counts reports queue depth by status for the ops API.
func (s *TaskService) Counts() (map[string]int64, error) {
	db := database.GetDB()

	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := db.Model(&model.Task{}).Select("status, count(*) as n").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// PruneSettled deletes done tasks older than the given age. Failed tasks
// are kept for inspection.
func (s *TaskService) PruneSettled(age time.Duration) (int64, error) {
	db := database.GetDB()
	cutoff := time.Now().Add(-age).UnixMilli()
	res := db.Where("status = ? AND updated_at < ?", model.TaskDone, cutoff).Delete(&model.Task{})
	return res.RowsAffected, res.Error
}
