package job

import (
	"time"

	"xsell/engine/service"
	"xsell/logger"
)

// TaskPruneJob trims settled tasks so the queue table stays small. Failed
// tasks are kept; they carry the last_error operators ask about.
type TaskPruneJob struct {
	taskService service.TaskService
}

func NewTaskPruneJob() *TaskPruneJob {
	return &TaskPruneJob{}
}

func (j *TaskPruneJob) Run() {
	n, err := j.taskService.PruneSettled(7 * 24 * time.Hour)
	if err != nil {
		logger.Warning("task prune failed:", err)
		return
	}
	if n > 0 {
		logger.Debugf("pruned %d settled tasks", n)
	}
}
