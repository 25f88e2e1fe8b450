package job

import (
	"fmt"

	"xsell/engine/service"
	"xsell/logger"
)

// ClientUsageJob enqueues one usage-sync task per active server. Going
// through the queue keeps panel traffic on the worker pool and gives the
// sync the same retry semantics as everything else.
type ClientUsageJob struct {
	serverService service.ServerService
	taskService   service.TaskService
}

func NewClientUsageJob() *ClientUsageJob {
	return &ClientUsageJob{}
}

func (j *ClientUsageJob) Run() {
	servers, err := j.serverService.GetActiveServers()
	if err != nil {
		logger.Warning("usage job: listing servers failed:", err)
		return
	}

	for _, server := range servers {
		key := fmt.Sprintf("usage-%d", server.Id)
		if _, err := j.taskService.Enqueue(service.TaskSyncClientUsage, service.ServerArgs{ServerId: server.Id}, key); err != nil {
			logger.Warningf("usage job: enqueue for server %d failed: %v", server.Id, err)
		}
	}
}
