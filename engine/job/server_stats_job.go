package job

import (
	"fmt"

	"xsell/engine/service"
	"xsell/logger"
)

// ServerStatsJob enqueues a health-and-inbound refresh per active server.
type ServerStatsJob struct {
	serverService service.ServerService
	taskService   service.TaskService
}

func NewServerStatsJob() *ServerStatsJob {
	return &ServerStatsJob{}
}

func (j *ServerStatsJob) Run() {
	servers, err := j.serverService.GetActiveServers()
	if err != nil {
		logger.Warning("stats job: listing servers failed:", err)
		return
	}

	for _, server := range servers {
		key := fmt.Sprintf("stats-%d", server.Id)
		if _, err := j.taskService.Enqueue(service.TaskSyncServerStats, service.ServerArgs{ServerId: server.Id}, key); err != nil {
			logger.Warningf("stats job: enqueue for server %d failed: %v", server.Id, err)
		}
	}
}
