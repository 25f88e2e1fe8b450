package job

import (
	"xsell/engine/service"
)

// CheckServerHealthJob probes every panel in the roster and records its
// reachability.
type CheckServerHealthJob struct {
	serverService service.ServerService
}

func NewCheckServerHealthJob() *CheckServerHealthJob {
	return &CheckServerHealthJob{}
}

func (j *CheckServerHealthJob) Run() {
	j.serverService.CheckAllServersHealth()
}
