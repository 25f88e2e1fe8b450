// Package job provides the scheduled background jobs of the provisioning
// engine.
package job

import (
	"xsell/engine/service"
	"xsell/logger"
)

// ReconcileJob runs the periodic cleanup sweep that revokes expired or
// quota-exhausted accounts.
type ReconcileJob struct {
	reconcileService *service.ReconcileService
}

func NewReconcileJob(reconcile *service.ReconcileService) *ReconcileJob {
	return &ReconcileJob{reconcileService: reconcile}
}

func (j *ReconcileJob) Run() {
	result, err := j.reconcileService.Sweep()
	if err != nil {
		logger.Warning("reconcile sweep failed:", err)
		return
	}
	logger.Debugf("reconcile sweep done: expired=%d quota=%d total=%d",
		result.Expired, result.QuotaExceeded, result.TotalCleaned)
}
