package job

import (
	"xsell/engine/service"
	"xsell/logger"
)

// SyncInboundsJob refreshes the inbound capacity cache of every active
// server so first-fit selection works from reasonably fresh counts.
type SyncInboundsJob struct {
	inboundService service.InboundService
}

func NewSyncInboundsJob() *SyncInboundsJob {
	return &SyncInboundsJob{}
}

func (j *SyncInboundsJob) Run() {
	n, err := j.inboundService.SyncAllInbounds()
	if err != nil {
		logger.Warning("inbound sync failed:", err)
		return
	}
	logger.Debugf("inbound sync done, %d inbounds", n)
}
