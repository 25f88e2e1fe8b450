package service

import (
	"time"

	"xsell/logger"
	"xsell/panel"
)

// SweepResult aggregates what one reconciliation pass cleaned up.
type SweepResult struct {
	Expired       int `json:"expired"`
	QuotaExceeded int `json:"quotaExceeded"`
	TotalCleaned  int `json:"totalCleaned"`
}

// ReconcileService periodically revokes accounts whose expiry passed or
// whose quota ran out. A failure on one account is logged and the sweep
// moves on.
type ReconcileService struct {
	provisionService *ProvisionService
	serverService    ServerService
	tgbot            Tgbot
}

func NewReconcileService(provision *ProvisionService) *ReconcileService {
	return &ReconcileService{provisionService: provision}
}

// Sweep walks every active account on every active server once.
func (s *ReconcileService) Sweep() (SweepResult, error) {
	var result SweepResult

	servers, err := s.serverService.GetActiveServers()
	if err != nil {
		return result, err
	}

	now := time.Now().UnixMilli()
	for _, server := range servers {
		accounts, err := s.provisionService.GetActiveAccountsByServer(server.Id)
		if err != nil {
			logger.Warningf("reconcile: listing accounts for server %d failed: %v", server.Id, err)
			continue
		}
		if len(accounts) == 0 {
			continue
		}

		client, err := panel.New(server)
		if err != nil {
			logger.Warningf("reconcile: server %d unusable: %v", server.Id, err)
			continue
		}

		for _, account := range accounts {
			expired := account.IsExpired(now)
			exhausted := false

			if !expired {
				// Prefer fresh remote counters; fall back to the local
				// cache when the panel is unreachable
				stats, err := client.GetClientStats(account.Email)
				if err == nil && stats != nil {
					account.UsedBytes = stats.Used()
				}
				exhausted = account.IsQuotaExhausted()
			}

			if !expired && !exhausted {
				continue
			}

			if err := s.provisionService.Revoke(account); err != nil {
				logger.Warningf("reconcile: revoking %s failed: %v", account.Email, err)
				continue
			}

			if expired {
				result.Expired++
				go s.tgbot.NotifyRevoked(account, "subscription expired")
			} else {
				result.QuotaExceeded++
				go s.tgbot.NotifyRevoked(account, "traffic quota exhausted")
			}
			result.TotalCleaned++
		}
	}

	if result.TotalCleaned > 0 {
		logger.Infof("reconcile sweep: %d expired, %d over quota, %d total",
			result.Expired, result.QuotaExceeded, result.TotalCleaned)
	}
	return result, nil
}
