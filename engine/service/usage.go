package service

import (
	"xsell/database"
	"xsell/logger"
	"xsell/panel"
)

// SyncClientUsage refreshes the observed traffic counters of every active
// account on one server. Per-account failures are logged and skipped so
// one broken entry cannot stall the rest. Returns how many accounts were
// refreshed.
func (s *ProvisionService) SyncClientUsage(serverId int) (int, error) {
	server, err := s.serverService.GetServer(serverId)
	if err != nil {
		return 0, err
	}

	accounts, err := s.GetActiveAccountsByServer(serverId)
	if err != nil {
		return 0, err
	}
	if len(accounts) == 0 {
		return 0, nil
	}

	client, err := panel.New(server)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, account := range accounts {
		stats, err := client.GetClientStats(account.Email)
		if err != nil {
			logger.Debugf("usage sync: stats failed for %s on server %d: %v", account.Email, serverId, err)
			continue
		}
		if stats == nil {
			// Entry vanished remotely; the reconcile sweep will settle it
			continue
		}

		account.UsedBytes = stats.Used()
		if err := database.GetDB().Save(account).Error; err != nil {
			logger.Warningf("usage sync: failed to persist usage for %s: %v", account.Email, err)
			continue
		}
		refreshed++
	}

	logger.Debugf("usage sync: refreshed %d/%d accounts on server %d", refreshed, len(accounts), serverId)
	return refreshed, nil
}
