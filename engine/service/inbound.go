package service

import (
	"time"

	"gorm.io/gorm"

	"xsell/config"
	"xsell/database"
	"xsell/database/model"
	"xsell/logger"
	"xsell/panel"
)

// InboundService maintains the local inbound cache and picks where new
// client entries go.
type InboundService struct {
	serverService ServerService
}

func (s *InboundService) GetInbounds(serverId int) ([]*model.Inbound, error) {
	db := database.GetDB()
	var inbounds []*model.Inbound
	err := db.Where("server_id = ?", serverId).Order("remote_id asc").Find(&inbounds).Error
	return inbounds, err
}

func (s *InboundService) GetInbound(id int) (*model.Inbound, error) {
	db := database.GetDB()
	var inbound model.Inbound
	err := db.First(&inbound, id).Error
	if err != nil {
		return nil, err
	}
	return &inbound, nil
}

// FindBestInbound scans enabled inbounds of active servers, filtered by
// protocol, ordered by server id then remote listing order, and returns
// the first one with spare capacity. First-fit keeps selection cheap and
// deterministic; it makes no attempt at optimal packing. When every
// matching inbound is full the first match is returned anyway so
// provisioning degrades instead of failing outright. No match at all
// returns nil.
func (s *InboundService) FindBestInbound(protocol model.Protocol) (*model.Inbound, error) {
	db := database.GetDB()

	var inbounds []*model.Inbound
	err := db.
		Joins("JOIN panel_servers ON panel_servers.id = inbounds.server_id AND panel_servers.enable = ?", true).
		Where("inbounds.enable = ? AND inbounds.protocol = ?", true, protocol).
		Order("inbounds.server_id asc, inbounds.remote_id asc").
		Find(&inbounds).Error
	if err != nil {
		return nil, err
	}
	if len(inbounds) == 0 {
		return nil, nil
	}

	for _, inbound := range inbounds {
		if inbound.CurrentClients < inbound.MaxClients {
			return inbound, nil
		}
	}

	logger.Warningf("all %s inbounds are at capacity, falling back to inbound %d", protocol, inbounds[0].Id)
	return inbounds[0], nil
}

// SyncInbounds refreshes the local cache of one server from the remote
// truth. Rows are upserted by (server, remote id); locally configured
// capacity survives the refresh. Returns the number of inbounds seen.
func (s *InboundService) SyncInbounds(server *model.PanelServer) (int, error) {
	client, err := panel.New(server)
	if err != nil {
		return 0, err
	}

	remote, err := client.GetInbounds()
	if err != nil {
		return 0, err
	}

	db := database.GetDB()
	now := time.Now().Unix()

	for _, in := range remote {
		var existing model.Inbound
		err := db.Where("server_id = ? AND remote_id = ?", server.Id, in.RemoteId).First(&existing).Error
		if err != nil && !database.IsNotFound(err) {
			return 0, err
		}

		if database.IsNotFound(err) {
			row := &model.Inbound{
				ServerId:       server.Id,
				RemoteId:       in.RemoteId,
				Remark:         in.Remark,
				Port:           in.Port,
				Protocol:       in.Protocol,
				Enable:         in.Enable,
				MaxClients:     config.GetInboundCapacity(),
				CurrentClients: len(in.Clients),
				StreamSettings: in.StreamSettings,
				LastSync:       now,
			}
			if err := db.Create(row).Error; err != nil {
				return 0, err
			}
			continue
		}

		existing.Remark = in.Remark
		existing.Port = in.Port
		existing.Protocol = in.Protocol
		existing.Enable = in.Enable
		existing.CurrentClients = len(in.Clients)
		existing.StreamSettings = in.StreamSettings
		existing.LastSync = now
		if err := db.Save(&existing).Error; err != nil {
			return 0, err
		}
	}

	logger.Debugf("synced %d inbounds from server %d (%s)", len(remote), server.Id, server.Name)
	return len(remote), nil
}

// SyncAllInbounds refreshes every active server, tolerating individual
// failures. Returns the total number of inbounds seen.
func (s *InboundService) SyncAllInbounds() (int, error) {
	servers, err := s.serverService.GetActiveServers()
	if err != nil {
		return 0, err
	}

	total := 0
	for _, server := range servers {
		n, err := s.SyncInbounds(server)
		if err != nil {
			logger.Warningf("inbound sync failed for server %d (%s): %v", server.Id, server.Name, err)
			continue
		}
		total += n
	}
	return total, nil
}

// CreateInbound creates a listener on the remote panel and inserts the
// cache row. The row is only written after the remote create confirmed.
func (s *InboundService) CreateInbound(server *model.PanelServer, protocol model.Protocol, port int, remark string) (*model.Inbound, error) {
	client, err := panel.New(server)
	if err != nil {
		return nil, err
	}

	remoteId, err := client.CreateInbound(protocol, port, remark)
	if err != nil {
		return nil, err
	}

	row := &model.Inbound{
		ServerId:   server.Id,
		RemoteId:   remoteId,
		Remark:     remark,
		Port:       port,
		Protocol:   protocol,
		Enable:     true,
		MaxClients: config.GetInboundCapacity(),
		LastSync:   time.Now().Unix(),
	}
	if err := database.GetDB().Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

// BumpClientCount adjusts the cached client count after a confirmed
// remote mutation, keeping the cache close to the truth between syncs.
func (s *InboundService) BumpClientCount(inboundId int, delta int) {
	db := database.GetDB()
	err := db.Model(&model.Inbound{}).
		Where("id = ?", inboundId).
		Update("current_clients", gorm.Expr("MAX(current_clients + ?, 0)", delta)).Error
	if err != nil {
		logger.Debugf("failed to bump client count on inbound %d: %v", inboundId, err)
	}
}
