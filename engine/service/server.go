package service

import (
	"time"

	"xsell/database"
	"xsell/database/model"
	"xsell/logger"
	"xsell/panel"
)

// ServerService manages the roster of remote panels and their observed
// health.
type ServerService struct{}

func (s *ServerService) GetServers() ([]*model.PanelServer, error) {
	db := database.GetDB()
	var servers []*model.PanelServer
	err := db.Find(&servers).Error
	return servers, err
}

// GetActiveServers returns the enabled panels in id order, which is also
// the provisioning scan order.
func (s *ServerService) GetActiveServers() ([]*model.PanelServer, error) {
	db := database.GetDB()
	var servers []*model.PanelServer
	err := db.Where("enable = ?", true).Order("id asc").Find(&servers).Error
	return servers, err
}

func (s *ServerService) GetServer(id int) (*model.PanelServer, error) {
	db := database.GetDB()
	var server model.PanelServer
	err := db.First(&server, id).Error
	if err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *ServerService) AddServer(server *model.PanelServer) error {
	db := database.GetDB()
	if server.Dialect == "" {
		server.Dialect = model.DialectXUI
	}
	return db.Create(server).Error
}

func (s *ServerService) UpdateServer(server *model.PanelServer) error {
	db := database.GetDB()
	return db.Save(server).Error
}

// DisableServer takes a panel out of rotation without losing its rows.
// Servers are never hard-deleted while accounts reference them.
func (s *ServerService) DisableServer(id int) error {
	db := database.GetDB()
	return db.Model(&model.PanelServer{}).Where("id = ?", id).Update("enable", false).Error
}

// CheckServerHealth probes one panel and records the outcome.
func (s *ServerService) CheckServerHealth(server *model.PanelServer) error {
	client, err := panel.New(server)
	if err != nil {
		server.Status = "error"
		server.LastCheck = time.Now().Unix()
		_ = s.UpdateServer(server)
		return err
	}

	err = client.HealthCheck()
	if err != nil {
		server.Status = "offline"
	} else {
		server.Status = "online"
	}
	server.LastCheck = time.Now().Unix()

	if updateErr := s.UpdateServer(server); updateErr != nil {
		return updateErr
	}
	return err
}

// CheckAllServersHealth probes every server in the roster concurrently.
func (s *ServerService) CheckAllServersHealth() {
	servers, err := s.GetServers()
	if err != nil {
		logger.Errorf("Failed to get servers for health check: %v", err)
		return
	}

	for _, server := range servers {
		srv := server
		go func() {
			if err := s.CheckServerHealth(srv); err != nil {
				logger.Debugf("Server %s (%s:%d) health check failed: %v", srv.Name, srv.Address, srv.Port, err)
			} else {
				logger.Debugf("Server %s (%s:%d) is %s", srv.Name, srv.Address, srv.Port, srv.Status)
			}
		}()
	}
}
