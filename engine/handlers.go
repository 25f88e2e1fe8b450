package engine

import (
	"github.com/goccy/go-json"

	"xsell/database/model"
	"xsell/engine/service"
	"xsell/logger"
	"xsell/util/common"
)

// registerHandlers wires the task types onto the runner. Every handler is
// idempotent by construction: provisioning short-circuits on the
// idempotency key, revocation treats absence as success, and the sync
// handlers just refresh caches.
func (e *Engine) registerHandlers() {
	e.runner.Register(service.TaskProvision, e.handleProvision)
	e.runner.RegisterExhausted(service.TaskProvision, e.provisionExhausted)
	e.runner.Register(service.TaskRevoke, e.handleRevoke)
	e.runner.Register(service.TaskSyncServerStats, e.handleSyncServerStats)
	e.runner.Register(service.TaskSyncClientUsage, e.handleSyncClientUsage)
}

func (e *Engine) handleProvision(task *model.Task) error {
	var req service.ProvisionRequest
	if err := json.Unmarshal([]byte(task.Payload), &req); err != nil {
		return common.NewFatalErrorf("malformed provision payload: %v", err)
	}

	account, err := e.provisionService.Provision(&req)
	if err != nil {
		// Keep the request record's bookkeeping current between retries
		if rerr := e.provisionService.RecordAttempt(req.IdempotencyKey, task.Attempts, err.Error()); rerr != nil {
			logger.Debugf("failed to record provisioning attempt: %v", rerr)
		}
		return err
	}

	// Notification is a side effect, never a reason to retry
	if account.Status == model.StatusActive {
		go e.tgbot.NotifyProvisioned(account)
	}
	return nil
}

func (e *Engine) provisionExhausted(task *model.Task) {
	var req service.ProvisionRequest
	if err := json.Unmarshal([]byte(task.Payload), &req); err != nil {
		return
	}

	if err := e.provisionService.MarkFailed(req.IdempotencyKey, task.Attempts, task.LastError); err != nil {
		logger.Errorf("failed to mark account %s as failed: %v", req.IdempotencyKey, err)
	}
	go e.tgbot.NotifyFailed(req.UserId)
}

func (e *Engine) handleRevoke(task *model.Task) error {
	var args service.RevokeArgs
	if err := json.Unmarshal([]byte(task.Payload), &args); err != nil {
		return common.NewFatalErrorf("malformed revoke payload: %v", err)
	}

	account, err := e.provisionService.GetByIdempotencyKey(args.IdempotencyKey)
	if err != nil {
		return err
	}
	if account == nil {
		// Nothing ever provisioned under this key; converged already
		return nil
	}
	return e.provisionService.Revoke(account)
}

func (e *Engine) handleSyncServerStats(task *model.Task) error {
	var args service.ServerArgs
	if err := json.Unmarshal([]byte(task.Payload), &args); err != nil {
		return common.NewFatalErrorf("malformed server sync payload: %v", err)
	}

	server, err := e.serverService.GetServer(args.ServerId)
	if err != nil {
		return err
	}
	if !server.Enable {
		return nil
	}

	if err := e.serverService.CheckServerHealth(server); err != nil {
		return err
	}
	_, err = e.inboundService.SyncInbounds(server)
	return err
}

func (e *Engine) handleSyncClientUsage(task *model.Task) error {
	var args service.ServerArgs
	if err := json.Unmarshal([]byte(task.Payload), &args); err != nil {
		return common.NewFatalErrorf("malformed usage sync payload: %v", err)
	}

	_, err := e.provisionService.SyncClientUsage(args.ServerId)
	return err
}
