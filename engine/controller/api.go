// Package controller implements the intake/ops HTTP API: collaborators
// submit provision requests here and poll for results; operators manage
// the server roster and inspect engine state.
package controller

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"xsell/config"
	"xsell/database/model"
	"xsell/engine/entity"
	"xsell/engine/service"
	"xsell/logger"
	"xsell/util/common"
	"xsell/util/crypto"
)

// APIController serves /api/v1. All routes except /health require the
// bearer token configured at deploy time.
type APIController struct {
	provisionService *service.ProvisionService
	planService      *service.PlanService
	serverService    service.ServerService
	inboundService   service.InboundService
	taskService      service.TaskService
}

func NewAPIController(g *gin.RouterGroup, provision *service.ProvisionService, plans *service.PlanService) *APIController {
	a := &APIController{
		provisionService: provision,
		planService:      plans,
	}
	a.initRouter(g)
	return a
}

func (a *APIController) initRouter(g *gin.RouterGroup) {
	g.GET("/health", a.health)

	api := g.Group("/api/v1")
	api.Use(a.checkToken)

	api.POST("/provision", a.submitProvision)
	api.GET("/provision/:key", a.provisionResult)
	api.DELETE("/accounts/:key", a.revokeAccount)
	api.GET("/accounts", a.listAccounts)

	api.GET("/plans", a.listPlans)

	api.GET("/servers", a.listServers)
	api.POST("/servers", a.addServer)
	api.POST("/servers/:id/disable", a.disableServer)
	api.POST("/servers/:id/inbounds", a.createInbound)

	api.GET("/status", a.status)
	api.GET("/logs", a.getLogs)
}

// checkToken compares the bearer token against the configured bcrypt
// hash. An empty hash disables auth, which is only sane in debug setups.
func (a *APIController) checkToken(c *gin.Context) {
	hash := config.GetAPITokenHash()
	if hash == "" {
		if !config.IsDebug() {
			logger.Warning("intake API running without a token hash")
		}
		return
	}

	auth := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || !crypto.CheckTokenHash(hash, token) {
		pureJsonMsg(c, http.StatusUnauthorized, false, "invalid token")
		c.Abort()
	}
}

func (a *APIController) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": config.GetVersion()})
}

// submitProvision validates and enqueues one provision request. The reply
// carries the idempotency key to poll with; the actual result propagates
// asynchronously.
func (a *APIController) submitProvision(c *gin.Context) {
	var req service.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		jsonMsg(c, "parse provision request", err)
		return
	}
	if err := req.Validate(); err != nil {
		jsonMsg(c, "validate provision request", err)
		return
	}
	if req.PlanId != "" {
		if _, err := a.planService.GetPlan(req.PlanId); err != nil {
			jsonMsg(c, "validate provision request", err)
			return
		}
	}

	if _, err := a.taskService.Enqueue(service.TaskProvision, &req, req.IdempotencyKey); err != nil {
		jsonMsg(c, "enqueue provision", err)
		return
	}

	c.JSON(http.StatusAccepted, entity.Msg{
		Success: true,
		Msg:     "provision queued",
		Obj:     gin.H{"idempotencyKey": req.IdempotencyKey},
	})
}

func (a *APIController) provisionResult(c *gin.Context) {
	key := c.Param("key")

	account, err := a.provisionService.GetByIdempotencyKey(key)
	if err != nil {
		jsonMsg(c, "lookup provision", err)
		return
	}
	if account == nil {
		pureJsonMsg(c, http.StatusNotFound, false, "unknown idempotency key")
		return
	}

	result := entity.ProvisionResult{Status: string(account.Status)}
	switch account.Status {
	case model.StatusActive:
		result.SubscriptionURL = account.SubURL
	case model.StatusFailed:
		result.Error = "provisioning failed, contact support"
	}
	jsonObj(c, result, nil)
}

func (a *APIController) revokeAccount(c *gin.Context) {
	key := c.Param("key")

	account, err := a.provisionService.GetByIdempotencyKey(key)
	if err != nil {
		jsonMsg(c, "lookup account", err)
		return
	}
	if account == nil {
		pureJsonMsg(c, http.StatusNotFound, false, "unknown idempotency key")
		return
	}

	if _, err := a.taskService.Enqueue(service.TaskRevoke, service.RevokeArgs{IdempotencyKey: key}, "revoke-"+key); err != nil {
		jsonMsg(c, "enqueue revoke", err)
		return
	}

	c.JSON(http.StatusAccepted, entity.Msg{Success: true, Msg: "revoke queued"})
}

func (a *APIController) listAccounts(c *gin.Context) {
	userIdStr := c.Query("userId")
	if userIdStr == "" {
		jsonMsg(c, "list accounts", common.NewError("userId query parameter is required"))
		return
	}
	userId, err := strconv.ParseInt(userIdStr, 10, 64)
	if err != nil {
		jsonMsg(c, "list accounts", err)
		return
	}

	accounts, err := a.provisionService.GetAccountsByUser(userId)
	jsonObj(c, accounts, err)
}

func (a *APIController) listPlans(c *gin.Context) {
	jsonObj(c, a.planService.AllPlans(), nil)
}

func (a *APIController) listServers(c *gin.Context) {
	servers, err := a.serverService.GetServers()
	jsonObj(c, servers, err)
}

func (a *APIController) addServer(c *gin.Context) {
	var server model.PanelServer
	if err := c.ShouldBindJSON(&server); err != nil {
		jsonMsg(c, "parse server", err)
		return
	}

	err := a.serverService.AddServer(&server)
	jsonMsgObj(c, "server added", &server, err)
}

func (a *APIController) disableServer(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		jsonMsg(c, "disable server", err)
		return
	}
	jsonMsg(c, "server disabled", a.serverService.DisableServer(id))
}

// createInbound provisions a new listener on a roster server and caches
// it locally. The cache row exists only after the remote create landed.
func (a *APIController) createInbound(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		jsonMsg(c, "create inbound", err)
		return
	}

	var req struct {
		Protocol model.Protocol `json:"protocol"`
		Port     int            `json:"port"`
		Remark   string         `json:"remark"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		jsonMsg(c, "parse inbound", err)
		return
	}
	if req.Port <= 0 || req.Remark == "" {
		jsonMsg(c, "create inbound", common.NewError("port and remark are required"))
		return
	}
	if req.Protocol == "" {
		req.Protocol = model.VLESS
	}

	server, err := a.serverService.GetServer(id)
	if err != nil {
		jsonMsg(c, "create inbound", err)
		return
	}

	inbound, err := a.inboundService.CreateInbound(server, req.Protocol, req.Port, req.Remark)
	jsonMsgObj(c, "inbound created", inbound, err)
}

// status reports host and queue health for operators.
func (a *APIController) status(c *gin.Context) {
	obj := gin.H{
		"version": config.GetVersion(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		obj["cpu"] = percents[0]
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		obj["memUsed"] = memInfo.Used
		obj["memTotal"] = memInfo.Total
	}
	if upTime, err := host.Uptime(); err == nil {
		obj["hostUptime"] = upTime
	}

	counts, err := a.taskService.Counts()
	if err == nil {
		obj["tasks"] = counts
	}

	obj["time"] = time.Now().Unix()
	jsonObj(c, obj, nil)
}

func (a *APIController) getLogs(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "50"))
	if err != nil || count <= 0 {
		count = 50
	}
	level := c.DefaultQuery("level", "INFO")
	jsonObj(c, logger.GetLogs(count, level), nil)
}
