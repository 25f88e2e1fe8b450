package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"xsell/database"
	"xsell/database/model"
	"xsell/logger"
	"xsell/panel"
	"xsell/util/common"
)

// accountNamespace seeds the deterministic client UUIDs. Changing it would
// orphan every remote entry, so it never changes.
var accountNamespace = uuid.MustParse("8a9c43f2-7b1e-4d26-9c55-0d3b9f41a6e7")

// ProvisionRequest is what the collaborators (bot, admin) hand the engine.
// An empty PlanId means a trial.
type ProvisionRequest struct {
	UserId         int64          `json:"userId"`
	PlanId         string         `json:"planId"`
	Protocol       model.Protocol `json:"protocol"`
	IdempotencyKey string         `json:"idempotencyKey"`
}

// Purpose names what the account is for; together with the user id it
// fully determines the remote client identity.
func (r *ProvisionRequest) Purpose() string {
	if r.PlanId == "" {
		return TrialPurpose
	}
	return r.PlanId
}

// Validate rejects requests that can never succeed.
func (r *ProvisionRequest) Validate() error {
	if r.UserId == 0 {
		return common.Fatal(common.NewError("provision request without user id"))
	}
	if r.IdempotencyKey == "" {
		return common.Fatal(common.NewError("provision request without idempotency key"))
	}
	return nil
}

// ProvisionService orchestrates account creation and revocation. Both
// operations are idempotent: re-running a provision with the same key, or
// revoking an account whose remote entry is already gone, converges on
// the same state.
type ProvisionService struct {
	inboundService InboundService
	serverService  ServerService
	subLinkService SubLinkService
	planService    *PlanService
}

func NewProvisionService(plans *PlanService) *ProvisionService {
	return &ProvisionService{planService: plans}
}

// AccountIdentity derives the deterministic remote identity for a
// user/purpose pair. The same request always produces the same email,
// UUID and subscription id, which is what makes duplicate creation
// detectable on the panel side.
func AccountIdentity(userId int64, purpose string) (email, clientID, subID string) {
	email = fmt.Sprintf("u%d.%s", userId, purpose)
	clientID = uuid.NewSHA1(accountNamespace, []byte(email)).String()
	subID = DeterministicSubID(clientID)
	return email, clientID, subID
}

func (s *ProvisionService) GetByIdempotencyKey(key string) (*model.ClientAccount, error) {
	db := database.GetDB()
	var account model.ClientAccount
	err := db.Where("idempotency_key = ?", key).First(&account).Error
	if database.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *ProvisionService) GetAccountsByUser(userId int64) ([]*model.ClientAccount, error) {
	db := database.GetDB()
	var accounts []*model.ClientAccount
	err := db.Where("user_id = ?", userId).Order("id desc").Find(&accounts).Error
	return accounts, err
}

func (s *ProvisionService) GetActiveAccountsByServer(serverId int) ([]*model.ClientAccount, error) {
	db := database.GetDB()
	var accounts []*model.ClientAccount
	err := db.Where("server_id = ? AND status = ?", serverId, model.StatusActive).Find(&accounts).Error
	return accounts, err
}

// resolveAllowance turns the request into quota, duration and protocol.
func (s *ProvisionService) resolveAllowance(req *ProvisionRequest) (quotaGB float64, duration time.Duration, protocol model.Protocol, err error) {
	if req.PlanId == "" {
		protocol = TrialProtocol
		if req.Protocol != "" {
			protocol = req.Protocol
		}
		return TrialQuotaGB, TrialDuration, protocol, nil
	}

	plan, err := s.planService.GetPlan(req.PlanId)
	if err != nil {
		// An unknown plan will not appear between retries
		return 0, 0, "", common.Fatal(err)
	}
	protocol = plan.Protocol
	if req.Protocol != "" {
		protocol = req.Protocol
	}
	return plan.QuotaGB, time.Duration(plan.DurationDays) * 24 * time.Hour, protocol, nil
}

// ensureRecord finds or creates the durable request record. The pending
// row is the local idempotency anchor; the subscription itself (active
// status, URL, quota, inbound assignment) only materializes after the
// remote add confirmed.
func (s *ProvisionService) ensureRecord(req *ProvisionRequest) (*model.ClientAccount, error) {
	account, err := s.GetByIdempotencyKey(req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	email, clientID, subID := AccountIdentity(req.UserId, req.Purpose())
	account = &model.ClientAccount{
		UserId:         req.UserId,
		Purpose:        req.Purpose(),
		PlanId:         req.PlanId,
		ClientID:       clientID,
		Email:          email,
		SubID:          subID,
		IdempotencyKey: req.IdempotencyKey,
		Status:         model.StatusPending,
	}
	if err := database.GetDB().Create(account).Error; err != nil {
		// A concurrent attempt may have won the unique-index race
		existing, lookupErr := s.GetByIdempotencyKey(req.IdempotencyKey)
		if lookupErr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}
	return account, nil
}

// Provision creates (or re-confirms) one account. An already-active
// account with the same idempotency key short-circuits untouched; a
// terminal account is returned as-is since its outcome is settled.
func (s *ProvisionService) Provision(req *ProvisionRequest) (*model.ClientAccount, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// The durable record comes first so a failure anywhere past this
	// point, plan resolution included, has a row to settle into.
	account, err := s.ensureRecord(req)
	if err != nil {
		return nil, err
	}
	if account.Status != model.StatusPending {
		return account, nil
	}

	quotaGB, duration, protocol, err := s.resolveAllowance(req)
	if err != nil {
		return nil, err
	}

	inbound, err := s.inboundService.FindBestInbound(protocol)
	if err != nil {
		return nil, err
	}
	if inbound == nil {
		if _, err := s.inboundService.SyncAllInbounds(); err != nil {
			return nil, err
		}
		inbound, err = s.inboundService.FindBestInbound(protocol)
		if err != nil {
			return nil, err
		}
	}
	if inbound == nil {
		return nil, common.NewErrorf("no %s inbound available on any active server", protocol)
	}

	server, err := s.serverService.GetServer(inbound.ServerId)
	if err != nil {
		return nil, err
	}

	client, err := panel.New(server)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(duration).UnixMilli()
	descriptor := panel.ClientDescriptor{
		ID:           account.ClientID,
		Email:        account.Email,
		TotalBytes:   panel.GBToBytes(quotaGB),
		ExpiryMillis: expiresAt,
		Enable:       true,
		SubID:        account.SubID,
	}

	if err := client.AddClient(inbound.RemoteId, descriptor); err != nil {
		return nil, err
	}

	// Remote add confirmed; only now does the subscription become real.
	account.ServerId = server.Id
	account.InboundId = inbound.Id
	account.QuotaBytes = descriptor.TotalBytes
	account.ExpiresAt = expiresAt
	account.Status = model.StatusActive
	account.SubURL = s.subLinkService.BuildSubscriptionURL(server, inbound, account)
	account.LastError = ""
	if err := database.GetDB().Save(account).Error; err != nil {
		return nil, err
	}

	s.inboundService.BumpClientCount(inbound.Id, 1)
	logger.Infof("provisioned account %s on server %d inbound %d", account.Email, server.Id, inbound.RemoteId)
	return account, nil
}

// Revoke removes the remote entry and cancels the local account. An entry
// that is already gone remotely still cancels locally.
func (s *ProvisionService) Revoke(account *model.ClientAccount) error {
	if account.Status == model.StatusCancelled {
		return nil
	}

	if account.ServerId != 0 {
		server, err := s.serverService.GetServer(account.ServerId)
		if err != nil {
			return err
		}

		inbound, err := s.inboundService.GetInbound(account.InboundId)
		if err != nil && !database.IsNotFound(err) {
			return err
		}

		if inbound != nil {
			client, err := panel.New(server)
			if err != nil {
				return err
			}
			if err := client.RemoveClient(inbound.RemoteId, account.Email); err != nil {
				return err
			}
			s.inboundService.BumpClientCount(inbound.Id, -1)
		}
	}

	account.Status = model.StatusCancelled
	if err := database.GetDB().Save(account).Error; err != nil {
		return err
	}
	logger.Infof("revoked account %s (server %d)", account.Email, account.ServerId)
	return nil
}

// MarkFailed records retry exhaustion on the request record. Only pending
// accounts transition; settled ones keep their state.
func (s *ProvisionService) MarkFailed(idempotencyKey string, attempts int, lastError string) error {
	account, err := s.GetByIdempotencyKey(idempotencyKey)
	if err != nil || account == nil {
		return err
	}

	account.RetryCount = attempts
	account.LastError = lastError
	if account.Status == model.StatusPending {
		account.Status = model.StatusFailed
	}
	return database.GetDB().Save(account).Error
}

// RecordAttempt persists failure bookkeeping between retries.
func (s *ProvisionService) RecordAttempt(idempotencyKey string, attempts int, lastError string) error {
	account, err := s.GetByIdempotencyKey(idempotencyKey)
	if err != nil || account == nil {
		return err
	}
	account.RetryCount = attempts
	account.LastError = lastError
	return database.GetDB().Save(account).Error
}
