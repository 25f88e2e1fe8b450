package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"xsell/database"
	"xsell/database/model"
	"xsell/panel"
	"xsell/util/common"
)

func TestAccountIdentityIsDeterministic(t *testing.T) {
	email1, id1, sub1 := AccountIdentity(42, "trial")
	email2, id2, sub2 := AccountIdentity(42, "trial")

	assert.Equal(t, "u42.trial", email1)
	assert.Equal(t, email1, email2)
	assert.Equal(t, id1, id2)
	assert.Equal(t, sub1, sub2)
	assert.Len(t, sub1, 16)

	// A different purpose yields a different identity
	_, otherId, _ := AccountIdentity(42, "gold")
	assert.NotEqual(t, id1, otherId)
}

func TestProvisionRequestValidate(t *testing.T) {
	assert.Error(t, (&ProvisionRequest{IdempotencyKey: "k"}).Validate())
	assert.Error(t, (&ProvisionRequest{UserId: 1}).Validate())
	assert.NoError(t, (&ProvisionRequest{UserId: 1, IdempotencyKey: "k"}).Validate())
}

func TestProvisionTrial(t *testing.T) {
	setup()
	defer teardown()

	fake := newFakePanel()
	defer fake.close()
	server, inbound := fake.addServer()

	svc := NewProvisionService(&PlanService{})
	req := &ProvisionRequest{UserId: 42, IdempotencyKey: "order-1"}

	before := time.Now()
	account, err := svc.Provision(req)
	assert.NoError(t, err)
	assert.NotNil(t, account)

	assert.Equal(t, model.StatusActive, account.Status)
	assert.Equal(t, "u42.trial", account.Email)
	assert.Equal(t, server.Id, account.ServerId)
	assert.Equal(t, inbound.Id, account.InboundId)
	assert.Equal(t, panel.GBToBytes(TrialQuotaGB), account.QuotaBytes)
	assert.NotEmpty(t, account.SubURL)

	// Trial expiry lands a day out
	low := before.Add(TrialDuration - time.Minute).UnixMilli()
	high := before.Add(TrialDuration + time.Minute).UnixMilli()
	assert.GreaterOrEqual(t, account.ExpiresAt, low)
	assert.LessOrEqual(t, account.ExpiresAt, high)

	assert.True(t, fake.hasClient("u42.trial"))
	assert.Equal(t, 1, fake.addCalls)

	refreshed, _ := (&InboundService{}).GetInbound(inbound.Id)
	assert.Equal(t, 1, refreshed.CurrentClients)
}

func TestProvisionIsIdempotent(t *testing.T) {
	setup()
	defer teardown()

	fake := newFakePanel()
	defer fake.close()
	fake.addServer()

	svc := NewProvisionService(&PlanService{})
	req := &ProvisionRequest{UserId: 42, IdempotencyKey: "order-1"}

	first, err := svc.Provision(req)
	assert.NoError(t, err)

	second, err := svc.Provision(req)
	assert.NoError(t, err)

	assert.Equal(t, first.Id, second.Id)
	assert.Equal(t, first.SubURL, second.SubURL)
	assert.Equal(t, 1, fake.addCalls, "re-provisioning must not create a second remote entry")

	var count int64
	database.GetDB().Model(&model.ClientAccount{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestProvisionUnknownPlan(t *testing.T) {
	setup()
	defer teardown()

	svc := NewProvisionService(&PlanService{})
	_, err := svc.Provision(&ProvisionRequest{UserId: 1, PlanId: "gold", IdempotencyKey: "k"})
	assert.Error(t, err)
	assert.True(t, common.IsFatal(err))

	// The record is created before plan resolution, so exhaustion has a
	// row to settle and result lookups never dangle
	account, gerr := svc.GetByIdempotencyKey("k")
	assert.NoError(t, gerr)
	if assert.NotNil(t, account) {
		assert.Equal(t, model.StatusPending, account.Status)
	}

	assert.NoError(t, svc.MarkFailed("k", 1, err.Error()))
	account, gerr = svc.GetByIdempotencyKey("k")
	assert.NoError(t, gerr)
	assert.Equal(t, model.StatusFailed, account.Status)
}

func TestProvisionNoInboundAvailable(t *testing.T) {
	setup()
	defer teardown()

	svc := NewProvisionService(&PlanService{})
	_, err := svc.Provision(&ProvisionRequest{UserId: 1, IdempotencyKey: "k"})
	assert.Error(t, err)

	// The request record survives as pending for the retry machinery
	account, gerr := svc.GetByIdempotencyKey("k")
	assert.NoError(t, gerr)
	assert.NotNil(t, account)
	assert.Equal(t, model.StatusPending, account.Status)
}

func TestRevoke(t *testing.T) {
	setup()
	defer teardown()

	fake := newFakePanel()
	defer fake.close()
	fake.addServer()

	svc := NewProvisionService(&PlanService{})
	account, err := svc.Provision(&ProvisionRequest{UserId: 7, IdempotencyKey: "order-7"})
	assert.NoError(t, err)
	assert.True(t, fake.hasClient("u7.trial"))

	assert.NoError(t, svc.Revoke(account))
	assert.Equal(t, model.StatusCancelled, account.Status)
	assert.False(t, fake.hasClient("u7.trial"))
	assert.Equal(t, 1, fake.delCalls)

	// Revoking again is a no-op
	assert.NoError(t, svc.Revoke(account))
	assert.Equal(t, 1, fake.delCalls)
}

func TestRevokeRemoteAlreadyGone(t *testing.T) {
	setup()
	defer teardown()

	fake := newFakePanel()
	defer fake.close()
	server, inbound := fake.addServer()

	account := &model.ClientAccount{
		ServerId:       server.Id,
		InboundId:      inbound.Id,
		UserId:         9,
		Email:          "u9.trial",
		IdempotencyKey: "order-9",
		Status:         model.StatusActive,
	}
	database.GetDB().Create(account)

	svc := NewProvisionService(&PlanService{})
	assert.NoError(t, svc.Revoke(account))
	assert.Equal(t, model.StatusCancelled, account.Status)
	assert.Equal(t, 0, fake.delCalls)
}

func TestMarkFailed(t *testing.T) {
	setup()
	defer teardown()

	svc := NewProvisionService(&PlanService{})

	pending := &model.ClientAccount{
		UserId:         5,
		Email:          "u5.trial",
		IdempotencyKey: "order-5",
		Status:         model.StatusPending,
	}
	database.GetDB().Create(pending)

	assert.NoError(t, svc.MarkFailed("order-5", 3, "no inbound available"))

	account, _ := svc.GetByIdempotencyKey("order-5")
	assert.Equal(t, model.StatusFailed, account.Status)
	assert.Equal(t, 3, account.RetryCount)
	assert.Equal(t, "no inbound available", account.LastError)

	// A settled account keeps its state
	active := &model.ClientAccount{
		UserId:         6,
		Email:          "u6.trial",
		IdempotencyKey: "order-6",
		Status:         model.StatusActive,
	}
	database.GetDB().Create(active)

	assert.NoError(t, svc.MarkFailed("order-6", 1, "late failure"))
	account, _ = svc.GetByIdempotencyKey("order-6")
	assert.Equal(t, model.StatusActive, account.Status)
}

func TestSyncClientUsage(t *testing.T) {
	setup()
	defer teardown()

	fake := newFakePanel()
	defer fake.close()
	fake.addServer()

	svc := NewProvisionService(&PlanService{})
	account, err := svc.Provision(&ProvisionRequest{UserId: 42, IdempotencyKey: "order-1"})
	assert.NoError(t, err)

	fake.traffic["u42.trial"] = map[string]any{
		"email": "u42.trial", "up": 1000, "down": 5000, "enable": true,
	}

	refreshed, err := svc.SyncClientUsage(account.ServerId)
	assert.NoError(t, err)
	assert.Equal(t, 1, refreshed)

	account, _ = svc.GetByIdempotencyKey("order-1")
	assert.Equal(t, int64(6000), account.UsedBytes)
}
