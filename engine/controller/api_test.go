package controller

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"

	"xsell/database"
	"xsell/database/model"
	"xsell/engine/service"
	"xsell/util/crypto"
)

func setup() {
	dbPath := "test.db"
	os.Remove(dbPath)
	database.InitDB(dbPath)
}

func teardown() {
	db, _ := database.GetDB().DB()
	db.Close()
	os.Remove("test.db")
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	plans := &service.PlanService{}
	NewAPIController(router.Group("/"), service.NewProvisionService(plans), plans)
	return router
}

func request(router *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthNeedsNoToken(t *testing.T) {
	setup()
	defer teardown()

	w := request(newTestRouter(), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestCheckTokenRejectsBadBearer(t *testing.T) {
	setup()
	defer teardown()

	hash, err := crypto.HashTokenAsBcrypt("right-token")
	assert.NoError(t, err)
	t.Setenv("XSELL_API_TOKEN_HASH", hash)

	router := newTestRouter()

	w := request(router, http.MethodGet, "/api/v1/plans", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = request(router, http.MethodGet, "/api/v1/plans", "wrong-token", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = request(router, http.MethodGet, "/api/v1/plans", "right-token", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitProvisionQueuesTask(t *testing.T) {
	setup()
	defer teardown()

	router := newTestRouter()

	w := request(router, http.MethodPost, "/api/v1/provision", "",
		`{"userId":42,"idempotencyKey":"order-1"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "order-1")

	var tasks []model.Task
	database.GetDB().Find(&tasks)
	assert.Len(t, tasks, 1)
	assert.Equal(t, service.TaskProvision, tasks[0].Type)
	assert.Equal(t, "order-1", tasks[0].IdempotencyKey)

	// Resubmitting the same key does not queue twice
	w = request(router, http.MethodPost, "/api/v1/provision", "",
		`{"userId":42,"idempotencyKey":"order-1"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	database.GetDB().Find(&tasks)
	assert.Len(t, tasks, 1)
}

func TestSubmitProvisionRejectsInvalid(t *testing.T) {
	setup()
	defer teardown()

	router := newTestRouter()

	// Missing idempotency key
	w := request(router, http.MethodPost, "/api/v1/provision", "", `{"userId":42}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)

	// Unknown plan
	w = request(router, http.MethodPost, "/api/v1/provision", "",
		`{"userId":42,"planId":"nope","idempotencyKey":"order-2"}`)
	assert.Contains(t, w.Body.String(), `"success":false`)

	var count int64
	database.GetDB().Model(&model.Task{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestProvisionResult(t *testing.T) {
	setup()
	defer teardown()

	router := newTestRouter()

	w := request(router, http.MethodGet, "/api/v1/provision/unknown-key", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	database.GetDB().Create(&model.ClientAccount{
		UserId:         42,
		Email:          "u42.trial",
		IdempotencyKey: "order-1",
		Status:         model.StatusActive,
		SubURL:         "https://sub.example.com/sub/abc",
	})
	database.GetDB().Create(&model.ClientAccount{
		UserId:         43,
		Email:          "u43.trial",
		IdempotencyKey: "order-2",
		Status:         model.StatusFailed,
		LastError:      "no inbound available",
	})

	w = request(router, http.MethodGet, "/api/v1/provision/order-1", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var reply struct {
		Obj struct {
			Status          string `json:"status"`
			SubscriptionURL string `json:"subscriptionUrl"`
			Error           string `json:"error"`
		} `json:"obj"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, "active", reply.Obj.Status)
	assert.Equal(t, "https://sub.example.com/sub/abc", reply.Obj.SubscriptionURL)

	// The failed account hides the internal error detail
	w = request(router, http.MethodGet, "/api/v1/provision/order-2", "", "")
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, "failed", reply.Obj.Status)
	assert.NotContains(t, w.Body.String(), "no inbound available")
}

func TestRevokeAccountQueuesTask(t *testing.T) {
	setup()
	defer teardown()

	router := newTestRouter()

	w := request(router, http.MethodDelete, "/api/v1/accounts/unknown", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	database.GetDB().Create(&model.ClientAccount{
		UserId:         42,
		Email:          "u42.trial",
		IdempotencyKey: "order-1",
		Status:         model.StatusActive,
	})

	w = request(router, http.MethodDelete, "/api/v1/accounts/order-1", "", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	var tasks []model.Task
	database.GetDB().Where("type = ?", service.TaskRevoke).Find(&tasks)
	assert.Len(t, tasks, 1)
	assert.Equal(t, "revoke-order-1", tasks[0].IdempotencyKey)
}

func TestListAccountsRequiresUserId(t *testing.T) {
	setup()
	defer teardown()

	router := newTestRouter()

	w := request(router, http.MethodGet, "/api/v1/accounts", "", "")
	assert.Contains(t, w.Body.String(), `"success":false`)

	database.GetDB().Create(&model.ClientAccount{
		UserId:         42,
		Email:          "u42.trial",
		IdempotencyKey: "order-1",
		Status:         model.StatusActive,
	})

	w = request(router, http.MethodGet, "/api/v1/accounts?userId=42", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "u42.trial")
}

func TestCreateInboundRouteValidates(t *testing.T) {
	setup()
	defer teardown()

	router := newTestRouter()

	w := request(router, http.MethodPost, "/api/v1/servers/1/inbounds", "", `{"protocol":"vless"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)

	// An unknown server never reaches the remote create
	w = request(router, http.MethodPost, "/api/v1/servers/99/inbounds", "",
		`{"protocol":"vless","port":8443,"remark":"relay"}`)
	assert.Contains(t, w.Body.String(), `"success":false`)

	var count int64
	database.GetDB().Model(&model.Inbound{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestServerRoster(t *testing.T) {
	setup()
	defer teardown()

	router := newTestRouter()

	w := request(router, http.MethodPost, "/api/v1/servers", "",
		`{"name":"edge-1","address":"1.2.3.4","port":2053,"username":"admin","password":"secret","enable":true}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)

	w = request(router, http.MethodGet, "/api/v1/servers", "", "")
	assert.Contains(t, w.Body.String(), "edge-1")
	// The dialect defaults to xui
	assert.Contains(t, w.Body.String(), `"dialect":"xui"`)

	w = request(router, http.MethodPost, "/api/v1/servers/1/disable", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var server model.PanelServer
	database.GetDB().First(&server, 1)
	assert.False(t, server.Enable)
}
