package model

type Protocol string

const (
	VMESS       Protocol = "vmess"
	VLESS       Protocol = "vless"
	Trojan      Protocol = "trojan"
	Shadowsocks Protocol = "shadowsocks"
)

// Dialect identifies which REST dialect a remote panel speaks.
type Dialect string

const (
	DialectXUI Dialect = "xui"
	DialectSUI Dialect = "sui"
)

// PanelServer is a remote VPN panel the engine provisions accounts on.
// The roster is managed through the ops API and read-only to the engine
// at provisioning time.
type PanelServer struct {
	Id          int     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name        string  `json:"name"`
	Address     string  `json:"address"`
	Port        int     `json:"port"`
	TLS         bool    `json:"tls"`
	WebBasePath string  `json:"webBasePath"`
	Username    string  `json:"username"`
	Password    string  `json:"password"`
	Dialect     Dialect `json:"dialect"`
	SubHost     string  `json:"subHost"`
	Enable      bool    `json:"enable"`
	Status      string  `json:"status"`
	LastCheck   int64   `json:"lastCheck"`
}

// Inbound is the local cache row for a listener on a remote panel. Counts
// are refreshed by sync and may be stale in between.
type Inbound struct {
	Id             int      `json:"id" gorm:"primaryKey;autoIncrement"`
	ServerId       int      `json:"serverId" gorm:"uniqueIndex:idx_server_remote"`
	RemoteId       int      `json:"remoteId" gorm:"uniqueIndex:idx_server_remote"`
	Remark         string   `json:"remark"`
	Port           int      `json:"port"`
	Protocol       Protocol `json:"protocol"`
	Enable         bool     `json:"enable"`
	MaxClients     int      `json:"maxClients"`
	CurrentClients int      `json:"currentClients"`
	StreamSettings string   `json:"streamSettings"`
	LastSync       int64    `json:"lastSync"`
}

// AccountStatus is the lifecycle state of a ClientAccount. Cancelled and
// failed are terminal; a fresh idempotency key starts a new record.
type AccountStatus string

const (
	StatusPending   AccountStatus = "pending"
	StatusActive    AccountStatus = "active"
	StatusCancelled AccountStatus = "cancelled"
	StatusFailed    AccountStatus = "failed"
)

// ClientAccount is one provisioned subscription: a client entry on exactly
// one inbound of one server. Rows are never hard-deleted.
type ClientAccount struct {
	Id             int           `json:"id" gorm:"primaryKey;autoIncrement"`
	ServerId       int           `json:"serverId" gorm:"index"`
	InboundId      int           `json:"inboundId"`
	UserId         int64         `json:"userId" gorm:"index"`
	Purpose        string        `json:"purpose"`
	PlanId         string        `json:"planId"`
	ClientID       string        `json:"clientId"`
	Email          string        `json:"email" gorm:"index"`
	SubID          string        `json:"subId"`
	IdempotencyKey string        `json:"idempotencyKey" gorm:"uniqueIndex"`
	Status         AccountStatus `json:"status" gorm:"index"`
	QuotaBytes     int64         `json:"quotaBytes"`
	UsedBytes      int64         `json:"usedBytes"`
	ExpiresAt      int64         `json:"expiresAt"`
	SubURL         string        `json:"subUrl"`
	RetryCount     int           `json:"retryCount"`
	LastError      string        `json:"lastError"`
	CreatedAt      int64         `json:"createdAt" gorm:"autoCreateTime:milli"`
	UpdatedAt      int64         `json:"updatedAt" gorm:"autoUpdateTime:milli"`
}

// IsExpired reports whether the account's expiry (epoch millis, 0 means
// unlimited) lies before now.
func (a *ClientAccount) IsExpired(nowMillis int64) bool {
	return a.ExpiresAt > 0 && a.ExpiresAt < nowMillis
}

// IsQuotaExhausted reports whether observed usage reached the quota.
func (a *ClientAccount) IsQuotaExhausted() bool {
	return a.QuotaBytes > 0 && a.UsedBytes >= a.QuotaBytes
}

type TaskStatus string

const (
	TaskQueued  TaskStatus = "queued"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// Task is one durable work item. Delivery is at-least-once: a crashed
// worker leaves the row running and the requeue pass returns it to queued,
// so handlers must tolerate redelivery.
type Task struct {
	Id             int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	Type           string     `json:"type" gorm:"index"`
	Payload        string     `json:"payload"`
	IdempotencyKey string     `json:"idempotencyKey" gorm:"index"`
	Status         TaskStatus `json:"status" gorm:"index"`
	Attempts       int        `json:"attempts"`
	NextRunAt      int64      `json:"nextRunAt" gorm:"index"`
	LastError      string     `json:"lastError"`
	CreatedAt      int64      `json:"createdAt" gorm:"autoCreateTime:milli"`
	UpdatedAt      int64      `json:"updatedAt" gorm:"autoUpdateTime:milli"`
}
