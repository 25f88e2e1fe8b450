// Package panel implements authenticated REST clients for the two remote
// panel dialects xsell provisions accounts on. All calls are synchronous
// with a fixed timeout; transient failures are retried with exponential
// backoff, 401 forces a single re-login, and 404 is reported as absence
// rather than failure.
package panel

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"

	"xsell/config"
	"xsell/database/model"
	"xsell/util/common"
)

// Client is the panel API surface the provisioning engine depends on.
// AddClient is idempotent: an entry that already exists counts as success.
// RemoveClient treats an already-absent entry as success.
type Client interface {
	// Login exchanges the server credentials for a session. Safe to call
	// redundantly; it just refreshes the session.
	Login() error
	GetInbounds() ([]RemoteInbound, error)
	GetInbound(remoteId int) (*RemoteInbound, error)
	CreateInbound(protocol model.Protocol, port int, remark string) (int, error)
	AddClient(remoteInboundId int, client ClientDescriptor) error
	RemoveClient(remoteInboundId int, email string) error
	GetClientStats(email string) (*ClientStats, error)
	HealthCheck() error
}

// New returns a client speaking the server's dialect. Each call builds a
// fresh instance around the shared session cache; instances are cheap and
// not meant to be shared across goroutines.
func New(server *model.PanelServer) (Client, error) {
	switch server.Dialect {
	case model.DialectXUI:
		return newXuiClient(server), nil
	case model.DialectSUI:
		return newSuiClient(server), nil
	default:
		return nil, common.NewErrorf("unknown panel dialect %q for server %d", server.Dialect, server.Id)
	}
}

// baseURL builds the root URL of a panel, web base path included.
func baseURL(server *model.PanelServer) string {
	scheme := "http"
	if server.TLS {
		scheme = "https"
	}
	base := server.WebBasePath
	if base != "" && base[0] != '/' {
		base = "/" + base
	}
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, server.Address, server.Port, base)
}

// newHTTPClient builds the transport used against one panel: cookie jar
// for the session, fixed timeout, no mid-flight cancellation.
func newHTTPClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Timeout: config.GetPanelTimeout(),
		Jar:     jar,
	}
}
