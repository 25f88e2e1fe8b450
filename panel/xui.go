package panel

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"xsell/database/model"
)

// xuiPanel speaks the 3x-ui dialect: form login with a session cookie,
// /panel/api/inbounds endpoints, client lists embedded in the inbound
// settings blob.
type xuiPanel struct {
	server *model.PanelServer
	http   *http.Client
	base   string
	baseU  *url.URL
	retry  RetryConfig
}

func newXuiClient(server *model.PanelServer) *xuiPanel {
	base := baseURL(server)
	baseU, _ := url.Parse(base)
	c := &xuiPanel{
		server: server,
		http:   newHTTPClient(),
		base:   base,
		baseU:  baseU,
		retry:  DefaultRetry,
	}
	loadSession(server.Id, c.http.Jar, c.baseU)
	return c
}

func (c *xuiPanel) Login() error {
	form := url.Values{}
	form.Set("username", c.server.Username)
	form.Set("password", c.server.Password)

	resp, err := c.http.PostForm(c.base+"/login", form)
	if err != nil {
		return newError(KindNetwork, "login", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return newError(KindAuth, "login", resp.StatusCode, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return newError(statusKind(resp.StatusCode), "login", resp.StatusCode, nil)
	}

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return newError(KindServer, "login", resp.StatusCode, err)
	}
	if !envelope.Success {
		// Wrong credentials come back as success=false with HTTP 200
		return newError(KindAuth, "login", resp.StatusCode, fmt.Errorf("%s", envelope.Msg))
	}

	storeSession(c.server.Id, c.http.Jar, c.baseU)
	return nil
}

// call performs one authenticated request and decodes the success/msg/obj
// envelope. A 401 drops the cached session and forces exactly one
// re-login before the request is repeated.
func (c *xuiPanel) call(op, method, path string, body any) (*apiResponse, error) {
	envelope, err := c.callOnce(op, method, path, body)
	if err != nil && IsAuth(err) {
		dropSession(c.server.Id)
		if err := c.Login(); err != nil {
			return nil, err
		}
		return c.callOnce(op, method, path, body)
	}
	return envelope, err
}

func (c *xuiPanel) callOnce(op, method, path string, body any) (*apiResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, newError(KindValidation, op, 0, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return nil, newError(KindValidation, op, 0, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, newError(KindNetwork, op, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newError(statusKind(resp.StatusCode), op, resp.StatusCode, nil)
	}

	envelope := &apiResponse{}
	if err := json.NewDecoder(resp.Body).Decode(envelope); err != nil {
		return nil, newError(KindServer, op, resp.StatusCode, err)
	}
	if !envelope.Success {
		if strings.Contains(strings.ToLower(envelope.Msg), "not found") {
			return nil, newError(KindNotFound, op, resp.StatusCode, fmt.Errorf("%s", envelope.Msg))
		}
		return nil, newError(KindValidation, op, resp.StatusCode, fmt.Errorf("%s", envelope.Msg))
	}
	return envelope, nil
}

func (c *xuiPanel) GetInbounds() ([]RemoteInbound, error) {
	return withRetry(c.retry, "get inbounds", func() ([]RemoteInbound, error) {
		envelope, err := c.call("get inbounds", http.MethodGet, "/panel/api/inbounds/list", nil)
		if err != nil {
			return nil, err
		}

		var wire []xuiInbound
		if err := json.Unmarshal(envelope.Obj, &wire); err != nil {
			return nil, newError(KindServer, "get inbounds", 0, err)
		}

		inbounds := make([]RemoteInbound, 0, len(wire))
		for _, in := range wire {
			decoded, err := fromXuiInbound(in)
			if err != nil {
				return nil, newError(KindServer, "get inbounds", 0, err)
			}
			inbounds = append(inbounds, decoded)
		}
		return inbounds, nil
	})
}

// getInbound performs a single unretried fetch so the mutating calls can
// run it inside their own retry loop without compounding attempts.
func (c *xuiPanel) getInbound(remoteId int) (*RemoteInbound, error) {
	path := fmt.Sprintf("/panel/api/inbounds/get/%d", remoteId)
	envelope, err := c.call("get inbound", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var wire xuiInbound
	if err := json.Unmarshal(envelope.Obj, &wire); err != nil {
		return nil, newError(KindServer, "get inbound", 0, err)
	}
	decoded, err := fromXuiInbound(wire)
	if err != nil {
		return nil, newError(KindServer, "get inbound", 0, err)
	}
	return &decoded, nil
}

func (c *xuiPanel) GetInbound(remoteId int) (*RemoteInbound, error) {
	inbound, err := withRetry(c.retry, "get inbound", func() (*RemoteInbound, error) {
		return c.getInbound(remoteId)
	})
	if IsNotFound(err) {
		return nil, nil
	}
	return inbound, err
}

func (c *xuiPanel) CreateInbound(protocol model.Protocol, port int, remark string) (int, error) {
	settings, err := (&xuiSettings{Clients: []xuiClient{}, Decryption: "none"}).encode()
	if err != nil {
		return 0, newError(KindValidation, "create inbound", 0, err)
	}

	wire := xuiInbound{
		Remark:         remark,
		Port:           port,
		Protocol:       string(protocol),
		Enable:         true,
		Settings:       settings,
		StreamSettings: `{"network":"tcp","security":"none"}`,
		Sniffing:       `{"enabled":false}`,
	}

	return withRetry(c.retry, "create inbound", func() (int, error) {
		envelope, err := c.call("create inbound", http.MethodPost, "/panel/api/inbounds/add", wire)
		if err != nil {
			return 0, err
		}

		var created xuiInbound
		if err := json.Unmarshal(envelope.Obj, &created); err != nil {
			return 0, newError(KindServer, "create inbound", 0, err)
		}
		return created.Id, nil
	})
}

// AddClient appends one entry to the inbound's client list. The current
// remote list is fetched first: an entry with the same email already
// present means a previous attempt landed, and the call reports success
// without mutating again.
func (c *xuiPanel) AddClient(remoteInboundId int, client ClientDescriptor) error {
	_, err := withRetry(c.retry, "add client", func() (struct{}, error) {
		inbound, err := c.getInbound(remoteInboundId)
		if err != nil && !IsNotFound(err) {
			return struct{}{}, err
		}
		if inbound == nil {
			return struct{}{}, newError(KindValidation, "add client", 0,
				fmt.Errorf("inbound %d does not exist on server %d", remoteInboundId, c.server.Id))
		}
		if inbound.HasClient(client.Email) {
			return struct{}{}, nil
		}

		settings, err := (&xuiSettings{Clients: []xuiClient{toXuiClient(client)}}).encode()
		if err != nil {
			return struct{}{}, newError(KindValidation, "add client", 0, err)
		}

		payload := struct {
			Id       int    `json:"id"`
			Settings string `json:"settings"`
		}{Id: remoteInboundId, Settings: settings}

		_, err = c.call("add client", http.MethodPost, "/panel/api/inbounds/addClient", payload)
		return struct{}{}, err
	})
	return err
}

// RemoveClient deletes the entry with the given email. An entry that is
// already gone, either missing from the list or answered with 404, counts
// as success.
func (c *xuiPanel) RemoveClient(remoteInboundId int, email string) error {
	_, err := withRetry(c.retry, "remove client", func() (struct{}, error) {
		inbound, err := c.getInbound(remoteInboundId)
		if IsNotFound(err) {
			return struct{}{}, nil
		}
		if err != nil {
			return struct{}{}, err
		}

		var clientID string
		for i := range inbound.Clients {
			if inbound.Clients[i].Email == email {
				clientID = inbound.Clients[i].ID
				break
			}
		}
		if clientID == "" {
			return struct{}{}, nil
		}

		path := fmt.Sprintf("/panel/api/inbounds/%d/delClient/%s", remoteInboundId, url.PathEscape(clientID))
		_, err = c.call("remove client", http.MethodPost, path, nil)
		if IsNotFound(err) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return err
}

func (c *xuiPanel) GetClientStats(email string) (*ClientStats, error) {
	stats, err := withRetry(c.retry, "client stats", func() (*ClientStats, error) {
		path := fmt.Sprintf("/panel/api/inbounds/getClientTraffics/%s", url.PathEscape(email))
		envelope, err := c.call("client stats", http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		if len(envelope.Obj) == 0 || string(envelope.Obj) == "null" {
			return nil, newError(KindNotFound, "client stats", 0, nil)
		}

		var wire xuiClientTraffic
		if err := json.Unmarshal(envelope.Obj, &wire); err != nil {
			return nil, newError(KindServer, "client stats", 0, err)
		}
		return &ClientStats{
			Email:        wire.Email,
			Up:           wire.Up,
			Down:         wire.Down,
			TotalBytes:   wire.Total,
			ExpiryMillis: wire.ExpiryTime,
			Enable:       wire.Enable,
		}, nil
	})
	if IsNotFound(err) {
		return nil, nil
	}
	return stats, err
}

// HealthCheck probes the login page without authenticating. Any answer
// from the panel process counts as reachable.
func (c *xuiPanel) HealthCheck() error {
	resp, err := c.http.Get(c.base + "/login")
	if err != nil {
		return newError(KindNetwork, "health check", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return newError(KindServer, "health check", resp.StatusCode, nil)
	}
	return nil
}
