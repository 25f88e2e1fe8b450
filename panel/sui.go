package panel

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"

	"xsell/database/model"
	"xsell/util/json_util"
)

// suiPanel speaks the s-ui dialect: one /app/api/load call returns the
// whole configuration (inbounds and clients as first-class objects), and
// mutations go through /app/api/save with an object/action pair.
type suiPanel struct {
	server *model.PanelServer
	http   *http.Client
	base   string
	baseU  *url.URL
	retry  RetryConfig
}

// suiSnapshot is the decoded obj of /app/api/load.
type suiSnapshot struct {
	Clients  []suiClient  `json:"clients"`
	Inbounds []suiInbound `json:"inbounds"`
}

func newSuiClient(server *model.PanelServer) *suiPanel {
	base := baseURL(server)
	baseU, _ := url.Parse(base)
	c := &suiPanel{
		server: server,
		http:   newHTTPClient(),
		base:   base,
		baseU:  baseU,
		retry:  DefaultRetry,
	}
	loadSession(server.Id, c.http.Jar, c.baseU)
	return c
}

func (c *suiPanel) Login() error {
	form := url.Values{}
	form.Set("user", c.server.Username)
	form.Set("pass", c.server.Password)

	resp, err := c.http.PostForm(c.base+"/app/api/login", form)
	if err != nil {
		return newError(KindNetwork, "login", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newError(statusKind(resp.StatusCode), "login", resp.StatusCode, nil)
	}

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return newError(KindServer, "login", resp.StatusCode, err)
	}
	if !envelope.Success {
		return newError(KindAuth, "login", resp.StatusCode, fmt.Errorf("%s", envelope.Msg))
	}

	storeSession(c.server.Id, c.http.Jar, c.baseU)
	return nil
}

func (c *suiPanel) call(op, method, path string, body any) (*apiResponse, error) {
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

func (c *suiPanel) callOnce(op, method, path string, body any) (*apiResponse, error) {
	var req *http.Request
	var err error

	if body != nil {
		data, merr := json.Marshal(body)
		if merr != nil {
			return nil, newError(KindValidation, op, 0, merr)
		}
		req, err = http.NewRequest(method, c.base+path, bytes.NewReader(data))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequest(method, c.base+path, nil)
	}
	if err != nil {
		return nil, newError(KindValidation, op, 0, err)
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
		return nil, newError(KindValidation, op, resp.StatusCode, fmt.Errorf("%s", envelope.Msg))
	}
	return envelope, nil
}

// load fetches the panel's full configuration snapshot.
func (c *suiPanel) load() (*suiSnapshot, error) {
	envelope, err := c.call("load", http.MethodGet, "/app/api/load", nil)
	if err != nil {
		return nil, err
	}

	snapshot := &suiSnapshot{}
	if err := json.Unmarshal(envelope.Obj, snapshot); err != nil {
		return nil, newError(KindServer, "load", 0, err)
	}
	return snapshot, nil
}

// save issues one mutation. object is "clients" or "inbounds", action is
// "new", "edit" or "del", data is the object payload (or a bare id for
// deletions).
func (c *suiPanel) save(object, action string, data any) (*apiResponse, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, newError(KindValidation, "save "+object, 0, err)
	}
	payload := struct {
		Object string               `json:"object"`
		Action string               `json:"action"`
		Data   json_util.RawMessage `json:"data"`
	}{Object: object, Action: action, Data: raw}

	return c.call("save "+object, http.MethodPost, "/app/api/save", payload)
}

// clientsOf collects the snapshot clients assigned to one inbound.
func (s *suiSnapshot) clientsOf(inboundId uint) []ClientDescriptor {
	var out []ClientDescriptor
	for i := range s.Clients {
		var ids []uint
		if err := json.Unmarshal(s.Clients[i].Inbounds, &ids); err != nil {
			continue
		}
		for _, id := range ids {
			if id == inboundId {
				out = append(out, fromSuiClient(s.Clients[i]))
				break
			}
		}
	}
	return out
}

func fromSuiClient(c suiClient) ClientDescriptor {
	return ClientDescriptor{
		ID:           c.UUID,
		Email:        c.Name,
		TotalBytes:   c.Volume,
		ExpiryMillis: c.Expiry * 1000,
		Enable:       c.Enable,
	}
}

func (c *suiPanel) GetInbounds() ([]RemoteInbound, error) {
	return withRetry(c.retry, "get inbounds", func() ([]RemoteInbound, error) {
		snapshot, err := c.load()
		if err != nil {
			return nil, err
		}

		inbounds := make([]RemoteInbound, 0, len(snapshot.Inbounds))
		for _, in := range snapshot.Inbounds {
			inbounds = append(inbounds, RemoteInbound{
				RemoteId: int(in.Id),
				Remark:   in.Tag,
				Port:     in.Port,
				Protocol: model.Protocol(in.Type),
				Enable:   in.Enable,
				Clients:  snapshot.clientsOf(in.Id),
			})
		}
		return inbounds, nil
	})
}

func (c *suiPanel) GetInbound(remoteId int) (*RemoteInbound, error) {
	inbounds, err := c.GetInbounds()
	if err != nil {
		return nil, err
	}
	for i := range inbounds {
		if inbounds[i].RemoteId == remoteId {
			return &inbounds[i], nil
		}
	}
	return nil, nil
}

func (c *suiPanel) CreateInbound(protocol model.Protocol, port int, remark string) (int, error) {
	wire := suiInbound{
		Type:   string(protocol),
		Tag:    remark,
		Port:   port,
		Enable: true,
	}

	return withRetry(c.retry, "create inbound", func() (int, error) {
		if _, err := c.save("inbounds", "new", wire); err != nil {
			return 0, err
		}

		// The save reply does not carry the new id; re-read the snapshot.
		snapshot, err := c.load()
		if err != nil {
			return 0, err
		}
		for _, in := range snapshot.Inbounds {
			if in.Tag == remark {
				return int(in.Id), nil
			}
		}
		return 0, newError(KindServer, "create inbound", 0,
			fmt.Errorf("inbound %q not present after create", remark))
	})
}

func (c *suiPanel) AddClient(remoteInboundId int, client ClientDescriptor) error {
	_, err := withRetry(c.retry, "add client", func() (struct{}, error) {
		snapshot, err := c.load()
		if err != nil {
			return struct{}{}, err
		}
		for i := range snapshot.Clients {
			if snapshot.Clients[i].Name == client.Email {
				return struct{}{}, nil
			}
		}

		inboundIds, err := json.Marshal([]int{remoteInboundId})
		if err != nil {
			return struct{}{}, newError(KindValidation, "add client", 0, err)
		}

		wire := suiClient{
			Enable:   client.Enable,
			Name:     client.Email,
			UUID:     client.ID,
			Volume:   client.TotalBytes,
			Expiry:   client.ExpiryMillis / 1000,
			Inbounds: inboundIds,
		}
		_, err = c.save("clients", "new", wire)
		return struct{}{}, err
	})
	return err
}

func (c *suiPanel) RemoveClient(remoteInboundId int, email string) error {
	_, err := withRetry(c.retry, "remove client", func() (struct{}, error) {
		snapshot, err := c.load()
		if err != nil {
			return struct{}{}, err
		}

		var id uint
		for i := range snapshot.Clients {
			if snapshot.Clients[i].Name == email {
				id = snapshot.Clients[i].Id
				break
			}
		}
		if id == 0 {
			return struct{}{}, nil
		}

		_, err = c.save("clients", "del", id)
		if IsNotFound(err) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return err
}

func (c *suiPanel) GetClientStats(email string) (*ClientStats, error) {
	stats, err := withRetry(c.retry, "client stats", func() (*ClientStats, error) {
		snapshot, err := c.load()
		if err != nil {
			return nil, err
		}
		for i := range snapshot.Clients {
			if snapshot.Clients[i].Name == email {
				cl := snapshot.Clients[i]
				return &ClientStats{
					Email:        cl.Name,
					Up:           cl.Up,
					Down:         cl.Down,
					TotalBytes:   cl.Volume,
					ExpiryMillis: cl.Expiry * 1000,
					Enable:       cl.Enable,
				}, nil
			}
		}
		return nil, newError(KindNotFound, "client stats", 0, nil)
	})
	if IsNotFound(err) {
		return nil, nil
	}
	return stats, err
}

func (c *suiPanel) HealthCheck() error {
	resp, err := c.http.Get(c.base + "/app/api/ping")
	if err != nil {
		return newError(KindNetwork, "health check", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return newError(KindServer, "health check", resp.StatusCode, nil)
	}
	return nil
}
