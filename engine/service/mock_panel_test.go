package service

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"xsell/database"
	"xsell/database/model"
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

// fakeClient mirrors the client entry shape inside a 3x-ui settings blob.
type fakeClient struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
	SubID      string `json:"subId"`
}

// fakePanel simulates a 3x-ui panel carrying one vless inbound with
// remote id 10. No authentication; panel client behavior under auth is
// covered by the panel package tests.
type fakePanel struct {
	srv *httptest.Server

	mu       sync.Mutex
	clients  []fakeClient
	created  []map[string]any
	traffic  map[string]map[string]any
	addCalls int
	delCalls int
}

func newFakePanel() *fakePanel {
	p := &fakePanel{traffic: map[string]map[string]any{}}
	p.srv = httptest.NewServer(http.HandlerFunc(p.handle))
	return p
}

func (p *fakePanel) close() {
	p.srv.Close()
}

func (p *fakePanel) respond(w http.ResponseWriter, obj any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "msg": "", "obj": obj})
}

func (p *fakePanel) inbound() map[string]any {
	settings, _ := json.Marshal(map[string]any{"clients": p.clients})
	return map[string]any{
		"id":       10,
		"remark":   "edge",
		"port":     443,
		"protocol": "vless",
		"enable":   true,
		"settings": string(settings),
	}
}

func (p *fakePanel) handle(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case r.URL.Path == "/login":
		p.respond(w, nil)

	case r.URL.Path == "/panel/api/inbounds/list":
		p.respond(w, []map[string]any{p.inbound()})

	case r.URL.Path == "/panel/api/inbounds/get/10":
		p.respond(w, p.inbound())

	case strings.HasPrefix(r.URL.Path, "/panel/api/inbounds/get/"):
		w.WriteHeader(http.StatusNotFound)

	case r.URL.Path == "/panel/api/inbounds/add":
		var wire map[string]any
		_ = json.NewDecoder(r.Body).Decode(&wire)
		wire["id"] = 11 + len(p.created)
		p.created = append(p.created, wire)
		p.respond(w, wire)

	case r.URL.Path == "/panel/api/inbounds/addClient":
		var payload struct {
			Id       int    `json:"id"`
			Settings string `json:"settings"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		var settings struct {
			Clients []fakeClient `json:"clients"`
		}
		_ = json.Unmarshal([]byte(payload.Settings), &settings)
		p.clients = append(p.clients, settings.Clients...)
		p.addCalls++
		p.respond(w, nil)

	case strings.HasPrefix(r.URL.Path, "/panel/api/inbounds/10/delClient/"):
		id := path.Base(r.URL.Path)
		kept := p.clients[:0]
		for _, c := range p.clients {
			if c.ID != id {
				kept = append(kept, c)
			}
		}
		p.clients = kept
		p.delCalls++
		p.respond(w, nil)

	case strings.HasPrefix(r.URL.Path, "/panel/api/inbounds/getClientTraffics/"):
		email := path.Base(r.URL.Path)
		if tr, ok := p.traffic[email]; ok {
			p.respond(w, tr)
			return
		}
		p.respond(w, nil)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *fakePanel) hasClient(email string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		if c.Email == email {
			return true
		}
	}
	return false
}

// addServer persists a PanelServer row pointing at the fake panel plus
// its cached inbound, ready for provisioning.
func (p *fakePanel) addServer() (*model.PanelServer, *model.Inbound) {
	u, _ := url.Parse(p.srv.URL)
	port, _ := strconv.Atoi(u.Port())

	server := &model.PanelServer{
		Name:     "fake-panel",
		Address:  u.Hostname(),
		Port:     port,
		Username: "admin",
		Password: "secret",
		Dialect:  model.DialectXUI,
		Enable:   true,
	}
	database.GetDB().Create(server)

	inbound := &model.Inbound{
		ServerId:   server.Id,
		RemoteId:   10,
		Remark:     "edge",
		Port:       443,
		Protocol:   model.VLESS,
		Enable:     true,
		MaxClients: 100,
	}
	database.GetDB().Create(inbound)

	return server, inbound
}
