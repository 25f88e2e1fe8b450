package panel

import (
	"github.com/goccy/go-json"

	"xsell/database/model"
	"xsell/util/json_util"
)

// bytesPerGB is the canonical GB to bytes factor. Quotas are expressed in
// GB everywhere above this package and converted exactly once, here.
const bytesPerGB = int64(1024 * 1024 * 1024)

// GBToBytes converts a GB quota to the byte count sent on the wire.
func GBToBytes(gb float64) int64 {
	return int64(gb * float64(bytesPerGB))
}

// ClientDescriptor is the dialect-neutral description of one client entry.
// Quota is already in bytes at this boundary.
type ClientDescriptor struct {
	ID           string
	Email        string
	TotalBytes   int64
	ExpiryMillis int64
	Enable       bool
	SubID        string
	Flow         string
}

// ClientStats are the remote usage counters for one client entry.
type ClientStats struct {
	Email        string
	Up           int64
	Down         int64
	TotalBytes   int64
	ExpiryMillis int64
	Enable       bool
}

// Used returns the combined transfer of both directions.
func (s *ClientStats) Used() int64 {
	return s.Up + s.Down
}

// RemoteInbound is a listener as reported by the panel, with its client
// list already decoded out of the settings blob.
type RemoteInbound struct {
	RemoteId       int
	Remark         string
	Port           int
	Protocol       model.Protocol
	Enable         bool
	StreamSettings string
	Clients        []ClientDescriptor
}

// HasClient reports whether the inbound already carries an entry with the
// given identifier. AddClient consults this before mutating.
func (r *RemoteInbound) HasClient(email string) bool {
	for i := range r.Clients {
		if r.Clients[i].Email == email {
			return true
		}
	}
	return false
}

// apiResponse is the success/msg/obj envelope both dialects wrap replies in.
type apiResponse struct {
	Success bool                 `json:"success"`
	Msg     string               `json:"msg"`
	Obj     json_util.RawMessage `json:"obj"`
}

// xuiInbound is the 3x-ui wire form of an inbound. Settings and stream
// settings travel as embedded JSON strings.
type xuiInbound struct {
	Id             int    `json:"id"`
	Remark         string `json:"remark"`
	Port           int    `json:"port"`
	Protocol       string `json:"protocol"`
	Enable         bool   `json:"enable"`
	ExpiryTime     int64  `json:"expiryTime"`
	Listen         string `json:"listen"`
	Settings       string `json:"settings"`
	StreamSettings string `json:"streamSettings"`
	Sniffing       string `json:"sniffing"`
	Tag            string `json:"tag"`
}

// xuiClient is one entry inside a 3x-ui settings blob. The totalGB field
// carries bytes despite its name; that quirk stays on the wire only.
type xuiClient struct {
	ID         string `json:"id"`
	Flow       string `json:"flow,omitempty"`
	Email      string `json:"email"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
	SubID      string `json:"subId"`
	Reset      int    `json:"reset"`
}

// xuiSettings is the decoded settings blob of an inbound.
type xuiSettings struct {
	Clients    []xuiClient `json:"clients"`
	Decryption string      `json:"decryption,omitempty"`
}

func decodeXuiSettings(raw string) (*xuiSettings, error) {
	settings := &xuiSettings{}
	if raw == "" {
		return settings, nil
	}
	if err := json.Unmarshal([]byte(raw), settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *xuiSettings) encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func fromXuiClient(c xuiClient) ClientDescriptor {
	return ClientDescriptor{
		ID:           c.ID,
		Email:        c.Email,
		TotalBytes:   c.TotalGB,
		ExpiryMillis: c.ExpiryTime,
		Enable:       c.Enable,
		SubID:        c.SubID,
		Flow:         c.Flow,
	}
}

func toXuiClient(c ClientDescriptor) xuiClient {
	return xuiClient{
		ID:         c.ID,
		Flow:       c.Flow,
		Email:      c.Email,
		TotalGB:    c.TotalBytes,
		ExpiryTime: c.ExpiryMillis,
		Enable:     c.Enable,
		SubID:      c.SubID,
	}
}

func fromXuiInbound(in xuiInbound) (RemoteInbound, error) {
	settings, err := decodeXuiSettings(in.Settings)
	if err != nil {
		return RemoteInbound{}, err
	}
	clients := make([]ClientDescriptor, 0, len(settings.Clients))
	for _, c := range settings.Clients {
		clients = append(clients, fromXuiClient(c))
	}
	return RemoteInbound{
		RemoteId:       in.Id,
		Remark:         in.Remark,
		Port:           in.Port,
		Protocol:       model.Protocol(in.Protocol),
		Enable:         in.Enable,
		StreamSettings: in.StreamSettings,
		Clients:        clients,
	}, nil
}

// xuiClientTraffic is the 3x-ui client stats record.
type xuiClientTraffic struct {
	Email      string `json:"email"`
	Up         int64  `json:"up"`
	Down       int64  `json:"down"`
	Total      int64  `json:"total"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
}

// suiClient is the s-ui wire form of a client entry. Inbound assignment
// and link lists travel as raw JSON arrays.
type suiClient struct {
	Id       uint                 `json:"id,omitempty"`
	Enable   bool                 `json:"enable"`
	Name     string               `json:"name"`
	Config   json_util.RawMessage `json:"config,omitempty"`
	Inbounds json_util.RawMessage `json:"inbounds"`
	Links    json_util.RawMessage `json:"links,omitempty"`
	Volume   int64                `json:"volume"`
	Expiry   int64                `json:"expiry"`
	Up       int64                `json:"up"`
	Down     int64                `json:"down"`
	UUID     string               `json:"uuid,omitempty"`
}

// suiInbound is the s-ui wire form of an inbound.
type suiInbound struct {
	Id       uint                 `json:"id"`
	Type     string               `json:"type"`
	Tag      string               `json:"tag"`
	Listen   string               `json:"listen,omitempty"`
	Port     int                  `json:"listen_port"`
	Enable   bool                 `json:"enable"`
	TLS      json_util.RawMessage `json:"tls,omitempty"`
	Settings json_util.RawMessage `json:"settings,omitempty"`
}
