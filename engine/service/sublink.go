package service

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"xsell/database/model"
)

// SubLinkService builds the URL handed to the end user: the panel's hosted
// subscription page when the server has one, otherwise a raw protocol URI
// assembled from the inbound's stream settings.
type SubLinkService struct{}

// BuildSubscriptionURL returns the link for one provisioned account.
func (s *SubLinkService) BuildSubscriptionURL(server *model.PanelServer, inbound *model.Inbound, account *model.ClientAccount) string {
	if server.SubHost != "" {
		scheme := "http"
		if server.TLS {
			scheme = "https"
		}
		return fmt.Sprintf("%s://%s/sub/%s", scheme, server.SubHost, account.SubID)
	}
	return s.buildRawLink(server, inbound, account)
}

func (s *SubLinkService) buildRawLink(server *model.PanelServer, inbound *model.Inbound, account *model.ClientAccount) string {
	switch inbound.Protocol {
	case model.VLESS:
		return s.genVlessLink(server, inbound, account)
	case model.VMESS:
		return s.genVmessLink(server, inbound, account)
	case model.Trojan:
		return s.genTrojanLink(server, inbound, account)
	default:
		return ""
	}
}

// streamParams extracts the query parameters a client URI needs from the
// inbound's raw stream settings. Unknown or absent settings fall back to
// plain tcp.
func (s *SubLinkService) streamParams(streamSettings string) url.Values {
	params := url.Values{}
	params.Set("type", "tcp")

	var stream map[string]any
	if err := json.Unmarshal([]byte(streamSettings), &stream); err != nil || stream == nil {
		return params
	}

	network, _ := stream["network"].(string)
	if network != "" {
		params.Set("type", network)
	}

	switch network {
	case "ws":
		if ws, ok := stream["wsSettings"].(map[string]any); ok {
			if path, ok := ws["path"].(string); ok && path != "" {
				params.Set("path", path)
			}
			if headers, ok := ws["headers"].(map[string]any); ok {
				if host, ok := headers["Host"].(string); ok && host != "" {
					params.Set("host", host)
				}
			}
		}
	case "grpc":
		if grpc, ok := stream["grpcSettings"].(map[string]any); ok {
			if name, ok := grpc["serviceName"].(string); ok && name != "" {
				params.Set("serviceName", name)
			}
		}
	}

	security, _ := stream["security"].(string)
	if security != "" && security != "none" {
		params.Set("security", security)
		if tls, ok := stream["tlsSettings"].(map[string]any); ok {
			if sni, ok := tls["serverName"].(string); ok && sni != "" {
				params.Set("sni", sni)
			}
		}
		if reality, ok := stream["realitySettings"].(map[string]any); ok {
			if settings, ok := reality["settings"].(map[string]any); ok {
				if pbk, ok := settings["publicKey"].(string); ok && pbk != "" {
					params.Set("pbk", pbk)
				}
			}
			if snis, ok := reality["serverNames"].([]any); ok && len(snis) > 0 {
				if sni, ok := snis[0].(string); ok {
					params.Set("sni", sni)
				}
			}
		}
	}

	return params
}

func (s *SubLinkService) genVlessLink(server *model.PanelServer, inbound *model.Inbound, account *model.ClientAccount) string {
	params := s.streamParams(inbound.StreamSettings)
	remark := fmt.Sprintf("%s-%s", inbound.Remark, account.Email)
	return fmt.Sprintf("vless://%s@%s:%d?%s#%s",
		account.ClientID, server.Address, inbound.Port, params.Encode(), url.PathEscape(remark))
}

func (s *SubLinkService) genVmessLink(server *model.PanelServer, inbound *model.Inbound, account *model.ClientAccount) string {
	params := s.streamParams(inbound.StreamSettings)
	obj := map[string]any{
		"v":    "2",
		"ps":   fmt.Sprintf("%s-%s", inbound.Remark, account.Email),
		"add":  server.Address,
		"port": inbound.Port,
		"id":   account.ClientID,
		"net":  params.Get("type"),
		"path": params.Get("path"),
		"host": params.Get("host"),
		"tls":  params.Get("security"),
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return ""
	}
	return "vmess://" + base64.StdEncoding.EncodeToString(data)
}

func (s *SubLinkService) genTrojanLink(server *model.PanelServer, inbound *model.Inbound, account *model.ClientAccount) string {
	params := s.streamParams(inbound.StreamSettings)
	remark := fmt.Sprintf("%s-%s", inbound.Remark, account.Email)
	return fmt.Sprintf("trojan://%s@%s:%d?%s#%s",
		account.ClientID, server.Address, inbound.Port, params.Encode(), url.PathEscape(remark))
}

// DeterministicSubID derives a stable subscription id from the client
// UUID so re-provisioning with the same idempotency key reproduces the
// same URL.
func DeterministicSubID(clientUUID string) string {
	compact := strings.ReplaceAll(clientUUID, "-", "")
	if len(compact) > 16 {
		compact = compact[:16]
	}
	return compact
}
