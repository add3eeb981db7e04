// Package vless builds the vless:// connection URI handed to client apps.
// The transport and security parameters come from the inbound's stream
// settings; only construction happens here, the URI is opaque to the rest
// of the system.
package vless

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/davron/xuigram/internal/panel"
)

type streamSettings struct {
	Network         string           `json:"network"`
	Security        string           `json:"security"`
	RealitySettings *realitySettings `json:"realitySettings"`
	TCPSettings     *tcpSettings     `json:"tcpSettings"`
}

type realitySettings struct {
	ServerNames []string       `json:"serverNames"`
	ShortIDs    []string       `json:"shortIds"`
	Settings    realityOptions `json:"settings"`
}

type realityOptions struct {
	Fingerprint string `json:"fingerprint"`
	PublicKey   string `json:"publicKey"`
	SpiderX     string `json:"spiderX"`
}

type tcpSettings struct {
	Header struct {
		Type    string `json:"type"`
		Request struct {
			Path json.RawMessage `json:"path"`
		} `json:"request"`
	} `json:"header"`
}

// BuildLink renders the connection URI for one client of the given inbound.
// serverAddr is the public address clients dial, which is generally not the
// panel host. name becomes the URI fragment shown by client apps.
func BuildLink(inbound *panel.Inbound, clientUUID, serverAddr, name string) (string, error) {
	var stream streamSettings
	if err := json.Unmarshal([]byte(inbound.StreamSettings), &stream); err != nil {
		return "", fmt.Errorf("failed to parse stream settings: %w", err)
	}

	params := url.Values{}

	network := stream.Network
	if network == "" {
		network = "tcp"
	}
	params.Set("type", network)

	security := stream.Security
	if security == "" {
		security = "reality"
	}
	params.Set("security", security)

	if reality := stream.RealitySettings; reality != nil {
		params.Set("sni", first(reality.ServerNames))
		params.Set("sid", first(reality.ShortIDs))
		fingerprint := reality.Settings.Fingerprint
		if fingerprint == "" {
			fingerprint = "chrome"
		}
		params.Set("fp", fingerprint)
		params.Set("pbk", reality.Settings.PublicKey)
		if reality.Settings.SpiderX != "" {
			params.Set("spx", reality.Settings.SpiderX)
		}
	}

	if tcp := stream.TCPSettings; tcp != nil && tcp.Header.Type == "http" {
		params.Set("headerType", "http")
		if path := firstPath(tcp.Header.Request.Path); path != "" {
			params.Set("path", path)
		}
	}

	return fmt.Sprintf("vless://%s@%s:%d?%s#%s",
		clientUUID, serverAddr, inbound.Port, params.Encode(), url.PathEscape(name)), nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// firstPath accepts the xray header path field, which is a list of strings
// in the inbound config but tolerated here as a bare string too.
func firstPath(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return first(list)
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	return ""
}
