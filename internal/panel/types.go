package panel

import "encoding/json"

// Inbound is one listener configuration on the panel. Settings and
// StreamSettings arrive as embedded JSON strings and are parsed on demand.
type Inbound struct {
	ID             int    `json:"id"`
	Remark         string `json:"remark"`
	Port           int    `json:"port"`
	Protocol       string `json:"protocol"`
	Settings       string `json:"settings"`
	StreamSettings string `json:"streamSettings"`
}

// ClientSettings is the panel-side client object embedded in an inbound's
// settings JSON. TotalGB is misnamed by the panel API: it holds bytes.
// ExpiryTime is absolute milliseconds since epoch. Zero means unlimited
// and never-expiring respectively.
type ClientSettings struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Enable     bool   `json:"enable"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	Flow       string `json:"flow"`
	LimitIP    int    `json:"limitIp"`
	TgID       string `json:"tgId"`
	SubID      string `json:"subId"`
	Reset      int    `json:"reset"`
}

// inboundSettings is the parsed form of Inbound.Settings.
type inboundSettings struct {
	Clients []ClientSettings `json:"clients"`
}

// Traffic is the usage report for one client.
type Traffic struct {
	Up         int64 `json:"up"`
	Down       int64 `json:"down"`
	Total      int64 `json:"total"`
	ExpiryTime int64 `json:"expiryTime"`
}

// apiResponse is the envelope every panel endpoint answers with.
type apiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}
