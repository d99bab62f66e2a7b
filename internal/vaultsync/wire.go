package vaultsync

import "encoding/json"

// DefaultNamespace prefixes every metadata key and broadcast channel shared
// with the GM vault extension.
const DefaultNamespace = "com.rulekeeper.gm-vault"

// Keys names the room metadata keys and broadcast channels of one vault
// exchange.
type Keys struct {
	// Summary is the precomputed, assistant-facing config. Read first.
	Summary string
	// Config is the full vault config.
	Config string
	// VisibleConfig holds only pages the GM marked visible.
	VisibleConfig string

	RequestChannel  string
	ResponseChannel string
	VisibleChannel  string
}

// NewKeys derives the key set for namespace ns.
func NewKeys(ns string) Keys {
	if ns == "" {
		ns = DefaultNamespace
	}
	return Keys{
		Summary:         ns + "/assistant-summary",
		Config:          ns + "/config",
		VisibleConfig:   ns + "/visible-config",
		RequestChannel:  ns + "/request-vault",
		ResponseChannel: ns + "/vault-response",
		VisibleChannel:  ns + "/visible-pages",
	}
}

// MetadataOrder returns the metadata keys in read priority order.
func (k Keys) MetadataOrder() []string {
	return []string{k.Summary, k.Config, k.VisibleConfig}
}

// VaultRequest is broadcast on the request channel.
type VaultRequest struct {
	RequesterID   string `json:"requesterId"`
	RequesterName string `json:"requesterName"`
	Timestamp     int64  `json:"timestamp"`
}

// VaultMessage is the payload of the response and visible-pages channels.
// RequesterID, when set, names the participant whose request is answered.
type VaultMessage struct {
	Config      json.RawMessage `json:"config"`
	RequesterID string          `json:"requesterId,omitempty"`
}
