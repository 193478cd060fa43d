package cinderlink

import (
	"fmt"
	"strings"
	"time"

	json "github.com/json-iterator/go"
)

// DebugState is a snapshot of the client for troubleshooting.
type DebugState struct {
	PeerID  string `json:"peer_id"`
	DID     string `json:"did"`
	Address string `json:"address,omitempty"`
	Role    string `json:"role"`
	State   string `json:"state"`
	Version string `json:"version"`

	ListenAddrs []string `json:"listen_addrs"`

	Peers         DebugPeers    `json:"peers"`
	Subscriptions []string      `json:"subscriptions"`
	Plugins       []DebugPlugin `json:"plugins"`

	PendingRequests     int    `json:"pending_requests"`
	HasServerConnection bool   `json:"has_server_connection"`
	IdentityCID         string `json:"identity_cid,omitempty"`
	IdentitySavePending bool   `json:"identity_save_pending"`

	CapturedAt time.Time `json:"captured_at"`
}

// DebugPeers summarizes the peer registry.
type DebugPeers struct {
	Total         int `json:"total"`
	Connected     int `json:"connected"`
	Servers       int `json:"servers"`
	Authenticated int `json:"authenticated"`
}

// DebugPlugin is one registered plugin.
type DebugPlugin struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// DumpState captures the current state of the client.
func (c *Client) DumpState() *DebugState {
	state := &DebugState{
		PeerID:              c.PeerID().String(),
		DID:                 c.DID(),
		Address:             c.Address(),
		Role:                string(c.config.Role),
		State:               c.State().String(),
		Version:             CurrentVersion().String(),
		Subscriptions:       c.router.Subscriptions(),
		PendingRequests:     c.router.PendingRequests(),
		HasServerConnection: c.manager.HasServerConnection(),
		IdentitySavePending: c.identity.HasPending(),
		CapturedAt:          c.config.Clock.Now(),
	}
	for _, addr := range c.Addrs() {
		state.ListenAddrs = append(state.ListenAddrs, addr.String())
	}
	if root := c.identity.CID(); root.Defined() {
		state.IdentityCID = root.String()
	}

	for _, p := range c.registry.ListPeers() {
		state.Peers.Total++
		if p.Connected {
			state.Peers.Connected++
		}
		if p.IsServer() {
			state.Peers.Servers++
		}
		if p.Authenticated() {
			state.Peers.Authenticated++
		}
	}

	for _, id := range c.plugins.IDs() {
		st, ok := c.plugins.State(id)
		if !ok {
			continue
		}
		state.Plugins = append(state.Plugins, DebugPlugin{ID: id, State: st.String()})
	}
	return state
}

// DumpStateJSON returns the client state as indented JSON.
func (c *Client) DumpStateJSON() (string, error) {
	data, err := json.MarshalIndent(c.DumpState(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}
	return string(data), nil
}

// DumpStateString returns a human-readable rendering of DumpState.
func (c *Client) DumpStateString() string {
	state := c.DumpState()
	var sb strings.Builder

	sb.WriteString("=== Cinderlink Client Debug State ===\n\n")

	sb.WriteString("IDENTITY:\n")
	fmt.Fprintf(&sb, "  Peer ID:  %s\n", state.PeerID)
	fmt.Fprintf(&sb, "  DID:      %s\n", state.DID)
	if state.Address != "" {
		fmt.Fprintf(&sb, "  Address:  %s\n", state.Address)
	}
	fmt.Fprintf(&sb, "  Role:     %s\n", state.Role)
	fmt.Fprintf(&sb, "  State:    %s\n", state.State)
	fmt.Fprintf(&sb, "  Version:  %s\n", state.Version)
	if state.IdentityCID != "" {
		fmt.Fprintf(&sb, "  Root:     %s\n", state.IdentityCID)
	}
	sb.WriteString("\n")

	sb.WriteString("LISTEN ADDRESSES:\n")
	if len(state.ListenAddrs) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, addr := range state.ListenAddrs {
		fmt.Fprintf(&sb, "  - %s\n", addr)
	}
	sb.WriteString("\n")

	sb.WriteString("PEERS:\n")
	fmt.Fprintf(&sb, "  Total:         %d\n", state.Peers.Total)
	fmt.Fprintf(&sb, "  Connected:     %d\n", state.Peers.Connected)
	fmt.Fprintf(&sb, "  Servers:       %d\n", state.Peers.Servers)
	fmt.Fprintf(&sb, "  Authenticated: %d\n", state.Peers.Authenticated)
	fmt.Fprintf(&sb, "  Server link:   %t\n", state.HasServerConnection)
	sb.WriteString("\n")

	sb.WriteString("ROUTING:\n")
	fmt.Fprintf(&sb, "  Subscriptions:    %s\n", strings.Join(state.Subscriptions, ", "))
	fmt.Fprintf(&sb, "  Pending requests: %d\n", state.PendingRequests)
	sb.WriteString("\n")

	sb.WriteString("PLUGINS:\n")
	if len(state.Plugins) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, p := range state.Plugins {
		fmt.Fprintf(&sb, "  - %s (%s)\n", p.ID, p.State)
	}
	return sb.String()
}
