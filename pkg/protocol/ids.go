// Package protocol is the libp2p transport for Cinderlink: a host wrapper
// providing dialing, one direct-stream protocol, gossipsub topics, peer
// connect/disconnect notifications and an optional Kademlia DHT.
package protocol

import "github.com/libp2p/go-libp2p/core/protocol"

const (
	// ProtocolPrefix prefixes the direct-stream protocol and the DHT protocols.
	ProtocolPrefix = "/cinderlink"

	// DefaultVersion is used when no version is configured.
	DefaultVersion = "1.0.0"
)

// DirectProtocolID returns the protocol identifier used for all direct
// streams at the given version.
func DirectProtocolID(version string) protocol.ID {
	if version == "" {
		version = DefaultVersion
	}
	return protocol.ID(ProtocolPrefix + "/" + version)
}
