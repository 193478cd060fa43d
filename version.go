package cinderlink

import (
	"fmt"

	"github.com/blockberries/cinderlink/pkg/protocol"
)

// Protocol version. The direct-stream protocol ID is derived from it, so
// nodes only exchange direct messages with peers on the same version.
const (
	ProtocolVersionMajor = 1
	ProtocolVersionMinor = 0
	ProtocolVersionPatch = 0
)

// ProtocolVersion is a semantic protocol version.
type ProtocolVersion struct {
	Major uint8
	Minor uint8
	Patch uint8
}

// CurrentVersion returns the protocol version spoken by this build.
func CurrentVersion() ProtocolVersion {
	return ProtocolVersion{
		Major: ProtocolVersionMajor,
		Minor: ProtocolVersionMinor,
		Patch: ProtocolVersionPatch,
	}
}

// String returns the version as "major.minor.patch".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ProtocolID returns the direct-stream protocol ID for v.
func (v ProtocolVersion) ProtocolID() string {
	return string(protocol.DirectProtocolID(v.String()))
}

// Compatible reports whether a peer on other can talk to us: the major
// versions match and the peer's minor version does not exceed ours.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major && other.Minor <= v.Minor
}

// IsNewer reports whether v is newer than other.
func (v ProtocolVersion) IsNewer(other ProtocolVersion) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor > other.Minor
	}
	return v.Patch > other.Patch
}

// ParseVersion parses "major.minor.patch".
func ParseVersion(s string) (ProtocolVersion, error) {
	var v ProtocolVersion
	n, err := fmt.Sscanf(s, "%d.%d.%d", &v.Major, &v.Minor, &v.Patch)
	if err != nil {
		return v, fmt.Errorf("invalid version format %q: %w", s, err)
	}
	if n != 3 {
		return v, fmt.Errorf("invalid version format %q: expected major.minor.patch", s)
	}
	return v, nil
}
