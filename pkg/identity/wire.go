package identity

// Payloads of the identity topics.

// ResolveRequest asks a server for the latest root CID of DID, or of the
// sender when DID is empty.
type ResolveRequest struct {
	RequestID string `json:"requestId,omitempty"`
	DID       string `json:"did,omitempty"`
}

// ResolveResponse answers a ResolveRequest. Block carries the sealed root
// document when the server holds it.
type ResolveResponse struct {
	RequestID string `json:"requestId"`
	CID       string `json:"cid,omitempty"`
	Block     []byte `json:"block,omitempty"`
}

// SetRequest pushes a new root CID to a server. Signature is a wallet
// signature over WalletMessage(CID) and binds the DID to Address.
type SetRequest struct {
	RequestID string `json:"requestId,omitempty"`
	CID       string `json:"cid"`
	DID       string `json:"did"`
	Address   string `json:"address,omitempty"`
	Signature []byte `json:"signature,omitempty"`
	Block     []byte `json:"block,omitempty"`
}

// SetResponse acknowledges a SetRequest.
type SetResponse struct {
	RequestID string `json:"requestId,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// WalletMessage is the text a wallet signs when pushing cid.
func WalletMessage(cid string) []byte {
	return []byte("cinderlink-identity:" + cid)
}
