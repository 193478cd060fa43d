package protocol

import (
	"io"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

// FrameHandler consumes an inbound direct stream. r yields the raw stream
// bytes; the handler reads frames until EOF.
type FrameHandler func(from peer.ID, r io.Reader)

// SetFrameHandler installs the handler for inbound direct streams.
func (h *Host) SetFrameHandler(fn FrameHandler) {
	h.handlersMu.Lock()
	h.onFrames = fn
	h.handlersMu.Unlock()
}

// SetConnHandlers installs connect/disconnect callbacks. Callbacks run on
// their own goroutine. onDisconnect fires only once the last connection
// to a peer has closed.
func (h *Host) SetConnHandlers(onConnect, onDisconnect func(peer.ID)) {
	h.handlersMu.Lock()
	h.onConnect = onConnect
	h.onDisconnect = onDisconnect
	h.handlersMu.Unlock()
}

func (h *Host) handleStream(s network.Stream) {
	h.handlersMu.RLock()
	fn := h.onFrames
	h.handlersMu.RUnlock()

	if fn == nil {
		_ = s.Reset()
		return
	}
	defer s.Close()
	fn(s.Conn().RemotePeer(), s)
}

func (h *Host) connected(_ network.Network, c network.Conn) {
	h.handlersMu.RLock()
	fn := h.onConnect
	h.handlersMu.RUnlock()
	if fn != nil {
		go fn(c.RemotePeer())
	}
}

func (h *Host) disconnected(n network.Network, c network.Conn) {
	id := c.RemotePeer()
	if n.Connectedness(id) == network.Connected {
		return
	}
	h.handlersMu.RLock()
	fn := h.onDisconnect
	h.handlersMu.RUnlock()
	if fn != nil {
		go fn(id)
	}
}
