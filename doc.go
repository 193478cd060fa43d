/*
Package cinderlink is the client core of a peer-to-peer messaging and
state-synchronization network built on libp2p.

Every node is identified by an Ed25519 key. The same key yields the libp2p
peer ID and a did:key DID, and an optional secp256k1 wallet signs the
identity roots the node pushes to servers.

# Features

  - Direct messages over one stream protocol, each signed and/or encrypted
  - Gossipsub broadcasts on named topics
  - Request/response correlation with timeouts
  - Bounded send retry with exponential backoff and an offline-sync fallback
  - Bootstrap dialing, keep-alive probes and a reconnection sweep
  - A plugin host with direct, broadcast, lifecycle and inter-plugin buses
  - An identity root reconciled across the local cache, a DHT name record
    and connected servers, with debounced saves

# Quick Start

	privateKey, _ := ed25519.GenerateKey(rand.Reader)
	listen, _ := multiaddr.NewMultiaddr("/ip4/0.0.0.0/tcp/4500")

	cfg := cinderlink.NewConfig(privateKey,
		cinderlink.WithListenAddrs(listen),
		cinderlink.WithBootstrapAddrs(serverAddr),
	)
	client, err := cinderlink.New(cfg)
	if err != nil {
		// handle error
	}
	if err := client.Start(ctx); err != nil {
		// handle error
	}
	defer client.Stop(context.Background())

Send a signed direct message and wait for the answer:

	resp, err := client.Request(ctx, peerID, message.Outgoing{
		Topic:   "chat/history/request",
		Payload: map[string]any{"since": 0},
	}, codec.Signed)
	if err == nil && resp == nil {
		// no answer within the request timeout
	}

Plugins declare their handlers and are registered before or after Start:

	client.AddPlugin(ctx, myPlugin)

Lifecycle events are also available as a channel:

	for evt := range client.Events() {
		if evt.Name == cinderlink.EventServerConnect {
			// ...
		}
	}

# Observability

Logger, Metrics and Tracer are interfaces with no-op defaults. The zaplog,
prometheus and otel packages provide implementations.
*/
package cinderlink
