package cinderlink

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/multiformats/go-multiaddr"

	"github.com/blockberries/cinderlink/pkg/crypto"
	"github.com/blockberries/cinderlink/pkg/naming"
	"github.com/blockberries/cinderlink/pkg/peers"
	"github.com/blockberries/cinderlink/pkg/plugin"
)

// Default configuration values.
const (
	DefaultKeepAliveInterval      = 10 * time.Second
	DefaultDialTimeout            = 30 * time.Second
	DefaultRequestTimeout         = 3 * time.Second
	DefaultIdentityResolveTimeout = 5 * time.Second
	DefaultSaveDebounce           = 10 * time.Second
	DefaultRemotePushInterval     = 10 * time.Second
	DefaultRetryDelay             = 1 * time.Second
	DefaultMaxRetryDelay          = 30 * time.Second
	DefaultEventBufferSize        = 256
	DefaultMaxInFlightSends       = 256
)

// Config holds the configuration for a Cinderlink client.
type Config struct {
	// PrivateKey is the Ed25519 key behind both the libp2p peer ID and the
	// DID. Required.
	PrivateKey ed25519.PrivateKey

	// Wallet signs identity pushes to servers. Optional.
	Wallet *crypto.Wallet

	// Role is the role this node announces. Servers also run the identity
	// server plugin and the DHT in server mode. Defaults to peers.RolePeer.
	Role peers.Role

	// ListenAddrs are the multiaddresses to listen on. Required unless a
	// Transport is supplied.
	ListenAddrs []multiaddr.Multiaddr

	// BootstrapAddrs are full /p2p multiaddrs of server nodes. They are
	// dialed on every sweep and classified as servers.
	BootstrapAddrs []multiaddr.Multiaddr

	// RelayAddrs are circuit relays used for peers with no known address.
	RelayAddrs []multiaddr.Multiaddr

	// DataDir holds the peer registry and the content store. Empty keeps
	// everything in memory.
	DataDir string

	// EnableDHT starts a Kademlia DHT and resolves identities through it.
	EnableDHT bool

	// KeepAliveInterval is the period of the reconnection sweep.
	KeepAliveInterval time.Duration

	// DialTimeout bounds a single dial.
	DialTimeout time.Duration

	// RequestTimeout bounds the wait for a response.
	RequestTimeout time.Duration

	// IdentityResolveTimeout bounds each server identity resolve.
	IdentityResolveTimeout time.Duration

	// SaveDebounce collapses identity saves within the window into one.
	SaveDebounce time.Duration

	// RemotePushInterval is the minimum gap between identity pushes.
	RemotePushInterval time.Duration

	// RetryDelay and MaxRetryDelay bound send retry and dial backoff.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	// PublishIdentity publishes each saved identity root to the name service.
	PublishIdentity bool

	// PluginPolicy decides what happens when a plugin id is registered twice.
	PluginPolicy plugin.Policy

	// EventBufferSize is the queue length of each event bus and of Events().
	EventBufferSize int

	// MaxInFlightSends caps concurrent direct deliveries. When reached,
	// further sends wait until half of them complete.
	MaxInFlightSends int

	// Transport replaces the libp2p host. Its ID must match PrivateKey.
	Transport Transport

	// NameResolver replaces the DHT name resolver.
	NameResolver naming.Resolver

	// Logger must be safe for concurrent use. Defaults to NopLogger.
	Logger Logger

	// Metrics must be safe for concurrent use. Defaults to NopMetrics.
	Metrics Metrics

	// Tracer defaults to NopTracer.
	Tracer Tracer

	// Clock drives every timer in the client. Defaults to the wall clock.
	Clock clock.Clock
}

// Validate checks that the configuration is valid and returns an error
// describing any problems found.
func (c *Config) Validate() error {
	if c.PrivateKey == nil {
		return ErrMissingPrivateKey
	}
	if len(c.PrivateKey) != ed25519.PrivateKeySize {
		return fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidPrivateKey, ed25519.PrivateKeySize, len(c.PrivateKey))
	}
	if c.Transport == nil && len(c.ListenAddrs) == 0 {
		return ErrMissingListenAddrs
	}
	if c.Role != peers.RoleUnknown && !c.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidConfig, c.Role)
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"keep-alive interval", c.KeepAliveInterval},
		{"dial timeout", c.DialTimeout},
		{"request timeout", c.RequestTimeout},
		{"identity resolve timeout", c.IdentityResolveTimeout},
		{"save debounce", c.SaveDebounce},
		{"remote push interval", c.RemotePushInterval},
		{"retry delay", c.RetryDelay},
		{"max retry delay", c.MaxRetryDelay},
	}
	for _, d := range durations {
		if d.d < 0 {
			return fmt.Errorf("%w: %s cannot be negative", ErrInvalidConfig, d.name)
		}
	}
	if c.MaxRetryDelay > 0 && c.MaxRetryDelay < c.RetryDelay {
		return fmt.Errorf("%w: max retry delay cannot be less than retry delay", ErrInvalidConfig)
	}
	if c.EventBufferSize < 0 {
		return fmt.Errorf("%w: event buffer size cannot be negative", ErrInvalidConfig)
	}
	if c.MaxInFlightSends < 0 {
		return fmt.Errorf("%w: max in-flight sends cannot be negative", ErrInvalidConfig)
	}
	for _, addr := range c.BootstrapAddrs {
		if _, err := addr.ValueForProtocol(multiaddr.P_P2P); err != nil {
			return fmt.Errorf("%w: bootstrap address %s has no /p2p component", ErrInvalidConfig, addr)
		}
	}
	return nil
}

// applyDefaults sets default values for any unset optional fields.
func (c *Config) applyDefaults() {
	if c.Role == peers.RoleUnknown {
		c.Role = peers.RolePeer
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.IdentityResolveTimeout == 0 {
		c.IdentityResolveTimeout = DefaultIdentityResolveTimeout
	}
	if c.SaveDebounce == 0 {
		c.SaveDebounce = DefaultSaveDebounce
	}
	if c.RemotePushInterval == 0 {
		c.RemotePushInterval = DefaultRemotePushInterval
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxRetryDelay == 0 {
		c.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if c.EventBufferSize == 0 {
		c.EventBufferSize = DefaultEventBufferSize
	}
	if c.MaxInFlightSends == 0 {
		c.MaxInFlightSends = DefaultMaxInFlightSends
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.Tracer == nil {
		c.Tracer = NopTracer{}
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// ConfigOption is a functional option for configuring a Client.
type ConfigOption func(*Config)

// WithWallet sets the wallet that signs identity pushes.
func WithWallet(w *crypto.Wallet) ConfigOption {
	return func(c *Config) {
		c.Wallet = w
	}
}

// WithRole sets the announced role.
func WithRole(r peers.Role) ConfigOption {
	return func(c *Config) {
		c.Role = r
	}
}

// WithListenAddrs sets the listen addresses.
func WithListenAddrs(addrs ...multiaddr.Multiaddr) ConfigOption {
	return func(c *Config) {
		c.ListenAddrs = addrs
	}
}

// WithBootstrapAddrs sets the server nodes dialed by the sweep.
func WithBootstrapAddrs(addrs ...multiaddr.Multiaddr) ConfigOption {
	return func(c *Config) {
		c.BootstrapAddrs = addrs
	}
}

// WithRelayAddrs sets the circuit relays.
func WithRelayAddrs(addrs ...multiaddr.Multiaddr) ConfigOption {
	return func(c *Config) {
		c.RelayAddrs = addrs
	}
}

// WithDataDir persists the registry and content store under dir.
func WithDataDir(dir string) ConfigOption {
	return func(c *Config) {
		c.DataDir = dir
	}
}

// WithDHT enables the Kademlia DHT.
func WithDHT(enabled bool) ConfigOption {
	return func(c *Config) {
		c.EnableDHT = enabled
	}
}

// WithKeepAliveInterval sets the reconnection sweep period.
func WithKeepAliveInterval(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.KeepAliveInterval = d
	}
}

// WithDialTimeout sets the per-dial timeout.
func WithDialTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.DialTimeout = d
	}
}

// WithRequestTimeout sets the request response timeout.
func WithRequestTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = d
	}
}

// WithIdentityResolveTimeout sets the per-server identity resolve timeout.
func WithIdentityResolveTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.IdentityResolveTimeout = d
	}
}

// WithSaveDebounce sets the identity save debounce window.
func WithSaveDebounce(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.SaveDebounce = d
	}
}

// WithRemotePushInterval sets the minimum gap between identity pushes.
func WithRemotePushInterval(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RemotePushInterval = d
	}
}

// WithRetryDelay sets the first retry delay and the backoff cap.
func WithRetryDelay(base, maxDelay time.Duration) ConfigOption {
	return func(c *Config) {
		c.RetryDelay = base
		c.MaxRetryDelay = maxDelay
	}
}

// WithPublishIdentity publishes saved identity roots to the name service.
func WithPublishIdentity(enabled bool) ConfigOption {
	return func(c *Config) {
		c.PublishIdentity = enabled
	}
}

// WithPluginPolicy sets the duplicate plugin policy.
func WithPluginPolicy(p plugin.Policy) ConfigOption {
	return func(c *Config) {
		c.PluginPolicy = p
	}
}

// WithEventBufferSize sets the event queue length.
func WithEventBufferSize(size int) ConfigOption {
	return func(c *Config) {
		c.EventBufferSize = size
	}
}

// WithMaxInFlightSends caps concurrent direct deliveries.
func WithMaxInFlightSends(n int) ConfigOption {
	return func(c *Config) {
		c.MaxInFlightSends = n
	}
}

// WithTransport replaces the libp2p host.
func WithTransport(t Transport) ConfigOption {
	return func(c *Config) {
		c.Transport = t
	}
}

// WithNameResolver replaces the DHT name resolver.
func WithNameResolver(r naming.Resolver) ConfigOption {
	return func(c *Config) {
		c.NameResolver = r
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m Metrics) ConfigOption {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) ConfigOption {
	return func(c *Config) {
		c.Tracer = t
	}
}

// WithClock sets the clock that drives timers.
func WithClock(clk clock.Clock) ConfigOption {
	return func(c *Config) {
		c.Clock = clk
	}
}

// NewConfig creates a Config for privateKey and applies opts and defaults.
// It does not validate the configuration.
func NewConfig(privateKey ed25519.PrivateKey, opts ...ConfigOption) *Config {
	c := &Config{PrivateKey: privateKey}
	for _, opt := range opts {
		opt(c)
	}
	c.applyDefaults()
	return c
}
