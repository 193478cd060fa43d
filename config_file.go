package cinderlink

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/multiformats/go-multiaddr"

	"github.com/blockberries/cinderlink/pkg/crypto"
	"github.com/blockberries/cinderlink/pkg/peers"
)

// FileConfig is the on-disk TOML form of a client configuration.
type FileConfig struct {
	Node    NodeFileConfig    `toml:"node"`
	Network NetworkFileConfig `toml:"network"`
	Timing  TimingFileConfig  `toml:"timing"`
	Logging LoggingFileConfig `toml:"logging"`
	Metrics MetricsFileConfig `toml:"metrics"`
}

// NodeFileConfig holds identity settings.
type NodeFileConfig struct {
	// PrivateKey is the hex Ed25519 private key (64 bytes) or seed (32 bytes).
	PrivateKey string `toml:"private_key"`

	// WalletKey is the hex secp256k1 wallet key. Optional.
	WalletKey string `toml:"wallet_key"`

	Role            string `toml:"role"`
	DataDir         string `toml:"data_dir"`
	PublishIdentity bool   `toml:"publish_identity"`
}

// NetworkFileConfig holds addresses.
type NetworkFileConfig struct {
	Listen    []string `toml:"listen"`
	Bootstrap []string `toml:"bootstrap"`
	Relays    []string `toml:"relays"`
	DHT       bool     `toml:"dht"`
}

// TimingFileConfig holds durations such as "10s". Zero keeps the default.
type TimingFileConfig struct {
	KeepAliveInterval      time.Duration `toml:"keep_alive_interval"`
	DialTimeout            time.Duration `toml:"dial_timeout"`
	RequestTimeout         time.Duration `toml:"request_timeout"`
	IdentityResolveTimeout time.Duration `toml:"identity_resolve_timeout"`
	SaveDebounce           time.Duration `toml:"save_debounce"`
	RemotePushInterval     time.Duration `toml:"remote_push_interval"`
	RetryDelay             time.Duration `toml:"retry_delay"`
	MaxRetryDelay          time.Duration `toml:"max_retry_delay"`
}

// LoggingFileConfig is read by the binary, not by the client.
type LoggingFileConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console, json
}

// MetricsFileConfig is read by the binary, not by the client.
type MetricsFileConfig struct {
	// Listen is the address serving /metrics, /health and /live. Empty disables it.
	Listen    string `toml:"listen"`
	Namespace string `toml:"namespace"`
}

// DefaultFileConfig returns a FileConfig with the binary's defaults.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Node: NodeFileConfig{
			Role: string(peers.RolePeer),
		},
		Network: NetworkFileConfig{
			Listen: []string{"/ip4/0.0.0.0/tcp/4500"},
		},
		Logging: LoggingFileConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsFileConfig{
			Namespace: "cinderlink",
		},
	}
}

// LoadConfigFile reads a TOML file over the defaults. A missing file yields
// the defaults.
func LoadConfigFile(path string) (*FileConfig, error) {
	cfg := DefaultFileConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveTo writes the configuration as TOML.
func (f *FileConfig) SaveTo(path string) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer out.Close()

	if err := toml.NewEncoder(out).Encode(f); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// PrivateKey decodes the node key.
func (f *FileConfig) PrivateKey() (ed25519.PrivateKey, error) {
	if f.Node.PrivateKey == "" {
		return nil, ErrMissingPrivateKey
	}
	raw, err := hex.DecodeString(f.Node.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("%w: expected %d or %d bytes, got %d",
			ErrInvalidPrivateKey, ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

// Options converts the file into ConfigOptions for NewConfig.
func (f *FileConfig) Options() ([]ConfigOption, error) {
	var opts []ConfigOption

	if f.Node.WalletKey != "" {
		w, err := crypto.WalletFromHex(f.Node.WalletKey)
		if err != nil {
			return nil, fmt.Errorf("%w: wallet key: %v", ErrInvalidConfig, err)
		}
		opts = append(opts, WithWallet(w))
	}
	if f.Node.Role != "" {
		role := peers.Role(f.Node.Role)
		if !role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidConfig, f.Node.Role)
		}
		opts = append(opts, WithRole(role))
	}

	listen, err := parseAddrs("listen", f.Network.Listen)
	if err != nil {
		return nil, err
	}
	bootstrap, err := parseAddrs("bootstrap", f.Network.Bootstrap)
	if err != nil {
		return nil, err
	}
	relays, err := parseAddrs("relay", f.Network.Relays)
	if err != nil {
		return nil, err
	}

	t := f.Timing
	opts = append(opts,
		WithDataDir(f.Node.DataDir),
		WithPublishIdentity(f.Node.PublishIdentity),
		WithListenAddrs(listen...),
		WithBootstrapAddrs(bootstrap...),
		WithRelayAddrs(relays...),
		WithDHT(f.Network.DHT),
		WithKeepAliveInterval(t.KeepAliveInterval),
		WithDialTimeout(t.DialTimeout),
		WithRequestTimeout(t.RequestTimeout),
		WithIdentityResolveTimeout(t.IdentityResolveTimeout),
		WithSaveDebounce(t.SaveDebounce),
		WithRemotePushInterval(t.RemotePushInterval),
		WithRetryDelay(t.RetryDelay, t.MaxRetryDelay),
	)
	return opts, nil
}

func parseAddrs(kind string, in []string) ([]multiaddr.Multiaddr, error) {
	out := make([]multiaddr.Multiaddr, 0, len(in))
	for _, s := range in {
		addr, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s address %q: %v", ErrInvalidConfig, kind, s, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
