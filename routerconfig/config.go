package routerconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/netdb"
	"github.com/go-i2p/go-i2p-router/routererr"
)

// Config is the core's typed view of its configuration options, plus the
// ambient options (data directory, log level) the rest of the ambient
// stack needs a concrete value for. Nothing in this package touches the
// filesystem beyond the config file viper itself reads; identity and
// NetDB persistence stay behind the injected Persistence collaborator.
type Config struct {
	InboundTunnelLength     int
	OutboundTunnelLength    int
	InboundTunnelsQuantity  int
	OutboundTunnelsQuantity int
	ExplicitPeers           []identity.Hash
	Floodfill               bool
	Bandwidth               netdb.BandwidthTier
	EnableNTCP, EnableSSU   bool

	DataDir  string
	LogLevel string
}

// Loader wraps a viper instance through the file/env/flag resolution
// chain and produces a validated Config.
type Loader struct {
	v *viper.Viper
}

// NewLoader initialises a Loader with compiled defaults, then overlays a
// config file (if present) and environment variables. CLI flags, bound
// later via BindFlags, take highest priority.
func NewLoader() (*Loader, error) {
	v := viper.New()

	for _, o := range Options {
		v.SetDefault(o.Key, o.Default)
	}

	v.SetConfigName("router")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/go-i2p-router/")

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !(errors.As(err, &notFoundErr) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("routerconfig: reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("GOI2P")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Loader{v: v}, nil
}

// BindFlags registers a CLI flag per Option and binds it to the
// underlying viper key so flag values override file and environment
// sources.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	for _, o := range Options {
		switch v := o.Default.(type) {
		case string:
			fs.String(o.Flag, v, o.Description)
		case int:
			fs.Int(o.Flag, v, o.Description)
		case bool:
			fs.Bool(o.Flag, v, o.Description)
		case []string:
			fs.StringSlice(o.Flag, v, o.Description)
		default:
			return fmt.Errorf("routerconfig: unsupported flag type for key %s", o.Key)
		}
		if err := l.v.BindPFlag(o.Key, fs.Lookup(o.Flag)); err != nil {
			return fmt.Errorf("routerconfig: binding flag %s: %w", o.Flag, err)
		}
	}
	return nil
}

// Resolve reads every bound value out of viper into a Config, validating
// tunnel length and quantity ranges and parsing explicit peer hashes and
// the bandwidth tier.
func (l *Loader) Resolve() (*Config, error) {
	c := &Config{
		InboundTunnelLength:     l.v.GetInt(keyInboundTunnelLength),
		OutboundTunnelLength:    l.v.GetInt(keyOutboundTunnelLength),
		InboundTunnelsQuantity:  l.v.GetInt(keyInboundTunnelsQty),
		OutboundTunnelsQuantity: l.v.GetInt(keyOutboundTunnelsQty),
		Floodfill:               l.v.GetBool(keyFloodfill),
		EnableNTCP:              l.v.GetBool(keyEnableNTCP),
		EnableSSU:               l.v.GetBool(keyEnableSSU),
		DataDir:                 l.v.GetString(keyDataDir),
		LogLevel:                l.v.GetString(keyLogLevel),
	}

	if err := checkRange("inbound_length", c.InboundTunnelLength, 0, 7); err != nil {
		return nil, err
	}
	if err := checkRange("outbound_length", c.OutboundTunnelLength, 0, 7); err != nil {
		return nil, err
	}
	if err := checkRange("inbound_quantity", c.InboundTunnelsQuantity, 1, 16); err != nil {
		return nil, err
	}
	if err := checkRange("outbound_quantity", c.OutboundTunnelsQuantity, 1, 16); err != nil {
		return nil, err
	}

	peers, err := parseExplicitPeers(l.v.GetStringSlice(keyExplicitPeers))
	if err != nil {
		return nil, err
	}
	c.ExplicitPeers = peers

	tier, err := parseBandwidthTier(l.v.GetString(keyBandwidth))
	if err != nil {
		return nil, err
	}
	c.Bandwidth = tier

	return c, nil
}

func checkRange(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return routererr.New(routererr.Malformed, "routerconfig.Resolve",
			fmt.Errorf("%s=%d out of range [%d,%d]", field, v, lo, hi))
	}
	return nil
}

func parseExplicitPeers(raw []string) ([]identity.Hash, error) {
	var peers []identity.Hash
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		h, err := identity.ParseHashBase64(s)
		if err != nil {
			return nil, routererr.New(routererr.Malformed, "routerconfig.parseExplicitPeers", err)
		}
		peers = append(peers, h)
	}
	return peers, nil
}

func parseBandwidthTier(s string) (netdb.BandwidthTier, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "L", "M", "N", "O", "P", "X":
		return netdb.BandwidthTier(s[0]), nil
	default:
		return 0, routererr.New(routererr.Malformed, "routerconfig.parseBandwidthTier",
			fmt.Errorf("unknown bandwidth tier %q", s))
	}
}
