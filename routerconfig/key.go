// Package routerconfig provides unified configuration loading from files,
// environment variables, and CLI flags using viper and pflag.
//
// Resolution order (highest wins):
//  1. CLI flags
//  2. Environment variables (prefix GOI2P_)
//  3. Config file (router.yaml in . or /etc/go-i2p-router/)
//  4. Compiled defaults
package routerconfig

// Viper keys for the router core's configuration options.
const (
	keyInboundTunnelLength  = "tunnels.inbound_length"
	keyOutboundTunnelLength = "tunnels.outbound_length"
	keyInboundTunnelsQty    = "tunnels.inbound_quantity"
	keyOutboundTunnelsQty   = "tunnels.outbound_quantity"
	keyExplicitPeers        = "tunnels.explicit_peers"
	keyFloodfill            = "router.floodfill"
	keyBandwidth            = "router.bandwidth"
	keyEnableNTCP           = "transports.ntcp"
	keyEnableSSU            = "transports.ssu"
)

// Viper keys for ambient options the core still needs a concrete value
// for even though their loading is out of scope.
const (
	keyDataDir  = "router.data_dir"
	keyLogLevel = "router.log_level"
)
