package routerconfig

import "strings"

// Option describes a single configuration entry: its viper key, the
// corresponding CLI flag name, the compiled default, and a
// human-readable description shown in --help output.
type Option struct {
	Key         string
	Flag        string
	Default     any
	Description string
}

// Options defines every configuration entry the core consumes. Each
// entry is registered as a viper default and, via BindFlags, a CLI flag.
var Options = []Option{
	{Key: keyInboundTunnelLength, Flag: toFlag(keyInboundTunnelLength), Default: 2, Description: "Inbound tunnel length (0-7)"},
	{Key: keyOutboundTunnelLength, Flag: toFlag(keyOutboundTunnelLength), Default: 2, Description: "Outbound tunnel length (0-7)"},
	{Key: keyInboundTunnelsQty, Flag: toFlag(keyInboundTunnelsQty), Default: 5, Description: "Inbound tunnel pool quantity (1-16)"},
	{Key: keyOutboundTunnelsQty, Flag: toFlag(keyOutboundTunnelsQty), Default: 5, Description: "Outbound tunnel pool quantity (1-16)"},
	{Key: keyExplicitPeers, Flag: toFlag(keyExplicitPeers), Default: []string{}, Description: "Comma-separated base64 identity hashes to use as tunnel peers instead of random selection"},
	{Key: keyFloodfill, Flag: toFlag(keyFloodfill), Default: false, Description: "Participate in the distributed NetDB as a floodfill"},
	{Key: keyBandwidth, Flag: toFlag(keyBandwidth), Default: "L", Description: "Declared bandwidth tier (L, M, N, O, P, X)"},
	{Key: keyEnableNTCP, Flag: toFlag(keyEnableNTCP), Default: true, Description: "Enable the NTCP transport"},
	{Key: keyEnableSSU, Flag: toFlag(keyEnableSSU), Default: true, Description: "Enable the SSU transport"},
	{Key: keyDataDir, Flag: toFlag(keyDataDir), Default: "./i2p-router", Description: "Directory for persisted identity, NetDB snapshot, and profiles"},
	{Key: keyLogLevel, Flag: toFlag(keyLogLevel), Default: "info", Description: "Log level (debug, info, warn, error)"},
}

// toFlag converts a viper key like "tunnels.inbound_length" into a CLI
// flag like "tunnels-inbound-length" by lower-casing and replacing dots
// and underscores with hyphens.
func toFlag(key string) string {
	flag := strings.ToLower(key)
	flag = strings.ReplaceAll(flag, ".", "-")
	flag = strings.ReplaceAll(flag, "_", "-")
	return flag
}
