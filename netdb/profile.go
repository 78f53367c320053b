package netdb

import "time"

// BandwidthTier is the router's self-declared bandwidth class, used both
// in its own descriptor's capabilities and in tunnel-pool peer selection.
type BandwidthTier byte

const (
	TierL BandwidthTier = 'L'
	TierM BandwidthTier = 'M'
	TierN BandwidthTier = 'N'
	TierO BandwidthTier = 'O'
	TierP BandwidthTier = 'P'
	TierX BandwidthTier = 'X'
)

// tierRank orders tiers from lowest to highest bandwidth; used to compare
// a peer's tier against the admission threshold.
var tierRank = map[BandwidthTier]int{
	TierL: 0, TierM: 1, TierN: 2, TierO: 3, TierP: 4, TierX: 5,
}

// AtLeast reports whether t is the same or a higher bandwidth tier than min.
func (t BandwidthTier) AtLeast(min BandwidthTier) bool {
	return tierRank[t] >= tierRank[min]
}

// Profile tracks per-peer history used by path selection and by the build
// protocol's failure accounting. It is not part of the signed descriptor.
type Profile struct {
	Accepted         int
	Rejected         int
	TunnelNonReplied int
	LastBuildTime    time.Duration
	UnreachableSince *time.Time
}

// RecordAccepted records a successful tunnel build through this peer.
func (p *Profile) RecordAccepted(buildTime time.Duration) {
	p.Accepted++
	p.LastBuildTime = buildTime
}

// RecordRejected records an explicit rejection status byte from this peer.
func (p *Profile) RecordRejected() {
	p.Rejected++
}

// RecordTunnelNonReplied records a build or lookup timeout attributable to
// this peer not answering at all.
func (p *Profile) RecordTunnelNonReplied() {
	p.TunnelNonReplied++
}

// UnreachableFraction is the share of attempts through this peer that
// never got a reply — the figure the 75% unreachable rule is evaluated
// against.
func (p *Profile) UnreachableFraction() float64 {
	total := p.Accepted + p.Rejected + p.TunnelNonReplied
	if total == 0 {
		return 0
	}
	return float64(p.TunnelNonReplied) / float64(total)
}
