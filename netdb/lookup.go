package netdb

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/routererr"
)

const (
	// LookupAttemptTimeout is how long request() waits for one floodfill
	// before moving to the next.
	LookupAttemptTimeout = 5 * time.Second
	// LookupOverallTimeout bounds the whole recursive lookup.
	LookupOverallTimeout = 40 * time.Second
	// MaxExcludedPerRequest caps how many peers one lookup's excluded set
	// may grow to before giving up on widening the search.
	MaxExcludedPerRequest = 16
)

// Lookup sends a DatabaseLookup to the network and resolves a LeaseSet,
// asynchronously, via Transport; it is the collaborator the router wires
// lookup() against so netdb never imports the transport package directly
// for sending.
type Lookup interface {
	SendDatabaseLookup(ctx context.Context, to identity.Hash, target identity.Hash) (*DatabaseSearchReply, error)
}

// DatabaseSearchReply is the parsed content of a floodfill's "I don't have
// it but try these" response.
type DatabaseSearchReply struct {
	FromFloodfill identity.Hash
	NextHashes    []identity.Hash
	LeaseSet      *LeaseSet
}

// lookupManager deduplicates concurrent Request calls for the same target
// hash via singleflight, and drives the recursive floodfill-chasing
// lookup algorithm with context-based cancellation.
type lookupManager struct {
	db *NetDB
	sf singleflight.Group
}

func newLookupManager(db *NetDB) *lookupManager {
	return &lookupManager{db: db}
}

// Request issues a DatabaseLookup to the closest floodfill not already in
// excluded, retrying with the next-closest on a per-attempt timeout, up to
// the overall timeout. When a DatabaseSearchReply names further hashes,
// each is requested recursively, bounded by MaxExcludedPerRequest.
func (n *NetDB) Request(ctx context.Context, lookup Lookup, target identity.Hash) (*LeaseSet, error) {
	v, err, _ := n.lookups.sf.Do(target.String(), func() (interface{}, error) {
		return n.lookups.run(ctx, lookup, target)
	})
	if err != nil {
		return nil, err
	}
	return v.(*LeaseSet), nil
}

func (m *lookupManager) run(parent context.Context, lookup Lookup, target identity.Hash) (*LeaseSet, error) {
	ctx, cancel := context.WithTimeout(parent, LookupOverallTimeout)
	defer cancel()

	excluded := make(map[identity.Hash]struct{})
	return m.step(ctx, lookup, target, excluded)
}

func (m *lookupManager) step(ctx context.Context, lookup Lookup, target identity.Hash, excluded map[identity.Hash]struct{}) (*LeaseSet, error) {
	if ls, ok := m.db.FindLeaseSet(target); ok {
		return ls, nil
	}
	if len(excluded) >= MaxExcludedPerRequest {
		return nil, routererr.New(routererr.Unreachable, "netdb.Request", fmt.Errorf("excluded set exhausted for %s", target))
	}

	ff, ok := m.db.ClosestFloodfill(target, excluded, time.Now())
	if !ok {
		return nil, routererr.New(routererr.Unreachable, "netdb.Request", fmt.Errorf("no floodfill available for %s", target))
	}
	return m.query(ctx, lookup, target, excluded, ff)
}

// query sends one DatabaseLookup to peer. A reply naming further hashes is
// chased by querying each named hash directly, never by re-deriving a
// floodfill candidate from the local NetDB: a hash a reply suggests may not
// be locally known as a floodfill at all.
func (m *lookupManager) query(ctx context.Context, lookup Lookup, target identity.Hash, excluded map[identity.Hash]struct{}, peer identity.Hash) (*LeaseSet, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, LookupAttemptTimeout)
	reply, err := lookup.SendDatabaseLookup(attemptCtx, peer, target)
	cancel()
	if err != nil {
		m.db.UpdateProfile(peer, func(p *Profile) { p.RecordTunnelNonReplied() })
		excluded[peer] = struct{}{}
		select {
		case <-ctx.Done():
			return nil, routererr.New(routererr.Timeout, "netdb.Request", ctx.Err())
		default:
		}
		return m.step(ctx, lookup, target, excluded)
	}

	if reply.LeaseSet != nil {
		m.db.AddLeaseSet(reply.LeaseSet)
		return reply.LeaseSet, nil
	}

	excluded[peer] = struct{}{}
	for _, next := range reply.NextHashes {
		if _, skip := excluded[next]; skip {
			continue
		}
		if len(excluded) >= MaxExcludedPerRequest {
			break
		}
		if ls, err := m.query(ctx, lookup, target, excluded, next); err == nil {
			return ls, nil
		}
	}
	return nil, routererr.New(routererr.Unreachable, "netdb.Request", fmt.Errorf("lookup for %s exhausted all leads", target))
}
