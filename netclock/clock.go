// Package netclock supplies the router's notion of wall-clock time plus an
// optional NTP-checked skew estimate — I2P tunnel and lease-set
// expirations are wall-clock sensitive, so a router running with a badly
// skewed clock silently builds tunnels it believes are fresh but peers
// reject as expired.
package netclock

import (
	"time"

	"github.com/beevik/ntp"
	"github.com/sirupsen/logrus"
)

// Clock is the upstream time collaborator. Seconds/Millis give Unix time;
// tests substitute a fake implementation to control expiration logic
// deterministically.
type Clock interface {
	Now() time.Time
	Seconds() int64
	Millis() int64
}

// System is the production Clock backed by time.Now.
type System struct{}

func (System) Now() time.Time { return time.Now() }
func (System) Seconds() int64 { return time.Now().Unix() }
func (System) Millis() int64  { return time.Now().UnixMilli() }

// SkewChecker periodically queries an NTP server and logs a warning when
// local clock skew exceeds a threshold. It does not correct the clock; it
// only surfaces the condition; the router core treats the OS clock as
// ground truth.
type SkewChecker struct {
	Server    string
	Threshold time.Duration
	log       *logrus.Entry
}

func NewSkewChecker(server string, threshold time.Duration) *SkewChecker {
	return &SkewChecker{
		Server:    server,
		Threshold: threshold,
		log:       logrus.WithField("component", "netclock"),
	}
}

// Check queries the configured NTP server once and returns the measured
// skew (ntp's ClockOffset: server time minus local time). A non-nil error means the query failed; callers
// should not treat that as a fatal condition.
func (s *SkewChecker) Check() (time.Duration, error) {
	resp, err := ntp.Query(s.Server)
	if err != nil {
		return 0, err
	}
	skew := resp.ClockOffset
	if abs(skew) > s.Threshold {
		s.log.WithFields(logrus.Fields{
			"skew":      skew,
			"threshold": s.Threshold,
		}).Warn("local clock skew exceeds threshold")
	}
	return skew, nil
}

// Run polls Check on the given interval until stop is closed.
func (s *SkewChecker) Run(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if _, err := s.Check(); err != nil {
				s.log.WithError(err).Debug("ntp skew check failed")
			}
		}
	}
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
