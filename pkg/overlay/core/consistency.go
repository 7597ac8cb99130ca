package core

import (
	"time"

	"github.com/filemesh/filemesh/pkg/overlay/codec"
	"github.com/filemesh/filemesh/pkg/overlay/types"
)

// ConsistencyChecker implements the pull-model replica refresh loop of
// spec §4.5: every period, probe the origin of every replica this leaf
// holds, and act on its verdict. It only runs when the leaf's
// ConsistencyModel.Pull is true; push-model leaves never construct one.
type ConsistencyChecker struct {
	leaf   *Leaf
	period time.Duration
	ttr    time.Duration
	done   chan struct{}
}

// NewConsistencyChecker builds a checker for leaf using its configured
// TTR. The sweep period is the fixed P=30s from spec §4.5 regardless of
// TTR, since TTR only gates which replicas are due, not how often the
// checker wakes up.
func NewConsistencyChecker(l *Leaf) *ConsistencyChecker {
	return &ConsistencyChecker{
		leaf:   l,
		period: time.Duration(types.ConsistencyCheckPeriodSeconds) * time.Second,
		ttr:    time.Duration(l.Model.TTR) * time.Minute,
		done:   make(chan struct{}),
	}
}

// Run drives the sweep loop until Stop is called. It is meant to be
// handed to Invoker.Spawn by the caller, mirroring every other
// background task in this package.
func (c *ConsistencyChecker) Run() {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// Stop ends the sweep loop.
func (c *ConsistencyChecker) Stop() {
	close(c.done)
}

// SweepNow runs one probe pass immediately, outside the ticker cadence.
// Exposed for tests that need a deterministic point to assert the
// pull-model verdict rather than waiting out a full P-second period.
func (c *ConsistencyChecker) SweepNow() {
	c.sweep()
}

// sweep probes every non-owned replica whose last check is at least TTR
// stale, per spec §4.5: "a replica older than TTR minutes since its last
// check is considered due for a freshness probe."
func (c *ConsistencyChecker) sweep() {
	l := c.leaf
	now := time.Now()
	for _, fi := range l.registry.Snapshot() {
		if fi.IsOriginatedBy(l.Self) {
			continue // only replicas are polled; the origin never probes itself.
		}
		due, lastChecked := l.registry.duePoll(fi.Name, now, c.ttr)
		if !due {
			continue
		}
		c.probe(fi, lastChecked)
	}
}

// probe issues one status request to fi.Origin and applies its verdict.
func (c *ConsistencyChecker) probe(fi types.FileInfo, _ time.Time) {
	l := c.leaf
	// Spec §7: a failed probe (connect, write, or read) counts as "no
	// result this tick" and must not update last_checked, so next
	// period's sweep retries it. last_checked is only stamped once a
	// reply has actually been read.
	conn, err := DialAndHandshake(fi.Origin, l.Self)
	if err != nil {
		l.log.Warnf("status probe to origin %s for %s failed to connect: %v", fi.Origin, fi.Name, err)
		return
	}
	defer conn.Close()

	if err := conn.WriteLine(codec.EncodeStatus(fi)); err != nil {
		l.log.Warnf("status probe write to %s failed: %v", fi.Origin, err)
		return
	}
	if l.metrics != nil {
		l.metrics.StatusProbesSent.Inc()
	}

	reply, err := conn.ReadLine()
	if err != nil {
		l.log.Warnf("status probe read from %s failed: %v", fi.Origin, err)
		return
	}
	l.registry.recordPoll(fi.Name, time.Now())

	switch reply {
	case codec.ReplyDeleted:
		l.dropReplica(fi.Name, true)
	case codec.ReplyOutdated:
		// Spec §8 scenario 4: deregister the stale entry but leave the
		// file itself in downloads/ until a refresh actually overwrites
		// it with the new version.
		l.dropReplica(fi.Name, false)
	case codec.ReplyUpToDate:
		// nothing to do.
	default:
		l.log.Warnf("unexpected status reply %q from %s", reply, fi.Origin)
	}
}
