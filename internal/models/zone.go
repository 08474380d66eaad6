package models

import "time"

// ZoneStatus mirrors the last observed host state for a zone.
type ZoneStatus string

const (
	ZoneConfigured   ZoneStatus = "configured"
	ZoneInstalled    ZoneStatus = "installed"
	ZoneReady        ZoneStatus = "ready"
	ZoneRunning      ZoneStatus = "running"
	ZoneShuttingDown ZoneStatus = "shutting_down"
	ZoneDown         ZoneStatus = "down"
	ZoneIncomplete   ZoneStatus = "incomplete"
)

// Zone is the agent's record of an illumos-branded or bhyve zone. Configuration
// is an opaque JSON document and the source of truth for provisioning
// metadata; Configuration.provisioning may be mutated without queueing a
// task (§3 I6).
type Zone struct {
	Name           string
	ZoneID         string
	Host           string
	Brand          string
	Status         ZoneStatus
	Configuration  string
	IsOrphaned     bool
	AutoDiscovered bool
	LastSeen       time.Time
}

// Reconcile updates Status from an observed host status string and sets
// IsOrphaned when the host no longer reports the zone at all (§3 I5).
func (z *Zone) Reconcile(observed ZoneStatus, seenOnHost bool) {
	if !seenOnHost {
		z.IsOrphaned = true
		return
	}
	z.IsOrphaned = false
	z.Status = observed
	z.LastSeen = time.Now()
}
