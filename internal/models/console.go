package models

import "time"

// ConsoleSessionStatus tracks the lifecycle of a zlogin console session.
type ConsoleSessionStatus string

const (
	ConsoleConnecting ConsoleSessionStatus = "connecting"
	ConsoleActive     ConsoleSessionStatus = "active"
	ConsoleClosed     ConsoleSessionStatus = "closed"
)

// ConsoleSession is the persisted record of a zone's zlogin console. At
// most one session may be Active per ZoneName (§3 I7). SessionBuffer
// persists a bounded tail of recent PTY output across agent restarts for
// forensic/reconnect context (§4.5).
type ConsoleSession struct {
	ID             string
	ZoneName       string
	PID            *int
	Status         ConsoleSessionStatus
	CreatedAt      time.Time
	LastAccessed   time.Time
	LastActivity   time.Time
	SessionBuffer  string
}
