package models

import "time"

// NetworkInterface is a current-state snapshot row: on each collection the
// previous rows for the host are replaced atomically (§3).
type NetworkInterface struct {
	Host      string
	Link      string
	Class     string
	State     string
	SpeedMbps float64
	ScanTimestamp time.Time
}

// NetworkUsage is a time-series sample of per-link traffic counters plus
// the deltas/rates computed against the previous sample (§4.6.2).
type NetworkUsage struct {
	Host             string
	Link             string
	ScanTimestamp    time.Time
	RBytes           uint64
	OBytes           uint64
	IPackets         uint64
	OPackets         uint64
	RBytesDelta      *uint64
	OBytesDelta      *uint64
	RxBps            *float64
	TxBps            *float64
	RxMbps           *float64
	TxMbps           *float64
	RxUtilizationPct *float64
	TxUtilizationPct *float64
}

// IPAddress is a current-state snapshot row.
type IPAddress struct {
	Host          string
	Link          string
	Address       string
	ScanTimestamp time.Time
}

// RoutingEntry is a current-state snapshot row.
type RoutingEntry struct {
	Host          string
	Destination   string
	Gateway       string
	Interface     string
	ScanTimestamp time.Time
}

// CPUStat is a per-core time-series sample with deltas computed from
// cumulative host counters.
type CPUStat struct {
	Host          string
	Core          string
	ScanTimestamp time.Time
	UserPct       *float64
	SystemPct     *float64
	IdlePct       *float64
}

// MemoryStat is a host-wide time-series sample.
type MemoryStat struct {
	Host          string
	ScanTimestamp time.Time
	TotalBytes    uint64
	FreeBytes     uint64
	UsedBytes     uint64
}

// SwapArea is a current-state snapshot row keyed by (host, swapfile).
type SwapArea struct {
	Host          string
	Swapfile      string
	TotalBytes    uint64
	FreeBytes     uint64
	ScanTimestamp time.Time
}

// Disk is a current-state snapshot row.
type Disk struct {
	Host          string
	Device        string
	SizeBytes     uint64
	ScanTimestamp time.Time
}

// DiskIOStat is a time-series sample.
type DiskIOStat struct {
	Host          string
	Device        string
	ScanTimestamp time.Time
	ReadsPerSec   *float64
	WritesPerSec  *float64
	ReadBps       *float64
	WriteBps      *float64
}

// PoolIOStat is a time-series sample for a ZFS pool.
type PoolIOStat struct {
	Host          string
	Pool          string
	ScanTimestamp time.Time
	ReadBps       *float64
	WriteBps      *float64
}

// ArcStat is a ZFS ARC time-series sample.
type ArcStat struct {
	Host          string
	ScanTimestamp time.Time
	SizeBytes     uint64
	TargetBytes   uint64
	HitRatioPct   *float64
}

// ZFSDataset is a current-state snapshot row.
type ZFSDataset struct {
	Host          string
	Name          string
	UsedBytes     uint64
	AvailBytes    uint64
	ScanTimestamp time.Time
}

// PCIDevice is a current-state snapshot row.
type PCIDevice struct {
	Host          string
	Slot          string
	Description   string
	ScanTimestamp time.Time
}

// HostInfo is the single-row-per-host table carrying last-scan timestamps
// and per-collector health (§4.6(5), §4.6(6), §SUPPLEMENTED FEATURES).
type HostInfo struct {
	Host                   string
	CPUCount               int
	TotalMemoryBytes       uint64
	NetworkAccountingOn    bool
	LastNetworkScan        *time.Time
	LastCPUScan            *time.Time
	LastMemoryScan         *time.Time
	LastSwapScan           *time.Time
	LastStorageScan        *time.Time
	LastArcScan            *time.Time
	CollectorErrors        map[string]int
	CollectorDisabled      map[string]bool
	CollectorLastError     map[string]string
}
