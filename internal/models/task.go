package models

import "time"

// Priority totally orders Task scheduling precedence. Higher values run
// first; within a priority tier tasks run FIFO by CreatedAt.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// TaskStatus is the lifecycle state of a Task. The only legal transitions
// are pending->running->{completed,failed} and pending->cancelled.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Operation is the vocabulary of Task Engine operations (§6.2).
type Operation string

const (
	OpStart                     Operation = "start"
	OpStop                      Operation = "stop"
	OpDelete                    Operation = "delete"
	OpZoneCreate                Operation = "zone_create"
	OpZoneModify                Operation = "zone_modify"
	OpZoneProvisioningExtract   Operation = "zone_provisioning_extract"
	OpZoneSetup                 Operation = "zone_setup"
	OpZoneWaitSSH               Operation = "zone_wait_ssh"
	OpZoneSync                  Operation = "zone_sync"
	OpZoneSyncParent            Operation = "zone_sync_parent"
	OpZoneProvision             Operation = "zone_provision"
	OpZoneProvisionParent       Operation = "zone_provision_parent"
	OpZoneProvisionOrchestation Operation = "zone_provision_orchestration"
	OpCreateVNIC                Operation = "create_vnic"
	OpDeleteVNIC                Operation = "delete_vnic"
	OpSetVNICProperties         Operation = "set_vnic_properties"
	OpPkgInstall                Operation = "pkg_install"
	OpPkgUninstall              Operation = "pkg_uninstall"
	OpUserCreate                Operation = "user_create"
	OpUserModify                Operation = "user_modify"
	OpUserDelete                Operation = "user_delete"
	OpUserSetPassword           Operation = "user_set_password"
	OpUserLock                  Operation = "user_lock"
	OpUserUnlock                Operation = "user_unlock"
	OpGroupCreate               Operation = "group_create"
	OpGroupModify               Operation = "group_modify"
	OpGroupDelete               Operation = "group_delete"
	OpRoleCreate                Operation = "role_create"
	OpRoleModify                Operation = "role_modify"
	OpRoleDelete                Operation = "role_delete"
)

// mutexSet holds the operations for which two tasks against the same
// zone must never run concurrently (§4.3.3).
var mutexSet = map[Operation]bool{
	OpStart:                   true,
	OpStop:                    true,
	OpDelete:                  true,
	OpZoneCreate:              true,
	OpZoneModify:              true,
	OpZoneProvisioningExtract: true,
	OpZoneSetup:               true,
	OpZoneSync:                true,
	OpZoneProvision:           true,
}

// IsMutexOperation reports whether op belongs to the mutex set that
// serialises mutating operations against the same zone resource.
func IsMutexOperation(op Operation) bool {
	return mutexSet[op]
}

// Task is a unit of work serialised through the Task Engine. ZoneName is
// the literal "system" for host-scope tasks. DependsOn, when non-nil,
// must reference a Task whose completion unblocks this one (§3 I2/I3).
type Task struct {
	ID           string
	ZoneName     string
	Operation    Operation
	Priority     Priority
	Status       TaskStatus
	DependsOn    *string
	ParentTaskID *string
	Metadata     string // opaque JSON payload, schema defined per Operation
	CreatedBy    string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	Attempts     int
}

// Runnable reports whether t may be claimed by the dispatcher given the
// status of its dependency (already resolved by the caller) and whether
// a mutex-conflicting task is currently running for the same zone.
func (t *Task) Runnable(dependencyCompleted bool, mutexHeld bool) bool {
	if t.Status != TaskPending {
		return false
	}
	if t.DependsOn != nil && !dependencyCompleted {
		return false
	}
	if IsMutexOperation(t.Operation) && mutexHeld {
		return false
	}
	return true
}
