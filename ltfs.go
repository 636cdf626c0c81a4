// Package ltfs holds the types shared by every layer of the Linear Tape
// File System implementation: the closed error set, mount types and the
// volume lock states that are persisted to cartridge MAM.
//
// The actual filesystem lives in internal/libltfs; the tape command layer
// in internal/scsi and internal/tape.
package ltfs

// MountType selects how a volume is mounted.
type MountType int

const (
	// MountRW is an ordinary read-write mount.
	MountRW MountType = iota

	// MountRollback mounts a historic index read-only.
	MountRollback

	// MountRollbackMeta mounts a historic index read-only without making
	// file data accessible (metadata inspection only).
	MountRollbackMeta
)

func (m MountType) String() string {
	switch m {
	case MountRW:
		return "rw"
	case MountRollback:
		return "rollback"
	case MountRollbackMeta:
		return "rollback-meta"
	}
	return "unknown"
}

// VolumeLockState is the advisory lock state stored in the index and
// mirrored to the LOCKED_MAM attribute. The PWE states record that a
// permanent write error occurred on one or both partitions.
type VolumeLockState int

const (
	VolumeUnlocked VolumeLockState = iota
	VolumeLocked
	VolumePermLocked
	VolumePWE
	VolumePWEDP
	VolumePWEIP
	VolumePWEBoth
)

var lockStateNames = map[VolumeLockState]string{
	VolumeUnlocked:   "unlocked",
	VolumeLocked:     "locked",
	VolumePermLocked: "permlocked",
	VolumePWE:        "pwe",
	VolumePWEDP:      "pwe-dp",
	VolumePWEIP:      "pwe-ip",
	VolumePWEBoth:    "pwe-both",
}

func (s VolumeLockState) String() string {
	if n, ok := lockStateNames[s]; ok {
		return n
	}
	return "unknown"
}

// ParseVolumeLockState is the inverse of VolumeLockState.String. The bool
// result reports whether the input named a known state.
func ParseVolumeLockState(s string) (VolumeLockState, bool) {
	for state, name := range lockStateNames {
		if name == s {
			return state, true
		}
	}
	return VolumeUnlocked, false
}

// SyncReason describes what triggered an index write. It ends up in the
// commit message of the written index.
type SyncReason int

const (
	SyncFormat SyncReason = iota
	SyncUnmount
	SyncPeriodic
	SyncEA
	SyncAdvisoryLock
	SyncRecovery
	SyncRollback
	SyncCaseSensitive
)

func (r SyncReason) String() string {
	switch r {
	case SyncFormat:
		return "Format"
	case SyncUnmount:
		return "Unmount"
	case SyncPeriodic:
		return "Sync-by-Time"
	case SyncEA:
		return "Manual (Virtual EA)"
	case SyncAdvisoryLock:
		return "Advisory Lock"
	case SyncRecovery:
		return "Recovery"
	case SyncRollback:
		return "Rollback"
	case SyncCaseSensitive:
		return "Case Sensitive"
	}
	return "Unknown"
}
