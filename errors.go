package ltfs

import "syscall"

// Error is the closed error set of the filesystem layers. Low-level SCSI
// conditions are translated exactly once (sense data to a scsi.Code) and
// surface here untouched; everything above the tape layer speaks Error.
type Error int

const (
	// Resource
	ErrNullArg Error = iota + 1
	ErrNoMemory
	ErrBadArg
	ErrLargeXattr
	ErrSmallBuffer

	// Device
	ErrDeviceUnready
	ErrDeviceFenced
	ErrTimeout
	ErrReservationConflict
	ErrConnectionLost
	ErrNeedFailover

	// Medium
	ErrNoSpace
	ErrLessSpace
	ErrWritePerm
	ErrReadPerm
	ErrCryptoError
	ErrKeyRequired
	ErrKeyNotFound
	ErrKeyChangeDetected
	ErrCleaningRequired

	// Format
	ErrInvalidLabel
	ErrLabelMismatch
	ErrLabelPossibleValid
	ErrUnsupportedIndexVersion
	ErrIndexInvalid
	ErrNoIndex
	ErrBothEODMissing
	ErrInconsistent
	ErrUnexpectedEOD
	ErrUnexpectedFM

	// Name
	ErrInvalidPath
	ErrInvalidSrcPath
	ErrNameTooLong
	ErrDentryExists
	ErrNoDentry

	// Semantic
	ErrRdonlyVolume
	ErrUnlinkRoot
	ErrDirNotEmpty
	ErrIsFile
	ErrIsDirectory
	ErrDirMove
	ErrRenameLoop
	ErrWormEnabled
	ErrRestartOperation

	// Plugin / xattr
	ErrPluginIncomplete
	ErrXattrNamespace
	ErrNoXattr
	ErrRdonlyXattr
	ErrXattrExists
	ErrInvalidSequence
)

var errText = map[Error]string{
	ErrNullArg:                 "null argument",
	ErrNoMemory:                "out of memory",
	ErrBadArg:                  "invalid argument",
	ErrLargeXattr:              "extended attribute too large",
	ErrSmallBuffer:             "buffer too small",
	ErrDeviceUnready:           "device not ready",
	ErrDeviceFenced:            "device fenced",
	ErrTimeout:                 "command timed out",
	ErrReservationConflict:     "reservation conflict",
	ErrConnectionLost:          "connection to device lost",
	ErrNeedFailover:            "failover required",
	ErrNoSpace:                 "no space left on tape",
	ErrLessSpace:               "insufficient space left on tape",
	ErrWritePerm:               "permanent write error",
	ErrReadPerm:                "permanent read error",
	ErrCryptoError:             "cryptographic error",
	ErrKeyRequired:             "encryption key required",
	ErrKeyNotFound:             "encryption key not found",
	ErrKeyChangeDetected:       "encryption key change detected",
	ErrCleaningRequired:        "drive cleaning required",
	ErrInvalidLabel:            "invalid partition label",
	ErrLabelMismatch:           "partition labels do not match",
	ErrLabelPossibleValid:      "partition label possibly valid",
	ErrUnsupportedIndexVersion: "unsupported index version",
	ErrIndexInvalid:            "index is not valid",
	ErrNoIndex:                 "no index found",
	ErrBothEODMissing:          "end of data missing on both partitions",
	ErrInconsistent:            "volume is inconsistent",
	ErrUnexpectedEOD:           "end of data detected unexpectedly",
	ErrUnexpectedFM:            "filemark detected unexpectedly",
	ErrInvalidPath:             "invalid path",
	ErrInvalidSrcPath:          "invalid source path",
	ErrNameTooLong:             "name too long",
	ErrDentryExists:            "name already exists",
	ErrNoDentry:                "no such file or directory",
	ErrRdonlyVolume:            "volume is read-only",
	ErrUnlinkRoot:              "cannot unlink the root directory",
	ErrDirNotEmpty:             "directory not empty",
	ErrIsFile:                  "target is a file",
	ErrIsDirectory:             "target is a directory",
	ErrDirMove:                 "directory move rejected",
	ErrRenameLoop:              "rename would create a loop",
	ErrWormEnabled:             "operation rejected by WORM attribute",
	ErrRestartOperation:        "operation must be restarted",
	ErrPluginIncomplete:        "plugin does not implement required operations",
	ErrXattrNamespace:          "unsupported extended attribute namespace",
	ErrNoXattr:                 "no such extended attribute",
	ErrRdonlyXattr:             "extended attribute is read-only",
	ErrXattrExists:             "extended attribute already exists",
	ErrInvalidSequence:         "call sequence not permitted",
}

func (e Error) Error() string {
	if s, ok := errText[e]; ok {
		return s
	}
	return "unknown error"
}

// Errno maps an Error to the OS error number handed to a filesystem
// adapter. Called exactly once, at the adapter boundary.
func (e Error) Errno() syscall.Errno {
	switch e {
	case ErrNullArg, ErrBadArg:
		return syscall.EINVAL
	case ErrNoMemory:
		return syscall.ENOMEM
	case ErrLargeXattr:
		return syscall.E2BIG
	case ErrSmallBuffer:
		return syscall.ERANGE
	case ErrDeviceUnready, ErrDeviceFenced, ErrConnectionLost, ErrNeedFailover:
		return syscall.EIO
	case ErrTimeout:
		return syscall.ETIMEDOUT
	case ErrReservationConflict:
		return syscall.EBUSY
	case ErrNoSpace, ErrLessSpace:
		return syscall.ENOSPC
	case ErrInvalidPath, ErrInvalidSrcPath:
		return syscall.EINVAL
	case ErrNameTooLong:
		return syscall.ENAMETOOLONG
	case ErrDentryExists, ErrXattrExists:
		return syscall.EEXIST
	case ErrNoDentry:
		return syscall.ENOENT
	case ErrNoXattr:
		return syscall.ENODATA
	case ErrRdonlyVolume, ErrRdonlyXattr, ErrWormEnabled:
		return syscall.EROFS
	case ErrUnlinkRoot, ErrDirNotEmpty:
		return syscall.ENOTEMPTY
	case ErrIsFile:
		return syscall.ENOTDIR
	case ErrIsDirectory:
		return syscall.EISDIR
	case ErrRenameLoop:
		return syscall.EINVAL
	case ErrXattrNamespace:
		return syscall.EOPNOTSUPP
	case ErrRestartOperation:
		return syscall.EAGAIN
	}
	return syscall.EIO
}
