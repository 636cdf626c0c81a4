package scsi

import "time"

// DriveFamily selects the default per-opcode timeout table. The drive's
// REPORT SUPPORTED OPERATION CODES data takes precedence when available;
// these are the fallbacks per vendor and generation.
type DriveFamily int

const (
	FamilyUnknown DriveFamily = iota
	FamilyLTO5
	FamilyLTO5HH
	FamilyLTO6
	FamilyLTO6HH
	FamilyLTO7
	FamilyLTO7HH
	FamilyLTO8
	FamilyLTO8HH
	FamilyLTO9
	FamilyLTO9HH
	FamilyJAG4
	FamilyJAG5
	FamilyJAG6
	FamilyJAG7
)

// HalfHeight reports whether the family is a half-height LTO drive.
func (f DriveFamily) HalfHeight() bool {
	switch f {
	case FamilyLTO5HH, FamilyLTO6HH, FamilyLTO7HH, FamilyLTO8HH, FamilyLTO9HH:
		return true
	}
	return false
}

// LTOGeneration returns the LTO generation of f, or 0 for enterprise and
// unknown drives. The logical block protection method selection keys off
// generation 7.
func (f DriveFamily) LTOGeneration() int {
	switch f {
	case FamilyLTO5, FamilyLTO5HH:
		return 5
	case FamilyLTO6, FamilyLTO6HH:
		return 6
	case FamilyLTO7, FamilyLTO7HH:
		return 7
	case FamilyLTO8, FamilyLTO8HH:
		return 8
	case FamilyLTO9, FamilyLTO9HH:
		return 9
	}
	return 0
}

// Enterprise reports whether the family is an enterprise (Jaguar) drive.
func (f DriveFamily) Enterprise() bool {
	switch f {
	case FamilyJAG4, FamilyJAG5, FamilyJAG6, FamilyJAG7:
		return true
	}
	return false
}

type timeoutSecs map[byte]int

// baseTimeouts covers the administrative commands shared by every
// family.
var baseTimeouts = timeoutSecs{
	OpInquiry:              60,
	OpLogSelect:            60,
	OpLogSense:             60,
	OpModeSelect6:          60,
	OpModeSelect10:         60,
	OpModeSense6:           60,
	OpModeSense10:          60,
	OpPersistentReserveIn:  60,
	OpPersistentReserveOut: 60,
	OpReadAttribute:        60,
	OpWriteAttribute:       60,
	OpReleaseUnit6:         60,
	OpReserveUnit6:         60,
	OpTestUnitReady:        60,
	OpAllowOverwrite:       60,
	OpPreventAllowRemoval:  60,
	OpReadBlockLimits:      60,
	OpReadPosition:         60,
	OpSecurityProtocolIn:   60,
	OpSecurityProtocolOut:  60,
	OpMaintenanceIn:        60,
}

// Motion command timeouts per family, in seconds, from the drive vendor
// defaults.
var familyTimeouts = map[DriveFamily]timeoutSecs{
	FamilyLTO5: {
		OpErase: 16380, OpFormatMedium: 1560, OpLoadUnload: 780,
		OpLocate16: 2040, OpRead: 1500, OpReadBuffer: 480, OpRewind: 600,
		OpSetCapacity: 780, OpSpace6: 2040, OpSpace16: 2040,
		OpWrite: 1500, OpWriteFilemarks: 1620,
	},
	FamilyLTO5HH: {
		OpErase: 19200, OpFormatMedium: 1980, OpLoadUnload: 1020,
		OpLocate16: 2700, OpRead: 1920, OpReadBuffer: 660, OpRewind: 780,
		OpSetCapacity: 960, OpSpace6: 2700, OpSpace16: 2700,
		OpWrite: 1920, OpWriteFilemarks: 1740,
	},
	FamilyLTO6: {
		OpErase: 24600, OpFormatMedium: 3000, OpLoadUnload: 780,
		OpLocate16: 2940, OpRead: 1500, OpReadBuffer: 480, OpRewind: 600,
		OpSetCapacity: 780, OpSpace6: 2040, OpSpace16: 2040,
		OpWrite: 1500, OpWriteFilemarks: 1620,
	},
	FamilyLTO6HH: {
		OpErase: 29400, OpFormatMedium: 3840, OpLoadUnload: 1020,
		OpLocate16: 2700, OpRead: 1920, OpReadBuffer: 660, OpRewind: 780,
		OpSetCapacity: 960, OpSpace6: 2700, OpSpace16: 2700,
		OpWrite: 1920, OpWriteFilemarks: 1740,
	},
	FamilyLTO7: {
		OpErase: 27540, OpFormatMedium: 3000, OpLoadUnload: 960,
		OpLocate16: 2880, OpRead: 2280, OpReadBuffer: 480, OpRewind: 600,
		OpSetCapacity: 780, OpSpace6: 2880, OpSpace16: 2880,
		OpWrite: 1500, OpWriteFilemarks: 1620,
	},
	FamilyLTO7HH: {
		OpErase: 27540, OpFormatMedium: 3240, OpLoadUnload: 960,
		OpLocate16: 2940, OpRead: 2340, OpReadBuffer: 480, OpRewind: 600,
		OpSetCapacity: 960, OpSpace6: 2940, OpSpace16: 2940,
		OpWrite: 1560, OpWriteFilemarks: 1680,
	},
	FamilyLTO8: {
		OpErase: 54896, OpFormatMedium: 3000, OpLoadUnload: 960,
		OpLocate16: 2880, OpRead: 2280, OpReadBuffer: 480, OpRewind: 600,
		OpSetCapacity: 780, OpSpace6: 2880, OpSpace16: 2880,
		OpWrite: 1500, OpWriteFilemarks: 1620,
	},
	FamilyLTO8HH: {
		OpErase: 121448, OpFormatMedium: 3240, OpLoadUnload: 960,
		OpLocate16: 2940, OpRead: 2340, OpReadBuffer: 480, OpRewind: 600,
		OpSetCapacity: 960, OpSpace6: 2940, OpSpace16: 2940,
		OpWrite: 1560, OpWriteFilemarks: 1680,
	},
	FamilyLTO9: {
		OpErase: 74341, OpFormatMedium: 3000, OpLoadUnload: 960,
		OpLocate16: 2940, OpRead: 2340, OpReadBuffer: 480, OpRewind: 600,
		OpSetCapacity: 780, OpSpace6: 2940, OpSpace16: 2940,
		OpWrite: 1500, OpWriteFilemarks: 1620,
	},
	FamilyLTO9HH: {
		OpErase: 166370, OpFormatMedium: 3240, OpLoadUnload: 960,
		OpLocate16: 2940, OpRead: 2340, OpReadBuffer: 480, OpRewind: 600,
		OpSetCapacity: 960, OpSpace6: 2940, OpSpace16: 2940,
		OpWrite: 1560, OpWriteFilemarks: 1680,
	},
	FamilyJAG4: {
		OpErase: 36900, OpFormatMedium: 2100, OpLoadUnload: 900,
		OpLocate16: 2300, OpRead: 1200, OpReadBuffer: 300, OpRewind: 540,
		OpSetCapacity: 900, OpSpace6: 2300, OpSpace16: 2300,
		OpWrite: 1200, OpWriteFilemarks: 1100,
	},
	FamilyJAG5: {
		OpErase: 46000, OpFormatMedium: 2100, OpLoadUnload: 900,
		OpLocate16: 2300, OpRead: 1200, OpReadBuffer: 300, OpRewind: 540,
		OpSetCapacity: 900, OpSpace6: 2300, OpSpace16: 2300,
		OpWrite: 1200, OpWriteFilemarks: 1100,
	},
	FamilyJAG6: {
		OpErase: 53000, OpFormatMedium: 2100, OpLoadUnload: 900,
		OpLocate16: 2300, OpRead: 1200, OpReadBuffer: 300, OpRewind: 540,
		OpSetCapacity: 900, OpSpace6: 2300, OpSpace16: 2300,
		OpWrite: 1200, OpWriteFilemarks: 1100,
	},
	FamilyJAG7: {
		OpErase: 62000, OpFormatMedium: 2100, OpLoadUnload: 900,
		OpLocate16: 2300, OpRead: 1200, OpReadBuffer: 300, OpRewind: 540,
		OpSetCapacity: 900, OpSpace6: 2300, OpSpace16: 2300,
		OpWrite: 1200, OpWriteFilemarks: 1100,
	},
}

// Timeouts resolves per-opcode command timeouts for one drive. Reported
// values from REPORT SUPPORTED OPERATION CODES override the family
// defaults.
type Timeouts struct {
	family   DriveFamily
	reported timeoutSecs
}

func NewTimeouts(family DriveFamily) *Timeouts {
	return &Timeouts{family: family}
}

// SetReported installs a drive-reported timeout for one opcode.
func (t *Timeouts) SetReported(opcode byte, d time.Duration) {
	if t.reported == nil {
		t.reported = make(timeoutSecs)
	}
	t.reported[opcode] = int(d / time.Second)
}

// Get returns the timeout for opcode. Unknown opcodes get a conservative
// default rather than an error: the drive enforces its own limits.
func (t *Timeouts) Get(opcode byte) time.Duration {
	if secs, ok := t.reported[opcode]; ok {
		return time.Duration(secs) * time.Second
	}
	if m, ok := familyTimeouts[t.family]; ok {
		if secs, ok := m[opcode]; ok {
			return time.Duration(secs) * time.Second
		}
	}
	if secs, ok := baseTimeouts[opcode]; ok {
		return time.Duration(secs) * time.Second
	}
	return 300 * time.Second
}
