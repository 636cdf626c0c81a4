package scsi

import (
	"net"
	"os"
)

// Persistent reservation key layout: one prefix byte naming how the body
// was derived, then seven bytes of body.
const (
	KeyPrefixIPv4     = 0x01
	KeyPrefixIPv6     = 0x02
	KeyPrefixHostname = 0x03
)

// PRKeyLen is the length of a persistent reservation key.
const PRKeyLen = 8

// PERSISTENT RESERVE OUT service actions used by the tape layer.
const (
	PROutRegister               = 0x00
	PROutReserve                = 0x01
	PROutRelease                = 0x02
	PROutClear                  = 0x03
	PROutPreempt                = 0x04
	PROutPreemptAbort           = 0x05
	PROutRegisterIgnoreExisting = 0x06
)

// PERSISTENT RESERVE IN service actions.
const (
	PRInReadKeys        = 0x00
	PRInReadReservation = 0x01
	PRInReadFullStatus  = 0x03
)

// PRTypeExclusiveAccess is the reservation type taken for a mount.
const PRTypeExclusiveAccess = 0x03

// GenerateKey derives this host's reservation key: a type prefix and the
// first non-loopback interface address, falling back to the tail of the
// hostname when no interface qualifies.
func GenerateKey() [PRKeyLen]byte {
	var key [PRKeyLen]byte

	ifaces, err := net.Interfaces()
	if err == nil {
		for _, ifc := range ifaces {
			if ifc.Flags&net.FlagLoopback != 0 || ifc.Flags&net.FlagUp == 0 {
				continue
			}
			addrs, err := ifc.Addrs()
			if err != nil {
				continue
			}
			for _, addr := range addrs {
				ipnet, ok := addr.(*net.IPNet)
				if !ok || ipnet.IP.IsLoopback() {
					continue
				}
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					key[0] = KeyPrefixIPv4
					copy(key[4:], ip4)
					return key
				}
				key[0] = KeyPrefixIPv6
				// Last seven bytes keep the host part of the address.
				copy(key[1:], ipnet.IP[len(ipnet.IP)-7:])
				return key
			}
		}
	}

	key[0] = KeyPrefixHostname
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	if len(host) > 7 {
		host = host[len(host)-7:]
	}
	copy(key[1:], host)
	return key
}

// FullStatusDescriptor is one initiator's registration from PERSISTENT
// RESERVE IN, Read Full Status. The tape layer logs the holder hint on
// reservation conflicts.
type FullStatusDescriptor struct {
	Key              [PRKeyLen]byte
	HoldsReservation bool
	Type             byte
	TransportID      []byte
}

// ParseFullStatus decodes a Read Full Status parameter list.
func ParseFullStatus(b []byte) []FullStatusDescriptor {
	if len(b) < 8 {
		return nil
	}
	var out []FullStatusDescriptor
	total := int(Uint32(b[4:8]))
	if total > len(b)-8 {
		total = len(b) - 8
	}
	rest := b[8 : 8+total]
	for len(rest) >= 24 {
		var d FullStatusDescriptor
		copy(d.Key[:], rest[0:8])
		d.HoldsReservation = rest[12]&0x01 != 0
		d.Type = rest[13] & 0x0f
		tidLen := int(Uint32(rest[20:24]))
		if tidLen > len(rest)-24 {
			tidLen = len(rest) - 24
		}
		d.TransportID = append([]byte(nil), rest[24:24+tidLen]...)
		out = append(out, d)
		rest = rest[24+tidLen:]
	}
	return out
}
