// Package mapping holds the pure functions that translate kernel-observed
// facts (link flags, IP presence) into NetworkManager's own enumerations.
// Nothing here touches the network or the bus; every function is a value
// transform so it can be exercised directly from tests.
package mapping

import "strings"

// NetworkManager device state (NMDeviceState).
const (
	DeviceStateUnknown      uint32 = 0
	DeviceStateUnavailable  uint32 = 20
	DeviceStateDisconnected uint32 = 30
	DeviceStateIPConfig     uint32 = 70
	DeviceStateActivated    uint32 = 100
)

// NetworkManager global state (NMState).
const (
	StateDisconnected    uint32 = 20
	StateConnectedLocal  uint32 = 50
	StateConnectedGlobal uint32 = 70
)

// NetworkManager connectivity state (NMConnectivityState).
const (
	ConnectivityUnknown uint32 = 0
	ConnectivityNone    uint32 = 1
	ConnectivityFull    uint32 = 4
)

// NetworkManager active connection state (NMActiveConnectionState).
const (
	ActiveConnectionStateUnknown     uint32 = 0
	ActiveConnectionStateActivated   uint32 = 2
	ActiveConnectionStateDeactivated uint32 = 4
)

// NetworkManager device type (NMDeviceType). Only the two kinds this bridge
// can ever synthesize are named; anything else falls back to Ethernet.
const (
	DeviceTypeEthernet  uint32 = 1
	DeviceTypeWireGuard uint32 = 29
)

// Linux interface flags (linux/if.h), as observed on rtnetlink link messages.
const (
	IFF_UP       uint32 = 0x1
	IFF_RUNNING  uint32 = 0x40
	IFF_LOWER_UP uint32 = 0x10000
	IFF_DORMANT  uint32 = 0x20000
)

// IgnoredInterfacePrefixes lists the interface-name prefixes that this
// bridge never models as a device: loopback, container/VPN virtual
// interfaces, and anything else that isn't a physical or WireGuard link the
// user would expect NetworkManager to show.
var IgnoredInterfacePrefixes = []string{
	"lo",
	"docker",
	"veth",
	"br-",
	"virbr",
	"vnet",
	"wg",
	"tun",
	"tap",
	"tailscale",
	"podman",
}

// ShouldIgnoreInterface reports whether name matches one of the ignored
// prefixes.
func ShouldIgnoreInterface(name string) bool {
	for _, prefix := range IgnoredInterfacePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// NetlinkFlagsToNMDevice maps kernel link flags plus current IP presence to
// an NMDeviceState, per the rule in spec.md §4.1.
func NetlinkFlagsToNMDevice(flags uint32, hasIPv4, hasIPv6 bool) uint32 {
	if flags&IFF_UP == 0 {
		return DeviceStateDisconnected
	}

	if flags&IFF_DORMANT != 0 {
		return DeviceStateUnavailable
	}

	hasCarrier := flags&IFF_RUNNING != 0 || flags&IFF_LOWER_UP != 0
	hasIP := hasIPv4 || hasIPv6

	switch {
	case !hasCarrier:
		return DeviceStateUnavailable
	case !hasIP:
		return DeviceStateIPConfig
	default:
		return DeviceStateActivated
	}
}

// DeviceSummary is the minimal view of a device deduceGlobalState needs; it
// exists so mapping stays independent of the state package's concrete
// DeviceInfo type.
type DeviceSummary struct {
	HasIP      bool
	HasGateway bool
}

// DeduceGlobalState computes the NMState from the set of known devices: any
// device with both an IP and a gateway makes the whole host globally
// connected; any device with just an IP makes it locally connected;
// otherwise disconnected.
func DeduceGlobalState(devices []DeviceSummary) uint32 {
	hasLocal := false
	for _, d := range devices {
		if d.HasIP {
			hasLocal = true
			if d.HasGateway {
				return StateConnectedGlobal
			}
		}
	}
	if hasLocal {
		return StateConnectedLocal
	}
	return StateDisconnected
}

// GlobalStateToConnectivity derives NMConnectivityState from NMState. A
// read-only bridge never probes the Internet, so any connected state is
// reported as Full connectivity.
func GlobalStateToConnectivity(globalState uint32) uint32 {
	switch {
	case globalState >= StateConnectedLocal && globalState <= StateConnectedGlobal:
		return ConnectivityFull
	case globalState == StateDisconnected:
		return ConnectivityNone
	default:
		return ConnectivityUnknown
	}
}

// LinkKindToDeviceType maps the kernel's IFLA_INFO_KIND link-type string to
// an NMDeviceType. Anything not recognized (including physical Ethernet,
// which has no IFLA_INFO_KIND at all) falls back to Ethernet, per spec.md
// §3 "Fixed at creation" and the WireGuard supplement in SPEC_FULL.md.
func LinkKindToDeviceType(kind string) uint32 {
	if kind == "wireguard" {
		return DeviceTypeWireGuard
	}
	return DeviceTypeEthernet
}

// DeviceTypeToConnectionType maps an NMDeviceType to the NM connection-type
// string used in Settings.Connection "connection.type" and ActiveConnection
// "Type".
func DeviceTypeToConnectionType(deviceType uint32) string {
	switch deviceType {
	case DeviceTypeWireGuard:
		return "wireguard"
	default:
		return "802-3-ethernet"
	}
}

// FormatMAC renders raw hardware-address bytes as uppercase colon-separated
// hex, e.g. []byte{0xAA, 0xBB} -> "AA:BB".
func FormatMAC(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var b strings.Builder
	const hexDigits = "0123456789ABCDEF"
	for i, c := range raw {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}
