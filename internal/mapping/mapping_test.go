package mapping

import "testing"

func TestNetlinkFlagsToNMDevice(t *testing.T) {
	cases := []struct {
		name             string
		flags            uint32
		hasIPv4, hasIPv6 bool
		want             uint32
	}{
		{"down", 0, false, false, DeviceStateDisconnected},
		{"dormant", IFF_UP | IFF_DORMANT | IFF_RUNNING, false, false, DeviceStateUnavailable},
		{"up no carrier", IFF_UP, false, false, DeviceStateUnavailable},
		{"carrier no ip", IFF_UP | IFF_RUNNING, false, false, DeviceStateIPConfig},
		{"carrier lower-up no ip", IFF_UP | IFF_LOWER_UP, false, false, DeviceStateIPConfig},
		{"carrier with ipv4", IFF_UP | IFF_RUNNING, true, false, DeviceStateActivated},
		{"carrier with ipv6 only", IFF_UP | IFF_RUNNING, false, true, DeviceStateActivated},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NetlinkFlagsToNMDevice(tc.flags, tc.hasIPv4, tc.hasIPv6)
			if got != tc.want {
				t.Errorf("NetlinkFlagsToNMDevice(%#x, %v, %v) = %d, want %d", tc.flags, tc.hasIPv4, tc.hasIPv6, got, tc.want)
			}
		})
	}
}

func TestDeduceGlobalState(t *testing.T) {
	cases := []struct {
		name    string
		devices []DeviceSummary
		want    uint32
	}{
		{"no devices", nil, StateDisconnected},
		{"ip only", []DeviceSummary{{HasIP: true}}, StateConnectedLocal},
		{"ip and gateway", []DeviceSummary{{HasIP: true, HasGateway: true}}, StateConnectedGlobal},
		{"mixed, one global wins", []DeviceSummary{{HasIP: true}, {HasIP: true, HasGateway: true}}, StateConnectedGlobal},
		{"no ip at all", []DeviceSummary{{}}, StateDisconnected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeduceGlobalState(tc.devices); got != tc.want {
				t.Errorf("DeduceGlobalState(%+v) = %d, want %d", tc.devices, got, tc.want)
			}
		})
	}
}

func TestGlobalStateToConnectivity(t *testing.T) {
	cases := []struct {
		global uint32
		want   uint32
	}{
		{StateDisconnected, ConnectivityNone},
		{StateConnectedLocal, ConnectivityFull},
		{StateConnectedGlobal, ConnectivityFull},
		{99, ConnectivityUnknown},
	}
	for _, tc := range cases {
		if got := GlobalStateToConnectivity(tc.global); got != tc.want {
			t.Errorf("GlobalStateToConnectivity(%d) = %d, want %d", tc.global, got, tc.want)
		}
	}
}

func TestDeviceTypeToConnectionType(t *testing.T) {
	if got := DeviceTypeToConnectionType(DeviceTypeEthernet); got != "802-3-ethernet" {
		t.Errorf("ethernet: got %q", got)
	}
	if got := DeviceTypeToConnectionType(DeviceTypeWireGuard); got != "wireguard" {
		t.Errorf("wireguard: got %q", got)
	}
	if got := DeviceTypeToConnectionType(9999); got != "802-3-ethernet" {
		t.Errorf("unknown type should fall back to ethernet: got %q", got)
	}
}

func TestLinkKindToDeviceType(t *testing.T) {
	if got := LinkKindToDeviceType("wireguard"); got != DeviceTypeWireGuard {
		t.Errorf("wireguard kind: got %d, want %d", got, DeviceTypeWireGuard)
	}
	for _, kind := range []string{"", "bridge", "veth", "vlan"} {
		if got := LinkKindToDeviceType(kind); got != DeviceTypeEthernet {
			t.Errorf("kind %q: got %d, want Ethernet fallback", kind, got)
		}
	}
}

func TestFormatMAC(t *testing.T) {
	mac := []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	want := "AA:BB:CC:DD:EE:FF"
	if got := FormatMAC(mac); got != want {
		t.Errorf("FormatMAC = %q, want %q", got, want)
	}
	if got := FormatMAC(nil); got != "" {
		t.Errorf("FormatMAC(nil) = %q, want empty", got)
	}
}

func TestShouldIgnoreInterface(t *testing.T) {
	for _, name := range []string{"lo", "docker0", "veth1234", "br-abcdef", "virbr0", "vnet3", "wg0", "tun0", "tap0", "tailscale0", "podman0"} {
		if !ShouldIgnoreInterface(name) {
			t.Errorf("expected %q to be ignored", name)
		}
	}
	for _, name := range []string{"eth0", "enp3s0", "wlan0"} {
		if ShouldIgnoreInterface(name) {
			t.Errorf("expected %q not to be ignored", name)
		}
	}
}
