package state

import (
	"testing"

	"nmlinkd/internal/mapping"
)

func TestUpdateStateOnLinkChangeClearsGateway(t *testing.T) {
	d := NewDeviceInfo(2, "eth0", mapping.DeviceTypeEthernet)
	d.NMState = mapping.DeviceStateActivated
	d.Gateway4 = "192.0.2.1"

	newState, oldState, changed := d.UpdateStateOnLinkChange(0) // link down
	if !changed {
		t.Fatal("expected a state change")
	}
	if oldState != mapping.DeviceStateActivated {
		t.Errorf("oldState = %d, want Activated", oldState)
	}
	if newState != mapping.DeviceStateDisconnected {
		t.Errorf("newState = %d, want Disconnected", newState)
	}
	if d.Gateway4 != "" {
		t.Errorf("Gateway4 = %q, want cleared", d.Gateway4)
	}
}

func TestUpdateStateOnLinkChangeNoop(t *testing.T) {
	d := NewDeviceInfo(2, "eth0", mapping.DeviceTypeEthernet)
	d.NMState = mapping.DeviceStateUnavailable
	d.LinkFlags = mapping.IFF_UP

	_, _, changed := d.UpdateStateOnLinkChange(mapping.IFF_UP)
	if changed {
		t.Fatal("expected no state change for identical flags")
	}
}

func TestUpdateStateOnIPChangeIgnoresBelowIPConfig(t *testing.T) {
	d := NewDeviceInfo(2, "eth0", mapping.DeviceTypeEthernet)
	d.NMState = mapping.DeviceStateUnavailable

	d.IPv4Addrs = []AddrInfo{{Address: "192.0.2.5", PrefixLen: 24}}
	newState, oldState, changed := d.UpdateStateOnIPChange()
	if changed {
		t.Fatal("an address arriving on a carrier-less device should not change NMState here")
	}
	if newState != oldState || newState != mapping.DeviceStateUnavailable {
		t.Errorf("state = %d, want unchanged Unavailable", newState)
	}
}

func TestUpdateStateOnIPChangePromotesToActivated(t *testing.T) {
	d := NewDeviceInfo(2, "eth0", mapping.DeviceTypeEthernet)
	d.NMState = mapping.DeviceStateIPConfig

	d.IPv4Addrs = []AddrInfo{{Address: "192.0.2.5", PrefixLen: 24}}
	newState, oldState, changed := d.UpdateStateOnIPChange()
	if !changed {
		t.Fatal("expected promotion to Activated")
	}
	if oldState != mapping.DeviceStateIPConfig || newState != mapping.DeviceStateActivated {
		t.Errorf("got old=%d new=%d, want IpConfig -> Activated", oldState, newState)
	}
}

func TestUpdateStateOnIPChangeDemotesToIPConfig(t *testing.T) {
	d := NewDeviceInfo(2, "eth0", mapping.DeviceTypeEthernet)
	d.NMState = mapping.DeviceStateActivated
	d.IPv4Addrs = nil

	newState, oldState, changed := d.UpdateStateOnIPChange()
	if !changed {
		t.Fatal("expected demotion to IpConfig")
	}
	if oldState != mapping.DeviceStateActivated || newState != mapping.DeviceStateIPConfig {
		t.Errorf("got old=%d new=%d, want Activated -> IpConfig", oldState, newState)
	}
}

func TestRecomputeGlobalState(t *testing.T) {
	s := newAppState()
	s.Devices[2] = NewDeviceInfo(2, "eth0", mapping.DeviceTypeEthernet)
	s.Devices[2].IPv4Addrs = []AddrInfo{{Address: "192.0.2.5", PrefixLen: 24}}
	s.Devices[2].Gateway4 = "192.0.2.1"

	s.RecomputeGlobalState()
	if s.GlobalState != mapping.StateConnectedGlobal {
		t.Errorf("GlobalState = %d, want ConnectedGlobal", s.GlobalState)
	}
	if s.Connectivity != mapping.ConnectivityFull {
		t.Errorf("Connectivity = %d, want Full", s.Connectivity)
	}
}

func TestStoreWithDeviceMissing(t *testing.T) {
	st := NewStore()
	_, ok := WithDevice(st, 99, func(d *DeviceInfo) string { return d.Name })
	if ok {
		t.Fatal("expected WithDevice to report missing device")
	}
}

func TestStoreWriteThenRead(t *testing.T) {
	st := NewStore()
	st.Write(func(s *AppState) {
		s.Devices[3] = NewDeviceInfo(3, "eth1", mapping.DeviceTypeEthernet)
	})

	name, ok := WithDevice(st, 3, func(d *DeviceInfo) string { return d.Name })
	if !ok || name != "eth1" {
		t.Fatalf("WithDevice = %q, %v, want eth1, true", name, ok)
	}

	count := WithState(st, func(s *AppState) int { return len(s.Devices) })
	if count != 1 {
		t.Errorf("device count = %d, want 1", count)
	}
}
