package dbusnm

import (
	"context"
	"testing"

	"github.com/godbus/dbus/v5"

	"nmlinkd/internal/mapping"
	"nmlinkd/internal/netlinkq"
	"nmlinkd/internal/state"
)

type fakeKernel struct {
	downCalls []int32
	upCalls   []int32
}

func (f *fakeKernel) ListLinks(ctx context.Context) ([]netlinkq.LinkInfo, error) { return nil, nil }
func (f *fakeKernel) ListAddresses(ctx context.Context, ifindex int32) ([]netlinkq.AddrInfo, []netlinkq.AddrInfo, error) {
	return nil, nil, nil
}
func (f *fakeKernel) ListDefaultRoutes(ctx context.Context) (map[int32]string, map[int32]string, error) {
	return nil, nil, nil
}
func (f *fakeKernel) LinkSetUp(ctx context.Context, ifindex int32) error {
	f.upCalls = append(f.upCalls, ifindex)
	return nil
}
func (f *fakeKernel) LinkSetDown(ctx context.Context, ifindex int32) error {
	f.downCalls = append(f.downCalls, ifindex)
	return nil
}
func (f *fakeKernel) Nameservers() ([]string, error) { return []string{"9.9.9.9"}, nil }

func newTestService() (*Service, *fakeKernel) {
	store := state.NewStore()
	kern := &fakeKernel{}
	store.SetKernel(kern)
	svc := New(nil, store, kern)
	return svc, kern
}

func TestDeviceGetAllEthernet(t *testing.T) {
	svc, _ := newTestService()
	svc.store.Write(func(s *state.AppState) {
		d := state.NewDeviceInfo(2, "eth0", mapping.DeviceTypeEthernet)
		d.NMState = mapping.DeviceStateActivated
		d.HWAddress = "aa:bb:cc:dd:ee:ff"
		d.IPv4Addrs = []state.AddrInfo{{Address: "192.0.2.5", PrefixLen: 24}}
		d.Gateway4 = "192.0.2.1"
		s.Devices[2] = d
	})

	dev := newDevice(svc, 2)
	props, derr := dev.GetAll(IfaceDevice)
	if derr != nil {
		t.Fatalf("GetAll: %v", derr)
	}
	if props["Interface"].Value() != "eth0" {
		t.Errorf("Interface = %v", props["Interface"].Value())
	}
	if props["State"].Value() != mapping.DeviceStateActivated {
		t.Errorf("State = %v", props["State"].Value())
	}
	if props["Ip4Config"].Value() != state.IP4ConfigPath(2) {
		t.Errorf("Ip4Config = %v", props["Ip4Config"].Value())
	}

	wired, derr := dev.GetAll(IfaceDeviceWired)
	if derr != nil {
		t.Fatalf("GetAll wired: %v", derr)
	}
	if wired["HwAddress"].Value() != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("HwAddress = %v", wired["HwAddress"].Value())
	}

	if _, derr := dev.GetAll(IfaceDeviceWireGuard); derr == nil {
		t.Error("expected an error asking an ethernet device for WireGuard properties")
	}
}

func TestDeviceGetAllUnknownDevice(t *testing.T) {
	svc, _ := newTestService()
	dev := newDevice(svc, 99)
	if _, derr := dev.GetAll(IfaceDevice); derr == nil {
		t.Error("expected unknownObject for a device not in the store")
	}
}

func TestDeviceDisconnectRecordsPending(t *testing.T) {
	svc, kern := newTestService()
	svc.store.Write(func(s *state.AppState) {
		s.Devices[3] = state.NewDeviceInfo(3, "eth1", mapping.DeviceTypeEthernet)
	})

	dev := newDevice(svc, 3)
	if derr := dev.Disconnect(); derr != nil {
		t.Fatalf("Disconnect: %v", derr)
	}
	if len(kern.downCalls) != 1 || kern.downCalls[0] != 3 {
		t.Fatalf("expected LinkSetDown(3), got %v", kern.downCalls)
	}
	pending := state.WithState(svc.store, func(s *state.AppState) bool {
		_, ok := s.UserDisconnectPending[3]
		return ok
	})
	if !pending {
		t.Error("expected UserDisconnectPending to record ifindex 3")
	}
}

func TestManagerGetAllAndDevices(t *testing.T) {
	svc, _ := newTestService()
	svc.store.Write(func(s *state.AppState) {
		d := state.NewDeviceInfo(4, "eth2", mapping.DeviceTypeEthernet)
		d.NMState = mapping.DeviceStateActivated
		d.Gateway4 = "192.0.2.1"
		d.IPv4Addrs = []state.AddrInfo{{Address: "192.0.2.9", PrefixLen: 24}}
		s.Devices[4] = d
		s.RecomputeGlobalState()
	})

	mgr := newManager(svc)
	devices, derr := mgr.GetDevices()
	if derr != nil {
		t.Fatalf("GetDevices: %v", derr)
	}
	if len(devices) != 1 || devices[0] != state.DevicePath(4) {
		t.Fatalf("GetDevices = %v", devices)
	}

	props, derr := mgr.GetAll(IfaceManager)
	if derr != nil {
		t.Fatalf("GetAll: %v", derr)
	}
	if props["State"].Value() != mapping.StateConnectedGlobal {
		t.Errorf("State = %v", props["State"].Value())
	}
	if props["PrimaryConnection"].Value() != state.ActiveConnectionPath(4) {
		t.Errorf("PrimaryConnection = %v", props["PrimaryConnection"].Value())
	}
}

func TestManagerGetDeviceByIpIfaceNotFound(t *testing.T) {
	svc, _ := newTestService()
	mgr := newManager(svc)
	if _, derr := mgr.GetDeviceByIpIface("ghost0"); derr == nil {
		t.Error("expected an error for an unknown interface name")
	}
}

func TestManagerActivateConnectionUnknownDevice(t *testing.T) {
	svc, _ := newTestService()
	mgr := newManager(svc)
	if _, derr := mgr.ActivateConnection("/a", "/b", "/"); derr == nil {
		t.Error("expected ActivateConnection to report UnknownObject for an unresolvable device")
	}
}

// TestManagerActivateConnectionFromSettingsPath mirrors spec.md §8 scenario
// 6: device == "/" and the ifindex is parsed out of the settings path.
func TestManagerActivateConnectionFromSettingsPath(t *testing.T) {
	svc, kern := newTestService()
	svc.store.Write(func(s *state.AppState) {
		s.Devices[3] = state.NewDeviceInfo(3, "eth9", mapping.DeviceTypeEthernet)
	})
	mgr := newManager(svc)

	ac, derr := mgr.ActivateConnection(state.SettingsPath(3), state.RootPath, state.RootPath)
	if derr != nil {
		t.Fatalf("ActivateConnection: %v", derr)
	}
	if ac != state.ActiveConnectionPath(3) {
		t.Errorf("ActiveConnection path = %v, want %v", ac, state.ActiveConnectionPath(3))
	}
	if len(kern.upCalls) != 1 || kern.upCalls[0] != 3 {
		t.Fatalf("expected LinkSetUp(3), got %v", kern.upCalls)
	}
}

func TestManagerDeactivateConnection(t *testing.T) {
	svc, kern := newTestService()
	svc.store.Write(func(s *state.AppState) {
		s.Devices[5] = state.NewDeviceInfo(5, "eth3", mapping.DeviceTypeEthernet)
	})
	mgr := newManager(svc)

	if derr := mgr.DeactivateConnection(state.ActiveConnectionPath(5)); derr != nil {
		t.Fatalf("DeactivateConnection: %v", derr)
	}
	if len(kern.downCalls) != 1 || kern.downCalls[0] != 5 {
		t.Fatalf("expected LinkSetDown(5), got %v", kern.downCalls)
	}
}

func TestIPConfigGetAll(t *testing.T) {
	svc, _ := newTestService()
	svc.store.Write(func(s *state.AppState) {
		d := state.NewDeviceInfo(6, "eth4", mapping.DeviceTypeEthernet)
		d.IPv4Addrs = []state.AddrInfo{{Address: "10.0.0.2", PrefixLen: 24}}
		d.Gateway4 = "10.0.0.1"
		s.Devices[6] = d
		s.Nameservers = []string{"1.1.1.1"}
	})

	ip4 := newIP4Config(svc, 6)
	props, derr := ip4.GetAll(IfaceIP4Config)
	if derr != nil {
		t.Fatalf("GetAll: %v", derr)
	}
	if props["Gateway"].Value() != "10.0.0.1" {
		t.Errorf("Gateway = %v", props["Gateway"].Value())
	}
	addrData, ok := props["AddressData"].Value().([]map[string]dbus.Variant)
	if !ok || len(addrData) != 1 {
		t.Fatalf("AddressData = %v", props["AddressData"].Value())
	}
}

func TestIPConfigNameserverFiltering(t *testing.T) {
	svc, _ := newTestService()
	svc.store.Write(func(s *state.AppState) {
		d4 := state.NewDeviceInfo(10, "eth7", mapping.DeviceTypeEthernet)
		d4.IPv4Addrs = []state.AddrInfo{{Address: "10.0.0.2", PrefixLen: 24}}
		s.Devices[10] = d4
		s.Nameservers = []string{"1.1.1.1", "2606:4700:4700::1111", "not-an-ip"}
	})

	ip4 := newIP4Config(svc, 10)
	props, derr := ip4.GetAll(IfaceIP4Config)
	if derr != nil {
		t.Fatalf("GetAll IP4Config: %v", derr)
	}
	nsData, ok := props["NameserverData"].Value().([]map[string]dbus.Variant)
	if !ok || len(nsData) != 1 || nsData[0]["address"].Value() != "1.1.1.1" {
		t.Fatalf("NameserverData = %v, want only the IPv4 literal", props["NameserverData"].Value())
	}

	svc.store.Write(func(s *state.AppState) {
		d := state.NewDeviceInfo(10, "eth7", mapping.DeviceTypeEthernet)
		d.IPv6Addrs = []state.AddrInfo{{Address: "2001:db8::1", PrefixLen: 64}}
		s.Devices[10] = d
	})
	ip6 := newIP6Config(svc, 10)
	props6, derr := ip6.GetAll(IfaceIP6Config)
	if derr != nil {
		t.Fatalf("GetAll IP6Config: %v", derr)
	}
	ns6, ok := props6["Nameservers"].Value().([][]byte)
	if !ok || len(ns6) != 1 {
		t.Fatalf("Nameservers = %v, want a single 16-byte IPv6 octet entry", props6["Nameservers"].Value())
	}
	if len(ns6[0]) != 16 {
		t.Errorf("Nameservers[0] length = %d, want 16", len(ns6[0]))
	}
}

func TestSettingsConnectionGetSettings(t *testing.T) {
	svc, _ := newTestService()
	svc.store.Write(func(s *state.AppState) {
		s.Devices[7] = state.NewDeviceInfo(7, "eth5", mapping.DeviceTypeEthernet)
	})

	sc := newSettingsConnection(svc, 7)
	settings, derr := sc.GetSettings()
	if derr != nil {
		t.Fatalf("GetSettings: %v", derr)
	}
	conn, ok := settings["connection"]
	if !ok {
		t.Fatal("missing connection section")
	}
	if conn["id"].Value() != "eth5" {
		t.Errorf("id = %v", conn["id"].Value())
	}
	if conn["uuid"].Value() != state.ConnectionUUID("eth5") {
		t.Errorf("uuid = %v", conn["uuid"].Value())
	}
}

func TestActiveConnectionDefaultPerFamily(t *testing.T) {
	svc, _ := newTestService()
	svc.store.Write(func(s *state.AppState) {
		d := state.NewDeviceInfo(11, "eth8", mapping.DeviceTypeEthernet)
		d.NMState = mapping.DeviceStateActivated
		d.Gateway6 = "2001:db8::1"
		s.Devices[11] = d
	})

	ac := newActiveConnection(svc, 11)
	props, derr := ac.GetAll(IfaceActiveConnection)
	if derr != nil {
		t.Fatalf("GetAll: %v", derr)
	}
	if props["Default"].Value() != false {
		t.Errorf("Default = %v, want false (no IPv4 gateway)", props["Default"].Value())
	}
	if props["Default6"].Value() != true {
		t.Errorf("Default6 = %v, want true", props["Default6"].Value())
	}
}

func TestObjectManagerGetManagedObjects(t *testing.T) {
	svc, _ := newTestService()
	svc.store.Write(func(s *state.AppState) {
		d := state.NewDeviceInfo(8, "eth6", mapping.DeviceTypeEthernet)
		d.NMState = mapping.DeviceStateActivated
		d.IPv4Addrs = []state.AddrInfo{{Address: "192.0.2.20", PrefixLen: 24}}
		s.Devices[8] = d
	})

	objs, derr := svc.objmgr.GetManagedObjects()
	if derr != nil {
		t.Fatalf("GetManagedObjects: %v", derr)
	}
	if _, ok := objs[state.ManagerPath]; !ok {
		t.Error("missing manager object")
	}
	if _, ok := objs[state.DevicePath(8)]; !ok {
		t.Error("missing device object")
	}
	if _, ok := objs[state.IP4ConfigPath(8)]; !ok {
		t.Error("missing IP4Config object for a device with an address")
	}
	if _, ok := objs[state.ActiveConnectionPath(8)]; !ok {
		t.Error("missing ActiveConnection object for an activated device")
	}
}
