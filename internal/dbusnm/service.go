package dbusnm

import (
	"fmt"
	"log"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"nmlinkd/internal/mapping"
	"nmlinkd/internal/netlinkq"
	"nmlinkd/internal/state"
)

// Service owns the bus connection and the whole exported object tree. It
// implements netlinkmon.Notifier, translating store mutations into exports,
// unexports and signals — the "signal emitter" component of spec.md §4.6.
type Service struct {
	conn  *dbus.Conn
	store *state.Store
	kern  netlinkq.Kernel

	manager  *Manager
	settings *Settings
	objmgr   *ObjectManager
}

// New builds the service but does not yet touch the bus.
func New(conn *dbus.Conn, store *state.Store, kern netlinkq.Kernel) *Service {
	svc := &Service{conn: conn, store: store, kern: kern}
	svc.manager = newManager(svc)
	svc.settings = newSettings(svc)
	svc.objmgr = newObjectManager(svc)
	return svc
}

// Start claims the bus name and exports the singletons plus one object set
// per device already in the store (the initial-load snapshot).
func (s *Service) Start() error {
	if err := s.exportSingletons(); err != nil {
		return err
	}

	reply, err := s.conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("requesting bus name %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s already owned", BusName)
	}

	ifindexes := state.WithState(s.store, func(as *state.AppState) []int32 {
		out := make([]int32, 0, len(as.Devices))
		for ifindex := range as.Devices {
			out = append(out, ifindex)
		}
		return out
	})
	for _, ifindex := range ifindexes {
		s.exportDevice(ifindex)
	}
	return nil
}

func (s *Service) exportSingletons() error {
	if err := s.conn.Export(s.manager, state.ManagerPath, IfaceManager); err != nil {
		return err
	}
	if err := s.conn.Export(s.manager, state.ManagerPath, IfaceProperties); err != nil {
		return err
	}
	if err := s.conn.Export(s.objmgr, ObjectManagerPath, IfaceObjectManager); err != nil {
		return err
	}
	if err := s.conn.Export(s.settings, state.SettingsRootPath, IfaceSettings); err != nil {
		return err
	}
	if err := s.conn.Export(s.settings, state.SettingsRootPath, IfaceProperties); err != nil {
		return err
	}

	node := &introspect.Node{
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			managerIntrospectData,
		},
	}
	return s.conn.Export(introspect.NewIntrospectable(node), state.ManagerPath, IfaceIntrospectable)
}

// exportDevice exports Device (+ type companion interface), its
// SettingsConnection, and whichever of IP4Config/IP6Config/ActiveConnection
// currently apply, then announces it via ObjectManager and Manager's own
// DeviceAdded signal.
func (s *Service) exportDevice(ifindex int32) {
	info, ok := state.WithDevice(s.store, ifindex, func(d *state.DeviceInfo) state.DeviceInfo { return *d })
	if !ok {
		return
	}

	dev := newDevice(s, ifindex)
	path := state.DevicePath(ifindex)
	s.mustExport(dev, path, IfaceDevice)
	s.mustExport(dev, path, IfaceProperties)
	switch info.DeviceType {
	case mapping.DeviceTypeEthernet:
		s.mustExport(dev, path, IfaceDeviceWired)
	case mapping.DeviceTypeWireGuard:
		s.mustExport(dev, path, IfaceDeviceWireGuard)
	}

	sc := newSettingsConnection(s, ifindex)
	scPath := state.SettingsPath(ifindex)
	s.mustExport(sc, scPath, IfaceSettingsConnection)
	s.mustExport(sc, scPath, IfaceProperties)

	s.syncDerivedObjects(ifindex, &info)

	if err := s.conn.Emit(state.ManagerPath, IfaceManager+".DeviceAdded", path); err != nil {
		log.Printf("dbusnm: emitting DeviceAdded: %v", err)
	}

	// ObjectManager-aware clients get the equivalent generic notification;
	// see SPEC_FULL.md's ObjectManager supplement.
	if devIfaces, derr := dev.GetAll(IfaceDevice); derr == nil {
		ifaces := map[string]map[string]dbus.Variant{IfaceDevice: devIfaces}
		if err := s.conn.Emit(ObjectManagerPath, IfaceObjectManager+".InterfacesAdded", path, ifaces); err != nil {
			log.Printf("dbusnm: emitting InterfacesAdded: %v", err)
		}
	}
}

// syncDerivedObjects exports or unexports IP4Config/IP6Config/
// ActiveConnection to match the device's current address/state facts. Safe
// to call repeatedly; re-exporting an already-exported object is a no-op on
// the bus side.
func (s *Service) syncDerivedObjects(ifindex int32, info *state.DeviceInfo) {
	if info.HasIPv4() {
		ip4 := newIP4Config(s, ifindex)
		s.mustExport(ip4, state.IP4ConfigPath(ifindex), IfaceIP4Config)
		s.mustExport(ip4, state.IP4ConfigPath(ifindex), IfaceProperties)
	} else {
		path := state.IP4ConfigPath(ifindex)
		_ = s.conn.Export(nil, path, IfaceIP4Config)
		_ = s.conn.Export(nil, path, IfaceProperties)
	}

	if info.HasIPv6() {
		ip6 := newIP6Config(s, ifindex)
		s.mustExport(ip6, state.IP6ConfigPath(ifindex), IfaceIP6Config)
		s.mustExport(ip6, state.IP6ConfigPath(ifindex), IfaceProperties)
	} else {
		path := state.IP6ConfigPath(ifindex)
		_ = s.conn.Export(nil, path, IfaceIP6Config)
		_ = s.conn.Export(nil, path, IfaceProperties)
	}

	if info.NMState == mapping.DeviceStateActivated {
		ac := newActiveConnection(s, ifindex)
		s.mustExport(ac, state.ActiveConnectionPath(ifindex), IfaceActiveConnection)
		s.mustExport(ac, state.ActiveConnectionPath(ifindex), IfaceProperties)
	} else {
		path := state.ActiveConnectionPath(ifindex)
		_ = s.conn.Export(nil, path, IfaceActiveConnection)
		_ = s.conn.Export(nil, path, IfaceProperties)
	}
}

func (s *Service) mustExport(v any, path dbus.ObjectPath, iface string) {
	if err := s.conn.Export(v, path, iface); err != nil {
		log.Printf("dbusnm: exporting %s at %s: %v", iface, path, err)
	}
}

func (s *Service) unexportDevice(ifindex int32) {
	path := state.DevicePath(ifindex)
	_ = s.conn.Export(nil, path, IfaceDevice)
	_ = s.conn.Export(nil, path, IfaceDeviceWired)
	_ = s.conn.Export(nil, path, IfaceDeviceWireGuard)
	_ = s.conn.Export(nil, path, IfaceProperties)

	ip4Path := state.IP4ConfigPath(ifindex)
	_ = s.conn.Export(nil, ip4Path, IfaceIP4Config)
	_ = s.conn.Export(nil, ip4Path, IfaceProperties)

	ip6Path := state.IP6ConfigPath(ifindex)
	_ = s.conn.Export(nil, ip6Path, IfaceIP6Config)
	_ = s.conn.Export(nil, ip6Path, IfaceProperties)

	acPath := state.ActiveConnectionPath(ifindex)
	_ = s.conn.Export(nil, acPath, IfaceActiveConnection)
	_ = s.conn.Export(nil, acPath, IfaceProperties)

	scPath := state.SettingsPath(ifindex)
	_ = s.conn.Export(nil, scPath, IfaceSettingsConnection)
	_ = s.conn.Export(nil, scPath, IfaceProperties)
}

// -- netlinkmon.Notifier --

// DeviceAdded implements netlinkmon.Notifier.
func (s *Service) DeviceAdded(ifindex int32) {
	s.exportDevice(ifindex)
}

// DeviceRemoved implements netlinkmon.Notifier.
func (s *Service) DeviceRemoved(ifindex int32) {
	path := state.DevicePath(ifindex)
	s.unexportDevice(ifindex)
	if err := s.conn.Emit(state.ManagerPath, IfaceManager+".DeviceRemoved", path); err != nil {
		log.Printf("dbusnm: emitting DeviceRemoved: %v", err)
	}

	removedIfaces := []string{IfaceDevice, IfaceDeviceWired, IfaceDeviceWireGuard}
	if err := s.conn.Emit(ObjectManagerPath, IfaceObjectManager+".InterfacesRemoved", path, removedIfaces); err != nil {
		log.Printf("dbusnm: emitting InterfacesRemoved: %v", err)
	}
}

// DeviceStateChanged implements netlinkmon.Notifier. Per spec.md §4.6 it
// drives three emissions: the Device's own PropertiesChanged + StateChanged,
// and the ActiveConnection's PropertiesChanged (plus its own StateChanged,
// but only when this transition crosses the Activated boundary).
func (s *Service) DeviceStateChanged(ifindex int32, newState, oldState uint32) {
	info, ok := state.WithDevice(s.store, ifindex, func(d *state.DeviceInfo) state.DeviceInfo { return *d })
	if !ok {
		return
	}
	s.syncDerivedObjects(ifindex, &info)

	path := state.DevicePath(ifindex)
	s.emitPropertiesChanged(path, IfaceDevice, map[string]any{
		"State":            newState,
		"StateReason":      [2]uint32{newState, uint32(0)},
		"ActiveConnection": activeConnectionPathFor(&info),
	})
	if err := s.conn.Emit(path, IfaceDevice+".StateChanged", newState, oldState, uint32(0)); err != nil {
		log.Printf("dbusnm: emitting Device.StateChanged: %v", err)
	}

	acState := mapping.ActiveConnectionStateDeactivated
	if newState == mapping.DeviceStateActivated {
		acState = mapping.ActiveConnectionStateActivated
	}
	oldACActivated := oldState == mapping.DeviceStateActivated
	newACActivated := newState == mapping.DeviceStateActivated

	acPath := state.ActiveConnectionPath(ifindex)
	s.emitPropertiesChanged(acPath, IfaceActiveConnection, map[string]any{"State": acState})
	if oldACActivated != newACActivated {
		if err := s.conn.Emit(acPath, IfaceActiveConnection+".StateChanged", acState, uint32(0)); err != nil {
			log.Printf("dbusnm: emitting ActiveConnection.StateChanged: %v", err)
		}
	}
}

// IPConfigChanged implements netlinkmon.Notifier.
func (s *Service) IPConfigChanged(ifindex int32) {
	info, ok := state.WithDevice(s.store, ifindex, func(d *state.DeviceInfo) state.DeviceInfo { return *d })
	if !ok {
		return
	}
	s.syncDerivedObjects(ifindex, &info)

	if info.HasIPv4() {
		s.emitInvalidated(state.IP4ConfigPath(ifindex), IfaceIP4Config, ip4InvalidatedProps)
	}
	if info.HasIPv6() {
		s.emitInvalidated(state.IP6ConfigPath(ifindex), IfaceIP6Config, ip6InvalidatedProps)
	}
}

// ip4InvalidatedProps/ip6InvalidatedProps are the property names a client
// must re-read after an IP-config change, per spec.md §4.6: the changed-map
// is always empty and these are reported invalidated instead, forcing a
// re-read rather than trusting an in-band value (required by at least one
// major NM client library).
var (
	ip4InvalidatedProps = []string{"AddressData", "Gateway", "NameserverData"}
	ip6InvalidatedProps = []string{"AddressData", "Gateway"}
)

// GlobalStateChanged implements netlinkmon.Notifier. Per spec.md §4.6, a
// Global change reports State, Connectivity, ActiveConnections and
// PrimaryConnection together; reuse Manager.GetAll's own snapshot rather than
// recomputing it here.
func (s *Service) GlobalStateChanged() {
	all, derr := s.manager.GetAll(IfaceManager)
	if derr != nil {
		log.Printf("dbusnm: reading manager properties for global-state change: %v", derr)
		return
	}

	s.emitPropertiesChanged(state.ManagerPath, IfaceManager, map[string]any{
		"State":             all["State"].Value(),
		"Connectivity":      all["Connectivity"].Value(),
		"ActiveConnections": all["ActiveConnections"].Value(),
		"PrimaryConnection": all["PrimaryConnection"].Value(),
	})
	if err := s.conn.Emit(state.ManagerPath, IfaceManager+".StateChanged", all["State"].Value()); err != nil {
		log.Printf("dbusnm: emitting Manager.StateChanged: %v", err)
	}
}

func (s *Service) emitPropertiesChanged(path dbus.ObjectPath, iface string, changed map[string]any) {
	if err := s.conn.Emit(path, IfaceProperties+".PropertiesChanged", iface, variantMap(changed), []string{}); err != nil {
		log.Printf("dbusnm: emitting PropertiesChanged for %s: %v", path, err)
	}
}

// emitInvalidated emits PropertiesChanged with an empty changed-map and the
// given invalidated property names. See spec.md §4.6 / §9: deliberate for IP
// configs, not an oversight.
func (s *Service) emitInvalidated(path dbus.ObjectPath, iface string, invalidated []string) {
	empty := map[string]dbus.Variant{}
	if err := s.conn.Emit(path, IfaceProperties+".PropertiesChanged", iface, empty, invalidated); err != nil {
		log.Printf("dbusnm: emitting PropertiesChanged for %s: %v", path, err)
	}
}

var managerIntrospectData = introspect.Interface{
	Name: IfaceManager,
	Methods: []introspect.Method{
		{Name: "GetDevices", Args: []introspect.Arg{{Name: "devices", Type: "ao", Direction: "out"}}},
		{Name: "GetAllDevices", Args: []introspect.Arg{{Name: "devices", Type: "ao", Direction: "out"}}},
		{Name: "GetDeviceByIpIface", Args: []introspect.Arg{
			{Name: "iface", Type: "s", Direction: "in"},
			{Name: "device", Type: "o", Direction: "out"},
		}},
		{Name: "GetPermissions", Args: []introspect.Arg{{Name: "permissions", Type: "a{ss}", Direction: "out"}}},
		{Name: "ActivateConnection", Args: []introspect.Arg{
			{Name: "connection", Type: "o", Direction: "in"},
			{Name: "device", Type: "o", Direction: "in"},
			{Name: "specific_object", Type: "o", Direction: "in"},
			{Name: "active_connection", Type: "o", Direction: "out"},
		}},
		{Name: "AddAndActivateConnection", Args: []introspect.Arg{
			{Name: "connection", Type: "a{sa{sv}}", Direction: "in"},
			{Name: "device", Type: "o", Direction: "in"},
			{Name: "specific_object", Type: "o", Direction: "in"},
			{Name: "path", Type: "o", Direction: "out"},
			{Name: "active_connection", Type: "o", Direction: "out"},
		}},
		{Name: "DeactivateConnection", Args: []introspect.Arg{
			{Name: "active_connection", Type: "o", Direction: "in"},
		}},
		{Name: "CheckConnectivity", Args: []introspect.Arg{{Name: "connectivity", Type: "u", Direction: "out"}}},
	},
	Signals: []introspect.Signal{
		{Name: "StateChanged", Args: []introspect.Arg{{Name: "state", Type: "u"}}},
		{Name: "DeviceAdded", Args: []introspect.Arg{{Name: "device_path", Type: "o"}}},
		{Name: "DeviceRemoved", Args: []introspect.Arg{{Name: "device_path", Type: "o"}}},
	},
	Properties: []introspect.Property{
		{Name: "Devices", Type: "ao", Access: "read"},
		{Name: "State", Type: "u", Access: "read"},
		{Name: "Connectivity", Type: "u", Access: "read"},
	},
}
