package dbusnm

import (
	"context"
	"errors"

	"github.com/godbus/dbus/v5"

	"nmlinkd/internal/mapping"
	"nmlinkd/internal/nmerr"
	"nmlinkd/internal/state"
)

// Manager serves org.freedesktop.NetworkManager, the root singleton.
type Manager struct {
	svc *Service
}

func newManager(svc *Service) *Manager {
	return &Manager{svc: svc}
}

func (m *Manager) devicePaths() []dbus.ObjectPath {
	return state.WithState(m.svc.store, func(s *state.AppState) []dbus.ObjectPath {
		out := make([]dbus.ObjectPath, 0, len(s.Devices))
		for ifindex := range s.Devices {
			out = append(out, state.DevicePath(ifindex))
		}
		return out
	})
}

// GetDevices implements the Manager method of the same name.
func (m *Manager) GetDevices() ([]dbus.ObjectPath, *dbus.Error) {
	return m.devicePaths(), nil
}

// GetAllDevices implements the Manager method of the same name. This bridge
// never hides a device behind a plugin boundary, so it's identical to
// GetDevices.
func (m *Manager) GetAllDevices() ([]dbus.ObjectPath, *dbus.Error) {
	return m.devicePaths(), nil
}

// GetDeviceByIpIface implements the Manager method of the same name.
func (m *Manager) GetDeviceByIpIface(iface string) (dbus.ObjectPath, *dbus.Error) {
	type result struct {
		path dbus.ObjectPath
		ok   bool
	}
	r := state.WithState(m.svc.store, func(s *state.AppState) result {
		for ifindex, d := range s.Devices {
			if d.Name == iface {
				return result{state.DevicePath(ifindex), true}
			}
		}
		return result{}
	})
	if !r.ok {
		return "", unknownObject(dbus.ObjectPath("/org/freedesktop/NetworkManager/Devices/by-iface/" + iface))
	}
	return r.path, nil
}

// ActivateConnection implements the Manager method of the same name. This
// bridge has no stored connection profiles to activate; the only action it
// can take is the admin-up this device already models, per spec.md §4.5:
// "ActivateConnection(conn, device, specific) → ac_path after link_set_up".
func (m *Manager) ActivateConnection(connection, device, specificObject dbus.ObjectPath) (dbus.ObjectPath, *dbus.Error) {
	ifindex, ok := m.resolveKnownIfindex(device, connection)
	if !ok {
		return "", unknownObject(connection)
	}

	kern := m.svc.store.Kernel()
	if kern == nil {
		return "", failedf("kernel handle not ready")
	}
	if err := kern.LinkSetUp(context.Background(), ifindex); err != nil {
		var nerr *nmerr.Error
		if errors.As(err, &nerr) && nerr.Kind == nmerr.Permission {
			return "", failedf("permission denied activating connection: %v", nerr.Err)
		}
		return "", failedf("%v", err)
	}
	return state.ActiveConnectionPath(ifindex), nil
}

// AddAndActivateConnection implements the Manager method of the same name.
// nmlinkd synthesizes one connection per live device rather than storing
// new profiles, so "adding" a connection for a known device is the same
// admin-up action as ActivateConnection, returning that device's existing
// synthesized settings path alongside its active-connection path.
func (m *Manager) AddAndActivateConnection(settings map[string]map[string]dbus.Variant, device, specificObject dbus.ObjectPath) (dbus.ObjectPath, dbus.ObjectPath, *dbus.Error) {
	ifindex, ok := m.resolveKnownIfindex(device, state.RootPath)
	if !ok {
		if name, hasName := connectionInterfaceName(settings); hasName {
			if idx, found := m.ifindexByName(name); found {
				ifindex, ok = idx, true
			}
		}
	}
	if !ok {
		return "", "", unknownObject(device)
	}

	kern := m.svc.store.Kernel()
	if kern == nil {
		return "", "", failedf("kernel handle not ready")
	}
	if err := kern.LinkSetUp(context.Background(), ifindex); err != nil {
		var nerr *nmerr.Error
		if errors.As(err, &nerr) && nerr.Kind == nmerr.Permission {
			return "", "", failedf("permission denied activating connection: %v", nerr.Err)
		}
		return "", "", failedf("%v", err)
	}
	return state.SettingsPath(ifindex), state.ActiveConnectionPath(ifindex), nil
}

// resolveKnownIfindex parses an ifindex from device (preferred) or, when
// device is the root sentinel, from fallback, and confirms it names a
// currently-known device.
func (m *Manager) resolveKnownIfindex(device, fallback dbus.ObjectPath) (int32, bool) {
	ifindex, ok := int32(0), false
	if device != state.RootPath && device != "" {
		ifindex, ok = state.ParseIfindexFromPath(device)
	}
	if !ok {
		ifindex, ok = state.ParseIfindexFromPath(fallback)
	}
	if !ok {
		return 0, false
	}
	return ifindex, state.WithState(m.svc.store, func(s *state.AppState) bool {
		_, known := s.Devices[ifindex]
		return known
	})
}

func (m *Manager) ifindexByName(name string) (int32, bool) {
	type result struct {
		ifindex int32
		ok      bool
	}
	r := state.WithState(m.svc.store, func(s *state.AppState) result {
		for ifindex, d := range s.Devices {
			if d.Name == name {
				return result{ifindex, true}
			}
		}
		return result{}
	})
	return r.ifindex, r.ok
}

func connectionInterfaceName(settings map[string]map[string]dbus.Variant) (string, bool) {
	conn, ok := settings["connection"]
	if !ok {
		return "", false
	}
	v, ok := conn["interface-name"]
	if !ok {
		return "", false
	}
	name, ok := v.Value().(string)
	return name, ok && name != ""
}

// DeactivateConnection implements the Manager method of the same name. It
// resolves the active connection back to its ifindex and performs an
// admin-down on the link, identical to Device.Disconnect.
func (m *Manager) DeactivateConnection(activeConnection dbus.ObjectPath) *dbus.Error {
	ifindex, ok := m.resolveKnownIfindex(activeConnection, state.RootPath)
	if !ok {
		return unknownObject(activeConnection)
	}

	kern := m.svc.store.Kernel()
	if kern == nil {
		return failedf("kernel handle not ready")
	}
	if err := kern.LinkSetDown(context.Background(), ifindex); err != nil {
		var nerr *nmerr.Error
		if errors.As(err, &nerr) && nerr.Kind == nmerr.Permission {
			return failedf("permission denied deactivating connection: %v", nerr.Err)
		}
		return failedf("%v", err)
	}
	m.svc.store.Write(func(s *state.AppState) {
		s.UserDisconnectPending[ifindex] = struct{}{}
	})
	return nil
}

// nmPermissionKeys are the org.freedesktop.NetworkManager permission names
// client libraries probe for. This bridge grants only network-control,
// since device up/down is the only mutation it performs.
var nmPermissionKeys = []string{
	"org.freedesktop.NetworkManager.enable-disable-network",
	"org.freedesktop.NetworkManager.enable-disable-wifi",
	"org.freedesktop.NetworkManager.enable-disable-wwan",
	"org.freedesktop.NetworkManager.enable-disable-wimax",
	"org.freedesktop.NetworkManager.sleep-wake",
	"org.freedesktop.NetworkManager.network-control",
	"org.freedesktop.NetworkManager.wifi.share.protected",
	"org.freedesktop.NetworkManager.wifi.share.open",
	"org.freedesktop.NetworkManager.settings.modify.system",
	"org.freedesktop.NetworkManager.settings.modify.own",
	"org.freedesktop.NetworkManager.settings.modify.hostname",
	"org.freedesktop.NetworkManager.settings.modify.global-dns",
	"org.freedesktop.NetworkManager.reload",
	"org.freedesktop.NetworkManager.checkpoint-rollback",
	"org.freedesktop.NetworkManager.enable-disable-statistics",
	"org.freedesktop.NetworkManager.enable-disable-connectivity-check",
}

// GetPermissions implements the Manager method of the same name, per
// spec.md §4.5.
func (m *Manager) GetPermissions() (map[string]string, *dbus.Error) {
	out := make(map[string]string, len(nmPermissionKeys))
	for _, k := range nmPermissionKeys {
		if k == "org.freedesktop.NetworkManager.network-control" {
			out[k] = "yes"
		} else {
			out[k] = "no"
		}
	}
	return out, nil
}

// CheckConnectivity implements the Manager method of the same name. This
// bridge never actively probes; it reports the last passively-derived
// connectivity state.
func (m *Manager) CheckConnectivity() (uint32, *dbus.Error) {
	return state.WithState(m.svc.store, func(s *state.AppState) uint32 { return s.Connectivity }), nil
}

// Get implements org.freedesktop.DBus.Properties.Get.
func (m *Manager) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	all, derr := m.GetAll(iface)
	if derr != nil {
		return dbus.Variant{}, derr
	}
	v, ok := all[prop]
	if !ok {
		return dbus.Variant{}, unknownProperty(iface, prop)
	}
	return v, nil
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll.
func (m *Manager) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != IfaceManager {
		return nil, unknownProperty(iface, "")
	}

	type snap struct {
		global       uint32
		connectivity uint32
		active       []dbus.ObjectPath
		primary      dbus.ObjectPath
		primaryType  string
	}
	s := state.WithState(m.svc.store, func(as *state.AppState) snap {
		var active []dbus.ObjectPath
		var primary dbus.ObjectPath = state.RootPath
		var primaryType string
		for ifindex, d := range as.Devices {
			if d.NMState == mapping.DeviceStateActivated {
				active = append(active, state.ActiveConnectionPath(ifindex))
				if d.HasGateway() {
					primary = state.ActiveConnectionPath(ifindex)
					primaryType = mapping.DeviceTypeToConnectionType(d.DeviceType)
				}
			}
		}
		return snap{as.GlobalState, as.Connectivity, active, primary, primaryType}
	})

	return variantMap(map[string]any{
		"Devices":                    m.devicePaths(),
		"AllDevices":                 m.devicePaths(),
		"NetworkingEnabled":          true,
		"WirelessEnabled":            false,
		"WirelessHardwareEnabled":    false,
		"State":                      s.global,
		"Connectivity":               s.connectivity,
		"ConnectivityCheckAvailable": false,
		"ConnectivityCheckEnabled":   false,
		"ActiveConnections":          orEmpty(s.active),
		"PrimaryConnection":          s.primary,
		"PrimaryConnectionType":      s.primaryType,
		"Metered":                    uint32(4), // NM_METERED_GUESS_NO
		"Startup":                    false,
		"Version":                    "1.52.0",
	}), nil
}

// Set implements org.freedesktop.DBus.Properties.Set. NetworkingEnabled and
// WirelessEnabled are the only writable properties on the real daemon; this
// bridge doesn't drive radio state, so every write is rejected.
func (m *Manager) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	return failedf("property %s.%s is read-only", iface, prop)
}

func orEmpty(paths []dbus.ObjectPath) []dbus.ObjectPath {
	if paths == nil {
		return []dbus.ObjectPath{}
	}
	return paths
}

