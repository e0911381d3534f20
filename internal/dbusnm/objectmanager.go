package dbusnm

import (
	"github.com/godbus/dbus/v5"

	"nmlinkd/internal/mapping"
	"nmlinkd/internal/state"
)

// ObjectManager hand-rolls org.freedesktop.DBus.ObjectManager at
// ObjectManagerPath (/org/freedesktop), since godbus carries no macro-generated
// equivalent. It derives the managed-object tree straight from the store
// rather than tracking Service's export calls separately, so it can never
// drift from what's actually exported.
type ObjectManager struct {
	svc *Service
}

func newObjectManager(svc *Service) *ObjectManager {
	return &ObjectManager{svc: svc}
}

// GetManagedObjects implements the method of the same name.
func (om *ObjectManager) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	out := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)

	mgrProps, _ := om.svc.manager.GetAll(IfaceManager)
	out[state.ManagerPath] = map[string]map[string]dbus.Variant{IfaceManager: mgrProps}

	settingsProps, _ := om.svc.settings.GetAll(IfaceSettings)
	out[state.SettingsRootPath] = map[string]map[string]dbus.Variant{IfaceSettings: settingsProps}

	infos := state.WithState(om.svc.store, func(s *state.AppState) []state.DeviceInfo {
		list := make([]state.DeviceInfo, 0, len(s.Devices))
		for _, d := range s.Devices {
			list = append(list, *d)
		}
		return list
	})

	for _, info := range infos {
		ifindex := info.Ifindex
		dev := newDevice(om.svc, ifindex)
		devIfaces := map[string]map[string]dbus.Variant{}
		if props, derr := dev.GetAll(IfaceDevice); derr == nil {
			devIfaces[IfaceDevice] = props
		}
		switch info.DeviceType {
		case mapping.DeviceTypeEthernet:
			if props, derr := dev.GetAll(IfaceDeviceWired); derr == nil {
				devIfaces[IfaceDeviceWired] = props
			}
		case mapping.DeviceTypeWireGuard:
			if props, derr := dev.GetAll(IfaceDeviceWireGuard); derr == nil {
				devIfaces[IfaceDeviceWireGuard] = props
			}
		}
		out[state.DevicePath(ifindex)] = devIfaces

		sc := newSettingsConnection(om.svc, ifindex)
		if props, derr := sc.GetAll(IfaceSettingsConnection); derr == nil {
			out[state.SettingsPath(ifindex)] = map[string]map[string]dbus.Variant{IfaceSettingsConnection: props}
		}

		if info.HasIPv4() {
			ip4 := newIP4Config(om.svc, ifindex)
			if props, derr := ip4.GetAll(IfaceIP4Config); derr == nil {
				out[state.IP4ConfigPath(ifindex)] = map[string]map[string]dbus.Variant{IfaceIP4Config: props}
			}
		}
		if info.HasIPv6() {
			ip6 := newIP6Config(om.svc, ifindex)
			if props, derr := ip6.GetAll(IfaceIP6Config); derr == nil {
				out[state.IP6ConfigPath(ifindex)] = map[string]map[string]dbus.Variant{IfaceIP6Config: props}
			}
		}
		if info.NMState == mapping.DeviceStateActivated {
			ac := newActiveConnection(om.svc, ifindex)
			if props, derr := ac.GetAll(IfaceActiveConnection); derr == nil {
				out[state.ActiveConnectionPath(ifindex)] = map[string]map[string]dbus.Variant{IfaceActiveConnection: props}
			}
		}
	}

	return out, nil
}
