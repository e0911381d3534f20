package dbusnm

import (
	"github.com/godbus/dbus/v5"

	"nmlinkd/internal/mapping"
	"nmlinkd/internal/state"
)

// ActiveConnection serves org.freedesktop.NetworkManager.Connection.Active
// for one ifindex. It only exists on the bus while the backing device is at
// NMDeviceState Activated.
type ActiveConnection struct {
	svc     *Service
	ifindex int32
}

func newActiveConnection(svc *Service, ifindex int32) *ActiveConnection {
	return &ActiveConnection{svc: svc, ifindex: ifindex}
}

// Get implements org.freedesktop.DBus.Properties.Get.
func (a *ActiveConnection) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	all, derr := a.GetAll(iface)
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
func (a *ActiveConnection) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != IfaceActiveConnection {
		return nil, unknownProperty(iface, "")
	}

	info, ok := state.WithDevice(a.svc.store, a.ifindex, func(d *state.DeviceInfo) state.DeviceInfo { return *d })
	if !ok {
		return nil, unknownObject(state.ActiveConnectionPath(a.ifindex))
	}

	acState := mapping.ActiveConnectionStateDeactivated
	if info.NMState == mapping.DeviceStateActivated {
		acState = mapping.ActiveConnectionStateActivated
	}

	return variantMap(map[string]any{
		"Connection":     state.SettingsPath(a.ifindex),
		"SpecificObject": state.RootPath,
		"Id":             info.Name,
		"Uuid":           state.ConnectionUUID(info.Name),
		"Type":           mapping.DeviceTypeToConnectionType(info.DeviceType),
		"Devices":        []dbus.ObjectPath{state.DevicePath(a.ifindex)},
		"State":          acState,
		"StateFlags":     uint32(0),
		"Default":        info.Gateway4 != "",
		"Default6":       info.Gateway6 != "",
		"Vpn":            false,
		"Ip4Config":      ip4ConfigPathFor(&info),
		"Ip6Config":      ip6ConfigPathFor(&info),
		"Controller":     state.RootPath,
		"Master":         state.RootPath,
	}), nil
}

// Set implements org.freedesktop.DBus.Properties.Set; every ActiveConnection
// property here is derived, so writes are rejected.
func (a *ActiveConnection) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	return failedf("property %s.%s is read-only", iface, prop)
}
