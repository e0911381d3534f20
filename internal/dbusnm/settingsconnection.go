package dbusnm

import (
	"github.com/godbus/dbus/v5"

	"nmlinkd/internal/mapping"
	"nmlinkd/internal/state"
)

// SettingsConnection serves org.freedesktop.NetworkManager.Settings.Connection
// for the single synthesized connection backing one device.
type SettingsConnection struct {
	svc     *Service
	ifindex int32
}

func newSettingsConnection(svc *Service, ifindex int32) *SettingsConnection {
	return &SettingsConnection{svc: svc, ifindex: ifindex}
}

// GetSettings implements the method of the same name: the nested
// a{sa{sv}} connection profile NetworkManager clients expect.
func (c *SettingsConnection) GetSettings() (map[string]map[string]dbus.Variant, *dbus.Error) {
	info, ok := state.WithDevice(c.svc.store, c.ifindex, func(d *state.DeviceInfo) state.DeviceInfo { return *d })
	if !ok {
		return nil, unknownObject(state.SettingsPath(c.ifindex))
	}

	connType := mapping.DeviceTypeToConnectionType(info.DeviceType)
	settings := map[string]map[string]dbus.Variant{
		"connection": variantMap(map[string]any{
			"id":             info.Name,
			"uuid":           state.ConnectionUUID(info.Name),
			"type":           connType,
			"interface-name": info.Name,
		}),
	}
	if info.DeviceType != mapping.DeviceTypeWireGuard {
		settings["802-3-ethernet"] = variantMap(map[string]any{})
	}
	return settings, nil
}

// Get implements org.freedesktop.DBus.Properties.Get.
func (c *SettingsConnection) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	all, derr := c.GetAll(iface)
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
func (c *SettingsConnection) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != IfaceSettingsConnection {
		return nil, unknownProperty(iface, "")
	}
	if _, ok := state.WithDevice(c.svc.store, c.ifindex, func(d *state.DeviceInfo) struct{} { return struct{}{} }); !ok {
		return nil, unknownObject(state.SettingsPath(c.ifindex))
	}
	return variantMap(map[string]any{
		"Unsaved":  false,
		"Flags":    uint32(0),
		"Filename": "",
	}), nil
}

// Set implements org.freedesktop.DBus.Properties.Set; this bridge never
// accepts connection edits.
func (c *SettingsConnection) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	return failedf("property %s.%s is read-only", iface, prop)
}
