// Package dbusnm exposes the shared state store as the read-only subset of
// the org.freedesktop.NetworkManager D-Bus API described in spec.md §6. Each
// file here corresponds to one object type on the bus; service.go wires them
// all together and is the Notifier the netlink monitor calls into.
package dbusnm

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// BusName is the well-known name this daemon claims.
const BusName = "org.freedesktop.NetworkManager"

// ObjectManagerPath is where the generic org.freedesktop.DBus.ObjectManager
// is served, per spec.md §6: the parent of the Manager object's path, not the
// Manager object itself, so ObjectManager-aware clients can enumerate
// everything under the /org/freedesktop tree, including NM's own objects
// rooted one level deeper.
const ObjectManagerPath dbus.ObjectPath = "/org/freedesktop"

// Interface names used across the object tree.
const (
	IfaceManager            = "org.freedesktop.NetworkManager"
	IfaceDevice             = "org.freedesktop.NetworkManager.Device"
	IfaceDeviceWired        = "org.freedesktop.NetworkManager.Device.Wired"
	IfaceDeviceWireGuard    = "org.freedesktop.NetworkManager.Device.WireGuard"
	IfaceIP4Config          = "org.freedesktop.NetworkManager.IP4Config"
	IfaceIP6Config          = "org.freedesktop.NetworkManager.IP6Config"
	IfaceActiveConnection   = "org.freedesktop.NetworkManager.Connection.Active"
	IfaceSettings           = "org.freedesktop.NetworkManager.Settings"
	IfaceSettingsConnection = "org.freedesktop.NetworkManager.Settings.Connection"
	IfaceProperties         = "org.freedesktop.DBus.Properties"
	IfaceIntrospectable     = "org.freedesktop.DBus.Introspectable"
	IfaceObjectManager      = "org.freedesktop.DBus.ObjectManager"
)

// variantMap builds a property table as the Properties/ObjectManager wire
// format expects: string property name to dbus.Variant.
func variantMap(props map[string]any) map[string]dbus.Variant {
	out := make(map[string]dbus.Variant, len(props))
	for k, v := range props {
		out[k] = dbus.MakeVariant(v)
	}
	return out
}

// unknownProperty is the standard fdo error for Get/Set on a name this
// object doesn't have.
func unknownProperty(iface, name string) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty",
		[]interface{}{"no such property " + iface + "." + name})
}

// unknownObject is the standard fdo error for a method call or Get on an
// object path this daemon no longer (or never did) serve.
func unknownObject(path dbus.ObjectPath) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.UnknownObject",
		[]interface{}{"no such object " + string(path)})
}

// failedf builds a generic org.freedesktop.DBus.Error.Failed with a
// formatted message, for method calls that hit a kernel or transport error.
func failedf(format string, args ...any) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.Failed",
		[]interface{}{fmt.Sprintf(format, args...)})
}
