package state

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
)

const nmPrefix = "/org/freedesktop/NetworkManager"

// RootPath is the sentinel path NetworkManager uses for "no object", e.g. an
// unconnected device's ActiveConnection property.
const RootPath dbus.ObjectPath = "/"

// DevicePath returns the object path for a device's ifindex.
func DevicePath(ifindex int32) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/Devices/%d", nmPrefix, ifindex))
}

// IP4ConfigPath returns the object path for a device's IP4Config.
func IP4ConfigPath(ifindex int32) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/IP4Config/%d", nmPrefix, ifindex))
}

// IP6ConfigPath returns the object path for a device's IP6Config.
func IP6ConfigPath(ifindex int32) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/IP6Config/%d", nmPrefix, ifindex))
}

// ActiveConnectionPath returns the object path for a device's synthesized
// active connection.
func ActiveConnectionPath(ifindex int32) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/ActiveConnection/%d", nmPrefix, ifindex))
}

// SettingsPath returns the object path for a device's synthesized connection
// settings.
func SettingsPath(ifindex int32) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/Settings/%d", nmPrefix, ifindex))
}

// SettingsRootPath is the path of the Settings singleton.
const SettingsRootPath dbus.ObjectPath = nmPrefix + "/Settings"

// ManagerPath is the path of the Manager singleton.
const ManagerPath dbus.ObjectPath = nmPrefix

// ifindexPathPrefixes are every object-path shape this daemon hands out that
// ends in a bare ifindex: Devices, ActiveConnection and Settings paths.
var ifindexPathPrefixes = []string{
	nmPrefix + "/Devices/",
	nmPrefix + "/ActiveConnection/",
	nmPrefix + "/Settings/",
}

// ParseIfindexFromPath extracts the trailing ifindex segment from any of
// this daemon's own object paths (Device, ActiveConnection or Settings),
// per spec.md §4.5 / SPEC_FULL.md's resolve_ifindex_from_path generalization.
func ParseIfindexFromPath(path dbus.ObjectPath) (int32, bool) {
	s := string(path)
	for _, prefix := range ifindexPathPrefixes {
		if strings.HasPrefix(s, prefix) {
			n, err := strconv.Atoi(strings.TrimPrefix(s, prefix))
			if err != nil {
				return 0, false
			}
			return int32(n), true
		}
	}
	return 0, false
}

// fnv64a runs FNV-1a over seed followed by name, so two distinct seed
// strings over the same name give two independent 64-bit values.
func fnv64a(seed, name string) uint64 {
	const offsetBasis = 0xcbf29ce484222325
	const prime64 = 1099511628211
	h := uint64(offsetBasis)
	for i := 0; i < len(seed); i++ {
		h ^= uint64(seed[i])
		h *= prime64
	}
	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= prime64
	}
	return h
}

// ConnectionUUID derives a stable, deterministic UUID for the synthesized
// connection backing a device, from two independently-seeded hashes of its
// interface name, packed little-endian per spec.md §3. The low 16 bits of
// the final group are forced to zero.
func ConnectionUUID(name string) string {
	h1 := fnv64a("nmlinkd", name)
	h2 := fnv64a("nmlinkd2", name)

	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], h1)
	binary.LittleEndian.PutUint64(b[8:16], h2)
	b[14] = 0
	b[15] = 0

	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
