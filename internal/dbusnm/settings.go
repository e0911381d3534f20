package dbusnm

import (
	"os"
	"strings"

	"github.com/godbus/dbus/v5"

	"nmlinkd/internal/state"
)

// Settings serves org.freedesktop.NetworkManager.Settings, the singleton
// listing one synthesized connection per live device.
type Settings struct {
	svc *Service
}

func newSettings(svc *Service) *Settings {
	return &Settings{svc: svc}
}

// ListConnections implements the Settings method of the same name.
func (s *Settings) ListConnections() ([]dbus.ObjectPath, *dbus.Error) {
	paths := state.WithState(s.svc.store, func(as *state.AppState) []dbus.ObjectPath {
		out := make([]dbus.ObjectPath, 0, len(as.Devices))
		for ifindex := range as.Devices {
			out = append(out, state.SettingsPath(ifindex))
		}
		return out
	})
	return paths, nil
}

// GetConnectionByUuid implements the Settings method of the same name.
func (s *Settings) GetConnectionByUuid(uuid string) (dbus.ObjectPath, *dbus.Error) {
	type result struct {
		path dbus.ObjectPath
		ok   bool
	}
	r := state.WithState(s.svc.store, func(as *state.AppState) result {
		for ifindex, d := range as.Devices {
			if state.ConnectionUUID(d.Name) == uuid {
				return result{state.SettingsPath(ifindex), true}
			}
		}
		return result{}
	})
	if !r.ok {
		return "", unknownObject(dbus.ObjectPath("/connection/" + uuid))
	}
	return r.path, nil
}

// LoadConnections implements the Settings method of the same name. This
// bridge has no on-disk connection profiles to (re)load, so it reports
// success with nothing failed, per spec.md §4.5.
func (s *Settings) LoadConnections(filenames []string) (bool, []string, *dbus.Error) {
	return true, []string{}, nil
}

// hostname reads /etc/hostname trimmed; an unreadable file is reported as
// empty rather than an error, per spec.md §7.
func hostname() string {
	b, err := os.ReadFile("/etc/hostname")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// Get implements org.freedesktop.DBus.Properties.Get.
func (s *Settings) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	all, derr := s.GetAll(iface)
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
func (s *Settings) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != IfaceSettings {
		return nil, unknownProperty(iface, "")
	}
	paths, _ := s.ListConnections()
	return variantMap(map[string]any{
		"Connections": paths,
		"Hostname":    hostname(),
		"CanModify":   false,
	}), nil
}

// Set implements org.freedesktop.DBus.Properties.Set; this bridge never
// accepts new connection settings.
func (s *Settings) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	return failedf("property %s.%s is read-only", iface, prop)
}
