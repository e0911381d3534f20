package state

import (
	"regexp"
	"testing"

	"github.com/godbus/dbus/v5"
)

var uuidRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestConnectionUUIDShape(t *testing.T) {
	u := ConnectionUUID("eth0")
	if !uuidRe.MatchString(u) {
		t.Fatalf("ConnectionUUID(%q) = %q, not a canonical UUID", "eth0", u)
	}
	if u[len(u)-4:] != "0000" {
		t.Errorf("ConnectionUUID(%q) = %q, want final group to end in 0000", "eth0", u)
	}
}

func TestConnectionUUIDStableAndDistinct(t *testing.T) {
	a1 := ConnectionUUID("eth0")
	a2 := ConnectionUUID("eth0")
	if a1 != a2 {
		t.Errorf("ConnectionUUID is not deterministic: %q != %q", a1, a2)
	}
	b := ConnectionUUID("eth1")
	if a1 == b {
		t.Errorf("ConnectionUUID(eth0) == ConnectionUUID(eth1): %q", a1)
	}
}

func TestPathHelpers(t *testing.T) {
	if got := DevicePath(4); got != "/org/freedesktop/NetworkManager/Devices/4" {
		t.Errorf("DevicePath = %q", got)
	}
	if got := IP4ConfigPath(4); got != "/org/freedesktop/NetworkManager/IP4Config/4" {
		t.Errorf("IP4ConfigPath = %q", got)
	}
	if got := IP6ConfigPath(4); got != "/org/freedesktop/NetworkManager/IP6Config/4" {
		t.Errorf("IP6ConfigPath = %q", got)
	}
	if got := ActiveConnectionPath(4); got != "/org/freedesktop/NetworkManager/ActiveConnection/4" {
		t.Errorf("ActiveConnectionPath = %q", got)
	}
	if got := SettingsPath(4); got != "/org/freedesktop/NetworkManager/Settings/4" {
		t.Errorf("SettingsPath = %q", got)
	}
}

func TestParseIfindexFromPath(t *testing.T) {
	cases := []struct {
		path   dbus.ObjectPath
		want   int32
		wantOk bool
	}{
		{DevicePath(7), 7, true},
		{ActiveConnectionPath(7), 7, true},
		{SettingsPath(7), 7, true},
		{RootPath, 0, false},
		{"/org/freedesktop/NetworkManager/Devices/not-a-number", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseIfindexFromPath(c.path)
		if ok != c.wantOk || (ok && got != c.want) {
			t.Errorf("ParseIfindexFromPath(%q) = (%d, %v), want (%d, %v)", c.path, got, ok, c.want, c.wantOk)
		}
	}
}
