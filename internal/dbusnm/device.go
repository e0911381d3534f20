package dbusnm

import (
	"context"
	"errors"

	"github.com/godbus/dbus/v5"

	"nmlinkd/internal/mapping"
	"nmlinkd/internal/nmerr"
	"nmlinkd/internal/state"
)

// Device serves org.freedesktop.NetworkManager.Device (and its Wired/
// WireGuard companion interfaces) for one ifindex. One Device is exported
// per live interface at state.DevicePath(ifindex).
type Device struct {
	svc     *Service
	ifindex int32
}

func newDevice(svc *Service, ifindex int32) *Device {
	return &Device{svc: svc, ifindex: ifindex}
}

func (d *Device) snapshot() (*state.DeviceInfo, bool) {
	return state.WithDevice(d.svc.store, d.ifindex, func(di *state.DeviceInfo) *state.DeviceInfo {
		cp := *di
		cp.IPv4Addrs = append([]state.AddrInfo(nil), di.IPv4Addrs...)
		cp.IPv6Addrs = append([]state.AddrInfo(nil), di.IPv6Addrs...)
		return &cp
	})
}

// Get implements org.freedesktop.DBus.Properties.Get.
func (d *Device) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	all, derr := d.GetAll(iface)
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
func (d *Device) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	info, ok := d.snapshot()
	if !ok {
		return nil, unknownObject(state.DevicePath(d.ifindex))
	}

	switch iface {
	case IfaceDevice:
		return variantMap(map[string]any{
			"Udi":                  string(state.DevicePath(d.ifindex)),
			"Interface":            info.Name,
			"IpInterface":          info.Name,
			"Driver":               "",
			"DeviceType":           info.DeviceType,
			"State":                info.NMState,
			"StateReason":          [2]uint32{info.NMState, 0},
			"Ip4Address":           uint32(0),
			"Ip4Config":            ip4ConfigPathFor(info),
			"Ip6Config":            ip6ConfigPathFor(info),
			"ActiveConnection":     activeConnectionPathFor(info),
			"AvailableConnections": []dbus.ObjectPath{state.SettingsPath(d.ifindex)},
			"Managed":              true,
			"Autoconnect":          true,
			"FirmwareMissing":      false,
			"HwAddress":            info.HWAddress,
			"Mtu":                  uint32(1500),
			"Real":                 true,
		}), nil
	case IfaceDeviceWired:
		if info.DeviceType != mapping.DeviceTypeEthernet {
			return nil, unknownProperty(iface, "")
		}
		return variantMap(map[string]any{
			"HwAddress":       info.HWAddress,
			"PermHwAddress":   info.HWAddress,
			"Speed":           uint32(1000),
			"Carrier":         true,
			"S390Subchannels": []string{},
		}), nil
	case IfaceDeviceWireGuard:
		if info.DeviceType != mapping.DeviceTypeWireGuard {
			return nil, unknownProperty(iface, "")
		}
		return variantMap(map[string]any{
			"PublicKey":  []byte{},
			"ListenPort": uint16(0),
			"FwMark":     uint32(0),
		}), nil
	default:
		return nil, unknownProperty(iface, "")
	}
}

// Set implements org.freedesktop.DBus.Properties.Set. Every device property
// this bridge exposes is derived from kernel state, so writes are rejected.
func (d *Device) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	return failedf("property %s.%s is read-only", iface, prop)
}

// Disconnect implements the Device method of the same name: an admin-down
// on the underlying link, one of the two link mutations (up and down) this
// bridge performs.
func (d *Device) Disconnect() *dbus.Error {
	kern := d.svc.store.Kernel()
	if kern == nil {
		return failedf("kernel handle not ready")
	}
	if err := kern.LinkSetDown(context.Background(), d.ifindex); err != nil {
		var nerr *nmerr.Error
		if errors.As(err, &nerr) && nerr.Kind == nmerr.Permission {
			return failedf("permission denied bringing down interface: %v", nerr.Err)
		}
		return failedf("%v", err)
	}
	d.svc.store.Write(func(s *state.AppState) {
		s.UserDisconnectPending[d.ifindex] = struct{}{}
	})
	return nil
}

func ip4ConfigPathFor(info *state.DeviceInfo) dbus.ObjectPath {
	if !info.HasIPv4() {
		return state.RootPath
	}
	return state.IP4ConfigPath(info.Ifindex)
}

func ip6ConfigPathFor(info *state.DeviceInfo) dbus.ObjectPath {
	if !info.HasIPv6() {
		return state.RootPath
	}
	return state.IP6ConfigPath(info.Ifindex)
}

func activeConnectionPathFor(info *state.DeviceInfo) dbus.ObjectPath {
	if info.NMState != mapping.DeviceStateActivated {
		return state.RootPath
	}
	return state.ActiveConnectionPath(info.Ifindex)
}
