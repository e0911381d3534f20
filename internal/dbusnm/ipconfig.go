package dbusnm

import (
	"net"

	"github.com/godbus/dbus/v5"

	"nmlinkd/internal/state"
)

// IPConfig serves both org.freedesktop.NetworkManager.IP4Config and
// .IP6Config: the two interfaces carry almost the same shape over this
// bridge's simplified (AddressData/Gateway/NameserverData/Domains) property
// set, so one Go type backs both, switching on which gateway/address list it
// was built to read.
type IPConfig struct {
	svc     *Service
	ifindex int32
	v6      bool
}

func newIP4Config(svc *Service, ifindex int32) *IPConfig {
	return &IPConfig{svc: svc, ifindex: ifindex, v6: false}
}

func newIP6Config(svc *Service, ifindex int32) *IPConfig {
	return &IPConfig{svc: svc, ifindex: ifindex, v6: true}
}

func (c *IPConfig) path() dbus.ObjectPath {
	if c.v6 {
		return state.IP6ConfigPath(c.ifindex)
	}
	return state.IP4ConfigPath(c.ifindex)
}

func (c *IPConfig) iface() string {
	if c.v6 {
		return IfaceIP6Config
	}
	return IfaceIP4Config
}

// Get implements org.freedesktop.DBus.Properties.Get.
func (c *IPConfig) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
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
func (c *IPConfig) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != c.iface() {
		return nil, unknownProperty(iface, "")
	}

	type addrs struct {
		list    []state.AddrInfo
		gateway string
	}
	a, ok := state.WithDevice(c.svc.store, c.ifindex, func(d *state.DeviceInfo) addrs {
		if c.v6 {
			return addrs{list: append([]state.AddrInfo(nil), d.IPv6Addrs...), gateway: d.Gateway6}
		}
		return addrs{list: append([]state.AddrInfo(nil), d.IPv4Addrs...), gateway: d.Gateway4}
	})
	if !ok {
		return nil, unknownObject(c.path())
	}

	addressData := make([]map[string]dbus.Variant, 0, len(a.list))
	for _, ai := range a.list {
		addressData = append(addressData, variantMap(map[string]any{
			"address": ai.Address,
			"prefix":  uint32(ai.PrefixLen),
		}))
	}

	nameservers := state.WithState(c.svc.store, func(s *state.AppState) []string {
		return s.Nameservers
	})

	if c.v6 {
		return variantMap(map[string]any{
			"AddressData": addressData,
			"Gateway":     a.gateway,
			"Nameservers": ipv6NameserverOctets(nameservers),
			"Domains":     []string{},
		}), nil
	}

	return variantMap(map[string]any{
		"AddressData":    addressData,
		"Gateway":        a.gateway,
		"NameserverData": ipv4NameserverData(nameservers),
		"Domains":        []string{},
	}), nil
}

// ipv4NameserverData filters nameservers to IPv4 literals and shapes them
// per spec.md §4.5: [{"address": string}, ...].
func ipv4NameserverData(nameservers []string) []map[string]dbus.Variant {
	out := make([]map[string]dbus.Variant, 0, len(nameservers))
	for _, ns := range nameservers {
		ip := net.ParseIP(ns)
		if ip == nil || ip.To4() == nil {
			continue
		}
		out = append(out, variantMap(map[string]any{"address": ns}))
	}
	return out
}

// ipv6NameserverOctets filters nameservers to IPv6 literals and renders each
// as a 16-byte octet array, per spec.md §4.5.
func ipv6NameserverOctets(nameservers []string) [][]byte {
	out := make([][]byte, 0, len(nameservers))
	for _, ns := range nameservers {
		ip := net.ParseIP(ns)
		if ip == nil || ip.To4() != nil {
			continue
		}
		v6 := ip.To16()
		if v6 == nil {
			continue
		}
		out = append(out, append([]byte(nil), v6...))
	}
	return out
}

// Set implements org.freedesktop.DBus.Properties.Set. IP configuration is
// entirely kernel-derived, so every property is read-only.
func (c *IPConfig) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	return failedf("property %s.%s is read-only", iface, prop)
}
