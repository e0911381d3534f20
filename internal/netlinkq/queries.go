// Package netlinkq issues the point-in-time rtnetlink queries described in
// spec.md §4.3: link, address and route dumps, and the two admin up/down
// requests. It never watches for events — that's internal/netlinkmon's job.
package netlinkq

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/jsimonetti/rtnetlink"
	"golang.org/x/sync/singleflight"

	"nmlinkd/internal/mapping"
	"nmlinkd/internal/nmerr"
)

// LinkInfo is a parsed RTM_GETLINK dump entry.
type LinkInfo struct {
	Ifindex   int32
	Name      string
	Flags     uint32
	HWAddress string
	Kind      string // IFLA_INFO_KIND, e.g. "wireguard", "bridge"; empty if not a virtual link type
}

// AddrInfo is a parsed RTM_GETADDR dump entry.
type AddrInfo struct {
	Address   string
	PrefixLen uint8
}

// Kernel is the scoped capability the rest of the daemon holds once initial
// load has run (spec.md §3 "netlink_handle"). Defined as an interface so
// internal/netlinkmon and internal/dbusnm can be tested against a fake.
type Kernel interface {
	ListLinks(ctx context.Context) ([]LinkInfo, error)
	ListAddresses(ctx context.Context, ifindex int32) (ipv4, ipv6 []AddrInfo, err error)
	ListDefaultRoutes(ctx context.Context) (gateway4, gateway6 map[int32]string, err error)
	LinkSetUp(ctx context.Context, ifindex int32) error
	LinkSetDown(ctx context.Context, ifindex int32) error
	Nameservers() ([]string, error)
}

// Conn is the rtnetlink-backed Kernel implementation.
type Conn struct {
	conn *rtnetlink.Conn

	// group collapses concurrent re-reads of the same dump that can be
	// triggered by overlapping debounce batches into a single kernel round
	// trip, per spec.md §5 note on query collapsing.
	group singleflight.Group

	resolvMu    sync.Mutex
	resolvPaths []string
}

// defaultResolvPaths is the preference order from spec.md §4.3: the
// systemd-resolved stub file first, falling back to the traditional path.
var defaultResolvPaths = []string{
	"/run/systemd/resolve/resolv.conf",
	"/etc/resolv.conf",
}

// Dial opens the rtnetlink socket used for queries.
func Dial() (*Conn, error) {
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, nmerr.New(nmerr.Kernel, "netlinkq.Dial", err)
	}
	return &Conn{conn: conn, resolvPaths: defaultResolvPaths}, nil
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// ListLinks dumps every interface the kernel currently knows about.
func (c *Conn) ListLinks(ctx context.Context) ([]LinkInfo, error) {
	v, err, _ := c.group.Do("links", func() (any, error) {
		msgs, err := c.conn.Link.List()
		if err != nil {
			return nil, nmerr.New(nmerr.Kernel, "ListLinks", err)
		}
		out := make([]LinkInfo, 0, len(msgs))
		for _, m := range msgs {
			li := LinkInfo{
				Ifindex: int32(m.Index),
				Flags:   m.Flags,
			}
			if m.Attributes != nil {
				li.Name = m.Attributes.Name
				if len(m.Attributes.Address) > 0 {
					li.HWAddress = mapping.FormatMAC(m.Attributes.Address)
				}
				if m.Attributes.Info != nil {
					li.Kind = m.Attributes.Info.Kind
				}
			}
			out = append(out, li)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]LinkInfo), nil
}

// ListAddresses dumps the IPv4 and IPv6 addresses on one interface.
func (c *Conn) ListAddresses(ctx context.Context, ifindex int32) (ipv4, ipv6 []AddrInfo, err error) {
	key := fmt.Sprintf("addrs:%d", ifindex)
	v, err, _ := c.group.Do(key, func() (any, error) {
		msgs, err := c.conn.Address.List()
		if err != nil {
			return nil, nmerr.New(nmerr.Kernel, "ListAddresses", err)
		}
		var v4, v6 []AddrInfo
		for _, m := range msgs {
			if int32(m.Index) != ifindex || m.Attributes == nil || m.Attributes.Address == nil {
				continue
			}
			ai := AddrInfo{Address: m.Attributes.Address.String(), PrefixLen: m.PrefixLength}
			if m.Attributes.Address.To4() != nil {
				v4 = append(v4, ai)
			} else {
				v6 = append(v6, ai)
			}
		}
		return [2][]AddrInfo{v4, v6}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	pair := v.([2][]AddrInfo)
	return pair[0], pair[1], nil
}

// ListDefaultRoutes dumps the default-route gateway per interface, for both
// address families, from a single kernel route dump covering both.
func (c *Conn) ListDefaultRoutes(ctx context.Context) (gateway4, gateway6 map[int32]string, err error) {
	v, err, _ := c.group.Do("routes", func() (any, error) {
		msgs, err := c.conn.Route.List()
		if err != nil {
			return nil, nmerr.New(nmerr.Kernel, "ListDefaultRoutes", err)
		}
		v4 := make(map[int32]string)
		v6 := make(map[int32]string)
		for _, m := range msgs {
			if m.DstLength != 0 || m.Attributes.Gateway == nil {
				continue
			}
			ifindex := int32(m.Attributes.OutIface)
			gw := m.Attributes.Gateway.String()
			if m.Family == 2 { // AF_INET
				v4[ifindex] = gw
			} else if m.Family == 10 { // AF_INET6
				v6[ifindex] = gw
			}
		}
		return [2]map[int32]string{v4, v6}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	pair := v.([2]map[int32]string)
	return pair[0], pair[1], nil
}

const (
	iffUp = 0x1
)

// LinkSetUp issues an admin "up" request for ifindex.
func (c *Conn) LinkSetUp(ctx context.Context, ifindex int32) error {
	return c.linkSetFlag(ifindex, iffUp, true)
}

// LinkSetDown issues an admin "down" request for ifindex.
func (c *Conn) LinkSetDown(ctx context.Context, ifindex int32) error {
	return c.linkSetFlag(ifindex, iffUp, false)
}

func (c *Conn) linkSetFlag(ifindex int32, flag uint32, set bool) error {
	var flags uint32
	if set {
		flags = flag
	}
	msg := rtnetlink.LinkMessage{
		Family: 0,
		Type:   0,
		Index:  uint32(ifindex),
		Flags:  flags,
		Change: flag,
	}
	if err := c.conn.Link.Set(msg); err != nil {
		return nmerr.New(nmerr.Permission, "LinkSetFlag", err)
	}
	return nil
}

// Nameservers parses the nameserver list out of resolv.conf, per spec.md
// §4.3: the first of its configured paths that yields at least one
// "nameserver X" line wins; a missing or unreadable file is skipped rather
// than treated as an error — NetworkManager's own Dns property tolerates a
// hostless resolver setup.
func (c *Conn) Nameservers() ([]string, error) {
	c.resolvMu.Lock()
	paths := c.resolvPaths
	c.resolvMu.Unlock()

	for _, path := range paths {
		out, err := parseNameservers(path)
		if err != nil {
			continue
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, nil
}

func parseNameservers(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nmerr.New(nmerr.IO, "Nameservers", err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == "nameserver" {
			out = append(out, fields[1])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nmerr.New(nmerr.IO, "Nameservers", err)
	}
	return out, nil
}
