// Command nmlinkd bridges the kernel's rtnetlink view of the host's network
// interfaces onto a read-only subset of org.freedesktop.NetworkManager.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"

	"nmlinkd/internal/dbusnm"
	"nmlinkd/internal/mapping"
	"nmlinkd/internal/netlinkmon"
	"nmlinkd/internal/netlinkq"
	"nmlinkd/internal/state"
)

func main() {
	bus := flag.String("bus", "system", "bus to claim org.freedesktop.NetworkManager on: system or session")
	flag.Parse()

	if os.Getenv("NMLINKD_LOG") == "debug" {
		log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	} else {
		log.SetFlags(log.Ldate | log.Ltime)
	}

	if err := run(*bus); err != nil {
		log.Printf("nmlinkd: %v", err)
		os.Exit(1)
	}
}

func run(bus string) error {
	conn, err := dialBus(bus)
	if err != nil {
		return fmt.Errorf("connecting to %s bus: %w", bus, err)
	}
	defer conn.Close()

	kern, err := netlinkq.Dial()
	if err != nil {
		return fmt.Errorf("opening rtnetlink query socket: %w", err)
	}
	defer kern.Close()

	store := state.NewStore()
	if err := initialLoad(context.Background(), store, kern); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	store.SetKernel(kern)

	svc := dbusnm.New(conn, store, kern)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("starting D-Bus service: %w", err)
	}
	log.Printf("nmlinkd: claimed %s on the %s bus", dbusnm.BusName, bus)

	mon, err := netlinkmon.New(store, kern, svc)
	if err != nil {
		return fmt.Errorf("opening rtnetlink multicast socket: %w", err)
	}
	defer mon.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = mon.Run(ctx)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func dialBus(bus string) (*dbus.Conn, error) {
	switch bus {
	case "system":
		return dbus.ConnectSystemBus()
	case "session":
		return dbus.ConnectSessionBus()
	default:
		return nil, fmt.Errorf("unknown bus %q: want system or session", bus)
	}
}

// initialLoad performs the synchronous startup sweep: links, one dump of the
// default routes, addresses per link, then the global state derived from all
// of them. Per
// spec.md §9 Open Question 1, initial load computes each device's NMState
// directly from flags plus already-known IP presence — unlike the
// debounced monitor, there's no "IpConfig first" transition to honor because
// there's no prior observed state to transition from.
func initialLoad(ctx context.Context, store *state.Store, kern netlinkq.Kernel) error {
	links, err := kern.ListLinks(ctx)
	if err != nil {
		return err
	}

	gw4, gw6, err := kern.ListDefaultRoutes(ctx)
	if err != nil {
		return err
	}

	nameservers, err := kern.Nameservers()
	if err != nil {
		log.Printf("nmlinkd: reading nameservers: %v", err)
	}

	type linkAddrs struct {
		link *netlinkq.LinkInfo
		v4   []netlinkq.AddrInfo
		v6   []netlinkq.AddrInfo
	}
	loaded := make([]linkAddrs, 0, len(links))
	for i := range links {
		l := &links[i]
		if mapping.ShouldIgnoreInterface(l.Name) {
			continue
		}
		v4, v6, err := kern.ListAddresses(ctx, l.Ifindex)
		if err != nil {
			log.Printf("nmlinkd: listing addresses for %s: %v", l.Name, err)
		}
		loaded = append(loaded, linkAddrs{link: l, v4: v4, v6: v6})
	}

	store.Write(func(s *state.AppState) {
		s.Nameservers = nameservers

		for _, la := range loaded {
			l := la.link
			d := state.NewDeviceInfo(l.Ifindex, l.Name, mapping.LinkKindToDeviceType(l.Kind))
			d.HWAddress = l.HWAddress
			d.LinkFlags = l.Flags
			for _, a := range la.v4 {
				d.IPv4Addrs = append(d.IPv4Addrs, state.AddrInfo{Address: a.Address, PrefixLen: a.PrefixLen})
			}
			for _, a := range la.v6 {
				d.IPv6Addrs = append(d.IPv6Addrs, state.AddrInfo{Address: a.Address, PrefixLen: a.PrefixLen})
			}
			d.Gateway4 = gw4[l.Ifindex]
			d.Gateway6 = gw6[l.Ifindex]
			d.NMState = mapping.NetlinkFlagsToNMDevice(l.Flags, d.HasIPv4(), d.HasIPv6())

			s.Devices[l.Ifindex] = d
		}

		s.RecomputeGlobalState()
	})

	return nil
}
