// Package netlinkmon watches the kernel's rtnetlink multicast groups and
// applies batched updates to the shared state store, per spec.md §4.4. It
// never talks to D-Bus directly; it reports what changed through a Notifier
// so the signal-emitter component (internal/dbusnm) can decide what to say
// on the bus.
package netlinkmon

import (
	"context"
	"log"
	"time"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"

	"nmlinkd/internal/mapping"
	"nmlinkd/internal/netlinkq"
	"nmlinkd/internal/state"
)

// rtnetlink multicast groups (linux/rtnetlink.h RTMGRP_*), hardcoded the way
// the legacy bitmask API expects — same style as the other ambient link
// flag constants in internal/mapping.
const (
	rtmgrpLink       = 0x1
	rtmgrpIPv4IfAddr = 0x10
	rtmgrpIPv4Route  = 0x40
	rtmgrpIPv6IfAddr = 0x100
	rtmgrpIPv6Route  = 0x400
)

// rtnetlink message types (linux/rtnetlink.h RTM_*) this monitor reacts to.
const (
	rtmNewLink  = 16
	rtmDelLink  = 17
	rtmNewAddr  = 20
	rtmDelAddr  = 21
	rtmNewRoute = 24
	rtmDelRoute = 25
)

// debounceWindow is the quiet period the monitor waits for before applying
// an accumulated batch, per spec.md §4.4.
const debounceWindow = 50 * time.Millisecond

// Notifier is told what changed while a batch is applied, so it can emit the
// corresponding D-Bus signals. Implemented by internal/dbusnm. DeviceRemoved,
// DeviceAdded and DeviceStateChanged are called from inside the phase that
// caused them, before the later phases of the same batch have run;
// GlobalStateChanged and IPConfigChanged are called after the last phase.
type Notifier interface {
	DeviceAdded(ifindex int32)
	DeviceRemoved(ifindex int32)
	DeviceStateChanged(ifindex int32, newState, oldState uint32)
	IPConfigChanged(ifindex int32)
	GlobalStateChanged()
}

// pendingBatch accumulates the distinct kinds of change seen during one
// debounce window. Using sets keyed by ifindex means a burst of events for
// the same link collapses into a single re-read.
type pendingBatch struct {
	delLinks    map[int32]struct{}
	changedLink map[int32]struct{}
	changedAddr map[int32]struct{}
	routesDirty bool
}

func newPendingBatch() *pendingBatch {
	return &pendingBatch{
		delLinks:    make(map[int32]struct{}),
		changedLink: make(map[int32]struct{}),
		changedAddr: make(map[int32]struct{}),
	}
}

func (b *pendingBatch) empty() bool {
	return len(b.delLinks) == 0 && len(b.changedLink) == 0 && len(b.changedAddr) == 0 && !b.routesDirty
}

// Monitor owns the multicast socket and drives the debounce loop.
type Monitor struct {
	sock  *netlink.Conn
	store *state.Store
	kern  netlinkq.Kernel
	notif Notifier
}

// New opens the multicast socket subscribed to link, address and route
// groups in both families.
func New(store *state.Store, kern netlinkq.Kernel, notif Notifier) (*Monitor, error) {
	groups := uint32(rtmgrpLink | rtmgrpIPv4IfAddr | rtmgrpIPv6IfAddr | rtmgrpIPv4Route | rtmgrpIPv6Route)
	sock, err := netlink.Dial(0 /* NETLINK_ROUTE */, &netlink.Config{Groups: groups})
	if err != nil {
		return nil, err
	}
	return &Monitor{sock: sock, store: store, kern: kern, notif: notif}, nil
}

// Close releases the multicast socket.
func (m *Monitor) Close() error {
	return m.sock.Close()
}

// Run receives kernel events until ctx is cancelled, accumulating them into
// batches separated by debounceWindow quiet periods and applying each batch
// in strict phase order: DelLink, NewLink, Addresses, Routes.
func (m *Monitor) Run(ctx context.Context) error {
	type recvResult struct {
		msgs []netlink.Message
		err  error
	}
	recvCh := make(chan recvResult)
	go func() {
		for {
			msgs, err := m.sock.Receive()
			recvCh <- recvResult{msgs, err}
			if err != nil {
				return
			}
		}
	}()

	batch := newPendingBatch()
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case r := <-recvCh:
			if r.err != nil {
				return r.err
			}
			for _, msg := range r.msgs {
				applyMessageToBatch(batch, msg)
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceWindow)
			}
			timerC = timer.C

		case <-timerC:
			if !batch.empty() {
				m.applyBatch(ctx, batch)
			}
			batch = newPendingBatch()
			timerC = nil
		}
	}
}

func applyMessageToBatch(b *pendingBatch, msg netlink.Message) {
	switch msg.Header.Type {
	case rtmDelLink:
		var lm rtnetlink.LinkMessage
		if err := lm.UnmarshalBinary(msg.Data); err == nil {
			b.delLinks[int32(lm.Index)] = struct{}{}
		}
	case rtmNewLink:
		var lm rtnetlink.LinkMessage
		if err := lm.UnmarshalBinary(msg.Data); err == nil {
			b.changedLink[int32(lm.Index)] = struct{}{}
		}
	case rtmNewAddr, rtmDelAddr:
		var am rtnetlink.AddressMessage
		if err := am.UnmarshalBinary(msg.Data); err == nil {
			b.changedAddr[int32(am.Index)] = struct{}{}
		}
	case rtmNewRoute, rtmDelRoute:
		b.routesDirty = true
	}
}

// globalSnapshot is the pair of derived fields whose change decides whether
// a batch that touched no route needs to tell the bus about it.
type globalSnapshot struct {
	global       uint32
	connectivity uint32
}

func takeGlobalSnapshot(store *state.Store) globalSnapshot {
	return state.WithState(store, func(s *state.AppState) globalSnapshot {
		return globalSnapshot{s.GlobalState, s.Connectivity}
	})
}

// applyBatch performs the four phases in order, logging and continuing past
// per-device kernel query failures rather than aborting the whole batch. IP-
// config notifications from the Addresses and Routes phases are collected
// into ipNotify and emitted once per ifindex at the end, per spec.md §4.4
// "emit all queued IP-config notifications exactly once per ifindex".
func (m *Monitor) applyBatch(ctx context.Context, b *pendingBatch) {
	before := takeGlobalSnapshot(m.store)

	for ifindex := range b.delLinks {
		m.applyDelLink(ifindex)
	}

	for ifindex := range b.changedLink {
		if _, gone := b.delLinks[ifindex]; gone {
			continue
		}
		m.applyNewLink(ctx, ifindex)
	}

	ipNotify := make(map[int32]struct{})

	for ifindex := range b.changedAddr {
		if _, gone := b.delLinks[ifindex]; gone {
			continue
		}
		m.applyAddrChange(ctx, ifindex, ipNotify)
	}

	if b.routesDirty {
		m.applyRouteChange(ctx, ipNotify)
	}

	m.store.Write(func(s *state.AppState) {
		s.RecomputeGlobalState()
	})

	// Per spec.md §4.4: a route batch always reports the global state
	// (routes can change effective connectivity without a device's own
	// state moving), while any other batch only reports it if the derived
	// global state actually moved.
	if b.routesDirty || takeGlobalSnapshot(m.store) != before {
		m.notif.GlobalStateChanged()
	}

	for ifindex := range ipNotify {
		m.notif.IPConfigChanged(ifindex)
	}
}

func (m *Monitor) applyDelLink(ifindex int32) {
	var existed bool
	m.store.Write(func(s *state.AppState) {
		if _, ok := s.Devices[ifindex]; ok {
			delete(s.Devices, ifindex)
			delete(s.UserDisconnectPending, ifindex)
			existed = true
		}
	})
	if existed {
		m.notif.DeviceRemoved(ifindex)
	}
}

func (m *Monitor) applyNewLink(ctx context.Context, ifindex int32) {
	links, err := m.kern.ListLinks(ctx)
	if err != nil {
		log.Printf("netlinkmon: re-reading links after event: %v", err)
		return
	}

	var found *netlinkq.LinkInfo
	for i := range links {
		if links[i].Ifindex == ifindex {
			found = &links[i]
			break
		}
	}
	if found == nil {
		m.applyDelLink(ifindex)
		return
	}
	if mapping.ShouldIgnoreInterface(found.Name) {
		return
	}

	alreadyKnown := state.WithState(m.store, func(s *state.AppState) bool {
		_, ok := s.Devices[ifindex]
		return ok
	})
	if !alreadyKnown {
		m.applyNewDevice(ctx, found)
		return
	}

	var newState, oldState uint32
	var changed bool
	m.store.Write(func(s *state.AppState) {
		d := s.Devices[ifindex]
		d.HWAddress = found.HWAddress
		newState, oldState, changed = d.UpdateStateOnLinkChange(found.Flags)
	})
	if changed {
		m.notif.DeviceStateChanged(ifindex, newState, oldState)
	}
}

// applyNewDevice registers a link this monitor has never seen before. Per
// spec.md §4.4 NewLink and the original's handle_new_link
// (original_source/src/netlink/monitor.rs), a freshly discovered device must
// synchronously pull its addresses, gateways and nameservers and fold them
// into its NMState before it's exposed on the bus — otherwise a hotplugged
// device that already owns a default route would sit at IpConfig until some
// unrelated later event nudged it, violating §3 invariant 5. The kernel
// queries run before any writer is taken, per §9: no batch step may hold a
// writer across a kernel query.
func (m *Monitor) applyNewDevice(ctx context.Context, found *netlinkq.LinkInfo) {
	ifindex := found.Ifindex

	v4, v6, err := m.kern.ListAddresses(ctx, ifindex)
	if err != nil {
		log.Printf("netlinkmon: reading addresses for new device %d: %v", ifindex, err)
	}
	gw4, gw6, err := m.kern.ListDefaultRoutes(ctx)
	if err != nil {
		log.Printf("netlinkmon: reading routes for new device %d: %v", ifindex, err)
	}
	nameservers, err := m.kern.Nameservers()
	if err != nil {
		log.Printf("netlinkmon: reading nameservers for new device %d: %v", ifindex, err)
	}

	m.store.Write(func(s *state.AppState) {
		d := state.NewDeviceInfo(ifindex, found.Name, mapping.LinkKindToDeviceType(found.Kind))
		d.HWAddress = found.HWAddress
		d.LinkFlags = found.Flags
		d.IPv4Addrs = toStateAddrs(v4)
		d.IPv6Addrs = toStateAddrs(v6)
		d.Gateway4 = gw4[ifindex]
		d.Gateway6 = gw6[ifindex]
		d.NMState = mapping.NetlinkFlagsToNMDevice(found.Flags, d.HasIPv4(), d.HasIPv6())
		s.Devices[ifindex] = d
		if err == nil {
			s.Nameservers = nameservers
		}
	})

	m.notif.DeviceAdded(ifindex)
}

// applyAddrChange re-reads ifindex's addresses and queues it into ipNotify
// rather than notifying inline, so a device touched by both an address and a
// route change in the same batch still gets exactly one IP4Config signal.
func (m *Monitor) applyAddrChange(ctx context.Context, ifindex int32, ipNotify map[int32]struct{}) {
	v4, v6, err := m.kern.ListAddresses(ctx, ifindex)
	if err != nil {
		log.Printf("netlinkmon: re-reading addresses for ifindex %d: %v", ifindex, err)
		return
	}

	var newState, oldState uint32
	var changed, exists bool
	m.store.Write(func(s *state.AppState) {
		d, ok := s.Devices[ifindex]
		if !ok {
			return
		}
		exists = true
		d.IPv4Addrs = toStateAddrs(v4)
		d.IPv6Addrs = toStateAddrs(v6)
		newState, oldState, changed = d.UpdateStateOnIPChange()
	})

	if exists {
		ipNotify[ifindex] = struct{}{}
	}
	if changed {
		m.notif.DeviceStateChanged(ifindex, newState, oldState)
	}
}

// applyRouteChange zeroes every device's gateways, reloads the default
// routes for both families, and rebinds them by oif. Per spec.md §4.4, a
// route change may affect any device's effective gateway, so every known
// device is queued into ipNotify, not only the ones whose gateway literally
// changed.
func (m *Monitor) applyRouteChange(ctx context.Context, ipNotify map[int32]struct{}) {
	gw4, gw6, err := m.kern.ListDefaultRoutes(ctx)
	if err != nil {
		log.Printf("netlinkmon: re-reading routes: %v", err)
		return
	}

	m.store.Write(func(s *state.AppState) {
		for ifindex, d := range s.Devices {
			d.Gateway4 = gw4[ifindex]
			d.Gateway6 = gw6[ifindex]
			ipNotify[ifindex] = struct{}{}
		}
	})
}

func toStateAddrs(in []netlinkq.AddrInfo) []state.AddrInfo {
	if len(in) == 0 {
		return nil
	}
	out := make([]state.AddrInfo, len(in))
	for i, a := range in {
		out[i] = state.AddrInfo{Address: a.Address, PrefixLen: a.PrefixLen}
	}
	return out
}
