// Package state holds the in-memory device table and derived global fields
// that the rest of the daemon reads and mutates, per spec.md §3/§4.2. It is
// the single process-wide shared resource: the netlink monitor is the sole
// writer of the device table, D-Bus property/method handlers are readers
// (with one narrow exception — Device.Disconnect and DeactivateConnection
// record a pending-disconnect hint).
package state

import (
	"sync"

	"nmlinkd/internal/mapping"
	"nmlinkd/internal/netlinkq"
)

// AddrInfo is an address plus its prefix length, kept in the order the
// kernel returned it.
type AddrInfo struct {
	Address   string
	PrefixLen uint8
}

// DeviceInfo is the per-interface record described in spec.md §3. ifindex is
// the only identity used inside the daemon.
type DeviceInfo struct {
	Ifindex    int32
	Name       string
	DeviceType uint32
	HWAddress  string
	LinkFlags  uint32
	NMState    uint32
	IPv4Addrs  []AddrInfo
	IPv6Addrs  []AddrInfo
	Gateway4   string
	Gateway6   string
}

// NewDeviceInfo creates a device record in its pre-discovery state: unknown
// NM state, no addresses, no gateway.
func NewDeviceInfo(ifindex int32, name string, deviceType uint32) *DeviceInfo {
	return &DeviceInfo{
		Ifindex:    ifindex,
		Name:       name,
		DeviceType: deviceType,
		NMState:    mapping.DeviceStateUnknown,
	}
}

// HasIPv4 reports whether the device carries any IPv4 address.
func (d *DeviceInfo) HasIPv4() bool { return len(d.IPv4Addrs) > 0 }

// HasIPv6 reports whether the device carries any IPv6 address.
func (d *DeviceInfo) HasIPv6() bool { return len(d.IPv6Addrs) > 0 }

// HasIP reports whether the device carries any address at all.
func (d *DeviceInfo) HasIP() bool { return d.HasIPv4() || d.HasIPv6() }

// HasGateway reports whether the device owns a default gateway in either
// family.
func (d *DeviceInfo) HasGateway() bool { return d.Gateway4 != "" || d.Gateway6 != "" }

// UpdateStateOnIPChange recomputes NMState after an address reload. Per
// spec.md §9 Open Question 1, an IP change never raises a device out of
// Disconnected/Unavailable — only devices already at IpConfig or above can
// move between IpConfig and Activated here. Returns the new/old state and
// whether it changed.
func (d *DeviceInfo) UpdateStateOnIPChange() (newState, oldState uint32, changed bool) {
	oldState = d.NMState
	if oldState < mapping.DeviceStateIPConfig {
		return oldState, oldState, false
	}

	if d.HasIP() {
		newState = mapping.DeviceStateActivated
	} else {
		newState = mapping.DeviceStateIPConfig
	}

	if newState == oldState {
		return oldState, oldState, false
	}
	d.NMState = newState
	return newState, oldState, true
}

// UpdateStateOnLinkChange recomputes NMState after a NewLink carrying new
// flags. Clears both gateways when the device drops to Disconnected or
// Unavailable, per spec.md §3 invariant 4.
func (d *DeviceInfo) UpdateStateOnLinkChange(flags uint32) (newState, oldState uint32, changed bool) {
	oldState = d.NMState
	d.LinkFlags = flags
	newState = mapping.NetlinkFlagsToNMDevice(flags, d.HasIPv4(), d.HasIPv6())

	if newState == oldState {
		return oldState, oldState, false
	}
	d.NMState = newState

	if newState == mapping.DeviceStateDisconnected || newState == mapping.DeviceStateUnavailable {
		d.Gateway4 = ""
		d.Gateway6 = ""
	}

	return newState, oldState, true
}

// AppState is the process-wide model described in spec.md §3.
type AppState struct {
	Devices               map[int32]*DeviceInfo
	GlobalState           uint32
	Connectivity          uint32
	Nameservers           []string
	UserDisconnectPending map[int32]struct{}
}

func newAppState() AppState {
	return AppState{
		Devices:               make(map[int32]*DeviceInfo),
		GlobalState:           mapping.StateDisconnected,
		Connectivity:          mapping.ConnectivityNone,
		UserDisconnectPending: make(map[int32]struct{}),
	}
}

// RecomputeGlobalState derives GlobalState and Connectivity together from
// the current device table, per spec.md §9 "always recompute ... together".
func (s *AppState) RecomputeGlobalState() {
	summaries := make([]mapping.DeviceSummary, 0, len(s.Devices))
	for _, d := range s.Devices {
		summaries = append(summaries, mapping.DeviceSummary{HasIP: d.HasIP(), HasGateway: d.HasGateway()})
	}
	s.GlobalState = mapping.DeduceGlobalState(summaries)
	s.Connectivity = mapping.GlobalStateToConnectivity(s.GlobalState)
}

// Store is the single shared, asynchronously-lockable cell described in
// spec.md §4.2. Every access goes through WithDevice/WithState (short reads)
// or Write (a single writer acquisition per logical batch step).
type Store struct {
	mu     sync.RWMutex
	state  AppState
	kernel netlinkq.Kernel
}

// NewStore creates an empty store with no devices and no kernel handle.
func NewStore() *Store {
	return &Store{state: newAppState()}
}

// SetKernel installs the scoped kernel-query capability (spec.md §3
// "netlink_handle"), available after initial load.
func (s *Store) SetKernel(k netlinkq.Kernel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kernel = k
}

// Kernel returns the shared kernel handle. The handle itself is safe to use
// concurrently, so callers clone the reference and release the lock before
// issuing any query, per spec.md §9 "no batch step may hold a writer across
// a kernel query".
func (s *Store) Kernel() netlinkq.Kernel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kernel
}

// WithDevice acquires a short read lock and hands f the device matching
// ifindex, returning f's result and true, or the zero value and false if no
// such device exists.
func WithDevice[T any](s *Store, ifindex int32, f func(*DeviceInfo) T) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.state.Devices[ifindex]
	if !ok {
		var zero T
		return zero, false
	}
	return f(d), true
}

// WithState acquires a short read lock over the whole AppState.
func WithState[T any](s *Store, f func(*AppState) T) T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return f(&s.state)
}

// Write acquires the writer lock for the duration of f. Batch application in
// the netlink monitor calls this once per logical step (DelLink, NewLink,
// Addresses, Routes) rather than holding it for an entire batch, so readers
// never observe a torn mutation — only, transiently, a GlobalState about to
// be recomputed on the next step.
func (s *Store) Write(f func(*AppState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.state)
}
