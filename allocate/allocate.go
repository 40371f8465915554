package allocate

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/fleetworks/director/manifest"
)

// First-fit allocation of resource-pool slots and network addresses.
// Failure here aborts the plan for the whole operation; the
// reconciler never partially allocates an instance.

type CapacityExhaustedError struct {
	Pool string
}

func (e *CapacityExhaustedError) Error() string {
	return fmt.Sprintf("resource pool %q has no remaining capacity", e.Pool)
}

type NetworkExhaustedError struct {
	Network string
}

func (e *NetworkExhaustedError) Error() string {
	return fmt.Sprintf("network %q has no unreserved address left", e.Network)
}

// Binding is a concrete placement for one instance: a slot in a pool
// and an address on a network.
type Binding struct {
	Pool    string
	Network string
	IP      string
}

type pool struct {
	size int
	used int
}

type network struct {
	def      manifest.Network
	ipnet    *net.IPNet
	reserved map[string]bool
}

type Allocator struct {
	mtx      sync.Mutex
	pools    map[string]*pool
	networks map[string]*network
}

// New builds an allocator over the manifest's pools and networks,
// with the given addresses (bound VMs from observed state) already
// reserved.
func New(m *manifest.Manifest, inUse []Binding) (*Allocator, error) {
	a := &Allocator{
		pools:    map[string]*pool{},
		networks: map[string]*network{},
	}
	for _, p := range m.ResourcePools {
		a.pools[p.Name] = &pool{size: p.Size}
	}
	for _, n := range m.Networks {
		_, ipnet, err := net.ParseCIDR(n.Range)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing range of network %q", n.Name)
		}
		nw := &network{def: n, ipnet: ipnet, reserved: map[string]bool{}}
		nw.reserved[n.Gateway] = true
		for _, r := range n.Reserved {
			nw.reserved[r] = true
		}
		// static addresses are only handed out explicitly, so dynamic
		// allocation must skip them
		for _, s := range n.Static {
			nw.reserved[s] = true
		}
		a.networks[n.Name] = nw
	}
	for _, b := range inUse {
		if err := a.Reserve(b); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Reserve marks an existing binding as taken, so re-planning against
// observed state doesn't hand out addresses that are in use.
func (a *Allocator) Reserve(b Binding) error {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	// a pool or network absent from the manifest was removed from the
	// desired state; its occupants still hold their addresses
	if p, ok := a.pools[b.Pool]; ok {
		p.used++
	}
	if nw, ok := a.networks[b.Network]; ok && b.IP != "" {
		nw.reserved[b.IP] = true
	}
	return nil
}

// Allocate finds a first-fit placement for an instance wanting the
// named pool and one of the named networks.
func (a *Allocator) Allocate(poolName string, networkNames []string) (Binding, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	p, ok := a.pools[poolName]
	if !ok {
		return Binding{}, errors.Errorf("unknown resource pool %q", poolName)
	}
	if p.size > 0 && p.used >= p.size {
		return Binding{}, &CapacityExhaustedError{Pool: poolName}
	}

	for _, name := range networkNames {
		nw, ok := a.networks[name]
		if !ok {
			continue
		}
		if ip, ok := nw.nextFree(); ok {
			p.used++
			nw.reserved[ip] = true
			return Binding{Pool: poolName, Network: name, IP: ip}, nil
		}
	}
	if len(networkNames) == 1 {
		return Binding{}, &NetworkExhaustedError{Network: networkNames[0]}
	}
	return Binding{}, &NetworkExhaustedError{Network: fmt.Sprintf("any of %v", networkNames)}
}

// Free returns a binding's slot and address, e.g. when a planned
// instance is abandoned before any infrastructure exists for it.
func (a *Allocator) Free(b Binding) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if p, ok := a.pools[b.Pool]; ok && p.used > 0 {
		p.used--
	}
	if nw, ok := a.networks[b.Network]; ok {
		delete(nw.reserved, b.IP)
	}
}

// nextFree walks the range in address order, skipping the network and
// broadcast addresses, the gateway, and manifest-reserved addresses.
func (nw *network) nextFree() (string, bool) {
	ip4 := nw.ipnet.IP.To4()
	if ip4 == nil {
		return "", false
	}
	base := binary.BigEndian.Uint32(ip4)
	ones, bits := nw.ipnet.Mask.Size()
	size := uint32(1) << uint(bits-ones)
	for off := uint32(1); off < size-1; off++ {
		buf := make(net.IP, 4)
		binary.BigEndian.PutUint32(buf, base+off)
		candidate := buf.String()
		if !nw.reserved[candidate] {
			return candidate, true
		}
	}
	return "", false
}
