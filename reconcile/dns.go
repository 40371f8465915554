package reconcile

import (
	"context"
	"sync"
)

// DNS is the record store the director keeps in step with instance
// placement. Serving those records is someone else's problem.
type DNS interface {
	SetRecord(ctx context.Context, fqdn, ip string) error
	RemoveRecord(ctx context.Context, fqdn string) error
}

// InMemDNS is the default DNS used when no external record store is
// configured, and the one tests assert against.
type InMemDNS struct {
	mtx     sync.RWMutex
	records map[string]string
}

func NewInMemDNS() *InMemDNS {
	return &InMemDNS{records: map[string]string{}}
}

var _ DNS = &InMemDNS{}

func (d *InMemDNS) SetRecord(ctx context.Context, fqdn, ip string) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.records[fqdn] = ip
	return nil
}

func (d *InMemDNS) RemoveRecord(ctx context.Context, fqdn string) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	delete(d.records, fqdn)
	return nil
}

func (d *InMemDNS) Lookup(fqdn string) (string, bool) {
	d.mtx.RLock()
	defer d.mtx.RUnlock()
	ip, ok := d.records[fqdn]
	return ip, ok
}
