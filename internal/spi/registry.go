package spi

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/vspi-core/internal/ctlfs"
	"github.com/nerrad567/vspi-core/internal/multifpgapci"
)

// DeviceID identifies an attached FPGA by PCI address.
type DeviceID = multifpgapci.DeviceID

// Record is the per-device state: BAR geometry, staged configuration, the
// slot table and the control-plane directory.
//
// mu serializes BAR updates, slot changes and detach. Once detached, dead
// is set and every later operation on the record fails with ErrNotFound.
// Events are numbered and queued under mu, so observers see them in the
// order the changes were made.
type Record struct {
	id     DeviceID
	staged staging

	mu     sync.Mutex
	dead   bool
	bar    multifpgapci.BAR
	mapped bool
	ns     *ctlfs.Dir
	slots  *SlotTable
	seq    uint64

	qmu        sync.Mutex
	pending    []Event
	delivering bool
}

// ID returns the device identity.
func (r *Record) ID() DeviceID {
	return r.id
}

// queue numbers ev and appends it to the delivery queue. Caller holds r.mu.
func (r *Record) queue(ev Event) {
	r.seq++
	ev.Seq = r.seq
	r.qmu.Lock()
	r.pending = append(r.pending, ev)
	r.qmu.Unlock()
}

// BARState is a snapshot of a record's BAR fields.
type BARState struct {
	Mapped bool   `json:"mapped"`
	Start  uint64 `json:"start"`
	Len    uint64 `json:"len"`
}

// Registry maps device identity to Record.
type Registry struct {
	reg Registrar

	mu      sync.RWMutex
	records map[DeviceID]*Record
}

// NewRegistry creates an empty registry. Records it creates register their
// controllers on reg.
func NewRegistry(reg Registrar) *Registry {
	return &Registry{
		reg:     reg,
		records: make(map[DeviceID]*Record),
	}
}

// Insert creates and stores the record for id.
// Returns ErrAlreadyAttached if id already has a record.
func (r *Registry) Insert(id DeviceID) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAttached, id)
	}
	rec := &Record{
		id:    id,
		slots: NewSlotTable(id.String(), r.reg),
	}
	r.records[id] = rec
	return rec, nil
}

// Lookup returns the record for id or ErrNotFound.
func (r *Registry) Lookup(id DeviceID) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: device %s", ErrNotFound, id)
	}
	return rec, nil
}

// Remove drops the record for id and returns it. The caller releases the
// record's slots and namespace.
func (r *Registry) Remove(id DeviceID) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if ok {
		delete(r.records, id)
	}
	return rec, ok
}

// IDs returns the attached device identities in order.
func (r *Registry) IDs() []DeviceID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]DeviceID, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
