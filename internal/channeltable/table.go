package channeltable

import (
	"sync"

	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/domain"
)

// Table holds the most-recent measurements for every channel. A record
// exists for every valid channel for the life of the table; updates merge
// incoming frames and recompute derived metrics, reads take a consistent
// copy. Each record is guarded by its own reader-writer lock so channels
// never contend with one another.
type Table struct {
	records [domain.MaxChannels]record
}

type record struct {
	mu         sync.RWMutex
	values     map[string]float64
	subscribed bool
}

func New() *Table {
	t := &Table{}
	for i := range t.records {
		t.records[i].values = make(map[string]float64)
	}
	return t
}

// Subscribe gates callback evaluation on for the channel. Unsubscribed
// channels still receive table updates.
func (t *Table) Subscribe(ch domain.ChannelID) error {
	if !ch.Valid() {
		return domain.ErrChannelRange
	}
	r := &t.records[ch]
	r.mu.Lock()
	r.subscribed = true
	r.mu.Unlock()
	return nil
}

func (t *Table) Unsubscribe(ch domain.ChannelID) error {
	if !ch.Valid() {
		return domain.ErrChannelRange
	}
	r := &t.records[ch]
	r.mu.Lock()
	r.subscribed = false
	r.mu.Unlock()
	return nil
}

func (t *Table) IsSubscribed(ch domain.ChannelID) bool {
	if !ch.Valid() {
		return false
	}
	r := &t.records[ch]
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subscribed
}

// UpdateFrom merges the frame into the channel record and recomputes dvdt
// when both voltage and timestamp are present alongside prior values and the
// timestamp differs from the prior one.
// It reports whether any entry changed. Applying the same frame twice is
// idempotent only up to dvdt, because prior values shift.
func (t *Table) UpdateFrom(ch domain.ChannelID, f domain.Frame) (bool, error) {
	if !ch.Valid() {
		return false, domain.ErrChannelRange
	}
	if len(f) == 0 {
		return false, nil
	}
	r := &t.records[ch]
	r.mu.Lock()
	defer r.mu.Unlock()

	prevV, hadV := r.values[domain.KeyVoltage]
	prevT, hadT := r.values[domain.KeyTimestamp]

	changed := false
	for k, v := range f {
		if old, ok := r.values[k]; !ok || old != v {
			r.values[k] = v
			changed = true
		}
	}

	v, okV := f[domain.KeyVoltage]
	ts, okT := f[domain.KeyTimestamp]
	if okV && okT && hadV && hadT && ts != prevT {
		dvdt := (v - prevV) / (ts - prevT)
		if old, ok := r.values[domain.KeyDvDt]; !ok || old != dvdt {
			r.values[domain.KeyDvDt] = dvdt
			changed = true
		}
	}
	return changed, nil
}

// StoreDerived writes a single processed metric (filter output, fit
// coefficient, resistance) without touching the dvdt bookkeeping.
func (t *Table) StoreDerived(ch domain.ChannelID, key string, value float64) error {
	if !ch.Valid() {
		return domain.ErrChannelRange
	}
	if key == "" {
		return domain.ErrUnknownMetric
	}
	r := &t.records[ch]
	r.mu.Lock()
	r.values[key] = value
	r.mu.Unlock()
	return nil
}

// Snapshot returns an independent, internally consistent copy of the
// channel's current measurements.
func (t *Table) Snapshot(ch domain.ChannelID) (domain.Snapshot, error) {
	if !ch.Valid() {
		return nil, domain.ErrChannelRange
	}
	r := &t.records[ch]
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(domain.Snapshot, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out, nil
}

// Get returns the current value for one metric, or 0 when absent.
func (t *Table) Get(ch domain.ChannelID, key string) float64 {
	if !ch.Valid() {
		return 0
	}
	r := &t.records[ch]
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.values[key]
}

func (t *Table) Voltage(ch domain.ChannelID) float64 { return t.Get(ch, domain.KeyVoltage) }
func (t *Table) Current(ch domain.ChannelID) float64 { return t.Get(ch, domain.KeyCurrent) }
func (t *Table) DvDt(ch domain.ChannelID) float64    { return t.Get(ch, domain.KeyDvDt) }
