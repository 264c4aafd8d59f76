// Package conntrack holds the live connection state of every EA the relay
// has ever seen: one record per account, behind a reader-writer lock so the
// many concurrent readers (the HTTP API, the status engine) never block each
// other, while the few writers (the router, the timeout monitor) hold the
// lock only briefly.
package conntrack

import (
	"sync"
	"time"

	"github.com/sankey-copier/relay-server/internal/wire"
)

// Status is the coarse connection state of a record.
type Status int

const (
	StatusNone Status = iota
	StatusRegistered
	StatusOnline
	StatusTimeout
	StatusOffline
)

// Record is the live state tracked for one EA account.
type Record struct {
	AccountID string
	Role      wire.Role
	Platform  wire.Platform

	Broker        string
	AccountNumber string
	AccountName   string
	Server        string
	Currency      string
	Leverage      int

	Balance        float64
	Equity         float64
	OpenPositions  int
	IsTradeAllowed bool

	Status          Status
	LastHeartbeatAt time.Time
}

// Tracker is the account_id -> Record map.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*Record
	timeout time.Duration
}

// New returns an empty Tracker using timeout as the default heartbeat
// staleness threshold for CheckTimeouts.
func New(timeout time.Duration) *Tracker {
	return &Tracker{records: make(map[string]*Record), timeout: timeout}
}

// Get returns a copy of the record for accountID, if any.
func (t *Tracker) Get(accountID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[accountID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// List returns a snapshot copy of every tracked record.
func (t *Tracker) List() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, *r)
	}
	return out
}

// UpdateFromHeartbeat applies a Heartbeat message. If the account is already
// tracked, dynamic fields are refreshed and the record goes Online. If it is
// unknown, a new record is auto-registered from the heartbeat's identity
// fields. EA role and platform can legitimately change across a reconnect
// (the same account id may be repointed at a different terminal), so both
// are refreshed here rather than kept from first registration.
func (t *Tracker) UpdateFromHeartbeat(hb *wire.Heartbeat) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[hb.AccountID]
	if !ok {
		r = &Record{AccountID: hb.AccountID}
		t.records[hb.AccountID] = r
	}

	r.Role = hb.Role
	r.Platform = hb.Platform
	r.Broker = hb.Broker
	r.AccountNumber = hb.AccountNumber
	r.AccountName = hb.AccountName
	r.Server = hb.Server
	r.Currency = hb.Currency
	r.Leverage = hb.Leverage
	r.Balance = hb.Balance
	r.Equity = hb.Equity
	r.OpenPositions = hb.OpenPositions
	r.IsTradeAllowed = hb.IsTradeAllowed
	r.LastHeartbeatAt = time.Now()
	r.Status = StatusOnline
}

// RegisterExplicit applies a Register message. The record starts as
// Registered with trading disabled until the first heartbeat arrives.
func (t *Tracker) RegisterExplicit(reg *wire.Register) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[reg.AccountID]
	if !ok {
		r = &Record{AccountID: reg.AccountID}
		t.records[reg.AccountID] = r
	}

	r.Role = reg.Role
	r.Platform = reg.Platform
	r.Broker = reg.Broker
	r.AccountNumber = reg.AccountNumber
	r.AccountName = reg.AccountName
	r.Server = reg.Server
	r.Currency = reg.Currency
	r.Leverage = reg.Leverage
	r.IsTradeAllowed = false
	r.Status = StatusRegistered
}

// MarkOffline sets accountID's status to Offline. It never removes the
// record; role is accepted for symmetry with the state-change API the
// router uses but the record's own stored role is authoritative.
func (t *Tracker) MarkOffline(accountID string, role wire.Role) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.records[accountID]; ok {
		r.Status = StatusOffline
		_ = role
	}
}

// TimedOutAccount names one account that transitioned to Timeout.
type TimedOutAccount struct {
	AccountID string
	Role      wire.Role
}

// CheckTimeouts transitions every Online record whose last heartbeat is
// older than the tracker's configured timeout to Timeout, and returns the
// accounts affected.
func (t *Tracker) CheckTimeouts() []TimedOutAccount {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var out []TimedOutAccount
	for _, r := range t.records {
		if r.Status == StatusOnline && now.Sub(r.LastHeartbeatAt) > t.timeout {
			r.Status = StatusTimeout
			out = append(out, TimedOutAccount{AccountID: r.AccountID, Role: r.Role})
		}
	}
	return out
}
