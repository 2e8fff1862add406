// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rwupgrade provides a reader/writer lock whose readers can
// take an upgradable read lock and later convert it to a write lock
// without a gap in which another writer could get in.
//
// Three modes exist:
//
//   - Shared (RLock): any number of holders, excluded by writers.
//   - Exclusive (Lock): one holder, excludes everything.
//   - Upgradable (LockUpgradable): one holder at a time, coexists with
//     Shared holders, excludes Exclusive holders and other upgradable
//     holders. Upgrade converts it to Exclusive once the Shared
//     holders drain.
//
// Because at most one goroutine holds the upgradable position, at most
// one upgrade can be in flight, and no Exclusive holder can slip in
// between the read and the write: Lock waits on the same position.
//
// The zero Mutex is unlocked. A Mutex must not be copied after first
// use.
package rwupgrade

import "sync"

// Mutex is an upgrade-capable reader/writer lock.
type Mutex struct {
	// upgrade is held by the Exclusive holder and by the upgradable
	// holder, serializing them.
	upgrade sync.Mutex
	rw      sync.RWMutex
}

// Lock acquires the lock exclusively.
func (m *Mutex) Lock() {
	m.upgrade.Lock()
	m.rw.Lock()
}

// TryLock acquires the lock exclusively if that is possible without
// blocking.
func (m *Mutex) TryLock() bool {
	if !m.upgrade.TryLock() {
		return false
	}
	if !m.rw.TryLock() {
		m.upgrade.Unlock()
		return false
	}
	return true
}

// Unlock releases an exclusive or upgraded lock.
func (m *Mutex) Unlock() {
	m.rw.Unlock()
	m.upgrade.Unlock()
}

// RLock acquires a shared lock.
func (m *Mutex) RLock() { m.rw.RLock() }

// TryRLock acquires a shared lock if that is possible without
// blocking.
func (m *Mutex) TryRLock() bool { return m.rw.TryRLock() }

// RUnlock releases a shared lock.
func (m *Mutex) RUnlock() { m.rw.RUnlock() }

// LockUpgradable acquires the upgradable position and a shared lock.
func (m *Mutex) LockUpgradable() {
	m.upgrade.Lock()
	m.rw.RLock()
}

// TryLockUpgradable is LockUpgradable without blocking.
func (m *Mutex) TryLockUpgradable() bool {
	if !m.upgrade.TryLock() {
		return false
	}
	if !m.rw.TryRLock() {
		m.upgrade.Unlock()
		return false
	}
	return true
}

// UnlockUpgradable releases an upgradable lock that was not upgraded.
func (m *Mutex) UnlockUpgradable() {
	m.rw.RUnlock()
	m.upgrade.Unlock()
}

// Upgrade converts the caller's upgradable lock into an exclusive one,
// waiting for Shared holders to drain. Release with Unlock.
func (m *Mutex) Upgrade() {
	// Holding upgrade keeps every other writer and upgrader out while
	// the read lock is briefly dropped.
	m.rw.RUnlock()
	m.rw.Lock()
}
