// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package slot tracks the lifecycle of one terrain page position.
//
// A Slot is a state machine. Work on a page (loading, saving,
// mutating, querying, unloading, destroying) is bracketed by a request
// and a completion call, each validated against the current state:
//
//	if err := slot.Loading(); err != nil { ... }  // Empty → Loading
//	page := load(...)
//	slot.DoneLoading(page)                         // Loading → Neutral
//
// A request made in the wrong state fails with a *TransitionError
// wrapping ErrInvalidTransition. Callers that expect contention check
// the Can predicates first.
//
// Neighbor queries are reentrant per neighbor: each of the eight
// surrounding pages holds its own bit, and the slot leaves
// NeighborQuery only when all bits are clear. Plain queries are
// reentrant by count.
//
// Cosmetic and teardown requests (SetMaterial, SetRenderQueue,
// Destroy) never fail. If the slot is busy they are queued and run in
// FIFO order as soon as the slot is back in Neutral or Empty. Tasks
// run under the slot lock; a Page must not call back into its Slot.
//
// Slot is safe for concurrent use.
package slot

import (
	"fmt"
	"log/slog"
	"math/bits"
	"sync"
)

// State is the slot's current activity.
type State uint8

const (
	Empty State = iota
	Neutral
	NeighborQuery
	Unloading
	Loading
	Saving
	Mutate
	Query
	Destroy
)

var stateNames = [...]string{
	Empty:         "empty",
	Neutral:       "neutral",
	NeighborQuery: "neighbor-query",
	Unloading:     "unloading",
	Loading:       "loading",
	Saving:        "saving",
	Mutate:        "mutate",
	Query:         "query",
	Destroy:       "destroy",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Neighbor identifies one of the eight surrounding page positions.
type Neighbor uint8

const (
	NeighborNorth Neighbor = iota
	NeighborNorthEast
	NeighborEast
	NeighborSouthEast
	NeighborSouth
	NeighborSouthWest
	NeighborWest
	NeighborNorthWest
)

// Page is the loaded page a slot manages.
type Page interface {
	SetMaterial(name, group string)
	SetRenderQueue(queue uint8)
	Destroy()
}

// Config holds the parameters for a Slot.
type Config struct {
	X, Y int32

	// Logger receives transition debug messages. If nil, a no-op
	// logger is used.
	Logger *slog.Logger
}

type taskKind uint8

const (
	taskSetMaterial taskKind = iota
	taskSetRenderQueue
	taskDestroy
)

type joinTask struct {
	kind     taskKind
	material string
	group    string
	queue    uint8
}

type material struct {
	name, group string
}

// Slot is one page position.
type Slot struct {
	x, y   int32
	logger *slog.Logger

	mu             sync.Mutex
	state          State
	page           Page
	queryNeighbors uint8
	queryCount     int
	// resume is the state NeighborQuery returns to.
	resume State
	tasks  []joinTask

	// material and renderQueue are remembered so that a page loaded
	// later picks them up.
	material    *material
	renderQueue *uint8
}

// New returns an Empty slot.
func New(config Config) *Slot {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Slot{
		x:      config.X,
		y:      config.Y,
		logger: logger.With("slot_x", config.X, "slot_y", config.Y),
	}
}

// Position returns the page coordinates.
func (s *Slot) Position() (x, y int32) { return s.x, s.y }

// State returns the current state.
func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Page returns the loaded page, or nil.
func (s *Slot) Page() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// PendingTasks returns the number of queued join tasks.
func (s *Slot) PendingTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// QueryCount returns the number of outstanding plain queries.
func (s *Slot) QueryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryCount
}

func (s *Slot) idleLocked() bool { return s.state == Neutral || s.state == Empty }

func (s *Slot) refuse(operation string) error {
	return &TransitionError{Operation: operation, State: s.state}
}

// transition moves from one of the allowed states to next.
func (s *Slot) transition(operation string, next State, allowed ...State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, state := range allowed {
		if s.state == state {
			s.setLocked(next)
			return nil
		}
	}
	return s.refuse(operation)
}

func (s *Slot) setLocked(next State) {
	s.logger.Debug("slot transition", "from", s.state, "to", next)
	s.state = next
	s.drainLocked()
}

// drainLocked runs queued join tasks while the slot is idle.
func (s *Slot) drainLocked() {
	for len(s.tasks) > 0 && s.idleLocked() {
		task := s.tasks[0]
		s.tasks[0] = joinTask{}
		s.tasks = s.tasks[1:]
		s.runLocked(task)
	}
	if len(s.tasks) == 0 {
		s.tasks = nil
	}
}

func (s *Slot) runLocked(task joinTask) {
	switch task.kind {
	case taskSetMaterial:
		s.material = &material{name: task.material, group: task.group}
		if s.page != nil {
			s.page.SetMaterial(task.material, task.group)
		}
	case taskSetRenderQueue:
		queue := task.queue
		s.renderQueue = &queue
		if s.page != nil {
			s.page.SetRenderQueue(queue)
		}
	case taskDestroy:
		if s.page == nil {
			return
		}
		s.logger.Debug("slot transition", "from", s.state, "to", Destroy)
		s.state = Destroy
		s.page.Destroy()
		s.page = nil
		s.logger.Debug("slot transition", "from", Destroy, "to", Empty)
		s.state = Empty
	}
}

func (s *Slot) submit(task joinTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	if !s.idleLocked() {
		s.logger.Debug("join task deferred", "state", s.state, "queued", len(s.tasks))
		return
	}
	s.drainLocked()
}

// SetMaterial applies a material to the page now, or once the slot is
// idle. The material is remembered for pages loaded later.
func (s *Slot) SetMaterial(name, group string) {
	s.submit(joinTask{kind: taskSetMaterial, material: name, group: group})
}

// SetRenderQueue moves the page to a render queue now, or once the
// slot is idle. The queue is remembered for pages loaded later.
func (s *Slot) SetRenderQueue(queue uint8) {
	s.submit(joinTask{kind: taskSetRenderQueue, queue: queue})
}

// Destroy destroys the loaded page now, or once the slot is idle,
// leaving the slot Empty. No-op if no page is loaded by then.
func (s *Slot) Destroy() {
	s.submit(joinTask{kind: taskDestroy})
}

// CanLoad reports whether Loading would succeed.
func (s *Slot) CanLoad() bool { return s.State() == Empty }

// Loading starts loading a page. Requires Empty.
func (s *Slot) Loading() error { return s.transition("loading", Loading, Empty) }

// DoneLoading installs page and returns to Neutral, applying any
// remembered material and render queue. Requires Loading.
func (s *Slot) DoneLoading(page Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Loading {
		return s.refuse("done loading")
	}
	if page == nil {
		return fmt.Errorf("slot: done loading with nil page")
	}
	s.page = page
	if s.material != nil {
		page.SetMaterial(s.material.name, s.material.group)
	}
	if s.renderQueue != nil {
		page.SetRenderQueue(*s.renderQueue)
	}
	s.setLocked(Neutral)
	return nil
}

// CanUnload reports whether Unloading would succeed.
func (s *Slot) CanUnload() bool { return s.State() == Neutral }

// Unloading starts unloading the page. Requires Neutral.
func (s *Slot) Unloading() error { return s.transition("unloading", Unloading, Neutral) }

// DoneUnloading drops the page and returns to Empty. Requires
// Unloading.
func (s *Slot) DoneUnloading() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Unloading {
		return s.refuse("done unloading")
	}
	s.page = nil
	s.setLocked(Empty)
	return nil
}

// CanSave reports whether Saving would succeed.
func (s *Slot) CanSave() bool { return s.State() == Neutral }

// Saving starts saving the page. Requires Neutral.
func (s *Slot) Saving() error { return s.transition("saving", Saving, Neutral) }

// DoneSaving returns to Neutral. Requires Saving.
func (s *Slot) DoneSaving() error { return s.transition("done saving", Neutral, Saving) }

// CanMutate reports whether Mutating would succeed.
func (s *Slot) CanMutate() bool { return s.State() == Neutral }

// Mutating starts a voxel mutation. Requires Neutral.
func (s *Slot) Mutating() error { return s.transition("mutating", Mutate, Neutral) }

// DoneMutating returns to Neutral. Requires Mutate.
func (s *Slot) DoneMutating() error { return s.transition("done mutating", Neutral, Mutate) }

// CanQuery reports whether Querying would succeed.
func (s *Slot) CanQuery() bool {
	state := s.State()
	return state == Neutral || state == Query
}

// Querying starts a query. Queries nest: the slot stays in Query
// until every one is done. Requires Neutral or Query.
func (s *Slot) Querying() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Neutral:
		s.setLocked(Query)
	case Query:
	default:
		return s.refuse("querying")
	}
	s.queryCount++
	return nil
}

// DoneQuerying ends one query, returning to Neutral after the last.
// Requires Query.
func (s *Slot) DoneQuerying() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Query || s.queryCount == 0 {
		return s.refuse("done querying")
	}
	s.queryCount--
	if s.queryCount == 0 {
		s.setLocked(Neutral)
	}
	return nil
}

// CanQueryNeighbor reports whether QueryNeighbor(from) would succeed.
func (s *Slot) CanQueryNeighbor(from Neighbor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canQueryNeighborLocked(from)
}

func (s *Slot) canQueryNeighborLocked(from Neighbor) bool {
	switch s.state {
	case Empty, Neutral:
		return true
	case NeighborQuery:
		return s.queryNeighbors&(1<<from) == 0
	default:
		return false
	}
}

// QueryNeighbor marks the slot as being read across the border by
// the neighbor from. While any neighbor holds it the slot cannot be
// loaded, unloaded, or destroyed. Requires Empty, Neutral, or
// NeighborQuery without from's bit.
func (s *Slot) QueryNeighbor(from Neighbor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if from > NeighborNorthWest || !s.canQueryNeighborLocked(from) {
		return s.refuse(fmt.Sprintf("query from neighbor %d", from))
	}
	if s.state != NeighborQuery {
		s.resume = s.state
		s.setLocked(NeighborQuery)
	}
	s.queryNeighbors |= 1 << from
	return nil
}

// DoneQueryNeighbor clears from's bit and, once no neighbor holds the
// slot, returns to the state it was in before. Requires NeighborQuery
// with from's bit.
func (s *Slot) DoneQueryNeighbor(from Neighbor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != NeighborQuery || s.queryNeighbors&(1<<from) == 0 {
		return s.refuse(fmt.Sprintf("done query from neighbor %d", from))
	}
	s.queryNeighbors &^= 1 << from
	if s.queryNeighbors == 0 {
		s.setLocked(s.resume)
	}
	return nil
}

// QueryingNeighbors returns the number of neighbors holding the slot.
func (s *Slot) QueryingNeighbors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bits.OnesCount8(s.queryNeighbors)
}

// CanDestroy reports whether Destroying would succeed.
func (s *Slot) CanDestroy() bool {
	state := s.State()
	return state == Neutral || state == Empty
}

// Destroying starts an explicit teardown. Requires Neutral or Empty.
// Prefer Destroy, which waits for the slot to be idle.
func (s *Slot) Destroying() error {
	return s.transition("destroying", Destroy, Neutral, Empty)
}

// DoneDestroying drops the page and returns to Empty. Requires
// Destroy.
func (s *Slot) DoneDestroying() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Destroy {
		return s.refuse("done destroying")
	}
	s.page = nil
	s.setLocked(Empty)
	return nil
}
