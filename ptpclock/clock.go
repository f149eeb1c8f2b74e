/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ptpclock implements the PTP-style three-state clock controller:
// it derives an offset and a frequency-error correction from leader
// messages, with leader-silence timeout and leader-change recovery.
package ptpclock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetmesh/v2x/leaderkey"
)

// State is one of the three clock states.
type State int32

// Clock states, in the order the controller progresses through them.
const (
	Unsynchronized State = iota
	AwaitingSecondMsg
	Synchronized
)

func (s State) String() string {
	switch s {
	case Unsynchronized:
		return "UNSYNCHRONIZED"
	case AwaitingSecondMsg:
		return "AWAITING_SECOND_MSG"
	case Synchronized:
		return "SYNCHRONIZED"
	default:
		return "UNKNOWN"
	}
}

// UnsetID marks a self or leader ID that has not been assigned yet.
const UnsetID int16 = -1

// DefaultPropagationDelay is the fixed leader-to-receiver transit time
// added to the sender's tx timestamp before computing offset.
const DefaultPropagationDelay = 2 * time.Millisecond

// DefaultMaxLeaderSilence is the interval after which an unresponsive
// leader is considered timed out.
const DefaultMaxLeaderSilence = 500 * time.Millisecond

// Input is the per-message PTP-relevant data fed to Activate. A nil Input
// requests a pure timeout check.
type Input struct {
	SenderID    byte
	TxAtSender  int64 // microseconds, leader's clock
	LocalRxTime int64 // microseconds, local hardware clock
}

type snapshot struct {
	valid          bool
	leaderTimeAtRx int64
	localTimeAtRx  int64
	offset         int64
}

// Clock is the PTP state machine. It is safe for concurrent use.
type Clock struct {
	mu sync.Mutex

	state atomic.Int32

	selfID           int16
	currentLeaderID  int16
	offset           int64 // microseconds
	driftFE          float64
	snapOld, snapNew snapshot
	lastSyncLocal    int64 // local hw time of last accepted sync event, microseconds

	storage          *leaderkey.Storage
	propagationDelay time.Duration
	maxLeaderSilence time.Duration

	// Now returns the local hardware clock in microseconds. Overridable for
	// tests; defaults to the wall clock.
	Now func() int64
}

// New constructs a Clock that reads the leader address from storage.
func New(storage *leaderkey.Storage) *Clock {
	c := &Clock{
		storage:          storage,
		selfID:           UnsetID,
		currentLeaderID:  UnsetID,
		propagationDelay: DefaultPropagationDelay,
		maxLeaderSilence: DefaultMaxLeaderSilence,
		Now:              func() int64 { return time.Now().UnixMicro() },
	}
	c.state.Store(int32(Unsynchronized))
	return c
}

// SetSelfID sets this node's identifier (the last byte of its physical
// address). Must be set before the first Activate call for the
// self-is-leader short-circuit to take effect.
func (c *Clock) SetSelfID(id byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selfID = int16(id)
}

// SetPropagationDelay overrides the fixed leader-to-receiver transit time.
func (c *Clock) SetPropagationDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.propagationDelay = d
}

// SetMaxLeaderSilence overrides the leader-silence timeout.
func (c *Clock) SetMaxLeaderSilence(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxLeaderSilence = d
}

// Activate processes one PTP-relevant event, or performs a pure timeout
// check when input is nil. It never panics or returns an error: bad inputs
// (non-leader sender, nil) are silently ignored.
func (c *Clock) Activate(input *Input) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.Now()
	storageLeaderID := int16(c.storage.LeaderAddress().LastByte())

	if c.selfID != UnsetID && c.selfID == storageLeaderID {
		c.currentLeaderID = storageLeaderID
		c.state.Store(int32(Synchronized))
		c.offset = 0
		c.driftFE = 0
		snap := snapshot{valid: true, leaderTimeAtRx: now, localTimeAtRx: now, offset: 0}
		c.snapOld, c.snapNew = snap, snap
		c.lastSyncLocal = now
		return
	}

	if storageLeaderID != c.currentLeaderID {
		c.currentLeaderID = storageLeaderID
		c.state.Store(int32(Unsynchronized))
		c.clearSnapshots()
	}

	fromLeader := input != nil && int16(input.SenderID) == c.currentLeaderID
	if !fromLeader && State(c.state.Load()) != Unsynchronized {
		if now-c.lastSyncLocal > c.maxLeaderSilence.Microseconds() {
			logrus.Debugf("ptpclock: leader %d silent for >%s, reverting to UNSYNCHRONIZED", c.currentLeaderID, c.maxLeaderSilence)
			c.state.Store(int32(Unsynchronized))
			c.clearSnapshots()
			return
		}
	}

	if input == nil {
		return
	}
	if int16(input.SenderID) != c.currentLeaderID {
		return
	}

	leaderTimeAtRx := input.TxAtSender + c.propagationDelay.Microseconds()
	offset := input.LocalRxTime - leaderTimeAtRx
	snap := snapshot{valid: true, leaderTimeAtRx: leaderTimeAtRx, localTimeAtRx: input.LocalRxTime, offset: offset}

	switch State(c.state.Load()) {
	case Unsynchronized:
		c.state.Store(int32(AwaitingSecondMsg))
		c.pushSnapshot(snap)
		c.offset = offset
	case AwaitingSecondMsg:
		c.state.Store(int32(Synchronized))
		c.pushSnapshot(snap)
		c.recomputeDrift()
		c.offset = offset
	case Synchronized:
		c.pushSnapshot(snap)
		c.recomputeDrift()
		c.offset = offset
	}
	c.lastSyncLocal = input.LocalRxTime
}

func (c *Clock) pushSnapshot(s snapshot) {
	c.snapOld = c.snapNew
	c.snapNew = s
}

func (c *Clock) clearSnapshots() {
	c.snapOld = snapshot{}
	c.snapNew = snapshot{}
	c.offset = 0
}

// recomputeDrift implements current_drift_fe = (o2 - o1) / deltaT_leader
// when deltaT_leader > 0, keeping the previous value otherwise.
func (c *Clock) recomputeDrift() {
	if !c.snapOld.valid || !c.snapNew.valid {
		return
	}
	deltaT := c.snapNew.leaderTimeAtRx - c.snapOld.leaderTimeAtRx
	if deltaT <= 0 {
		return
	}
	c.driftFE = float64(c.snapNew.offset-c.snapOld.offset) / float64(deltaT)
}

// GetSynchronizedTime returns the best estimate of leader time and whether
// the clock is fully synchronized.
func (c *Clock) GetSynchronizedTime() (t int64, isSynced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.Now()
	switch State(c.state.Load()) {
	case Unsynchronized:
		return now, false
	case AwaitingSecondMsg:
		return now - c.offset, false
	case Synchronized:
		elapsed := now - c.snapNew.localTimeAtRx
		return c.snapNew.leaderTimeAtRx + int64(float64(elapsed)*(1-c.driftFE)), true
	default:
		return now, false
	}
}

// GetState returns the current state without taking the full mutex.
func (c *Clock) GetState() State {
	return State(c.state.Load())
}

// IsFullySynchronized reports whether the clock is in the SYNCHRONIZED
// state.
func (c *Clock) IsFullySynchronized() bool {
	return c.GetState() == Synchronized
}

// GetCurrentLeader returns the last byte of the address this clock is
// currently tracking as PTP leader, or UnsetID if none.
func (c *Clock) GetCurrentLeader() int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLeaderID
}

// Offset returns the current offset estimate in microseconds.
func (c *Clock) Offset() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// DriftFE returns the current frequency-error estimate.
func (c *Clock) DriftFE() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.driftFE
}
