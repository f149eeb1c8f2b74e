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

// Package periodic runs a single action on a dedicated goroutine at a fixed
// period, requesting Linux's SCHED_DEADLINE policy for sub-second periods
// the way the RSU broadcaster and VehicleRSUManager's cleanup task do.
package periodic

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Task invokes a bound action every period, on its own goroutine, until
// Stop is called.
type Task struct {
	mu       sync.Mutex
	action   func()
	period   time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	running  bool
}

// New constructs a Task bound to action. The task does not start running
// until Start is called.
func New(action func()) *Task {
	return &Task{action: action, stop: make(chan struct{})}
}

// Start launches the runner goroutine with the given period. Calling Start
// twice on the same Task is a no-op.
func (t *Task) Start(period time.Duration) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.period = period
	t.mu.Unlock()

	applySchedPolicy(period)

	t.wg.Add(1)
	go t.run()
}

func (t *Task) run() {
	defer t.wg.Done()
	for {
		t.action()

		t.mu.Lock()
		period := t.period
		t.mu.Unlock()

		timer := time.NewTimer(period)
		select {
		case <-t.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// AdjustPeriod replaces the current period with gcd(current, newPeriod),
// used to align the rates of multiple periodic subscribers sharing one
// underlying resource.
func (t *Task) AdjustPeriod(newPeriod time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.period = gcdDuration(t.period, newPeriod)
}

func gcdDuration(a, b time.Duration) time.Duration {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// Stop signals the runner goroutine to exit and waits for it to do so.
// Safe to call more than once.
func (t *Task) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.wg.Wait()
}

// schedDeadlineThreshold is the period at or below which Start requests
// SCHED_DEADLINE instead of the default SCHED_OTHER.
const schedDeadlineThreshold = time.Second

func applySchedPolicy(period time.Duration) {
	if period <= 0 {
		return
	}
	if period <= schedDeadlineThreshold {
		if err := setSchedDeadline(period); err != nil {
			logrus.Debugf("periodic: SCHED_DEADLINE unavailable, falling back to default scheduling: %v", err)
		}
	}
}
