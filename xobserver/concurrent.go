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

package xobserver

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the default capacity of a ConcurrentObserver's queue.
const DefaultQueueSize = 128

// ConcurrentObserver is an Observer whose Updated method blocks until a
// datum is available, backed by a buffered channel acting as both the FIFO
// list and the counting semaphore the source describes.
type ConcurrentObserver struct {
	queue       chan any
	done        chan struct{}
	releaseOnce sync.Once
}

// NewConcurrentObserver returns a ConcurrentObserver with the given queue
// capacity. A capacity of 0 falls back to DefaultQueueSize.
func NewConcurrentObserver(queueSize int) *ConcurrentObserver {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &ConcurrentObserver{
		queue: make(chan any, queueSize),
		done:  make(chan struct{}),
	}
}

// Update implements Observer. It is called from the Subject's Notify, i.e.
// from the NIC or Protocol layer's dispatch path — it must never block that
// path, so a full queue drops the datum and logs rather than stalling the
// single receive thread.
func (c *ConcurrentObserver) Update(_ uint16, data any) {
	select {
	case c.queue <- data:
	default:
		logrus.Warn("xobserver: concurrent observer queue full, dropping update")
	}
}

// Updated blocks until a datum is available or Release is called, in which
// case ok is false.
func (c *ConcurrentObserver) Updated() (data any, ok bool) {
	select {
	case data = <-c.queue:
		return data, true
	case <-c.done:
		return nil, false
	}
}

// Release unblocks any pending or future Updated call. Safe to call more
// than once.
func (c *ConcurrentObserver) Release() {
	c.releaseOnce.Do(func() { close(c.done) })
}
