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

//go:build linux

package periodic

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// schedDeadline is SCHED_DEADLINE from linux/sched.h. x/sys/unix does not
// wrap sched_setattr(2), so this talks to it directly via unix.Syscall —
// the same idiom the stack's clock handling uses for clock_adjtime(2).
const schedDeadline = 6

// schedAttr mirrors struct sched_attr from linux/sched/types.h.
type schedAttr struct {
	size     uint32
	policy   uint32
	flags    uint64
	nice     int32
	priority uint32
	runtime  uint64
	deadline uint64
	period   uint64
}

// setSchedDeadline requests SCHED_DEADLINE for the calling thread with
// runtime = period/2 and deadline = period, falling back silently (the
// caller logs) if the kernel or privileges don't allow it.
func setSchedDeadline(period time.Duration) error {
	attr := schedAttr{
		size:     uint32(unsafe.Sizeof(schedAttr{})),
		policy:   schedDeadline,
		runtime:  uint64(period.Nanoseconds() / 2),
		deadline: uint64(period.Nanoseconds()),
		period:   uint64(period.Nanoseconds()),
	}
	// pid 0 means "the calling thread"; flags 0.
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETATTR, 0, uintptr(unsafe.Pointer(&attr)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
