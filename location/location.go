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

// Package location tracks a node's current (x, y) position, either set
// manually or interpolated from a time-keyed trajectory table.
package location

import (
	"bufio"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Point is one sample of a trajectory: a timestamp in milliseconds since the
// epoch and the (x, y) position at that time.
type Point struct {
	TimestampMS int64
	X, Y        float64
}

// LoadTrajectory reads a trajectory table from path. Each line is
// "timestamp_ms,x,y"; a header line is detected by the literal substring
// "timestamp" and skipped. The returned slice is sorted by timestamp.
func LoadTrajectory(path string) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var points []Point
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.Contains(line, "timestamp") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			logrus.Warnf("location: skipping malformed trajectory line %q", line)
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil {
			logrus.Warnf("location: skipping trajectory line with bad timestamp %q: %v", line, err)
			continue
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			logrus.Warnf("location: skipping trajectory line with bad x %q: %v", line, err)
			continue
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil {
			logrus.Warnf("location: skipping trajectory line with bad y %q: %v", line, err)
			continue
		}
		points = append(points, Point{TimestampMS: ts, X: x, Y: y})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.Slice(points, func(i, j int) bool { return points[i].TimestampMS < points[j].TimestampMS })
	return points, nil
}

// Service tracks a node's current position. It is safe for concurrent use.
type Service struct {
	mu         sync.Mutex
	x, y       float64
	trajectory []Point
}

// NewService returns a Service with position (0, 0) and no trajectory.
func NewService() *Service {
	return &Service{}
}

// NewServiceWithTrajectory returns a Service backed by a loaded trajectory.
// If path fails to load, it logs and falls back to a manual-only Service —
// LocationService never fails callers.
func NewServiceWithTrajectory(path string) *Service {
	s := &Service{}
	points, err := LoadTrajectory(path)
	if err != nil {
		logrus.Warnf("location: failed to load trajectory %q, falling back to manual coordinates: %v", path, err)
		return s
	}
	s.trajectory = points
	return s
}

// SetCurrentCoordinates sets the manual position used when no trajectory is
// loaded. With a trajectory loaded the manual position is not used; times
// before the first sample clamp to that sample.
func (s *Service) SetCurrentCoordinates(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.x, s.y = x, y
}

// CurrentCoordinates returns the position at tsMS (milliseconds since the
// epoch). Without a trajectory, it returns the last manually-set value. With
// a trajectory, it binary-searches for the bracketing samples and linearly
// interpolates between them, clamping at the ends.
func (s *Service) CurrentCoordinates(tsMS int64) (x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.trajectory) == 0 {
		return s.x, s.y
	}

	pts := s.trajectory
	if tsMS <= pts[0].TimestampMS {
		return pts[0].X, pts[0].Y
	}
	if tsMS >= pts[len(pts)-1].TimestampMS {
		last := pts[len(pts)-1]
		return last.X, last.Y
	}

	// upper-bound binary search: idx is the first sample with
	// TimestampMS > tsMS; the bracketing pair is (idx-1, idx).
	idx := sort.Search(len(pts), func(i int) bool { return pts[i].TimestampMS > tsMS })
	prev, next := pts[idx-1], pts[idx]
	span := float64(next.TimestampMS - prev.TimestampMS)
	if span <= 0 {
		return prev.X, prev.Y
	}
	frac := float64(tsMS-prev.TimestampMS) / span
	x = prev.X + frac*(next.X-prev.X)
	y = prev.Y + frac*(next.Y-prev.Y)
	return x, y
}

// HasTrajectory reports whether a trajectory table is loaded.
func (s *Service) HasTrajectory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trajectory) > 0
}
