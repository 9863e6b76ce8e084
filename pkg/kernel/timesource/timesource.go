// Copyright The ZenEdge Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package timesource converts the platform's raw cycle counter into
// wall-clock microseconds. A real ZENEDGE core calibrates cycles-per-usec
// against the PIT at boot; this simulator assumes a fixed rate instead,
// the same "1GHz until calibration lands" shortcut the original boot
// path takes.
package timesource

import "github.com/zenedge/kernel/pkg/kernel/platform"

// DefaultCyclesPerUsec is the assumed CPU frequency (1000 MHz) used until
// a real calibration pass replaces it.
const DefaultCyclesPerUsec = 1000

// Source converts platform cycles into boot-relative microseconds.
type Source struct {
	plat          platform.Platform
	bootCycles    uint64
	cyclesPerUsec uint64
}

// New creates a Source anchored to plat's current cycle count, using
// cyclesPerUsec as the conversion rate. A cyclesPerUsec of 0 falls back
// to DefaultCyclesPerUsec.
func New(plat platform.Platform, cyclesPerUsec uint64) *Source {
	if cyclesPerUsec == 0 {
		cyclesPerUsec = DefaultCyclesPerUsec
	}
	return &Source{
		plat:          plat,
		bootCycles:    plat.NowCycles(),
		cyclesPerUsec: cyclesPerUsec,
	}
}

// NowCycles returns the platform's raw, free-running cycle count.
func (s *Source) NowCycles() uint64 {
	return s.plat.NowCycles()
}

// NowUsec returns elapsed microseconds since the Source was created.
func (s *Source) NowUsec() uint64 {
	return s.CyclesToUsec(s.plat.NowCycles() - s.bootCycles)
}

// CyclesToUsec converts a cycle count to microseconds at the configured rate.
func (s *Source) CyclesToUsec(cycles uint64) uint64 {
	if s.cyclesPerUsec == 0 {
		return 0
	}
	return cycles / s.cyclesPerUsec
}

// UsecToCycles converts a microsecond duration to a cycle count at the
// configured rate.
func (s *Source) UsecToCycles(usec uint64) uint64 {
	return usec * s.cyclesPerUsec
}

// CPUMHz reports the assumed CPU frequency in MHz (numerically equal to
// cyclesPerUsec, since 1 cycle/usec == 1 MHz).
func (s *Source) CPUMHz() uint64 {
	return s.cyclesPerUsec
}
