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

// Package console formats the simulator's boot banner and per-job
// reports onto a platform's console sink, the Go-side equivalent of the
// firmware's VGA/serial console_write/print_hex32/print_uint primitives.
package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/zenedge/kernel/pkg/kernel/contract"
	"github.com/zenedge/kernel/pkg/kernel/flightrec"
)

// Console formats diagnostic output onto an underlying writer, usually a
// platform.Platform's Console().
type Console struct {
	w io.Writer
}

// New wraps w as a Console.
func New(w io.Writer) *Console {
	return &Console{w: w}
}

// Writeln writes one formatted line, terminated with a newline.
func (c *Console) Writeln(format string, args ...any) {
	fmt.Fprintf(c.w, format+"\n", args...)
}

// Hex32 writes a label followed by val formatted as "0x" plus eight
// uppercase hex digits, matching print_hex32's fixed-width output.
func (c *Console) Hex32(label string, val uint32) {
	c.Writeln("%-20s 0x%08X", label, val)
}

// Uint writes a label followed by val as a plain decimal integer,
// matching print_uint.
func (c *Console) Uint(label string, val uint32) {
	c.Writeln("%-20s %d", label, val)
}

// Banner writes a clear, centered title line, the closest console_cls
// gets in a scrollback-based sink rather than a fixed 80x25 VGA buffer.
func (c *Console) Banner(title string) {
	rule := strings.Repeat("=", 60)
	c.Writeln("%s", rule)
	c.Writeln("%s", centered(title, 60))
	c.Writeln("%s", rule)
}

func centered(s string, width int) string {
	if len(s) >= width {
		return s
	}
	pad := (width - len(s)) / 2
	return strings.Repeat(" ", pad) + s
}

// JobResult writes a one-job summary: its admission outcome, and if
// admitted, the flight recorder's aggregated stats for the run.
func (c *Console) JobResult(jobID uint32, result contract.AdmitResult, stats flightrec.JobStats) {
	c.Writeln("job %-6d %-20s", jobID, result)
	if result != contract.AdmitOK {
		return
	}
	c.Uint("steps_completed", stats.StepsCompleted)
	c.Writeln("%-20s %d", "total_cpu_usec", stats.TotalCPUUsec)
	c.Uint("violations", stats.Violations)
	c.Writeln("%-20s %d", "total_wall_usec", stats.TotalWallUsec)
}

// Dump writes every event currently in rec's ring, one line per event.
func (c *Console) Dump(rec *flightrec.Recorder) {
	for _, e := range rec.Buffer() {
		c.Writeln("[%10d us] %-24s job=%d step=%d extra=%d", e.TsUsec, e.Type, e.JobID, e.StepID, e.Extra)
	}
}
