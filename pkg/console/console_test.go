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

package console_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zenedge/kernel/pkg/console"
	"github.com/zenedge/kernel/pkg/kernel/contract"
	"github.com/zenedge/kernel/pkg/kernel/flightrec"
)

func TestHex32FormatsWidthAndCase(t *testing.T) {
	var buf bytes.Buffer
	console.New(&buf).Hex32("payload_id", 0xDEAD)
	assert.Contains(t, buf.String(), "0x0000DEAD")
}

func TestUintFormatsPlainDecimal(t *testing.T) {
	var buf bytes.Buffer
	console.New(&buf).Uint("steps", 42)
	assert.Contains(t, buf.String(), "42")
}

func TestBannerIncludesTitleBetweenRules(t *testing.T) {
	var buf bytes.Buffer
	console.New(&buf).Banner("ZENEDGE")
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[1], "ZENEDGE")
}

func TestJobResultReportsRejectionWithoutStats(t *testing.T) {
	var buf bytes.Buffer
	console.New(&buf).JobResult(3, contract.AdmitRejectMemory, flightrec.JobStats{})
	out := buf.String()
	assert.Contains(t, out, "REJECT_MEMORY")
	assert.NotContains(t, out, "steps_completed")
}

func TestJobResultReportsAdmittedStats(t *testing.T) {
	var buf bytes.Buffer
	console.New(&buf).JobResult(3, contract.AdmitOK, flightrec.JobStats{StepsCompleted: 2, TotalCPUUsec: 500})
	out := buf.String()
	assert.Contains(t, out, "ADMIT_OK")
	assert.Contains(t, out, "steps_completed")
}
