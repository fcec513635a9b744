// Copyright 2024 Google LLC. All Rights Reserved.
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

// Package cortexm describes the processor-level operations of an Arm
// Cortex-M core which cannot be expressed as plain register accesses.
package cortexm

//go:generate mockgen -destination mock_cortexm/mock_cortexm.go github.com/c2a-monazite/dualboot/cortexm Core

// System Control Block registers.
const (
	SCBVTOR  = 0xE000_ED08
	SCBAIRCR = 0xE000_ED0C

	// AIRCRSysReset is VECTKEY | SYSRESETREQ.
	AIRCRSysReset = 0x05FA_0004
)

// Core is the handle to the processor core.
//
// SystemReset and Boot never return on real hardware. Simulated cores do
// return, after recording the request, so callers must treat any code
// following those calls as unreachable on target.
type Core interface {
	// Delay busy-waits for approximately the given number of core cycles.
	Delay(cycles uint32)
	// SystemReset requests a system reset through AIRCR.
	SystemReset()
	// Boot relocates the vector table to vectorTable, loads the initial
	// stack pointer and reset vector from it, and branches to the reset
	// vector.
	Boot(vectorTable uint32)
	// InterruptFree runs f with interrupts globally masked.
	InterruptFree(f func())
}
