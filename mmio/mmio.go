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

// Package mmio provides access to memory-mapped peripheral registers and RAM.
//
// All hardware access in this module goes through a Bus. On the target the Bus
// is backed by volatile pointer accesses (see Direct), on a development host it
// is backed by the simulated board in devices/sim.
package mmio

//go:generate mockgen -destination mock_mmio/mock_mmio.go github.com/c2a-monazite/dualboot/mmio Bus

import (
	"fmt"

	"github.com/usbarmory/tamago/bits"
)

// Bus gives access to a 32-bit address space.
//
// Every Read and Write must reach the addressed location exactly once, in
// program order; implementations must never cache or coalesce accesses.
type Bus interface {
	// Read returns the 32-bit word at addr.
	Read(addr uint32) uint32
	// Write stores val as the 32-bit word at addr.
	Write(addr uint32, val uint32)
	// Barrier completes all outstanding memory accesses and flushes the
	// instruction pipeline (DSB+ISB on Cortex-M).
	Barrier()
}

// Region is the half-open address range [Start, End).
type Region struct {
	Start uint32
	End   uint32
}

// Size returns the number of bytes covered by the region.
func (r Region) Size() uint32 {
	return r.End - r.Start
}

// Contains returns true if addr lies within the region.
func (r Region) Contains(addr uint32) bool {
	return addr >= r.Start && addr < r.End
}

func (r Region) String() string {
	return fmt.Sprintf("[0x%08x, 0x%08x)", r.Start, r.End)
}

// Fill writes pattern to every word of the region, one store at a time.
func Fill(bus Bus, r Region, pattern uint32) {
	for addr := r.Start; addr < r.End; addr += 4 {
		bus.Write(addr, pattern)
	}
}

// Set sets bit pos of the register at addr with a read-modify-write.
func Set(bus Bus, addr uint32, pos int) {
	v := bus.Read(addr)
	bits.Set(&v, pos)
	bus.Write(addr, v)
}

// Clear clears bit pos of the register at addr with a read-modify-write.
func Clear(bus Bus, addr uint32, pos int) {
	v := bus.Read(addr)
	bits.Clear(&v, pos)
	bus.Write(addr, v)
}

// SetTo sets bit pos of the register at addr to val with a read-modify-write.
func SetTo(bus Bus, addr uint32, pos int, val bool) {
	v := bus.Read(addr)
	bits.SetTo(&v, pos, val)
	bus.Write(addr, v)
}

// IsSet returns whether bit pos of the register at addr is set.
func IsSet(bus Bus, addr uint32, pos int) bool {
	v := bus.Read(addr)
	return bits.IsSet(&v, pos)
}

// WaitClear spins until bit pos of the register at addr reads as zero.
//
// There is no timeout: callers rely on the independent watchdog to recover
// from a peripheral which never completes.
func WaitClear(bus Bus, addr uint32, pos int) {
	for IsSet(bus, addr, pos) {
	}
}

// WaitSet spins until bit pos of the register at addr reads as one.
func WaitSet(bus Bus, addr uint32, pos int) {
	for !IsSet(bus, addr, pos) {
	}
}
