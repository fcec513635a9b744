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

//go:build tinygo && cortexm

package mmio

import (
	"device/arm"
	"runtime/volatile"
	"unsafe"
)

// Direct is the on-target Bus, accessing physical addresses with volatile
// loads and stores.
type Direct struct{}

var _ Bus = Direct{}

// Read performs a volatile 32-bit load from addr.
func (Direct) Read(addr uint32) uint32 {
	return volatile.LoadUint32((*uint32)(unsafe.Pointer(uintptr(addr))))
}

// Write performs a volatile 32-bit store to addr.
func (Direct) Write(addr uint32, val uint32) {
	volatile.StoreUint32((*uint32)(unsafe.Pointer(uintptr(addr))), val)
}

// Barrier issues DSB followed by ISB.
func (Direct) Barrier() {
	arm.Asm("dsb 0xF")
	arm.Asm("isb 0xF")
}
