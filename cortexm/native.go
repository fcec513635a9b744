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

package cortexm

import (
	"device/arm"

	"github.com/c2a-monazite/dualboot/mmio"
)

// Native is the Core of the processor this program runs on.
type Native struct {
	Bus mmio.Bus
}

var _ Core = Native{}

// Delay spins for the given number of cycles, assuming one loop iteration
// per cycle as the cortex-m crate's delay does.
func (Native) Delay(cycles uint32) {
	for i := uint32(0); i < cycles; i++ {
		arm.Asm("nop")
	}
}

// SystemReset writes SYSRESETREQ and waits for the reset to happen.
func (n Native) SystemReset() {
	n.Bus.Barrier()
	n.Bus.Write(SCBAIRCR, AIRCRSysReset)
	n.Bus.Barrier()
	for {
		arm.Asm("nop")
	}
}

// Boot jumps to the image whose vector table lives at vectorTable.
func (n Native) Boot(vectorTable uint32) {
	n.Bus.Write(SCBVTOR, vectorTable)
	sp := n.Bus.Read(vectorTable)
	pc := n.Bus.Read(vectorTable + 4)
	n.Bus.Barrier()
	arm.AsmFull(`
		msr msp, {sp}
		bx {pc}
	`, map[string]interface{}{
		"sp": sp,
		"pc": pc,
	})
	for {
	}
}

// InterruptFree runs f with PRIMASK set, restoring the previous mask after.
func (Native) InterruptFree(f func()) {
	mask := arm.DisableInterrupts()
	defer arm.EnableInterrupts(mask)
	f()
}
