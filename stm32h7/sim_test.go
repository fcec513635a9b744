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

package stm32h7_test

import (
	"testing"
	"time"

	"github.com/c2a-monazite/dualboot/bootmeta"
	"github.com/c2a-monazite/dualboot/devices/sim"
	"github.com/c2a-monazite/dualboot/stm32h7"
)

func poweredBoard(t *testing.T) *sim.Board {
	t.Helper()
	b := sim.New(1)
	b.Reset(sim.PowerOn)
	return b
}

func TestIWDG(t *testing.T) {
	b := poweredBoard(t)
	w := stm32h7.NewIWDG(b)
	w.Start(20 * time.Second)

	running, timeout := b.WatchdogRunning()
	if !running {
		t.Fatal("watchdog not running after Start")
	}
	if timeout < 20*time.Second || timeout > 20*time.Second+100*time.Millisecond {
		t.Errorf("timeout = %v, want about 20s", timeout)
	}

	b.Advance(19 * time.Second)
	w.Feed()
	b.Advance(19 * time.Second)
	if b.WatchdogExpired() {
		t.Fatal("watchdog expired although it was fed")
	}
	b.Advance(2 * time.Second)
	if !b.WatchdogExpired() {
		t.Error("watchdog did not expire")
	}
}

func TestBackupRegisters(t *testing.T) {
	b := poweredBoard(t)
	regs := stm32h7.NewBackupRegisters(b)
	before := regs.BackupRegister(3)

	regs.SetBackupRegister(3, before+1)
	if got := regs.BackupRegister(3); got != before {
		t.Errorf("write before EnableBackupAccess took effect: 0x%x", got)
	}

	stm32h7.NewPWR(b).EnableBackupAccess()
	regs.SetBackupRegister(3, 0x1234)
	if got := regs.BackupRegister(3); got != 0x1234 {
		t.Errorf("BackupRegister(3) = 0x%x, want 0x1234", got)
	}
	if got := b.Backup(3); got != 0x1234 {
		t.Errorf("board backup register 3 = 0x%x, want 0x1234", got)
	}
}

func TestRCC(t *testing.T) {
	b := poweredBoard(t)
	rcc := stm32h7.NewRCC(b)

	if got, err := bootmeta.ClassifyReset(rcc.ResetFlags()); err != nil || got != bootmeta.PowerOnReset {
		t.Errorf("ClassifyReset(ResetFlags()) = %v, %v, want %v", got, err, bootmeta.PowerOnReset)
	}
	rcc.ClearResetFlags()
	if got := rcc.ResetFlags(); got != 0 {
		t.Errorf("ResetFlags() after clear = 0x%08x, want 0", got)
	}

	b.Write(stm32h7.SRAM1.Start, 0)
	if b.Read(stm32h7.SRAM1.Start) == 0 {
		t.Fatal("SRAM1 written with its clock gated")
	}
	rcc.EnableSRAM123()
	for _, r := range []uint32{stm32h7.SRAM1.Start, stm32h7.SRAM2.Start, stm32h7.SRAM3.Start} {
		b.Write(r, 0)
		if got := b.Read(r); got != 0 {
			t.Errorf("Read(0x%08x) = 0x%x after enabling its clock, want 0", r, got)
		}
	}
}
