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

package sim

import (
	"fmt"
	"time"

	"github.com/c2a-monazite/dualboot/bootmeta"
	"github.com/c2a-monazite/dualboot/stm32h7"
	"github.com/golang/glog"
)

// ResetKind is a source of reset.
type ResetKind int

const (
	PowerOn ResetKind = iota
	Pin
	Brownout
	Software
	IndependentWatchdog
	WindowWatchdog
)

var resetKindNames = map[ResetKind]string{
	PowerOn:             "power",
	Pin:                 "pin",
	Brownout:            "brownout",
	Software:            "software",
	IndependentWatchdog: "iwdg",
	WindowWatchdog:      "wwdg",
}

func (k ResetKind) String() string {
	if n, ok := resetKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("ResetKind(%d)", int(k))
}

// ParseResetKind parses the names returned by ResetKind.String.
func ParseResetKind(s string) (ResetKind, error) {
	for k, n := range resetKindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown reset kind %q", s)
}

// rsrFlags are the RCC_RSR flags raised by each kind of reset.
var rsrFlags = map[ResetKind][]int{
	PowerOn:             {stm32h7.RSR_PORRSTF, stm32h7.RSR_PINRSTF, stm32h7.RSR_BORRSTF, stm32h7.RSR_D2RSTF, stm32h7.RSR_D1RSTF, stm32h7.RSR_CPURSTF},
	Pin:                 {stm32h7.RSR_PINRSTF, stm32h7.RSR_CPURSTF},
	Brownout:            {stm32h7.RSR_PINRSTF, stm32h7.RSR_BORRSTF, stm32h7.RSR_CPURSTF},
	Software:            {stm32h7.RSR_SFTRSTF, stm32h7.RSR_PINRSTF, stm32h7.RSR_CPURSTF},
	IndependentWatchdog: {stm32h7.RSR_IWDG1RSTF, stm32h7.RSR_PINRSTF, stm32h7.RSR_CPURSTF},
	WindowWatchdog:      {stm32h7.RSR_WWDG1RSTF, stm32h7.RSR_PINRSTF, stm32h7.RSR_CPURSTF},
}

// Reset applies a reset of the given kind.
//
// Flash contents and the programmed option bytes survive every reset. The
// backup registers are randomised by power-on and brownout resets. RCC_RSR
// flags accumulate until software clears them.
func (b *Board) Reset(kind ResetKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	glog.V(1).Infof("sim: %v reset", kind)
	b.stats.Resets++

	if kind == PowerOn {
		b.rsr = 0
	}
	for _, f := range rsrFlags[kind] {
		b.rsr |= 1 << f
	}
	if kind == PowerOn || kind == Brownout {
		for i := range b.bkp {
			b.bkp[i] = b.rng.Uint32()
		}
	}

	b.optSwap = b.optProgrammed
	b.optPrg = b.optProgrammed
	b.optLocked = true
	b.optKeyState = 0
	for i := range b.flash {
		b.flash[i].reset()
	}
	b.dbp = false
	b.ahb2enr = 0
	b.iwdgRunning = false
	b.iwdgAccess = false
	b.vtor = 0

	b.ram = map[uint32]uint32{}
	b.ramSeed = b.rng.Uint32()

	b.resetRequested = false
	b.booted = false
	b.bootAddr = 0
}

// ResetRequested returns true if software asked for a system reset since
// the last Reset.
func (b *Board) ResetRequested() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resetRequested
}

// Booted returns the vector table address control was transferred to, if
// any, since the last Reset.
func (b *Board) Booted() (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bootAddr, b.booted
}

// WatchdogExpired returns true if the independent watchdog is running and
// has not been fed in time.
func (b *Board) WatchdogExpired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.iwdgRunning && b.now >= b.iwdgDeadline
}

// WatchdogRunning returns true if the independent watchdog has been started,
// along with its current timeout.
func (b *Board) WatchdogRunning() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ticks := time.Duration(b.iwdgRLR+1) * time.Duration(4<<b.iwdgPR)
	return b.iwdgRunning, ticks * time.Second / stm32h7.LSIFrequency
}

// Stats returns the bus activity counters.
func (b *Board) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// ActiveBank returns the physical bank mapped at the boot address.
func (b *Board) ActiveBank() bootmeta.BootBank {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bootmeta.FromSwapBank(b.optSwap)
}

// ProgrammedBank returns the bank the option bytes select for the next reset.
func (b *Board) ProgrammedBank() bootmeta.BootBank {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bootmeta.FromSwapBank(b.optProgrammed)
}

// Backup returns backup register i, bypassing the write protection.
func (b *Board) Backup(i int) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bkp[i]
}

// SetBackup stores v in backup register i, bypassing the write protection.
func (b *Board) SetBackup(i int, v uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bkp[i] = v
}

// BankContents returns a copy of the physical bank.
func (b *Board) BankContents(bank bootmeta.BootBank) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.banks[bank-1]...)
}

// LoadBank replaces the contents of the physical bank with data, padded with
// the erased value. It models a programmer writing through the debug port.
func (b *Board) LoadBank(bank bootmeta.BootBank, data []byte) error {
	if len(data) > stm32h7.BankSize {
		return fmt.Errorf("image of %d bytes does not fit in a bank", len(data))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	dst := b.banks[bank-1]
	n := copy(dst, data)
	for i := n; i < len(dst); i++ {
		dst[i] = 0xFF
	}
	return nil
}

// StallFlash makes the next n FLASH_SR reads of register set i (0 for the
// set controlling the boot address window) report BSY.
func (b *Board) StallFlash(i int, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flash[i].stall = n
}

// ResetFlags returns the raw RCC_RSR value.
func (b *Board) ResetFlags() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rsr
}
