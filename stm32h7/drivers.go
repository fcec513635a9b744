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

package stm32h7

import (
	"fmt"
	"time"

	"github.com/c2a-monazite/dualboot/mmio"
)

// IWDG is the independent watchdog.
type IWDG struct {
	bus mmio.Bus
}

// NewIWDG returns a handle to the independent watchdog.
func NewIWDG(bus mmio.Bus) *IWDG {
	return &IWDG{bus: bus}
}

// prescaler returns the IWDG_PR value and reload value needed for timeout.
func prescaler(timeout time.Duration) (pr uint32, rlr uint32) {
	ms := uint64(timeout / time.Millisecond)
	// PR=n divides the LSI by 4<<n, PR values above 6 all mean /256.
	for pr = 0; pr <= 6; pr++ {
		div := uint64(4) << pr
		ticks := ms * LSIFrequency / (1000 * div)
		if ticks <= IWDGMaxReload {
			if ticks == 0 {
				ticks = 1
			}
			return pr, uint32(ticks)
		}
	}
	return 6, IWDGMaxReload
}

// Start enables the watchdog with the given timeout. Once started the
// watchdog cannot be stopped except by a reset.
func (w *IWDG) Start(timeout time.Duration) {
	pr, rlr := prescaler(timeout)
	w.bus.Write(IWDG_KR, IWDGKeyStart)
	w.bus.Write(IWDG_KR, IWDGKeyAccess)
	w.bus.Write(IWDG_PR, pr)
	w.bus.Write(IWDG_RLR, rlr)
	mmio.WaitClear(w.bus, IWDG_SR, SR_PVU)
	mmio.WaitClear(w.bus, IWDG_SR, SR_RVU)
	w.Feed()
}

// Feed reloads the watchdog counter.
func (w *IWDG) Feed() {
	w.bus.Write(IWDG_KR, IWDGKeyReload)
}

// PWR is the power controller.
type PWR struct {
	bus mmio.Bus
}

// NewPWR returns a handle to the power controller.
func NewPWR(bus mmio.Bus) *PWR {
	return &PWR{bus: bus}
}

// EnableBackupAccess disables the backup domain write protection and waits
// until the change is effective.
func (p *PWR) EnableBackupAccess() {
	mmio.Set(p.bus, PWR_CR1, CR1_DBP)
	mmio.WaitSet(p.bus, PWR_CR1, CR1_DBP)
}

// RCC is the reset and clock controller.
type RCC struct {
	bus mmio.Bus
}

// NewRCC returns a handle to the reset and clock controller.
func NewRCC(bus mmio.Bus) *RCC {
	return &RCC{bus: bus}
}

// ResetFlags returns the raw value of RCC_RSR.
func (r *RCC) ResetFlags() uint32 {
	return r.bus.Read(RCC_RSR)
}

// ClearResetFlags clears every reset flag in RCC_RSR.
func (r *RCC) ClearResetFlags() {
	mmio.Set(r.bus, RCC_RSR, RSR_RMVF)
}

// EnableSRAM123 enables the clocks of the D2 domain SRAM1, SRAM2 and SRAM3.
func (r *RCC) EnableSRAM123() {
	v := r.bus.Read(RCC_AHB2ENR)
	v |= 1<<AHB2ENR_SRAM1EN | 1<<AHB2ENR_SRAM2EN | 1<<AHB2ENR_SRAM3EN
	r.bus.Write(RCC_AHB2ENR, v)
}

// BackupRegisters gives access to the RTC backup registers.
//
// Writes only take effect once PWR.EnableBackupAccess has been called.
type BackupRegisters struct {
	bus mmio.Bus
}

// NewBackupRegisters returns a handle to the RTC backup registers.
func NewBackupRegisters(bus mmio.Bus) *BackupRegisters {
	return &BackupRegisters{bus: bus}
}

func backupAddr(i int) uint32 {
	if i < 0 || i >= NumBackupRegisters {
		panic(fmt.Sprintf("backup register %d out of range", i))
	}
	return RTC_BKP0R + uint32(i)*4
}

// BackupRegister returns the value of backup register i.
func (b *BackupRegisters) BackupRegister(i int) uint32 {
	return b.bus.Read(backupAddr(i))
}

// SetBackupRegister stores v in backup register i.
func (b *BackupRegisters) SetBackupRegister(i int, v uint32) {
	b.bus.Write(backupAddr(i), v)
}
