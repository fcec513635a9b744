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

package flashalgo

import (
	"fmt"

	"github.com/c2a-monazite/dualboot/mmio"
	"github.com/c2a-monazite/dualboot/stm32h7"
	"github.com/golang/glog"
)

// Chunk is one 256-bit flash word.
type Chunk [8]uint32

// bankRegs are the register sets controlling the bank mapped at FlashBase
// and the one mapped at FlashBase+BankSize respectively.
var bankRegs = [2]uint32{stm32h7.FlashBank1Regs, stm32h7.FlashBank2Regs}

// Bank drives one flash bank register set.
type Bank struct {
	bus  mmio.Bus
	regs uint32
}

// NewBank returns a Bank using the register set at regs.
func NewBank(bus mmio.Bus, regs uint32) *Bank {
	return &Bank{bus: bus, regs: regs}
}

func (b *Bank) String() string {
	return fmt.Sprintf("bank@0x%08x", b.regs)
}

// Unlock writes the key sequence enabling FLASH_CR writes.
func (b *Bank) Unlock() {
	b.bus.Write(b.regs+stm32h7.FLASH_KEYR, stm32h7.FLASH_KEY1)
	b.bus.Write(b.regs+stm32h7.FLASH_KEYR, stm32h7.FLASH_KEY2)
}

// Lock locks FLASH_CR until the next Unlock.
func (b *Bank) Lock() {
	mmio.Set(b.bus, b.regs+stm32h7.FLASH_CR, stm32h7.CR_LOCK)
}

// ClearErrors clears the end-of-operation and error flags.
func (b *Bank) ClearErrors() {
	b.bus.Write(b.regs+stm32h7.FLASH_CCR, stm32h7.CCRClearAll)
}

// EraseBank erases the whole bank.
func (b *Bank) EraseBank() error {
	if b.busy() {
		return ErrWouldBlock
	}
	b.ClearErrors()
	b.bus.Write(b.regs+stm32h7.FLASH_CR, stm32h7.PSIZE64<<stm32h7.CR_PSIZE|1<<stm32h7.CR_BER)
	b.start()
	return b.wait("bank erase")
}

// EraseSector erases sector n of the bank.
func (b *Bank) EraseSector(n uint32) error {
	if err := b.StartEraseSector(n); err != nil {
		return err
	}
	return b.wait(fmt.Sprintf("sector %d erase", n))
}

// StartEraseSector starts erasing sector n and returns without waiting for
// the controller. Poll reports when the erase has ended.
func (b *Bank) StartEraseSector(n uint32) error {
	if n >= stm32h7.SectorsPerBank {
		return ErrOutOfRange
	}
	if b.busy() {
		return ErrWouldBlock
	}
	b.ClearErrors()
	b.bus.Write(b.regs+stm32h7.FLASH_CR, stm32h7.PSIZE64<<stm32h7.CR_PSIZE|1<<stm32h7.CR_SER|n<<stm32h7.CR_SNB)
	b.start()
	return nil
}

// ProgramChunk writes one flash word at addr.
func (b *Bank) ProgramChunk(addr uint32, c *Chunk) error {
	if err := b.StartProgramChunk(addr, c); err != nil {
		return err
	}
	return b.wait(fmt.Sprintf("program 0x%08x", addr))
}

// StartProgramChunk hands one flash word at addr to the controller and
// returns without waiting for it to be programmed.
func (b *Bank) StartProgramChunk(addr uint32, c *Chunk) error {
	if b.busy() {
		return ErrWouldBlock
	}
	b.ClearErrors()
	b.bus.Write(b.regs+stm32h7.FLASH_CR, stm32h7.PSIZE64<<stm32h7.CR_PSIZE|1<<stm32h7.CR_PG)
	b.bus.Barrier()
	for i, w := range c {
		b.bus.Write(addr+uint32(i)*4, w)
	}
	b.bus.Barrier()
	return nil
}

// Poll reports whether the operation last started has ended, and the error
// flags it raised if it has.
func (b *Bank) Poll(op string) (bool, error) {
	sr := b.bus.Read(b.regs + stm32h7.FLASH_SR)
	if sr&(1<<stm32h7.SR_BSY|1<<stm32h7.SR_QW) != 0 {
		return false, nil
	}
	if sr&stm32h7.SRErrorMask != 0 {
		glog.Warningf("%s: %s: FLASH_SR=0x%08x", b, op, sr)
		return true, &OperationError{Op: op, Status: sr}
	}
	return true, nil
}

// Release clears the operation bits of FLASH_CR and locks it.
func (b *Bank) Release() {
	b.bus.Write(b.regs+stm32h7.FLASH_CR, 1<<stm32h7.CR_LOCK)
}

func (b *Bank) busy() bool {
	return mmio.IsSet(b.bus, b.regs+stm32h7.FLASH_SR, stm32h7.SR_BSY)
}

func (b *Bank) start() {
	mmio.Set(b.bus, b.regs+stm32h7.FLASH_CR, stm32h7.CR_START)
	b.bus.Barrier()
}

func (b *Bank) wait(op string) error {
	mmio.WaitClear(b.bus, b.regs+stm32h7.FLASH_SR, stm32h7.SR_BSY)
	if sr := b.bus.Read(b.regs + stm32h7.FLASH_SR); sr&stm32h7.SRErrorMask != 0 {
		glog.Warningf("%s: %s: FLASH_SR=0x%08x", b, op, sr)
		return &OperationError{Op: op, Status: sr}
	}
	return nil
}
