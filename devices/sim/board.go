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

// Package sim provides a software model of the STM32H7 board, so that the
// bootloader, the boot manager and the flashing algorithms can run on a host.
//
// Only the registers touched by this module are modelled. Accesses to any
// other address panic, as a bus fault would on the target.
package sim

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/c2a-monazite/dualboot/cortexm"
	"github.com/c2a-monazite/dualboot/mmio"
	"github.com/c2a-monazite/dualboot/stm32h7"
	"github.com/golang/glog"
	"github.com/usbarmory/tamago/bits"
)

// CoreClock is the frequency the core runs at after reset (HSI).
const CoreClock = 64_000_000

// flashRegs is the state behind one flash bank register set.
type flashRegs struct {
	locked   bool
	keyState int
	cr       uint32
	sr       uint32
	// stall is the number of FLASH_SR reads which still report BSY.
	stall int

	buf     [8]uint32
	bufMask uint8
	bufWord uint32
}

func (f *flashRegs) reset() {
	*f = flashRegs{locked: true}
}

// Stats counts bus activity since the board was created.
type Stats struct {
	Reads          int
	Writes         int
	FlashWrites    int
	Barriers       int
	OptionPrograms int
	Resets         int
}

// Board is a simulated board. It implements mmio.Bus and cortexm.Core.
//
// Board is safe for concurrent use.
type Board struct {
	mu sync.Mutex

	// banks holds the physical flash banks, Bank1 first.
	banks [2][]byte
	flash [2]flashRegs

	// optSwap is the effective SWAP_BANK for this boot, optProgrammed the
	// option byte value loaded on the next reset and optPrg the OPTSR_PRG
	// register.
	optSwap       bool
	optProgrammed bool
	optPrg        bool
	optLocked     bool
	optKeyState   int

	rsr     uint32
	ahb2enr uint32
	dbp     bool
	bkp     [stm32h7.NumBackupRegisters]uint32

	iwdgRunning  bool
	iwdgAccess   bool
	iwdgPR       uint32
	iwdgRLR      uint32
	iwdgDeadline time.Duration
	now          time.Duration

	vtor    uint32
	ram     map[uint32]uint32
	ramSeed uint32

	resetRequested bool
	booted         bool
	bootAddr       uint32

	rng   *rand.Rand
	stats Stats
}

var (
	_ mmio.Bus     = &Board{}
	_ cortexm.Core = &Board{}
)

// New returns a powered-off board with both banks erased. Call Reset before
// using it.
func New(seed int64) *Board {
	b := &Board{
		rng: rand.New(rand.NewSource(seed)),
		ram: map[uint32]uint32{},
	}
	for i := range b.banks {
		b.banks[i] = make([]byte, stm32h7.BankSize)
		for j := range b.banks[i] {
			b.banks[i][j] = 0xFF
		}
	}
	for i := range b.bkp {
		b.bkp[i] = b.rng.Uint32()
	}
	for i := range b.flash {
		b.flash[i].reset()
	}
	b.optLocked = true
	return b
}

// physical returns the index of the physical bank mapped at window w.
func (b *Board) physical(w int) int {
	if b.optSwap {
		return w ^ 1
	}
	return w
}

func flashWindow(addr uint32) (int, bool) {
	if addr < stm32h7.FlashBase || addr >= stm32h7.FlashBase+2*stm32h7.BankSize {
		return 0, false
	}
	return int((addr - stm32h7.FlashBase) / stm32h7.BankSize), true
}

func flashRegSet(addr uint32) (int, uint32, bool) {
	for i, base := range []uint32{stm32h7.FlashBank1Regs, stm32h7.FlashBank2Regs} {
		switch off := addr - base; off {
		case stm32h7.FLASH_KEYR, stm32h7.FLASH_CR, stm32h7.FLASH_SR, stm32h7.FLASH_CCR:
			return i, off, true
		}
	}
	return 0, 0, false
}

var sram123 = []mmio.Region{stm32h7.SRAM1, stm32h7.SRAM2, stm32h7.SRAM3}

func (b *Board) ramRegion(addr uint32) (gated bool, ok bool) {
	for i, r := range sram123 {
		if r.Contains(addr) {
			return !bits.IsSet(&b.ahb2enr, stm32h7.AHB2ENR_SRAM1EN+i), true
		}
	}
	for _, r := range stm32h7.ApplicationRAM {
		if r.Contains(addr) {
			return false, true
		}
	}
	return false, false
}

// garbage is the content of RAM which has not been written since the last
// reset. It is never zero.
func (b *Board) garbage(addr uint32) uint32 {
	return (addr*2654435761)^b.ramSeed | 1
}

// Read implements mmio.Bus.
func (b *Board) Read(addr uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.Reads++
	return b.read(addr)
}

func (b *Board) read(addr uint32) uint32 {
	if addr%4 != 0 {
		panic(fmt.Sprintf("sim: unaligned read at 0x%08x", addr))
	}
	if w, ok := flashWindow(addr); ok {
		off := (addr - stm32h7.FlashBase) % stm32h7.BankSize
		p := b.banks[b.physical(w)][off : off+4]
		return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
	}
	if i, off, ok := flashRegSet(addr); ok {
		f := &b.flash[i]
		switch off {
		case stm32h7.FLASH_CR:
			v := f.cr
			bits.SetTo(&v, stm32h7.CR_LOCK, f.locked)
			return v
		case stm32h7.FLASH_SR:
			v := f.sr
			if f.stall > 0 {
				f.stall--
				bits.Set(&v, stm32h7.SR_BSY)
			}
			return v
		}
		return 0
	}
	if gated, ok := b.ramRegion(addr); ok {
		if v, ok := b.ram[addr]; ok && !gated {
			return v
		}
		return b.garbage(addr)
	}
	if addr >= stm32h7.RTC_BKP0R && addr < stm32h7.RTC_BKP0R+4*stm32h7.NumBackupRegisters {
		return b.bkp[(addr-stm32h7.RTC_BKP0R)/4]
	}

	var v uint32
	switch addr {
	case stm32h7.FLASH_OPTCR:
		bits.SetTo(&v, stm32h7.OPTCR_OPTLOCK, b.optLocked)
		bits.SetTo(&v, stm32h7.OPTCR_SWAP_BANK, b.optSwap)
	case stm32h7.FLASH_OPTSR_CUR:
		bits.SetTo(&v, stm32h7.OPTSR_SWAP_BANK_OPT, b.optProgrammed)
	case stm32h7.FLASH_OPTSR_PRG:
		bits.SetTo(&v, stm32h7.OPTSR_SWAP_BANK_OPT, b.optPrg)
	case stm32h7.FLASH_OPTKEYR:
	case stm32h7.RCC_RSR:
		v = b.rsr
	case stm32h7.RCC_AHB2ENR:
		v = b.ahb2enr
	case stm32h7.PWR_CR1:
		bits.SetTo(&v, stm32h7.CR1_DBP, b.dbp)
	case stm32h7.IWDG_KR, stm32h7.IWDG_SR:
	case stm32h7.IWDG_PR:
		v = b.iwdgPR
	case stm32h7.IWDG_RLR:
		v = b.iwdgRLR
	case cortexm.SCBVTOR:
		v = b.vtor
	default:
		panic(fmt.Sprintf("sim: read from unmapped address 0x%08x", addr))
	}
	return v
}

// Write implements mmio.Bus.
func (b *Board) Write(addr uint32, val uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.Writes++
	b.write(addr, val)
}

func (b *Board) write(addr uint32, val uint32) {
	if addr%4 != 0 {
		panic(fmt.Sprintf("sim: unaligned write at 0x%08x", addr))
	}
	if w, ok := flashWindow(addr); ok {
		b.stats.FlashWrites++
		b.programWord(w, addr, val)
		return
	}
	if i, off, ok := flashRegSet(addr); ok {
		b.writeFlashReg(i, off, val)
		return
	}
	if gated, ok := b.ramRegion(addr); ok {
		if !gated {
			b.ram[addr] = val
		}
		return
	}
	if addr >= stm32h7.RTC_BKP0R && addr < stm32h7.RTC_BKP0R+4*stm32h7.NumBackupRegisters {
		if b.dbp {
			b.bkp[(addr-stm32h7.RTC_BKP0R)/4] = val
		}
		return
	}

	switch addr {
	case stm32h7.FLASH_OPTKEYR:
		switch {
		case val == stm32h7.FLASH_OPTKEY1:
			b.optKeyState = 1
		case val == stm32h7.FLASH_OPTKEY2 && b.optKeyState == 1:
			b.optLocked = false
			b.optKeyState = 0
		default:
			b.optKeyState = 0
		}
	case stm32h7.FLASH_OPTCR:
		if b.optLocked {
			return
		}
		if bits.IsSet(&val, stm32h7.OPTCR_OPTSTART) {
			b.optProgrammed = b.optPrg
			b.stats.OptionPrograms++
			glog.V(2).Infof("sim: option bytes programmed, SWAP_BANK=%t", b.optProgrammed)
		}
		if bits.IsSet(&val, stm32h7.OPTCR_OPTLOCK) {
			b.optLocked = true
		}
	case stm32h7.FLASH_OPTSR_PRG:
		if !b.optLocked {
			b.optPrg = bits.IsSet(&val, stm32h7.OPTSR_SWAP_BANK_OPT)
		}
	case stm32h7.FLASH_OPTSR_CUR:
	case stm32h7.RCC_RSR:
		if bits.IsSet(&val, stm32h7.RSR_RMVF) {
			b.rsr = 0
		}
	case stm32h7.RCC_AHB2ENR:
		b.ahb2enr = val
	case stm32h7.PWR_CR1:
		b.dbp = bits.IsSet(&val, stm32h7.CR1_DBP)
	case stm32h7.IWDG_KR:
		b.writeIWDGKey(val)
	case stm32h7.IWDG_PR:
		if b.iwdgAccess {
			b.iwdgPR = val & 0x7
		}
	case stm32h7.IWDG_RLR:
		if b.iwdgAccess {
			b.iwdgRLR = val & stm32h7.IWDGMaxReload
		}
	case stm32h7.IWDG_SR:
	case cortexm.SCBVTOR:
		b.vtor = val
	case cortexm.SCBAIRCR:
		if val == cortexm.AIRCRSysReset {
			b.resetRequested = true
		}
	default:
		panic(fmt.Sprintf("sim: write to unmapped address 0x%08x", addr))
	}
}

func (b *Board) writeFlashReg(i int, off uint32, val uint32) {
	f := &b.flash[i]
	switch off {
	case stm32h7.FLASH_KEYR:
		switch {
		case val == stm32h7.FLASH_KEY1:
			f.keyState = 1
		case val == stm32h7.FLASH_KEY2 && f.keyState == 1:
			f.locked = false
			f.keyState = 0
		default:
			f.keyState = 0
		}
	case stm32h7.FLASH_CR:
		if f.locked {
			bits.Set(&f.sr, stm32h7.SR_WRPERR)
			return
		}
		if bits.IsSet(&val, stm32h7.CR_LOCK) {
			f.locked = true
		}
		bits.Clear(&val, stm32h7.CR_LOCK)
		start := bits.IsSet(&val, stm32h7.CR_START)
		bits.Clear(&val, stm32h7.CR_START)
		f.cr = val
		if start {
			b.startErase(i)
		}
	case stm32h7.FLASH_CCR:
		f.sr &^= val & stm32h7.CCRClearAll
	case stm32h7.FLASH_SR:
	}
}

func (b *Board) startErase(i int) {
	f := &b.flash[i]
	bank := b.banks[b.physical(i)]
	switch {
	case bits.IsSet(&f.cr, stm32h7.CR_BER):
		for j := range bank {
			bank[j] = 0xFF
		}
	case bits.IsSet(&f.cr, stm32h7.CR_SER):
		n := bits.Get(&f.cr, stm32h7.CR_SNB, stm32h7.SNBMask)
		s := bank[n*stm32h7.SectorSize : (n+1)*stm32h7.SectorSize]
		for j := range s {
			s[j] = 0xFF
		}
	default:
		bits.Set(&f.sr, stm32h7.SR_PGSERR)
		return
	}
	bits.Set(&f.sr, stm32h7.SR_EOP)
}

// programWord collects words in the write buffer of the register set owning
// window w, and programs the flash word once all eight have been written.
func (b *Board) programWord(w int, addr uint32, val uint32) {
	f := &b.flash[w]
	if f.locked || !bits.IsSet(&f.cr, stm32h7.CR_PG) {
		bits.Set(&f.sr, stm32h7.SR_PGSERR)
		return
	}
	word := addr &^ (stm32h7.FlashWordSize - 1)
	if f.bufMask != 0 && word != f.bufWord {
		bits.Set(&f.sr, stm32h7.SR_INCERR)
		f.bufMask = 0
	}
	f.bufWord = word
	idx := (addr - word) / 4
	f.buf[idx] = val
	f.bufMask |= 1 << idx
	if f.bufMask != 0xFF {
		return
	}
	f.bufMask = 0

	off := (word - stm32h7.FlashBase) % stm32h7.BankSize
	bank := b.banks[b.physical(w)]
	for i, v := range f.buf {
		p := bank[off+uint32(i)*4:]
		// NOR flash can only clear bits.
		p[0] &= byte(v)
		p[1] &= byte(v >> 8)
		p[2] &= byte(v >> 16)
		p[3] &= byte(v >> 24)
	}
	bits.Set(&f.sr, stm32h7.SR_EOP)
}

func (b *Board) writeIWDGKey(val uint32) {
	switch val {
	case stm32h7.IWDGKeyStart:
		if !b.iwdgRunning {
			b.iwdgRunning = true
			b.iwdgPR = 0
			b.iwdgRLR = stm32h7.IWDGMaxReload
		}
		b.reloadIWDG()
	case stm32h7.IWDGKeyAccess:
		b.iwdgAccess = true
	case stm32h7.IWDGKeyReload:
		b.iwdgAccess = false
		b.reloadIWDG()
	}
}

func (b *Board) reloadIWDG() {
	if !b.iwdgRunning {
		return
	}
	ticks := time.Duration(b.iwdgRLR+1) * time.Duration(4<<b.iwdgPR)
	b.iwdgDeadline = b.now + ticks*time.Second/stm32h7.LSIFrequency
}

// Barrier implements mmio.Bus.
func (b *Board) Barrier() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.Barriers++
}

// Delay implements cortexm.Core by advancing the virtual clock.
func (b *Board) Delay(cycles uint32) {
	b.Advance(time.Duration(cycles) * time.Second / CoreClock)
}

// Advance moves the virtual clock forward by d.
func (b *Board) Advance(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now += d
}

// SystemReset implements cortexm.Core. The simulated core returns; the
// caller must check ResetRequested and apply the reset.
func (b *Board) SystemReset() {
	b.Write(cortexm.SCBAIRCR, cortexm.AIRCRSysReset)
}

// Boot implements cortexm.Core. It records the jump and returns.
func (b *Board) Boot(vectorTable uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vtor = vectorTable
	b.booted = true
	b.bootAddr = vectorTable
}

// InterruptFree implements cortexm.Core. The board has no interrupts.
func (b *Board) InterruptFree(f func()) {
	f()
}
