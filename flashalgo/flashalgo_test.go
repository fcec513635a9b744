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
	"bytes"
	"errors"
	"testing"

	"github.com/c2a-monazite/dualboot/bootmeta"
	"github.com/c2a-monazite/dualboot/devices/sim"
	"github.com/c2a-monazite/dualboot/mmio/mock_mmio"
	"github.com/c2a-monazite/dualboot/stm32h7"
	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"
)

func pattern(n int, seed byte) []byte {
	r := make([]byte, n)
	for i := range r {
		r[i] = byte(i*7) ^ seed
	}
	return r
}

func erased(n int) []byte {
	return bytes.Repeat([]byte{0xFF}, n)
}

func TestProgramPageRejectsBeforeWriting(t *testing.T) {
	for _, test := range []struct {
		desc    string
		addr    uint32
		size    int
		wantErr error
	}{
		{desc: "short", addr: stm32h7.FlashBase, size: 31, wantErr: ErrUnaligned},
		{desc: "long", addr: stm32h7.FlashBase, size: 33, wantErr: ErrUnaligned},
		{desc: "single byte", addr: stm32h7.FlashBase, size: 1, wantErr: ErrUnaligned},
		{desc: "unaligned address", addr: stm32h7.FlashBase + 2, size: 32, wantErr: ErrUnaligned},
		{desc: "below device", addr: stm32h7.FlashBase - 32, size: 32, wantErr: ErrOutOfRange},
		{desc: "past device", addr: stm32h7.FlashBase + stm32h7.BankSize - 32, size: 64, wantErr: ErrOutOfRange},
	} {
		t.Run(test.desc, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			// No expectations: any bus access fails the test.
			bus := mock_mmio.NewMockBus(ctrl)

			for _, a := range []Algorithm{
				&OneSide{bus: bus, bank: NewBank(bus, bankRegs[1]), offset: stm32h7.BankSize},
				&Mirrored{banks: [2]*Bank{NewBank(bus, bankRegs[0]), NewBank(bus, bankRegs[1])}},
			} {
				err := a.ProgramPage(test.addr, make([]byte, test.size))
				if !errors.Is(err, test.wantErr) {
					t.Errorf("%T.ProgramPage() = %v, want %v", a, err, test.wantErr)
				}
			}
		})
	}
}

func TestBankWouldBlock(t *testing.T) {
	regs := uint32(stm32h7.FlashBank2Regs)
	for _, test := range []struct {
		desc string
		op   func(b *Bank) error
	}{
		{desc: "bank erase", op: func(b *Bank) error { return b.EraseBank() }},
		{desc: "sector erase", op: func(b *Bank) error { return b.EraseSector(3) }},
		{desc: "program", op: func(b *Bank) error { return b.ProgramChunk(stm32h7.FlashBase, &Chunk{}) }},
	} {
		t.Run(test.desc, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			bus := mock_mmio.NewMockBus(ctrl)
			bus.EXPECT().Read(regs + stm32h7.FLASH_SR).Return(uint32(1 << stm32h7.SR_BSY))

			if err := test.op(NewBank(bus, regs)); !errors.Is(err, ErrWouldBlock) {
				t.Errorf("got %v, want %v", err, ErrWouldBlock)
			}
		})
	}
}

func TestBankProgramChunkSequence(t *testing.T) {
	ctrl := gomock.NewController(t)
	bus := mock_mmio.NewMockBus(ctrl)
	regs := uint32(stm32h7.FlashBank1Regs)
	addr := uint32(stm32h7.FlashBase + 0x40)
	c := Chunk{1, 2, 3, 4, 5, 6, 7, 8}

	calls := []*gomock.Call{
		bus.EXPECT().Read(regs + stm32h7.FLASH_SR).Return(uint32(0)),
		bus.EXPECT().Write(regs+stm32h7.FLASH_CCR, uint32(stm32h7.CCRClearAll)),
		bus.EXPECT().Write(regs+stm32h7.FLASH_CR, uint32(stm32h7.PSIZE64<<stm32h7.CR_PSIZE|1<<stm32h7.CR_PG)),
		bus.EXPECT().Barrier(),
	}
	for i, w := range c {
		calls = append(calls, bus.EXPECT().Write(addr+uint32(i)*4, w))
	}
	calls = append(calls,
		bus.EXPECT().Barrier(),
		bus.EXPECT().Read(regs+stm32h7.FLASH_SR).Return(uint32(1<<stm32h7.SR_BSY|1<<stm32h7.SR_QW)),
		bus.EXPECT().Read(regs+stm32h7.FLASH_SR).Return(uint32(0)),
		bus.EXPECT().Read(regs+stm32h7.FLASH_SR).Return(uint32(1<<stm32h7.SR_EOP)),
	)
	gomock.InOrder(calls...)

	if err := NewBank(bus, regs).ProgramChunk(addr, &c); err != nil {
		t.Fatalf("ProgramChunk() = %v", err)
	}
}

func TestBankOperationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	bus := mock_mmio.NewMockBus(ctrl)
	regs := uint32(stm32h7.FlashBank1Regs)
	status := uint32(1<<stm32h7.SR_PGSERR | 1<<stm32h7.SR_EOP)

	gomock.InOrder(
		bus.EXPECT().Read(regs+stm32h7.FLASH_SR).Return(uint32(0)),
		bus.EXPECT().Write(regs+stm32h7.FLASH_CCR, gomock.Any()),
		bus.EXPECT().Write(regs+stm32h7.FLASH_CR, uint32(stm32h7.PSIZE64<<stm32h7.CR_PSIZE|1<<stm32h7.CR_BER)),
		bus.EXPECT().Read(regs+stm32h7.FLASH_CR).Return(uint32(stm32h7.PSIZE64<<stm32h7.CR_PSIZE|1<<stm32h7.CR_BER)),
		bus.EXPECT().Write(regs+stm32h7.FLASH_CR, uint32(stm32h7.PSIZE64<<stm32h7.CR_PSIZE|1<<stm32h7.CR_BER|1<<stm32h7.CR_START)),
		bus.EXPECT().Barrier(),
		bus.EXPECT().Read(regs+stm32h7.FLASH_SR).Return(status),
		bus.EXPECT().Read(regs+stm32h7.FLASH_SR).Return(status),
	)

	err := NewBank(bus, regs).EraseBank()
	var oe *OperationError
	if !errors.As(err, &oe) {
		t.Fatalf("EraseBank() = %v, want OperationError", err)
	}
	if oe.Status != status {
		t.Errorf("Status = 0x%08x, want 0x%08x", oe.Status, status)
	}
}

func newBoard(t *testing.T) *sim.Board {
	t.Helper()
	b := sim.New(1)
	b.Reset(sim.Pin)
	return b
}

func TestOneSideOtherBank(t *testing.T) {
	b := newBoard(t)
	b.SetBackup(bootmeta.NextBootBankIndex, uint32(bootmeta.NextBank1))

	o, err := NewOneSide(b, b, bootmeta.Bank2, Device.Address, 0, Program)
	if err != nil {
		t.Fatalf("NewOneSide() = %v", err)
	}
	defer o.Close()

	if got := b.Backup(bootmeta.NextBootBankIndex); got != 0 {
		t.Errorf("next boot bank = %d, want cleared", got)
	}
	if got := b.ProgrammedBank(); got != bootmeta.Bank2 {
		t.Errorf("ProgrammedBank() = %v, want %v", got, bootmeta.Bank2)
	}
	if got := b.ActiveBank(); got != bootmeta.Bank1 {
		t.Errorf("ActiveBank() = %v, want %v", got, bootmeta.Bank1)
	}

	page := pattern(int(Device.PageSize), 0x5A)
	if err := o.ProgramPage(Device.Address+0x400, page); err != nil {
		t.Fatalf("ProgramPage() = %v", err)
	}
	bank2 := b.BankContents(bootmeta.Bank2)
	if diff := cmp.Diff(page, bank2[0x400:0x800]); diff != "" {
		t.Errorf("bank2 contents diff (-want +got):\n%s", diff)
	}
	if !bytes.Equal(b.BankContents(bootmeta.Bank1), erased(stm32h7.BankSize)) {
		t.Error("bank1 was modified")
	}
	// The image is visible through the upper window while Bank1 is booted.
	if got, want := b.Read(stm32h7.FlashBase+stm32h7.BankSize+0x400), uint32(page[0])|uint32(page[1])<<8|uint32(page[2])<<16|uint32(page[3])<<24; got != want {
		t.Errorf("Read(upper window) = 0x%08x, want 0x%08x", got, want)
	}

	if err := o.EraseSector(Device.Address + 0x400); err != nil {
		t.Fatalf("EraseSector() = %v", err)
	}
	if !bytes.Equal(b.BankContents(bootmeta.Bank2)[:stm32h7.SectorSize], erased(stm32h7.SectorSize)) {
		t.Error("sector 0 of bank2 not erased")
	}
}

func TestOneSideActiveBank(t *testing.T) {
	b := newBoard(t)
	if err := b.LoadBank(bootmeta.Bank2, pattern(4096, 1)); err != nil {
		t.Fatal(err)
	}

	o, err := NewOneSide(b, b, bootmeta.Bank1, Device.Address, 0, Erase)
	if err != nil {
		t.Fatalf("NewOneSide() = %v", err)
	}
	if got := b.Stats().OptionPrograms; got != 0 {
		t.Errorf("option bytes programmed %d times, want 0", got)
	}
	if got := b.Backup(bootmeta.NextBootBankIndex); got != 0 {
		t.Errorf("next boot bank = %d, want cleared", got)
	}

	page := pattern(64, 2)
	if err := o.ProgramPage(Device.Address, page); err != nil {
		t.Fatalf("ProgramPage() = %v", err)
	}
	if diff := cmp.Diff(page, b.BankContents(bootmeta.Bank1)[:64]); diff != "" {
		t.Errorf("bank1 contents diff (-want +got):\n%s", diff)
	}

	if err := o.EraseAll(); err != nil {
		t.Fatalf("EraseAll() = %v", err)
	}
	if !bytes.Equal(b.BankContents(bootmeta.Bank1), erased(stm32h7.BankSize)) {
		t.Error("bank1 not erased")
	}
	if bytes.Equal(b.BankContents(bootmeta.Bank2), erased(stm32h7.BankSize)) {
		t.Error("bank2 was erased")
	}
	if err := o.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
}

func TestOneSideInvalidSide(t *testing.T) {
	b := newBoard(t)
	if _, err := NewOneSide(b, b, bootmeta.BootBank(3), Device.Address, 0, Program); err == nil {
		t.Error("NewOneSide(3) succeeded")
	}
}

func TestMirrored(t *testing.T) {
	b := newBoard(t)
	m, err := NewMirrored(b, Device.Address, 0, Program)
	if err != nil {
		t.Fatalf("NewMirrored() = %v", err)
	}
	defer m.Close()

	page := pattern(int(Device.PageSize), 0xC3)
	addr := Device.Address + 3*stm32h7.SectorSize
	if err := m.ProgramPage(addr, page); err != nil {
		t.Fatalf("ProgramPage() = %v", err)
	}
	b1, b2 := b.BankContents(bootmeta.Bank1), b.BankContents(bootmeta.Bank2)
	if diff := cmp.Diff(b1, b2); diff != "" {
		t.Errorf("banks differ (-bank1 +bank2):\n%s", diff)
	}
	off := addr - Device.Address
	if !bytes.Equal(b1[off:off+Device.PageSize], page) {
		t.Error("page not programmed")
	}

	if err := m.EraseSector(addr); err != nil {
		t.Fatalf("EraseSector() = %v", err)
	}
	for _, bank := range []bootmeta.BootBank{bootmeta.Bank1, bootmeta.Bank2} {
		if !bytes.Equal(b.BankContents(bank), erased(stm32h7.BankSize)) {
			t.Errorf("%v not erased", bank)
		}
	}
	if err := m.EraseSector(Device.Address + Device.Size); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("EraseSector(past end) = %v, want %v", err, ErrOutOfRange)
	}
}

func TestCloseLocks(t *testing.T) {
	b := newBoard(t)
	m, err := NewMirrored(b, Device.Address, 0, Program)
	if err != nil {
		t.Fatalf("NewMirrored() = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	for _, r := range bankRegs {
		if b.Read(r+stm32h7.FLASH_CR)&(1<<stm32h7.CR_LOCK) == 0 {
			t.Errorf("register set 0x%08x not locked", r)
		}
	}
	var oe *OperationError
	if err := m.ProgramPage(Device.Address, pattern(32, 0)); !errors.As(err, &oe) {
		t.Errorf("ProgramPage() after Close = %v, want OperationError", err)
	}
	if !bytes.Equal(b.BankContents(bootmeta.Bank1), erased(stm32h7.BankSize)) {
		t.Error("locked bank was modified")
	}
}

func TestStalledControllerWouldBlock(t *testing.T) {
	b := newBoard(t)
	o, err := NewOneSide(b, b, bootmeta.Bank2, Device.Address, 0, Erase)
	if err != nil {
		t.Fatalf("NewOneSide() = %v", err)
	}
	defer o.Close()

	b.StallFlash(1, 1)
	if err := o.EraseAll(); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("EraseAll() = %v, want %v", err, ErrWouldBlock)
	}
	if err := o.EraseAll(); err != nil {
		t.Errorf("EraseAll() retry = %v", err)
	}
}
