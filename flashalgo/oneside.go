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

	"github.com/c2a-monazite/dualboot/bootmeta"
	"github.com/c2a-monazite/dualboot/cortexm"
	"github.com/c2a-monazite/dualboot/flashopt"
	"github.com/c2a-monazite/dualboot/mmio"
	"github.com/c2a-monazite/dualboot/stm32h7"
	"github.com/golang/glog"
)

// OneSide programs a single physical bank, addressed through the logical
// window at Device.Address whichever bank is currently booted.
//
// Constructing a OneSide selects side as the bank to boot after the next
// reset, and clears the pending next boot bank so that an interrupted earlier
// update cannot roll the fresh image back.
type OneSide struct {
	bus    mmio.Bus
	side   bootmeta.BootBank
	bank   *Bank
	offset uint32
}

var _ Algorithm = &OneSide{}

// NewOneSide initialises the algorithm for side. address, clock and fn are
// accepted for ABI compatibility and otherwise ignored.
func NewOneSide(bus mmio.Bus, core cortexm.Core, side bootmeta.BootBank, address, clock uint32, fn Function) (*OneSide, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("invalid side %v", side)
	}
	opt := flashopt.New(bus, core)
	active := opt.ActiveBank()

	// Register sets and address windows follow the mapping of this boot, so
	// the target is behind the second set whenever it is not the booted bank.
	window := 0
	if side != active {
		window = 1
	}
	o := &OneSide{
		bus:    bus,
		side:   side,
		bank:   NewBank(bus, bankRegs[window]),
		offset: uint32(window) * stm32h7.BankSize,
	}
	glog.V(1).Infof("flashalgo: %v for %v at 0x%08x (clock %d): active %v, offset 0x%x", fn, side, address, clock, active, o.offset)

	o.bank.Unlock()
	o.bank.ClearErrors()
	if side != active {
		opt.RequestBank(side)
	}

	stm32h7.NewPWR(bus).EnableBackupAccess()
	bootmeta.New(stm32h7.NewBackupRegisters(bus)).SetNextBootBank(bootmeta.Unspecified)
	return o, nil
}

// EraseAll erases the whole target bank.
func (o *OneSide) EraseAll() error {
	return o.bank.EraseBank()
}

// EraseSector erases the sector of the target bank holding addr.
func (o *OneSide) EraseSector(addr uint32) error {
	n, err := sectorNumber(addr)
	if err != nil {
		return err
	}
	return o.bank.EraseSector(n)
}

// ProgramPage writes data to the target bank at the logical address addr.
func (o *OneSide) ProgramPage(addr uint32, data []byte) error {
	if err := checkPage(addr, data); err != nil {
		return err
	}
	base := addr + o.offset
	for i, c := range chunks(data) {
		if err := o.bank.ProgramChunk(base+uint32(i)*stm32h7.FlashWordSize, &c); err != nil {
			return err
		}
	}
	return nil
}

// Close locks both banks.
func (o *OneSide) Close() error {
	for _, r := range bankRegs {
		NewBank(o.bus, r).Lock()
	}
	return nil
}
