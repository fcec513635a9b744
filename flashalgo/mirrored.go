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

// Mirrored applies every request to both banks at the same offset. It is
// meant for factory programming and recovery, where no bank can be assumed
// to be the active one.
type Mirrored struct {
	banks [2]*Bank
}

var _ Algorithm = &Mirrored{}

// NewMirrored unlocks both banks. address, clock and fn are accepted for ABI
// compatibility and otherwise ignored.
func NewMirrored(bus mmio.Bus, address, clock uint32, fn Function) (*Mirrored, error) {
	m := &Mirrored{}
	for i, r := range bankRegs {
		m.banks[i] = NewBank(bus, r)
		m.banks[i].Unlock()
		m.banks[i].ClearErrors()
	}
	glog.V(1).Infof("flashalgo: mirrored %v at 0x%08x (clock %d)", fn, address, clock)
	return m, nil
}

// EraseAll erases both banks.
func (m *Mirrored) EraseAll() error {
	for _, b := range m.banks {
		if err := b.EraseBank(); err != nil {
			return fmt.Errorf("%s: %w", b, err)
		}
	}
	return nil
}

// EraseSector erases the sector holding addr in both banks.
func (m *Mirrored) EraseSector(addr uint32) error {
	n, err := sectorNumber(addr)
	if err != nil {
		return err
	}
	for _, b := range m.banks {
		if err := b.EraseSector(n); err != nil {
			return fmt.Errorf("%s: %w", b, err)
		}
	}
	return nil
}

// ProgramPage writes data at addr in both banks.
func (m *Mirrored) ProgramPage(addr uint32, data []byte) error {
	if err := checkPage(addr, data); err != nil {
		return err
	}
	cs := chunks(data)
	for i, b := range m.banks {
		base := addr + uint32(i)*stm32h7.BankSize
		for j := range cs {
			if err := b.ProgramChunk(base+uint32(j)*stm32h7.FlashWordSize, &cs[j]); err != nil {
				return fmt.Errorf("%s: %w", b, err)
			}
		}
	}
	return nil
}

// Close locks both banks.
func (m *Mirrored) Close() error {
	for _, b := range m.banks {
		b.Lock()
	}
	return nil
}
