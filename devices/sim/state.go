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

	"github.com/c2a-monazite/dualboot/stm32h7"
)

// State is the part of the board which survives a power cycle.
type State struct {
	// Banks holds the physical flash banks, Bank1 first.
	Banks [2][]byte
	// SwapBank is the programmed SWAP_BANK option bit.
	SwapBank bool
	// Backup holds the RTC backup registers, kept alive by the battery.
	Backup [stm32h7.NumBackupRegisters]uint32
	// ResetFlags is RCC_RSR, as left by the last run.
	ResetFlags uint32
}

// State returns a copy of the persistent board state.
func (b *Board) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := State{
		SwapBank:   b.optProgrammed,
		Backup:     b.bkp,
		ResetFlags: b.rsr,
	}
	for i := range b.banks {
		s.Banks[i] = append([]byte(nil), b.banks[i]...)
	}
	return s
}

// Restore replaces the board state with s. The option byte becomes
// effective immediately, as if the board had been reset since it was
// programmed.
func (b *Board) Restore(s State) error {
	for i, bank := range s.Banks {
		if len(bank) != stm32h7.BankSize {
			return fmt.Errorf("bank %d has %d bytes, want %d", i+1, len(bank), stm32h7.BankSize)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.banks {
		copy(b.banks[i], s.Banks[i])
	}
	b.optProgrammed = s.SwapBank
	b.optSwap = s.SwapBank
	b.optPrg = s.SwapBank
	b.bkp = s.Backup
	b.rsr = s.ResetFlags
	return nil
}
