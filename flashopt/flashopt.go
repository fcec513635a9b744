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

// Package flashopt controls the SWAP_BANK flash option bit, which selects the
// physical bank mapped at the boot address.
package flashopt

import (
	"github.com/c2a-monazite/dualboot/bootmeta"
	"github.com/c2a-monazite/dualboot/cortexm"
	"github.com/c2a-monazite/dualboot/mmio"
	"github.com/c2a-monazite/dualboot/stm32h7"
)

// Controller reads and programs the option bytes.
//
// There must be only one Controller mutating the option bytes at a time.
type Controller struct {
	bus  mmio.Bus
	core cortexm.Core
}

// New returns a Controller using bus for register access and core for
// interrupt masking.
func New(bus mmio.Bus, core cortexm.Core) *Controller {
	return &Controller{bus: bus, core: core}
}

// ActiveBank returns the bank mapped at the boot address for this boot.
// Pending option byte changes are not reflected until the next reset.
func (c *Controller) ActiveBank() bootmeta.BootBank {
	return bootmeta.FromSwapBank(mmio.IsSet(c.bus, stm32h7.FLASH_OPTCR, stm32h7.OPTCR_SWAP_BANK))
}

// PendingBank returns the bank which will be mapped at the boot address after
// the next reset, as last programmed into the option bytes.
func (c *Controller) PendingBank() bootmeta.BootBank {
	return bootmeta.FromSwapBank(mmio.IsSet(c.bus, stm32h7.FLASH_OPTSR_CUR, stm32h7.OPTSR_SWAP_BANK_OPT))
}

// Unlock enables write access to the option control registers, and returns
// a func which locks them again.
func (c *Controller) Unlock() func() {
	c.core.InterruptFree(func() {
		c.bus.Write(stm32h7.FLASH_OPTKEYR, stm32h7.FLASH_OPTKEY1)
		c.bus.Write(stm32h7.FLASH_OPTKEYR, stm32h7.FLASH_OPTKEY2)
	})
	return c.Lock
}

// Lock disables write access to the option control registers.
func (c *Controller) Lock() {
	c.core.InterruptFree(func() {
		mmio.Set(c.bus, stm32h7.FLASH_OPTCR, stm32h7.OPTCR_OPTLOCK)
	})
}

// RequestBank programs the option bytes so that b is booted after the next
// reset. The caller is responsible for triggering that reset.
//
// The whole sequence runs with interrupts masked.
func (c *Controller) RequestBank(b bootmeta.BootBank) {
	c.core.InterruptFree(func() {
		lock := c.Unlock()
		defer lock()

		mmio.SetTo(c.bus, stm32h7.FLASH_OPTSR_PRG, stm32h7.OPTSR_SWAP_BANK_OPT, b.SwapBank())
		mmio.Set(c.bus, stm32h7.FLASH_OPTCR, stm32h7.OPTCR_OPTSTART)
		mmio.WaitClear(c.bus, stm32h7.FLASH_OPTSR_CUR, stm32h7.OPTSR_OPT_BUSY)
	})
}
