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

// Package bootloader implements the first-stage bootloader which runs on
// every reset, selects the bank to boot and hands control to it.
package bootloader

import (
	"fmt"
	"time"

	"github.com/c2a-monazite/dualboot/bootmeta"
	"github.com/c2a-monazite/dualboot/cortexm"
	"github.com/c2a-monazite/dualboot/flashopt"
	"github.com/c2a-monazite/dualboot/mmio"
	"github.com/c2a-monazite/dualboot/stm32h7"
)

const (
	// WatchdogTimeout bounds the whole procedure, and the application's
	// start-up until it first feeds the watchdog.
	WatchdogTimeout = 20 * time.Second
	// CyclesPerSecond is the core clock right after reset (HSI).
	CyclesPerSecond = 64_000_000
	// ApplicationAddress is the vector table of the application image.
	ApplicationAddress = stm32h7.FlashBase
)

// Hardware is everything the bootloader drives.
type Hardware interface {
	mmio.Bus
	cortexm.Core
}

// Action is what the bootloader did with the processor.
type Action int

const (
	// Swapped means the option bytes were reprogrammed and a system reset
	// requested.
	Swapped Action = iota + 1
	// Jumped means RAM was cleared and control transferred to the
	// application.
	Jumped
)

func (a Action) String() string {
	switch a {
	case Swapped:
		return "swapped"
	case Jumped:
		return "jumped"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Outcome describes a run. Only simulated hardware ever returns one.
type Outcome struct {
	Action    Action
	Current   bootmeta.BootBank
	Desired   bootmeta.BootBank
	Reason    bootmeta.ResetReason
	ResetFlag uint32
	// NextBootBankErr is set when the pending bank request could not be
	// decoded and was ignored.
	NextBootBankErr error
}

// Run performs the boot procedure. On real hardware it never returns: it
// ends either in a system reset or in the application.
//
// No error is ever surfaced. Anything unexpected resolves to booting the
// current bank, and a stall anywhere is caught by the watchdog.
func Run(hw Hardware) Outcome {
	iwdg := stm32h7.NewIWDG(hw)
	iwdg.Start(WatchdogTimeout)

	// Enabling the backup domain has no bounded duration.
	stm32h7.NewPWR(hw).EnableBackupAccess()
	iwdg.Feed()

	meta := bootmeta.New(stm32h7.NewBackupRegisters(hw))
	opt := flashopt.New(hw, hw)
	rcc := stm32h7.NewRCC(hw)

	o := Outcome{Current: opt.ActiveBank()}

	// The flags must be saved before they are cleared below.
	o.ResetFlag = rcc.ResetFlags()
	meta.SetResetFlag(o.ResetFlag)
	o.Reason, _ = bootmeta.ClassifyReset(o.ResetFlag)
	o.Desired, o.NextBootBankErr = desiredBank(meta, o.Current, o.Reason)
	rcc.ClearResetFlags()

	if o.Desired != o.Current {
		iwdg.Feed()
		// Bound flash wear should this end up in a reboot loop.
		hw.Delay(CyclesPerSecond)
		opt.RequestBank(o.Desired)
		o.Action = Swapped
		hw.SystemReset()
		return o
	}

	// Roll back on the next reset unless the application confirms the boot.
	meta.SetNextBootBank(bootmeta.Next(o.Current.Other()))

	iwdg.Feed()
	rcc.EnableSRAM123()
	for _, r := range stm32h7.ApplicationRAM {
		mmio.Fill(hw, r, 0)
	}

	iwdg.Feed()
	o.Action = Jumped
	hw.Boot(ApplicationAddress)
	return o
}

// desiredBank returns the bank which should run after this reset, and the
// error which made it ignore the pending request if any.
func desiredBank(meta *bootmeta.Metadata, current bootmeta.BootBank, reason bootmeta.ResetReason) (bootmeta.BootBank, error) {
	if reason.VolatileMetadata() {
		return current, nil
	}
	next, err := meta.NextBootBank()
	if err != nil {
		return current, err
	}
	if b, ok := next.Bank(); ok {
		return b, nil
	}
	return current, nil
}
