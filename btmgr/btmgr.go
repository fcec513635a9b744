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

// Package btmgr is the boot manager exposed to the running application. It
// lets the application confirm a successful boot, request a bank switch and
// find out why it was reset.
package btmgr

import (
	"fmt"
	"sync"

	"github.com/c2a-monazite/dualboot/bootmeta"
	"github.com/c2a-monazite/dualboot/cortexm"
	"github.com/c2a-monazite/dualboot/flashopt"
	"github.com/c2a-monazite/dualboot/mmio"
	"github.com/c2a-monazite/dualboot/stm32h7"
	"github.com/golang/glog"
)

// ResetCause is the reason for the last reset together with the raw flags
// it was decoded from.
type ResetCause struct {
	Reason bootmeta.ResetReason
	Raw    uint32
}

func (c ResetCause) String() string {
	return fmt.Sprintf("%v (RSR=0x%08x)", c.Reason, c.Raw)
}

// Manager is the application's handle on the boot metadata.
//
// Until the application calls SetNextBootBank(bootmeta.Unspecified), any
// reset other than power-on or brownout rolls back to the other bank.
type Manager struct {
	// mu serialises every read-modify-write of the metadata.
	mu   sync.Mutex
	meta *bootmeta.Metadata
	opt  *flashopt.Controller
	core cortexm.Core
}

// New returns a Manager over the given metadata, option bytes and core.
func New(meta *bootmeta.Metadata, opt *flashopt.Controller, core cortexm.Core) *Manager {
	return &Manager{meta: meta, opt: opt, core: core}
}

// NewOnBus returns a Manager using the board's backup registers and flash
// option bytes. The backup domain must already be writable, as the
// bootloader leaves it.
func NewOnBus(bus mmio.Bus, core cortexm.Core) *Manager {
	return New(bootmeta.New(stm32h7.NewBackupRegisters(bus)), flashopt.New(bus, core), core)
}

// CurrentBootBank returns the bank this boot runs from.
func (m *Manager) CurrentBootBank() bootmeta.BootBank {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opt.ActiveBank()
}

// NextBootBank returns the pending bank request. Undecodable register
// content reads as Unspecified, as the bootloader treats it.
func (m *Manager) NextBootBank() bootmeta.NextBootBank {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.meta.NextBootBank()
	if err != nil {
		glog.Warningf("btmgr: %v", err)
		return bootmeta.Unspecified
	}
	return n
}

// SetNextBootBank stores the bank request for the next reset.
func (m *Manager) SetNextBootBank(n bootmeta.NextBootBank) {
	m.mu.Lock()
	defer m.mu.Unlock()
	glog.V(1).Infof("btmgr: next boot bank %v", n)
	m.meta.SetNextBootBank(n)
}

// ResetFlag returns the raw reset flags saved by the bootloader.
func (m *Manager) ResetFlag() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta.ResetFlag()
}

// ResetReason returns the decoded reset reason, or ResetUnknown.
func (m *Manager) ResetReason() bootmeta.ResetReason {
	return m.ResetCause().Reason
}

// ResetCause returns both the decoded reset reason and the raw flags.
func (m *Manager) ResetCause() ResetCause {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw := m.meta.ResetFlag()
	r, _ := bootmeta.ClassifyReset(raw)
	return ResetCause{Reason: r, Raw: raw}
}

// SystemReset resets the processor. It does not return on hardware.
func (m *Manager) SystemReset() {
	glog.Info("btmgr: system reset")
	m.core.SystemReset()
}
