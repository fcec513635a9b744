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

package bootloader

import (
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/c2a-monazite/dualboot/bootmeta"
	"github.com/c2a-monazite/dualboot/devices/sim"
	"github.com/c2a-monazite/dualboot/stm32h7"
	"github.com/google/go-cmp/cmp"
)

// poweredBoard returns a board which has been through one power-on boot, so
// RCC_RSR is clear and the rollback safety net for Bank1 is armed.
func poweredBoard(t *testing.T) *sim.Board {
	t.Helper()
	b := sim.New(1)
	b.Reset(sim.PowerOn)
	if o := Run(b); o.Action != Jumped {
		t.Fatalf("first boot: got %v, want %v", o.Action, Jumped)
	}
	return b
}

func rsr(flags ...int) uint32 {
	var v uint32
	for _, f := range flags {
		v |= 1 << f
	}
	return v
}

func checkRAMCleared(t *testing.T, b *sim.Board, want bool) {
	t.Helper()
	for _, r := range stm32h7.ApplicationRAM {
		cleared := true
		for a := r.Start; a < r.End; a += 4 {
			if b.Read(a) != 0 {
				cleared = false
				break
			}
		}
		if cleared != want {
			t.Errorf("RAM %v cleared = %t, want %t", r, cleared, want)
		}
	}
}

func TestRunSwapsOnPendingRequest(t *testing.T) {
	b := poweredBoard(t)
	b.Reset(sim.Software)

	got := Run(b)
	want := Outcome{
		Action:    Swapped,
		Current:   bootmeta.Bank1,
		Desired:   bootmeta.Bank2,
		Reason:    bootmeta.SystemReset,
		ResetFlag: rsr(stm32h7.RSR_SFTRSTF, stm32h7.RSR_PINRSTF, stm32h7.RSR_CPURSTF),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Run() diff (-want +got):\n%s", diff)
	}
	if !b.ResetRequested() {
		t.Error("system reset not requested")
	}
	if _, booted := b.Booted(); booted {
		t.Error("application was started")
	}
	if got := b.ProgrammedBank(); got != bootmeta.Bank2 {
		t.Errorf("ProgrammedBank() = %v, want %v", got, bootmeta.Bank2)
	}
	if got := b.ActiveBank(); got != bootmeta.Bank1 {
		t.Errorf("ActiveBank() = %v, want %v until reset", got, bootmeta.Bank1)
	}
	if got := b.Backup(bootmeta.ResetFlagIndex); got != want.ResetFlag {
		t.Errorf("reset flag snapshot = 0x%08x, want 0x%08x", got, want.ResetFlag)
	}
	if got := b.ResetFlags(); got != 0 {
		t.Errorf("RCC_RSR = 0x%08x, want cleared", got)
	}
	checkRAMCleared(t, b, false)

	// The swapped bank boots after the reset, with its own safety net.
	b.Reset(sim.Software)
	o := Run(b)
	if o.Action != Jumped || o.Current != bootmeta.Bank2 {
		t.Errorf("after swap: got %+v, want jump into %v", o, bootmeta.Bank2)
	}
	if got := b.Backup(bootmeta.NextBootBankIndex); got != uint32(bootmeta.NextBank1) {
		t.Errorf("next boot bank = %d, want %d", got, bootmeta.NextBank1)
	}
}

func TestRunJumps(t *testing.T) {
	for _, test := range []struct {
		desc    string
		reset   sim.ResetKind
		next    uint32
		reason  bootmeta.ResetReason
		wantErr bool
	}{
		{desc: "power on ignores request", reset: sim.PowerOn, next: 2, reason: bootmeta.PowerOnReset},
		{desc: "brownout ignores request", reset: sim.Brownout, next: 2, reason: bootmeta.BrownoutReset},
		{desc: "nothing pending", reset: sim.Pin, next: 0, reason: bootmeta.PinReset},
		{desc: "request for current bank", reset: sim.IndependentWatchdog, next: 1, reason: bootmeta.IndependentWatchdogReset},
		{desc: "undecodable request", reset: sim.Software, next: 0xDEADBEEF, reason: bootmeta.SystemReset, wantErr: true},
	} {
		t.Run(test.desc, func(t *testing.T) {
			b := poweredBoard(t)
			b.Reset(test.reset)
			b.SetBackup(bootmeta.NextBootBankIndex, test.next)
			programs := b.Stats().OptionPrograms

			got := Run(b)
			if got.Action != Jumped || got.Current != bootmeta.Bank1 || got.Desired != bootmeta.Bank1 {
				t.Errorf("Run() = %+v, want jump into %v", got, bootmeta.Bank1)
			}
			if got.Reason != test.reason {
				t.Errorf("Reason = %v, want %v", got.Reason, test.reason)
			}
			var de *bootmeta.DecodeError
			if gotErr := errors.As(got.NextBootBankErr, &de); gotErr != test.wantErr {
				t.Errorf("NextBootBankErr = %v, wantErr %t", got.NextBootBankErr, test.wantErr)
			} else if gotErr && de.Raw != test.next {
				t.Errorf("DecodeError.Raw = 0x%08x, want 0x%08x", de.Raw, test.next)
			}
			if addr, ok := b.Booted(); !ok || addr != ApplicationAddress {
				t.Errorf("Booted() = 0x%08x, %t, want 0x%08x", addr, ok, ApplicationAddress)
			}
			if b.ResetRequested() {
				t.Error("unexpected system reset")
			}
			if got := b.Stats().OptionPrograms; got != programs {
				t.Errorf("option bytes programmed %d times", got-programs)
			}
			if got := b.Backup(bootmeta.NextBootBankIndex); got != uint32(bootmeta.NextBank2) {
				t.Errorf("safety net = %d, want %d", got, bootmeta.NextBank2)
			}
			checkRAMCleared(t, b, true)
		})
	}
}

func TestRunArmsWatchdog(t *testing.T) {
	b := poweredBoard(t)
	running, timeout := b.WatchdogRunning()
	if !running {
		t.Fatal("watchdog not running")
	}
	if timeout < WatchdogTimeout || timeout > WatchdogTimeout+WatchdogTimeout/100 {
		t.Errorf("watchdog timeout = %v, want about %v", timeout, WatchdogTimeout)
	}
	if b.WatchdogExpired() {
		t.Error("watchdog expired during boot")
	}
}

func TestRunUnknownResetReadsRequest(t *testing.T) {
	b := poweredBoard(t)
	// Two resets without the flags being cleared in between leave an
	// undocumented combination.
	b.Reset(sim.Pin)
	b.Reset(sim.Software)
	b.Reset(sim.WindowWatchdog)

	got := Run(b)
	if got.Reason != bootmeta.ResetUnknown {
		t.Fatalf("Reason = %v, want %v", got.Reason, bootmeta.ResetUnknown)
	}
	if got.Action != Swapped || got.Desired != bootmeta.Bank2 {
		t.Errorf("Run() = %+v, want swap to %v", got, bootmeta.Bank2)
	}
}

// TestTargetImports checks that the packages linked into the on-target
// bootloader only depend on each other and on packages available there.
func TestTargetImports(t *testing.T) {
	const module = "github.com/c2a-monazite/dualboot/"
	allowed := map[string]bool{
		"errors":                           true,
		"fmt":                              true,
		"time":                             true,
		"unsafe":                           true,
		"device/arm":                       true,
		"runtime/volatile":                 true,
		"github.com/usbarmory/tamago/bits": true,
	}
	for _, dir := range []string{".", "../bootmeta", "../cortexm", "../flashopt", "../mmio", "../stm32h7"} {
		pkgs, err := parser.ParseDir(token.NewFileSet(), dir, func(fi fs.FileInfo) bool {
			return !strings.HasSuffix(fi.Name(), "_test.go")
		}, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("ParseDir(%q) = %v", dir, err)
		}
		for _, p := range pkgs {
			for name, f := range p.Files {
				for _, imp := range f.Imports {
					path, err := strconv.Unquote(imp.Path.Value)
					if err != nil {
						t.Fatal(err)
					}
					if !allowed[path] && !strings.HasPrefix(path, module) {
						t.Errorf("%s imports %q", filepath.Clean(name), path)
					}
				}
			}
		}
	}
}

func TestLinkerPlacement(t *testing.T) {
	if stm32h7.BootloaderAddress != 0x080E_0000 {
		t.Errorf("BootloaderAddress = 0x%08x, want the last sector of the bank", stm32h7.BootloaderAddress)
	}
	if ApplicationAddress >= stm32h7.BootloaderAddress {
		t.Errorf("application at 0x%08x overlaps the bootloader at 0x%08x", ApplicationAddress, stm32h7.BootloaderAddress)
	}
	ld, err := os.ReadFile(filepath.Join("..", "cmd", "bootloader", "stm32h7-bootloader.ld"))
	if err != nil {
		t.Fatal(err)
	}
	if want := fmt.Sprintf("FLASH_TEXT (rx) : ORIGIN = 0x%08X, LENGTH = %dK", stm32h7.BootloaderAddress, stm32h7.SectorSize/1024); !strings.Contains(string(ld), want) {
		t.Errorf("linker script does not contain %q", want)
	}
}
