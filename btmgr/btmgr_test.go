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

package btmgr

import (
	"testing"

	"github.com/c2a-monazite/dualboot/bootmeta"
	"github.com/c2a-monazite/dualboot/cortexm/mock_cortexm"
	"github.com/c2a-monazite/dualboot/devices/sim"
	"github.com/c2a-monazite/dualboot/flashopt"
	"github.com/c2a-monazite/dualboot/stm32h7"
	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"
)

// runningBoard returns a board in the state the bootloader hands over to
// the application in.
func runningBoard(t *testing.T) *sim.Board {
	t.Helper()
	b := sim.New(1)
	b.Reset(sim.Pin)
	stm32h7.NewPWR(b).EnableBackupAccess()
	return b
}

func TestNextBootBank(t *testing.T) {
	for _, test := range []struct {
		desc string
		raw  uint32
		want bootmeta.NextBootBank
	}{
		{desc: "unspecified", raw: 0, want: bootmeta.Unspecified},
		{desc: "bank1", raw: 1, want: bootmeta.NextBank1},
		{desc: "bank2", raw: 2, want: bootmeta.NextBank2},
		{desc: "garbage", raw: 3, want: bootmeta.Unspecified},
		{desc: "all ones", raw: 0xFFFFFFFF, want: bootmeta.Unspecified},
	} {
		t.Run(test.desc, func(t *testing.T) {
			b := runningBoard(t)
			b.SetBackup(bootmeta.NextBootBankIndex, test.raw)
			m := NewOnBus(b, b)
			if got := m.NextBootBank(); got != test.want {
				t.Errorf("NextBootBank() = %v, want %v", got, test.want)
			}
			if got, want := m.CodeNextBootBank(), int32(test.want); got != want {
				t.Errorf("CodeNextBootBank() = %d, want %d", got, want)
			}
		})
	}
}

func TestCodeSetNextBootBank(t *testing.T) {
	for _, test := range []struct {
		v       int32
		want    int32
		wantReg uint32
	}{
		{v: 0, want: OK, wantReg: 0},
		{v: 1, want: OK, wantReg: 1},
		{v: 2, want: OK, wantReg: 2},
		{v: 3, want: InvalidParam, wantReg: 42},
		{v: -1, want: InvalidParam, wantReg: 42},
		{v: -3, want: InvalidParam, wantReg: 42},
	} {
		b := runningBoard(t)
		b.SetBackup(bootmeta.NextBootBankIndex, 42)
		m := NewOnBus(b, b)
		if got := m.CodeSetNextBootBank(test.v); got != test.want {
			t.Errorf("CodeSetNextBootBank(%d) = %d, want %d", test.v, got, test.want)
		}
		if got := b.Backup(bootmeta.NextBootBankIndex); got != test.wantReg {
			t.Errorf("CodeSetNextBootBank(%d): register = %d, want %d", test.v, got, test.wantReg)
		}
	}
}

func TestResetCause(t *testing.T) {
	iwdg := uint32(1<<stm32h7.RSR_IWDG1RSTF | 1<<stm32h7.RSR_PINRSTF | 1<<stm32h7.RSR_CPURSTF)
	for _, test := range []struct {
		desc     string
		raw      uint32
		want     ResetCause
		wantCode int32
	}{
		{
			desc:     "independent watchdog",
			raw:      iwdg,
			want:     ResetCause{Reason: bootmeta.IndependentWatchdogReset, Raw: iwdg},
			wantCode: 6,
		},
		{
			desc:     "cpu",
			raw:      1 << stm32h7.RSR_CPURSTF,
			want:     ResetCause{Reason: bootmeta.CpuReset, Raw: 1 << stm32h7.RSR_CPURSTF},
			wantCode: 4,
		},
		{
			desc:     "undecodable",
			raw:      iwdg | 1<<stm32h7.RSR_SFTRSTF,
			want:     ResetCause{Reason: bootmeta.ResetUnknown, Raw: iwdg | 1<<stm32h7.RSR_SFTRSTF},
			wantCode: -1,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			b := runningBoard(t)
			b.SetBackup(bootmeta.ResetFlagIndex, test.raw)
			m := NewOnBus(b, b)
			if diff := cmp.Diff(test.want, m.ResetCause()); diff != "" {
				t.Errorf("ResetCause() diff (-want +got):\n%s", diff)
			}
			if got := m.ResetFlag(); got != test.raw {
				t.Errorf("ResetFlag() = 0x%08x, want 0x%08x", got, test.raw)
			}
			if got := m.CodeResetReason(); got != test.wantCode {
				t.Errorf("CodeResetReason() = %d, want %d", got, test.wantCode)
			}
		})
	}
}

func TestCurrentBootBank(t *testing.T) {
	b := runningBoard(t)
	m := NewOnBus(b, b)
	if got := m.CodeCurrentBootBank(); got != 1 {
		t.Errorf("CodeCurrentBootBank() = %d, want 1", got)
	}

	flashopt.New(b, b).RequestBank(bootmeta.Bank2)
	if got := m.CurrentBootBank(); got != bootmeta.Bank1 {
		t.Errorf("CurrentBootBank() before reset = %v, want %v", got, bootmeta.Bank1)
	}
	b.Reset(sim.Software)
	if got := m.CurrentBootBank(); got != bootmeta.Bank2 {
		t.Errorf("CurrentBootBank() after reset = %v, want %v", got, bootmeta.Bank2)
	}
}

func TestSystemReset(t *testing.T) {
	ctrl := gomock.NewController(t)
	core := mock_cortexm.NewMockCore(ctrl)
	core.EXPECT().SystemReset().Times(1)

	b := runningBoard(t)
	m := New(bootmeta.New(stm32h7.NewBackupRegisters(b)), flashopt.New(b, core), core)
	m.SetNextBootBank(bootmeta.Unspecified)
	m.SystemReset()
	if got := b.Backup(bootmeta.NextBootBankIndex); got != 0 {
		t.Errorf("next boot bank = %d, want 0", got)
	}
}
