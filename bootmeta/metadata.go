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

package bootmeta

// Registers is the battery-backed register file holding the metadata.
// stm32h7.BackupRegisters implements it on the target.
type Registers interface {
	BackupRegister(i int) uint32
	SetBackupRegister(i int, v uint32)
}

// Fixed indices of the metadata in the backup register file.
const (
	NextBootBankIndex = 0
	ResetFlagIndex    = 1
)

// Metadata reads and writes the boot metadata slots.
//
// The backup domain must be write-enabled before any Set call has an effect;
// that is the responsibility of whoever owns the PWR peripheral.
type Metadata struct {
	regs Registers
}

// New returns a Metadata backed by regs.
func New(regs Registers) *Metadata {
	return &Metadata{regs: regs}
}

// NextBootBank returns the pending bank request.
//
// The register content is undefined after a power-on or brownout reset, so
// callers must ignore it in those cases. Undecodable values return a
// *DecodeError.
func (m *Metadata) NextBootBank() (NextBootBank, error) {
	return DecodeNextBootBank(m.regs.BackupRegister(NextBootBankIndex))
}

// SetNextBootBank stores the bank request for the next boot.
func (m *Metadata) SetNextBootBank(n NextBootBank) {
	m.regs.SetBackupRegister(NextBootBankIndex, EncodeNextBootBank(n))
}

// ResetFlag returns the RCC_RSR snapshot taken by the bootloader.
func (m *Metadata) ResetFlag() uint32 {
	return m.regs.BackupRegister(ResetFlagIndex)
}

// SetResetFlag stores a RCC_RSR snapshot.
func (m *Metadata) SetResetFlag(v uint32) {
	m.regs.SetBackupRegister(ResetFlagIndex, v)
}
