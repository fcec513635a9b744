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
	"encoding/binary"
	"time"

	"github.com/c2a-monazite/dualboot/stm32h7"
)

// Device describes one logical 1 MiB bank mapped at the boot address.
var Device = FlashDevice{
	Name:           "c2a-monazite",
	Address:        stm32h7.FlashBase,
	Size:           stm32h7.BankSize,
	PageSize:       1024,
	EmptyValue:     0xFF,
	ProgramTimeout: time.Second,
	EraseTimeout:   4 * time.Second,
	Sectors: []SectorInfo{
		{Size: stm32h7.SectorSize, Address: 0},
	},
}

// sectorNumber returns the sector within a bank holding addr.
func sectorNumber(addr uint32) (uint32, error) {
	if addr < stm32h7.FlashBase || addr >= stm32h7.FlashBase+stm32h7.BankSize {
		return 0, ErrOutOfRange
	}
	return (addr - stm32h7.FlashBase) / stm32h7.SectorSize, nil
}

// checkPage validates a ProgramPage request before anything is written.
func checkPage(addr uint32, data []byte) error {
	if addr%4 != 0 || len(data)%stm32h7.FlashWordSize != 0 {
		return ErrUnaligned
	}
	if addr < stm32h7.FlashBase || uint64(addr)+uint64(len(data)) > stm32h7.FlashBase+stm32h7.BankSize {
		return ErrOutOfRange
	}
	return nil
}

// chunks splits data into flash words.
func chunks(data []byte) []Chunk {
	r := make([]Chunk, 0, len(data)/stm32h7.FlashWordSize)
	for len(data) > 0 {
		var c Chunk
		for i := range c {
			c[i] = binary.LittleEndian.Uint32(data[4*i:])
		}
		r = append(r, c)
		data = data[stm32h7.FlashWordSize:]
	}
	return r
}
