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

//go:build tinygo && cortexm

// bootloader is the first-stage bootloader. A copy lives in the last sector
// of each bank, at stm32h7.BootloaderAddress (0x080E_0000), and the
// BOOT_ADD0 option byte is set to 0x080E so the core starts there whichever
// bank is mapped. It decides which bank should run, switching and resetting
// if needed, and then starts the application at the start of the active
// bank. Updates written by the application never touch that sector.
//
// Build with TinyGo from the module root; there is no host build:
//
//	tinygo build -target=cmd/bootloader/stm32h7-bootloader.json -o bootloader.elf ./cmd/bootloader
//
// stm32h7-bootloader.ld links the program into the bootloader sector and
// keeps its RAM in DTCM, which the bootloader does not clear.
package main

import (
	"github.com/c2a-monazite/dualboot/bootloader"
	"github.com/c2a-monazite/dualboot/cortexm"
	"github.com/c2a-monazite/dualboot/mmio"
)

// target is the processor this program runs on.
type target struct {
	mmio.Direct
	cortexm.Native
}

func main() {
	bus := mmio.Direct{}
	bootloader.Run(target{Direct: bus, Native: cortexm.Native{Bus: bus}})
	// Run only returns on simulated hardware.
	for {
	}
}
