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

// Package stm32h7 holds the register map of the STM32H743/753 peripherals used
// by the boot subsystem, together with thin drivers for them.
//
// Addresses and bit positions follow RM0433.
package stm32h7

import "github.com/c2a-monazite/dualboot/mmio"

// Embedded flash interface.
const (
	FLASHBase = 0x5200_2000

	FLASH_OPTKEYR   = FLASHBase + 0x08
	FLASH_OPTCR     = FLASHBase + 0x18
	FLASH_OPTSR_CUR = FLASHBase + 0x1C
	FLASH_OPTSR_PRG = FLASHBase + 0x20

	// Per-bank register offsets from the bank register base.
	FLASH_KEYR = 0x04
	FLASH_CR   = 0x0C
	FLASH_SR   = 0x10
	FLASH_CCR  = 0x14

	FlashBank1Regs = FLASHBase
	FlashBank2Regs = FLASHBase + 0x100

	FLASH_KEY1 = 0x4567_0123
	FLASH_KEY2 = 0xCDEF_89AB

	FLASH_OPTKEY1 = 0x0819_2A3B
	FLASH_OPTKEY2 = 0x4C5D_6E7F
)

// FLASH_CR bits.
const (
	CR_LOCK  = 0
	CR_PG    = 1
	CR_SER   = 2
	CR_BER   = 3
	CR_PSIZE = 4
	CR_FW    = 6
	CR_START = 7
	CR_SNB   = 8

	PSIZEMask = 0b11
	SNBMask   = 0b111

	// PSIZE64 selects 64-bit program/erase parallelism.
	PSIZE64 = 0b11
)

// FLASH_SR and FLASH_CCR bits.
const (
	SR_BSY      = 0
	SR_WBNE     = 1
	SR_QW       = 2
	SR_EOP      = 16
	SR_WRPERR   = 17
	SR_PGSERR   = 18
	SR_STRBERR  = 19
	SR_INCERR   = 21
	SR_OPERR    = 22
	SR_RDPERR   = 23
	SR_RDSERR   = 24
	SR_SNECCERR = 25
	SR_DBECCERR = 26

	// SRErrorMask selects every error flag of FLASH_SR.
	SRErrorMask = 1<<SR_WRPERR | 1<<SR_PGSERR | 1<<SR_STRBERR | 1<<SR_INCERR |
		1<<SR_OPERR | 1<<SR_RDPERR | 1<<SR_RDSERR | 1<<SR_SNECCERR | 1<<SR_DBECCERR
	// CCRClearAll clears the end-of-operation flag and every error flag.
	CCRClearAll = SRErrorMask | 1<<SR_EOP
)

// FLASH_OPTCR / FLASH_OPTSR bits.
const (
	OPTCR_OPTLOCK   = 0
	OPTCR_OPTSTART  = 1
	OPTCR_SWAP_BANK = 31

	OPTSR_OPT_BUSY      = 0
	OPTSR_SWAP_BANK_OPT = 31
)

// Reset and clock control.
const (
	RCCBase = 0x5802_4400

	RCC_RSR     = RCCBase + 0xD0
	RCC_AHB2ENR = RCCBase + 0xDC

	RSR_RMVF = 16

	AHB2ENR_SRAM1EN = 29
	AHB2ENR_SRAM2EN = 30
	AHB2ENR_SRAM3EN = 31
)

// Reset flags of RCC_RSR, as decoded by bootmeta.ClassifyReset.
const (
	RSR_CPURSTF   = 17
	RSR_D1RSTF    = 19
	RSR_D2RSTF    = 20
	RSR_BORRSTF   = 21
	RSR_PINRSTF   = 22
	RSR_PORRSTF   = 23
	RSR_SFTRSTF   = 24
	RSR_IWDG1RSTF = 26
	RSR_WWDG1RSTF = 28
	RSR_LPWRRSTF  = 30
)

// Power control.
const (
	PWRBase = 0x5802_4800

	PWR_CR1 = PWRBase + 0x00

	CR1_DBP = 8
)

// Real-time clock backup registers.
const (
	RTCBase = 0x5800_4000

	RTC_BKP0R = RTCBase + 0x50

	// NumBackupRegisters is the number of 32-bit RTC backup registers.
	NumBackupRegisters = 32
)

// Independent watchdog.
const (
	IWDGBase = 0x5800_4800

	IWDG_KR  = IWDGBase + 0x00
	IWDG_PR  = IWDGBase + 0x04
	IWDG_RLR = IWDGBase + 0x08
	IWDG_SR  = IWDGBase + 0x0C

	IWDGKeyReload = 0xAAAA
	IWDGKeyAccess = 0x5555
	IWDGKeyStart  = 0xCCCC

	SR_PVU = 0
	SR_RVU = 1

	// LSIFrequency is the nominal frequency of the low speed internal
	// oscillator clocking the IWDG.
	LSIFrequency = 32_000
	// IWDGMaxReload is the largest value accepted by IWDG_RLR.
	IWDGMaxReload = 0xFFF
)

// Memory map.
const (
	// FlashBase is the address at which the active bank is mapped.
	FlashBase = 0x0800_0000
	// BankSize is the size of each flash bank.
	BankSize = 0x0010_0000
	// SectorSize is the size of an erase sector.
	SectorSize = 0x0002_0000
	// SectorsPerBank is the number of sectors in a bank.
	SectorsPerBank = BankSize / SectorSize
	// FlashWordSize is the number of bytes programmed in one operation.
	FlashWordSize = 32
	// BootloaderSector is the sector of each bank holding a copy of the
	// bootloader. BOOT_ADD0 points at it in the active bank.
	BootloaderSector = SectorsPerBank - 1
	// BootloaderAddress is where the bootloader is linked and started from.
	BootloaderAddress = FlashBase + BootloaderSector*SectorSize
)

// RAM regions cleared by the bootloader before starting the application.
var (
	AXISRAM = mmio.Region{Start: 0x2400_0000, End: 0x2408_0000}
	SRAM1   = mmio.Region{Start: 0x3000_0000, End: 0x3002_0000}
	SRAM2   = mmio.Region{Start: 0x3002_0000, End: 0x3004_0000}
	SRAM3   = mmio.Region{Start: 0x3004_0000, End: 0x3004_8000}
	SRAM4   = mmio.Region{Start: 0x3800_0000, End: 0x3801_0000}

	// ApplicationRAM lists every region the application may find dirty.
	ApplicationRAM = []mmio.Region{AXISRAM, SRAM1, SRAM2, SRAM3, SRAM4}
)
