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

// Package flashalgo implements the flashing algorithms used by a programming
// tool to write firmware into the internal flash while preserving the
// rollback metadata.
package flashalgo

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrWouldBlock is returned when the flash controller is still busy with a
	// previous operation. The caller may retry later.
	ErrWouldBlock = errors.New("flash operation in progress")
	// ErrUnaligned is returned for misaligned addresses or page lengths.
	ErrUnaligned = errors.New("unaligned address or length")
	// ErrOutOfRange is returned for addresses outside the flash device.
	ErrOutOfRange = errors.New("address out of range")
)

// OperationError reports error flags raised by the flash controller.
type OperationError struct {
	Op     string
	Status uint32
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s failed: FLASH_SR=0x%08x", e.Op, e.Status)
}

// Function is the operation the programming tool initialises an algorithm for.
type Function uint32

const (
	Erase   Function = 1
	Program Function = 2
	Verify  Function = 3
)

func (f Function) String() string {
	switch f {
	case Erase:
		return "erase"
	case Program:
		return "program"
	case Verify:
		return "verify"
	default:
		return fmt.Sprintf("Function(%d)", uint32(f))
	}
}

// SectorInfo describes a run of equally sized sectors starting at Address,
// relative to the device base address.
type SectorInfo struct {
	Size    uint32
	Address uint32
}

// FlashDevice is the memory map descriptor published to programming tools.
type FlashDevice struct {
	Name           string
	Address        uint32
	Size           uint32
	PageSize       uint32
	EmptyValue     byte
	ProgramTimeout time.Duration
	EraseTimeout   time.Duration
	Sectors        []SectorInfo
}

// Algorithm is the flashing ABI. Addresses are absolute, in the logical
// window [Device.Address, Device.Address+Device.Size).
type Algorithm interface {
	// EraseAll erases every sector the algorithm targets.
	EraseAll() error
	// EraseSector erases the sector containing addr.
	EraseSector(addr uint32) error
	// ProgramPage writes data at addr. len(data) must be a multiple of 32.
	ProgramPage(addr uint32, data []byte) error
	// Close locks the flash again. It must be called on every exit path.
	Close() error
}
