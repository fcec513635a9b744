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

// Package bootmeta holds the boot metadata shared between the first-stage
// bootloader, the running application and the flashing algorithms: which bank
// to boot next, and why the processor was last reset.
package bootmeta

import "fmt"

// BootBank identifies one of the two physical flash banks.
type BootBank uint32

const (
	// Bank1 is booted when the SWAP_BANK option bit is clear.
	Bank1 BootBank = 1
	// Bank2 is booted when the SWAP_BANK option bit is set.
	Bank2 BootBank = 2
)

// FromSwapBank returns the bank mapped at the boot address for the given
// value of the SWAP_BANK option bit.
func FromSwapBank(swapBank bool) BootBank {
	if swapBank {
		return Bank2
	}
	return Bank1
}

// SwapBank returns the SWAP_BANK option bit value which boots b.
func (b BootBank) SwapBank() bool {
	return b == Bank2
}

// Other returns the opposite bank.
func (b BootBank) Other() BootBank {
	if b == Bank2 {
		return Bank1
	}
	return Bank2
}

// Valid returns true if b names a physical bank.
func (b BootBank) Valid() bool {
	return b == Bank1 || b == Bank2
}

func (b BootBank) String() string {
	switch b {
	case Bank1:
		return "bank1"
	case Bank2:
		return "bank2"
	default:
		return fmt.Sprintf("BootBank(%d)", uint32(b))
	}
}

// ParseBootBank parses the names returned by BootBank.String.
func ParseBootBank(s string) (BootBank, error) {
	switch s {
	case "bank1", "1":
		return Bank1, nil
	case "bank2", "2":
		return Bank2, nil
	default:
		return 0, fmt.Errorf("unknown boot bank %q", s)
	}
}

// NextBootBank is the value persisted in the next-boot-bank backup register.
type NextBootBank uint32

const (
	// Unspecified means the next boot keeps the current bank.
	Unspecified NextBootBank = 0
	// NextBank1 requests a switch to Bank1.
	NextBank1 NextBootBank = 1
	// NextBank2 requests a switch to Bank2.
	NextBank2 NextBootBank = 2
)

// Next returns the NextBootBank which requests b.
func Next(b BootBank) NextBootBank {
	switch b {
	case Bank1:
		return NextBank1
	case Bank2:
		return NextBank2
	default:
		return Unspecified
	}
}

// Bank returns the requested bank, or false if n is Unspecified.
func (n NextBootBank) Bank() (BootBank, bool) {
	switch n {
	case NextBank1:
		return Bank1, true
	case NextBank2:
		return Bank2, true
	default:
		return 0, false
	}
}

func (n NextBootBank) String() string {
	if b, ok := n.Bank(); ok {
		return b.String()
	}
	if n == Unspecified {
		return "unspecified"
	}
	return fmt.Sprintf("NextBootBank(%d)", uint32(n))
}

// DecodeError is returned when a persisted value is outside its encoding.
type DecodeError struct {
	Raw uint32
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid next boot bank value 0x%08x", e.Raw)
}

// EncodeNextBootBank returns the register encoding of n: 0, 1 or 2.
// Anything which is not a valid request encodes as Unspecified.
func EncodeNextBootBank(n NextBootBank) uint32 {
	if _, ok := n.Bank(); !ok {
		return uint32(Unspecified)
	}
	return uint32(n)
}

// DecodeNextBootBank decodes a next-boot-bank register value.
// Values other than 0, 1 and 2 return a *DecodeError carrying raw.
func DecodeNextBootBank(raw uint32) (NextBootBank, error) {
	switch NextBootBank(raw) {
	case Unspecified, NextBank1, NextBank2:
		return NextBootBank(raw), nil
	default:
		return Unspecified, &DecodeError{Raw: raw}
	}
}
