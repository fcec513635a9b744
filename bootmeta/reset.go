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

import (
	"fmt"

	"github.com/usbarmory/tamago/bits"
)

// ResetReason is the decoded cause of the last processor reset.
//
// The numeric values are part of the application ABI.
type ResetReason int32

const (
	PowerOnReset             ResetReason = 0
	PinReset                 ResetReason = 1
	BrownoutReset            ResetReason = 2
	SystemReset              ResetReason = 3
	CpuReset                 ResetReason = 4
	WindowWatchdogReset      ResetReason = 5
	IndependentWatchdogReset ResetReason = 6
	// GenericWatchdogReset is reported when both watchdog flags are set,
	// presumably because both fired without the flags being cleared in
	// between. RM0433 does not list this combination; it has not been
	// observed on hardware.
	GenericWatchdogReset  ResetReason = 7
	D1ExitsStandby        ResetReason = 8
	D2ExitsStandby        ResetReason = 9
	ErroneousStandbyEntry ResetReason = 10
	ResetUnknown          ResetReason = -1
)

var reasonNames = map[ResetReason]string{
	PowerOnReset:             "PowerOnReset",
	PinReset:                 "PinReset",
	BrownoutReset:            "BrownoutReset",
	SystemReset:              "SystemReset",
	CpuReset:                 "CpuReset",
	WindowWatchdogReset:      "WindowWatchdogReset",
	IndependentWatchdogReset: "IndependentWatchdogReset",
	GenericWatchdogReset:     "GenericWatchdogReset",
	D1ExitsStandby:           "D1ExitsStandby",
	D2ExitsStandby:           "D2ExitsStandby",
	ErroneousStandbyEntry:    "ErroneousStandbyEntry",
	ResetUnknown:             "Unknown",
}

func (r ResetReason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("ResetReason(%d)", int32(r))
}

// UnknownResetError is returned for reset flag combinations which do not
// match any documented pattern.
type UnknownResetError struct {
	Raw uint32
}

func (e *UnknownResetError) Error() string {
	return fmt.Sprintf("unknown reset flags 0x%08x", e.Raw)
}

// Bit positions of the RCC_RSR flags.
const (
	lpwrrstf  = 30
	wwdg1rstf = 28
	iwdg1rstf = 26
	sftrstf   = 24
	porrstf   = 23
	pinrstf   = 22
	borrstf   = 21
	d2rstf    = 20
	d1rstf    = 19
	cpurstf   = 17
)

// resetFlags is the tuple of the ten reset flags, in table order.
type resetFlags struct {
	lpwr, wwdg, iwdg, soft, por, pin, bor, d2, d1, cpu bool
}

func decodeFlags(raw uint32) resetFlags {
	return resetFlags{
		lpwr: bits.IsSet(&raw, lpwrrstf),
		wwdg: bits.IsSet(&raw, wwdg1rstf),
		iwdg: bits.IsSet(&raw, iwdg1rstf),
		soft: bits.IsSet(&raw, sftrstf),
		por:  bits.IsSet(&raw, porrstf),
		pin:  bits.IsSet(&raw, pinrstf),
		bor:  bits.IsSet(&raw, borrstf),
		d2:   bits.IsSet(&raw, d2rstf),
		d1:   bits.IsSet(&raw, d1rstf),
		cpu:  bits.IsSet(&raw, cpurstf),
	}
}

const (
	y = true
	n = false
)

// resetTable is the RM0433 reset source identification table.
// The first matching row wins; no two rows overlap.
var resetTable = []struct {
	flags  resetFlags
	reason ResetReason
}{
	{resetFlags{n, n, n, n, y, y, y, y, y, y}, PowerOnReset},
	{resetFlags{n, n, n, n, n, y, n, n, n, y}, PinReset},
	{resetFlags{n, n, n, n, n, y, y, n, n, y}, BrownoutReset},
	{resetFlags{n, n, n, y, n, y, n, n, n, y}, SystemReset},
	{resetFlags{n, n, n, n, n, n, n, n, n, y}, CpuReset},
	// The HAL also accepts WWDG1RSTF alone, although RM0433 only documents
	// the second pattern.
	{resetFlags{n, y, n, n, n, n, n, n, n, n}, WindowWatchdogReset},
	{resetFlags{n, y, n, n, n, y, n, n, n, y}, WindowWatchdogReset},
	{resetFlags{n, n, y, n, n, y, n, n, n, y}, IndependentWatchdogReset},
	{resetFlags{n, y, y, n, n, y, n, n, n, y}, GenericWatchdogReset},
	{resetFlags{n, n, n, n, n, n, n, n, y, n}, D1ExitsStandby},
	{resetFlags{n, n, n, n, n, n, n, y, n, n}, D2ExitsStandby},
	{resetFlags{y, n, n, n, n, y, n, n, n, y}, ErroneousStandbyEntry},
}

// ClassifyReset decodes a raw RCC_RSR value.
//
// Only the ten reset flags take part in the decision; other bits are
// ignored. Combinations which match no row return ResetUnknown together with
// an *UnknownResetError carrying raw.
func ClassifyReset(raw uint32) (ResetReason, error) {
	f := decodeFlags(raw)
	for _, row := range resetTable {
		if row.flags == f {
			return row.reason, nil
		}
	}
	return ResetUnknown, &UnknownResetError{Raw: raw}
}

// VolatileMetadata returns true if the backup registers hold undefined
// values after a reset for reason r.
func (r ResetReason) VolatileMetadata() bool {
	return r == PowerOnReset || r == BrownoutReset
}
