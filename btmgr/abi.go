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

import "github.com/c2a-monazite/dualboot/bootmeta"

// Status codes of the integer interface.
const (
	OK           int32 = 0
	InvalidParam int32 = -3
)

// The integer interface mirrors the command and telemetry encoding used by
// the flight software: banks are 1 and 2, 0 means unchanged, and reset
// reasons are the ResetReason values.

// CodeCurrentBootBank returns the current bank as 1 or 2.
func (m *Manager) CodeCurrentBootBank() int32 {
	return int32(m.CurrentBootBank())
}

// CodeNextBootBank returns the pending request as 0, 1 or 2.
func (m *Manager) CodeNextBootBank() int32 {
	return int32(m.NextBootBank())
}

// CodeSetNextBootBank sets the pending request from 0, 1 or 2. Other values
// return InvalidParam and leave the request untouched.
func (m *Manager) CodeSetNextBootBank(v int32) int32 {
	switch v {
	case 0, 1, 2:
		m.SetNextBootBank(bootmeta.NextBootBank(v))
		return OK
	default:
		return InvalidParam
	}
}

// CodeResetReason returns the reset reason, -1 when it cannot be decoded.
func (m *Manager) CodeResetReason() int32 {
	return int32(m.ResetReason())
}
