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

package iflash

import (
	"errors"

	"github.com/c2a-monazite/dualboot/flashalgo"
	"github.com/c2a-monazite/dualboot/stm32h7"
	"github.com/usbarmory/tamago/bits"
)

// Status codes of the integer interface used by the flight software.
const (
	OK                  int32 = 0
	Busy                int32 = -1
	NotAligned          int32 = -2
	OutOfBounds         int32 = -3
	WriteProtection     int32 = -4
	ProgrammingSequence int32 = -5
	Strobe              int32 = -6
	Inconsistency       int32 = -7
	Operation           int32 = -8
	EccDoubleDetection  int32 = -9
	ReadProtection      int32 = -10
	ReadSecure          int32 = -11
	Other               int32 = -12
)

// srCodes maps FLASH_SR error flags to status codes, first match wins.
var srCodes = []struct {
	flag int
	code int32
}{
	{stm32h7.SR_WRPERR, WriteProtection},
	{stm32h7.SR_PGSERR, ProgrammingSequence},
	{stm32h7.SR_STRBERR, Strobe},
	{stm32h7.SR_INCERR, Inconsistency},
	{stm32h7.SR_OPERR, Operation},
	{stm32h7.SR_DBECCERR, EccDoubleDetection},
	{stm32h7.SR_RDPERR, ReadProtection},
	{stm32h7.SR_RDSERR, ReadSecure},
}

// ErrorCode returns the status code for an error returned by Flash.
func ErrorCode(err error) int32 {
	var oe *flashalgo.OperationError
	switch {
	case err == nil:
		return OK
	case errors.Is(err, flashalgo.ErrWouldBlock):
		return Busy
	case errors.Is(err, flashalgo.ErrUnaligned):
		return NotAligned
	case errors.Is(err, flashalgo.ErrOutOfRange):
		return OutOfBounds
	case errors.As(err, &oe):
		for _, c := range srCodes {
			if bits.IsSet(&oe.Status, c.flag) {
				return c.code
			}
		}
	}
	return Other
}

// CodeErase is StartErase returning a status code.
func (f *Flash) CodeErase() int32 {
	return ErrorCode(f.StartErase())
}

// CodeProgram is StartProgram returning a status code.
func (f *Flash) CodeProgram(offset uint32, data []byte) int32 {
	return ErrorCode(f.StartProgram(offset, data))
}

// CodeStatus is Status returning a status code.
func (f *Flash) CodeStatus() int32 {
	return ErrorCode(f.Status())
}
