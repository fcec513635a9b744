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

// Package appimage loads and runs application images on the simulated
// board. Images are WebAssembly modules which reach the boot manager and the
// watchdog through host imports.
package appimage

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrNoImage is returned when a bank does not start with a WebAssembly
	// module.
	ErrNoImage = errors.New("no application image")

	wasmMagic = []byte{0x00, 'a', 's', 'm'}
)

const (
	headerSize = 8
	// erasedSection is the section id found where the image ends and erased
	// flash begins.
	erasedSection = 0xFF
)

// Trim returns the WebAssembly module at the start of bank, without the
// erased flash which follows it.
func Trim(bank []byte) ([]byte, error) {
	if len(bank) < headerSize || !bytes.Equal(bank[:4], wasmMagic) {
		return nil, ErrNoImage
	}
	off := headerSize
	for off < len(bank) && bank[off] != erasedSection {
		size, n, err := uleb128(bank[off+1:])
		if err != nil {
			return nil, fmt.Errorf("section at 0x%x: %w", off, err)
		}
		end := uint64(off) + 1 + uint64(n) + size
		if end > uint64(len(bank)) {
			return nil, fmt.Errorf("section at 0x%x overruns the bank", off)
		}
		off = int(end)
	}
	return bank[:off], nil
}

// uleb128 decodes an unsigned LEB128 u32 from b, returning the value and the
// number of bytes used.
func uleb128(b []byte) (uint64, int, error) {
	var v uint64
	for i := 0; i < 5; i++ {
		if i >= len(b) {
			return 0, 0, errors.New("truncated LEB128")
		}
		v |= uint64(b[i]&0x7F) << (7 * i)
		if b[i]&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, errors.New("LEB128 too long")
}
