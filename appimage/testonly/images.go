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

// Package testonly builds small application images for tests.
package testonly

// Signatures of the imports an image may use.
const (
	// I32ToI32 is (i32) -> i32.
	I32ToI32 = 0
	// Void is () -> ().
	Void = 1
	// ToI32 is () -> i32.
	ToI32 = 2
	// I32ToVoid is (i32) -> ().
	I32ToVoid = 3
	// I32x3ToI32 is (i32, i32, i32) -> i32.
	I32x3ToI32 = 4
)

// Import is a host function imported from module "env".
type Import struct {
	Name string
	Type byte
}

// Instructions.
const (
	opLoop     = 0x03
	opEnd      = 0x0b
	opBrIf     = 0x0d
	opCall     = 0x10
	opDrop     = 0x1a
	opI32Const = 0x41
	opI32Eq    = 0x46

	blockVoid = 0x40
)

func leb(v uint32) []byte {
	var r []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			r = append(r, b|0x80)
			continue
		}
		return append(r, b)
	}
}

func name(s string) []byte {
	return append(leb(uint32(len(s))), s...)
}

func section(id byte, content []byte) []byte {
	return append(append([]byte{id}, leb(uint32(len(content)))...), content...)
}

// Module returns a WebAssembly module importing imports and exporting a
// "main" () -> () function with the given code, which must not include the
// final end instruction.
func Module(imports []Import, code []byte) []byte {
	return ModuleWithData(imports, code, nil)
}

// ModuleWithData is Module with a page of memory holding data at address 0.
func ModuleWithData(imports []Import, code []byte, data []byte) []byte {
	m := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

	types := []byte{5,
		0x60, 1, 0x7f, 1, 0x7f,
		0x60, 0, 0,
		0x60, 0, 1, 0x7f,
		0x60, 1, 0x7f, 0,
		0x60, 3, 0x7f, 0x7f, 0x7f, 1, 0x7f,
	}
	m = append(m, section(1, types)...)

	imps := leb(uint32(len(imports)))
	for _, i := range imports {
		imps = append(imps, name("env")...)
		imps = append(imps, name(i.Name)...)
		imps = append(imps, 0x00, i.Type)
	}
	m = append(m, section(2, imps)...)

	m = append(m, section(3, []byte{1, Void})...)
	if data != nil {
		m = append(m, section(5, []byte{1, 0x00, 1})...)
	}

	mainIdx := leb(uint32(len(imports)))
	exps := append([]byte{1}, name("main")...)
	exps = append(exps, 0x00)
	exps = append(exps, mainIdx...)
	m = append(m, section(7, exps)...)

	body := append([]byte{0}, code...)
	body = append(body, opEnd)
	m = append(m, section(10, append([]byte{1}, append(leb(uint32(len(body))), body...)...))...)

	if data != nil {
		seg := []byte{1, 0x00, opI32Const, 0x00, opEnd}
		seg = append(seg, leb(uint32(len(data)))...)
		m = append(m, section(11, append(seg, data...))...)
	}
	return m
}

// Call returns the code calling import i with the given i32 arguments, and
// dropping its result if it has one.
func Call(imports []Import, i int, args ...int32) []byte {
	var c []byte
	for _, a := range args {
		c = append(c, opI32Const)
		c = append(c, sleb(a)...)
	}
	c = append(c, opCall)
	c = append(c, leb(uint32(i))...)
	if t := imports[i].Type; t == I32ToI32 || t == ToI32 || t == I32x3ToI32 {
		c = append(c, opDrop)
	}
	return c
}

// WaitWhile returns the code calling import i, which must return an i32,
// for as long as it returns v.
func WaitWhile(imports []Import, i int, v int32) []byte {
	c := []byte{opLoop, blockVoid, opCall}
	c = append(c, leb(uint32(i))...)
	c = append(c, opI32Const)
	c = append(c, sleb(v)...)
	return append(c, opI32Eq, opBrIf, 0, opEnd)
}

func sleb(v int32) []byte {
	var r []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(r, b)
		}
		r = append(r, b|0x80)
	}
}

var imports = []Import{
	{Name: "btmgr_set_next_boot_bank", Type: I32ToI32},
	{Name: "wdt_clear", Type: Void},
	{Name: "btmgr_system_reset", Type: Void},
	{Name: "delay_ms", Type: I32ToVoid},
}

// Healthy returns an image which confirms its boot, feeds the watchdog and
// then requests a reset.
func Healthy() []byte {
	code := Call(imports, 0, 0)
	code = append(code, Call(imports, 1)...)
	code = append(code, Call(imports, 2)...)
	return Module(imports, code)
}

// Rebooting returns an image which requests a reset without confirming its
// boot.
func Rebooting() []byte {
	return Module(imports, Call(imports, 2))
}

// Hanging returns an image which feeds the watchdog once and then stops
// doing anything useful.
func Hanging() []byte {
	code := Call(imports, 1)
	code = append(code, Call(imports, 3, 100)...)
	return Module(imports, code)
}

var updaterImports = []Import{
	{Name: "iflash_erase", Type: ToI32},
	{Name: "iflash_program", Type: I32x3ToI32},
	{Name: "iflash_get_status", Type: ToI32},
	{Name: "btmgr_set_next_boot_bank", Type: I32ToI32},
	{Name: "btmgr_system_reset", Type: Void},
	{Name: "wdt_clear", Type: Void},
}

// iflashBusy is the status of an operation still in progress.
const iflashBusy = -1

// Updater returns an image which erases the inactive bank, writes payload
// into it chunk bytes at a time, asks for bank2 to boot next and requests a
// reset. len(payload) and chunk must be multiples of 32.
func Updater(payload []byte, chunk int) []byte {
	code := Call(updaterImports, 0)
	code = append(code, WaitWhile(updaterImports, 2, iflashBusy)...)
	for off := 0; off < len(payload); off += chunk {
		n := min(chunk, len(payload)-off)
		code = append(code, Call(updaterImports, 1, int32(off), int32(off), int32(n))...)
		code = append(code, WaitWhile(updaterImports, 2, iflashBusy)...)
		code = append(code, Call(updaterImports, 5)...)
	}
	code = append(code, Call(updaterImports, 3, 2)...)
	code = append(code, Call(updaterImports, 4)...)
	return ModuleWithData(updaterImports, code, payload)
}
