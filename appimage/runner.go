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

package appimage

import (
	"errors"
	"fmt"

	"github.com/c2a-monazite/dualboot/bootmeta"
	"github.com/c2a-monazite/dualboot/btmgr"
	"github.com/c2a-monazite/dualboot/cortexm"
	"github.com/c2a-monazite/dualboot/iflash"
	"github.com/golang/glog"
	"github.com/perlin-network/life/exec"
	wasm_validation "github.com/perlin-network/life/wasm-validation"
)

// EntryPoint is the exported function an image starts at.
const EntryPoint = "main"

// cyclesPerMilli converts delay_ms arguments for Core.Delay.
const cyclesPerMilli = 64_000

// errSystemReset unwinds the VM after the image asked for a reset.
var errSystemReset = errors.New("system reset")

// Watchdog is fed by the image through wdt_clear.
type Watchdog interface {
	Feed()
}

// Result describes how an image stopped running.
type Result struct {
	// ResetRequested is true if the image called btmgr_system_reset.
	ResetRequested bool
	// Return is the value returned by the entry point, if it returned.
	Return int64
}

// Resolver defines the host imports available to images. A Resolver serves a
// single run.
type Resolver struct {
	mgr   *btmgr.Manager
	wdt   Watchdog
	core  cortexm.Core
	flash *iflash.Flash

	resetRequested bool
}

// NewResolver returns a Resolver backed by the given boot manager, watchdog,
// core and inactive bank.
func NewResolver(mgr *btmgr.Manager, wdt Watchdog, core cortexm.Core, flash *iflash.Flash) *Resolver {
	return &Resolver{mgr: mgr, wdt: wdt, core: core, flash: flash}
}

func arg(vm *exec.VirtualMachine, i int) int64 {
	return vm.GetCurrentFrame().Locals[i]
}

// ResolveFunc defines a set of import functions that may be called within a WebAssembly module.
func (r *Resolver) ResolveFunc(module, field string) exec.FunctionImport {
	if module != "env" {
		panic(fmt.Errorf("unknown module: %s", module))
	}
	switch field {
	case "btmgr_get_current_boot_bank":
		return func(vm *exec.VirtualMachine) int64 {
			return int64(r.mgr.CodeCurrentBootBank())
		}
	case "btmgr_get_next_boot_bank":
		return func(vm *exec.VirtualMachine) int64 {
			return int64(r.mgr.CodeNextBootBank())
		}
	case "btmgr_set_next_boot_bank":
		return func(vm *exec.VirtualMachine) int64 {
			return int64(r.mgr.CodeSetNextBootBank(int32(arg(vm, 0))))
		}
	case "btmgr_get_reset_flag":
		return func(vm *exec.VirtualMachine) int64 {
			return int64(int32(r.mgr.ResetFlag()))
		}
	case "btmgr_get_reset_reason":
		return func(vm *exec.VirtualMachine) int64 {
			return int64(r.mgr.CodeResetReason())
		}
	case "btmgr_system_reset":
		return func(vm *exec.VirtualMachine) int64 {
			r.resetRequested = true
			r.mgr.SystemReset()
			panic(errSystemReset)
		}
	case "wdt_clear":
		return func(vm *exec.VirtualMachine) int64 {
			r.wdt.Feed()
			return 0
		}
	case "delay_ms":
		return func(vm *exec.VirtualMachine) int64 {
			r.core.Delay(uint32(arg(vm, 0)) * cyclesPerMilli)
			return 0
		}
	// The flash interrupt has been serviced by the time the image calls in
	// again.
	case "iflash_erase":
		return func(vm *exec.VirtualMachine) int64 {
			r.flash.Poll()
			return int64(r.flash.CodeErase())
		}
	case "iflash_program":
		return func(vm *exec.VirtualMachine) int64 {
			r.flash.Poll()
			ptr := uint64(uint32(arg(vm, 1)))
			n := uint64(uint32(arg(vm, 2)))
			if ptr+n > uint64(len(vm.Memory)) {
				return int64(iflash.OutOfBounds)
			}
			return int64(r.flash.CodeProgram(uint32(arg(vm, 0)), vm.Memory[ptr:ptr+n]))
		}
	case "iflash_get_status":
		return func(vm *exec.VirtualMachine) int64 {
			r.flash.Poll()
			return int64(r.flash.CodeStatus())
		}
	case "__life_log":
		return func(vm *exec.VirtualMachine) int64 {
			ptr := int(uint32(arg(vm, 0)))
			msgLen := int(uint32(arg(vm, 1)))
			glog.Infof("[app] %s", vm.Memory[ptr:ptr+msgLen])
			return 0
		}
	case "print_i64":
		return func(vm *exec.VirtualMachine) int64 {
			glog.Infof("[app] print_i64: %d", arg(vm, 0))
			return 0
		}
	default:
		panic(fmt.Errorf("unknown field: %s", field))
	}
}

// ResolveGlobal defines a set of global variables for use within a WebAssembly module.
func (r *Resolver) ResolveGlobal(module, field string) int64 {
	if module != "env" {
		panic(fmt.Errorf("unknown module: %s", module))
	}
	switch field {
	case "boot_bank_1":
		return int64(bootmeta.Bank1)
	case "boot_bank_2":
		return int64(bootmeta.Bank2)
	default:
		panic(fmt.Errorf("unknown field: %s", field))
	}
}

// Run executes image until its entry point returns or it requests a reset.
func Run(image []byte, r *Resolver) (res Result, err error) {
	if err := wasm_validation.ValidateWasm(image); err != nil {
		return Result{}, fmt.Errorf("invalid image: %w", err)
	}

	// Instantiating resolves the imports, which panics on unknown ones.
	defer func() {
		if p := recover(); p != nil {
			if r.resetRequested {
				res, err = Result{ResetRequested: true}, nil
				return
			}
			err = fmt.Errorf("image aborted: %v", p)
		}
	}()

	vm, err := exec.NewVirtualMachine(image, exec.VMConfig{
		DefaultMemoryPages: 128,
		DefaultTableSize:   65536,
	}, r, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load image: %w", err)
	}

	entryID, ok := vm.GetFunctionExport(EntryPoint)
	if !ok {
		return Result{}, fmt.Errorf("image has no %q export", EntryPoint)
	}
	if vm.Module.Base.Start != nil {
		if _, err := vm.Run(int(vm.Module.Base.Start.Index)); err != nil && !r.resetRequested {
			vm.PrintStackTrace()
			return Result{}, err
		}
	}
	if r.resetRequested {
		return Result{ResetRequested: true}, nil
	}
	ret, err := vm.Run(entryID)
	if r.resetRequested {
		return Result{ResetRequested: true}, nil
	}
	if err != nil {
		vm.PrintStackTrace()
		return Result{}, err
	}
	return Result{Return: ret}, nil
}
