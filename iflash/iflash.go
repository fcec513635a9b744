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

// Package iflash lets the running application rewrite the inactive bank in
// the background, one sector or flash word at a time, while it keeps
// serving its other duties.
//
// Operations are started with StartErase and StartProgram and advanced by
// Poll, which the application calls from the flash interrupt or its main
// loop. Only one operation may be in progress.
package iflash

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/c2a-monazite/dualboot/flashalgo"
	"github.com/c2a-monazite/dualboot/mmio"
	"github.com/c2a-monazite/dualboot/stm32h7"
	"github.com/golang/glog"
)

const (
	// Base is the address the inactive bank is mapped at.
	Base = stm32h7.FlashBase + stm32h7.BankSize
	// Size is the part of the inactive bank an update may rewrite. The
	// sectors above it hold the bootloader.
	Size = stm32h7.BootloaderSector * stm32h7.SectorSize
	// LastSector is the last sector StartErase erases.
	LastSector = stm32h7.BootloaderSector - 1
	// MaxProgram is the largest data StartProgram accepts.
	MaxProgram = 128
)

// State is what the controller is busy with.
type State int

const (
	Idle State = iota
	Erasing
	Programming
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Erasing:
		return "erasing"
	case Programming:
		return "programming"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Flash drives the register set of the inactive bank.
type Flash struct {
	mu    sync.Mutex
	bank  *flashalgo.Bank
	state State
	// last is the error the previous operation ended with.
	last error

	// sector is being erased.
	sector uint32
	// buf[src:n] still has to be programmed at dest.
	buf  [MaxProgram]byte
	src  int
	n    int
	dest uint32
}

// New returns an idle Flash for the bank mapped at Base.
func New(bus mmio.Bus) *Flash {
	return &Flash{bank: flashalgo.NewBank(bus, stm32h7.FlashBank2Regs)}
}

// State returns the operation in progress.
func (f *Flash) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// StartErase starts erasing sectors 0 to LastSector of the inactive bank.
// It returns flashalgo.ErrWouldBlock if another operation is in progress.
func (f *Flash) StartErase() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Idle {
		return flashalgo.ErrWouldBlock
	}
	f.last = nil
	return f.startErase(0)
}

func (f *Flash) startErase(n uint32) error {
	f.bank.Unlock()
	if err := f.bank.StartEraseSector(n); err != nil {
		f.bank.Release()
		return err
	}
	f.state, f.sector = Erasing, n
	return nil
}

// StartProgram starts programming data at offset from Base. Both must be
// multiples of the flash word size, and data at most MaxProgram bytes.
func (f *Flash) StartProgram(offset uint32, data []byte) error {
	if offset%stm32h7.FlashWordSize != 0 || len(data)%stm32h7.FlashWordSize != 0 {
		return flashalgo.ErrUnaligned
	}
	if len(data) > MaxProgram || uint64(offset)+uint64(len(data)) > Size {
		return flashalgo.ErrOutOfRange
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Idle {
		return flashalgo.ErrWouldBlock
	}
	f.last = nil
	if len(data) == 0 {
		return nil
	}
	f.src, f.n = 0, copy(f.buf[:], data)
	f.dest = Base + offset
	return f.startProgram()
}

func (f *Flash) startProgram() error {
	var c flashalgo.Chunk
	for i := range c {
		c[i] = binary.LittleEndian.Uint32(f.buf[f.src+4*i:])
	}
	f.bank.Unlock()
	if err := f.bank.StartProgramChunk(f.dest, &c); err != nil {
		f.bank.Release()
		return err
	}
	f.state = Programming
	return nil
}

// Status returns flashalgo.ErrWouldBlock while an operation is in progress,
// and otherwise the error the last operation ended with.
func (f *Flash) Status() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Idle {
		return flashalgo.ErrWouldBlock
	}
	return f.last
}

// Poll advances the operation in progress once the controller has finished
// its current step.
func (f *Flash) Poll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Idle {
		return
	}
	done, err := f.bank.Poll(f.op())
	if !done {
		return
	}
	f.bank.Release()
	if err != nil {
		f.finish(err)
		return
	}
	switch f.state {
	case Erasing:
		if f.sector == LastSector {
			f.finish(nil)
			return
		}
		if err := f.startErase(f.sector + 1); err != nil {
			f.finish(err)
		}
	case Programming:
		f.src += stm32h7.FlashWordSize
		f.dest += stm32h7.FlashWordSize
		if f.src == f.n {
			f.finish(nil)
			return
		}
		if err := f.startProgram(); err != nil {
			f.finish(err)
		}
	}
}

func (f *Flash) op() string {
	if f.state == Erasing {
		return fmt.Sprintf("inactive bank sector %d erase", f.sector)
	}
	return fmt.Sprintf("inactive bank program 0x%08x", f.dest)
}

func (f *Flash) finish(err error) {
	if err != nil {
		glog.Warningf("iflash: %v failed: %v", f.state, err)
	} else {
		glog.V(1).Infof("iflash: %v done", f.state)
	}
	f.state, f.last = Idle, err
}
