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

// Package impl is the implementation of a util to flash application images
// onto a simulated board.
package impl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/c2a-monazite/dualboot/bootmeta"
	"github.com/c2a-monazite/dualboot/devices/sim"
	"github.com/c2a-monazite/dualboot/devices/sim/store"
	"github.com/c2a-monazite/dualboot/flashalgo"
	"github.com/c2a-monazite/dualboot/stm32h7"
	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
)

// FlashOpts encapsulates flash tool parameters.
type FlashOpts struct {
	BoardDB  string
	Image    string
	Side     string
	EraseAll bool
}

// Main flashes the image described by opts.
func Main(ctx context.Context, opts FlashOpts) error {
	if len(opts.BoardDB) == 0 {
		return errors.New("must specify board_db")
	}
	if len(opts.Image) == 0 {
		return errors.New("must specify image")
	}
	img, err := os.ReadFile(opts.Image)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	if len(img) > int(flashalgo.Device.Size) {
		return fmt.Errorf("image of %d bytes does not fit in a %d byte bank", len(img), flashalgo.Device.Size)
	}

	st, err := store.Open(opts.BoardDB)
	if err != nil {
		return fmt.Errorf("failed to open board: %w", err)
	}
	defer st.Close()
	board, err := st.Board(ctx, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to load board: %w", err)
	}
	// The debugger attaches under reset.
	board.Reset(sim.Pin)

	alg, err := newAlgorithm(board, opts.Side)
	if err != nil {
		return err
	}
	if err := flash(ctx, alg, img, opts.EraseAll); err != nil {
		alg.Close()
		return err
	}
	if err := alg.Close(); err != nil {
		return fmt.Errorf("failed to lock flash: %w", err)
	}

	if err := st.Save(ctx, board.State()); err != nil {
		return fmt.Errorf("failed to save board: %w", err)
	}
	glog.Infof("Flashed %d bytes to %s.", len(img), opts.Side)
	return nil
}

func newAlgorithm(board *sim.Board, side string) (flashalgo.Algorithm, error) {
	d := flashalgo.Device
	if side == "mirrored" {
		return flashalgo.NewMirrored(board, d.Address, sim.CoreClock, flashalgo.Program)
	}
	b, err := bootmeta.ParseBootBank(side)
	if err != nil {
		return nil, errors.New("side must be one of: 'bank1', 'bank2', 'mirrored'")
	}
	return flashalgo.NewOneSide(board, board, b, d.Address, sim.CoreClock, flashalgo.Program)
}

// retry runs op until it succeeds, retrying only while the flash controller
// reports it is busy.
func retry(ctx context.Context, what string, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Millisecond
	bo.MaxElapsedTime = 10 * time.Second
	operation := func() error {
		err := op()
		if err != nil && !errors.Is(err, flashalgo.ErrWouldBlock) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), func(e error, d time.Duration) {
		glog.V(1).Infof("%s: %v, retrying in %v", what, e, d)
	})
}

// flash erases what img needs and programs it page by page.
func flash(ctx context.Context, alg flashalgo.Algorithm, img []byte, eraseAll bool) error {
	d := flashalgo.Device
	if eraseAll {
		if err := retry(ctx, "erase all", alg.EraseAll); err != nil {
			return fmt.Errorf("failed to erase: %w", err)
		}
	} else {
		for off := uint32(0); off < uint32(len(img)); off += stm32h7.SectorSize {
			addr := d.Address + off
			if err := retry(ctx, "erase sector", func() error { return alg.EraseSector(addr) }); err != nil {
				return fmt.Errorf("failed to erase sector at 0x%08x: %w", addr, err)
			}
		}
	}

	for off := 0; off < len(img); off += int(d.PageSize) {
		end := off + int(d.PageSize)
		if end > len(img) {
			end = len(img)
		}
		page := pad(img[off:end], d.EmptyValue)
		addr := d.Address + uint32(off)
		if err := retry(ctx, "program", func() error { return alg.ProgramPage(addr, page) }); err != nil {
			return fmt.Errorf("failed to program page at 0x%08x: %w", addr, err)
		}
		glog.V(2).Infof("Programmed 0x%08x", addr)
	}
	return nil
}

// pad extends b with the erased value to a whole number of flash words.
func pad(b []byte, empty byte) []byte {
	if r := len(b) % stm32h7.FlashWordSize; r != 0 {
		return append(append([]byte(nil), b...), bytes.Repeat([]byte{empty}, stm32h7.FlashWordSize-r)...)
	}
	return b
}
