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

// Package impl is the implementation of the board emulator.
package impl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/c2a-monazite/dualboot/appimage"
	"github.com/c2a-monazite/dualboot/bootloader"
	"github.com/c2a-monazite/dualboot/bootmeta"
	"github.com/c2a-monazite/dualboot/btmgr"
	ihttp "github.com/c2a-monazite/dualboot/cmd/emulator/internal/http"
	"github.com/c2a-monazite/dualboot/devices/sim"
	"github.com/c2a-monazite/dualboot/devices/sim/store"
	"github.com/c2a-monazite/dualboot/iflash"
	"github.com/c2a-monazite/dualboot/stm32h7"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// EmulatorOpts encapsulates emulator parameters.
type EmulatorOpts struct {
	BoardDB    string
	Listen     string
	MaxBoots   int
	FirstReset string
	Interval   time.Duration
	Seed       int64
}

// Main runs the emulator described by opts until MaxBoots bootloader runs
// have happened or ctx is done, and then saves the board.
func Main(ctx context.Context, opts EmulatorOpts) error {
	if len(opts.BoardDB) == 0 {
		return errors.New("must specify board_db")
	}
	kind, err := sim.ParseResetKind(opts.FirstReset)
	if err != nil {
		return err
	}

	st, err := store.Open(opts.BoardDB)
	if err != nil {
		return fmt.Errorf("failed to open board: %w", err)
	}
	defer st.Close()
	board, err := st.Board(ctx, opts.Seed)
	if err != nil {
		return fmt.Errorf("failed to load board: %w", err)
	}

	reg := prometheus.NewRegistry()
	e, err := NewEmulator(board, reg, opts.Interval)
	if err != nil {
		return err
	}
	r := mux.NewRouter()
	e.RegisterHandlers(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpListener, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: %w", opts.Listen, err)
	}
	srv := http.Server{
		Handler: r,
	}

	// Stops the HTTP server once the boot loop is done.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		glog.Infof("HTTP server listening on %v", httpListener.Addr())
		defer glog.Info("HTTP server goroutine done")
		if err := srv.Serve(httpListener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.Background())
	})
	g.Go(func() error {
		defer cancel()
		err := e.Run(ctx, kind, opts.MaxBoots)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	runErr := g.Wait()

	if err := st.Save(context.Background(), board.State()); err != nil {
		return fmt.Errorf("failed to save board: %w", err)
	}
	return runErr
}

// Emulator drives a simulated board through the boot sequence.
type Emulator struct {
	board    *sim.Board
	mgr      *btmgr.Manager
	interval time.Duration

	// mu is held for writing while the bootloader owns the board, from
	// reset until it starts the application. HTTP requests hold it for
	// reading.
	mu sync.RWMutex
	// flash is the inactive bank driver of the current boot.
	flash *iflash.Flash

	boots  *prometheus.CounterVec
	resets *prometheus.CounterVec
	swaps  prometheus.Counter
}

// NewEmulator returns an Emulator for board, registering its metrics with
// reg. The application is given interval of wall time between resets.
func NewEmulator(board *sim.Board, reg prometheus.Registerer, interval time.Duration) (*Emulator, error) {
	e := &Emulator{
		board:    board,
		mgr:      btmgr.NewOnBus(board, board),
		interval: interval,
		flash:    iflash.New(board),
		boots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dualboot_application_boots_total",
			Help: "Number of times the bootloader started the application, by bank.",
		}, []string{"bank"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dualboot_resets_total",
			Help: "Number of bootloader runs, by decoded reset reason.",
		}, []string{"reason"}),
		swaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dualboot_bank_swaps_total",
			Help: "Number of times the bootloader switched banks.",
		}),
	}
	for _, c := range []prometheus.Collector{e.boots, e.resets, e.swaps} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return e, nil
}

// RegisterHandlers registers the boot manager and inactive bank endpoints.
func (e *Emulator) RegisterHandlers(r *mux.Router) {
	a := application{e}
	ihttp.NewServer(a).RegisterHandlers(r)
	ihttp.NewFlashServer(a).RegisterHandlers(r)
}

// Boot resets the board with kind and runs the bootloader, followed by the
// application if the bootloader jumps to it. It returns once the application
// has requested a reset or stopped doing anything.
func (e *Emulator) Boot(kind sim.ResetKind) bootloader.Outcome {
	o := e.runBootloader(kind)
	e.resets.WithLabelValues(o.Reason.String()).Inc()
	glog.V(1).Infof("Bootloader: current %v, desired %v, reset %v (RSR=0x%08x)", o.Current, o.Desired, o.Reason, o.ResetFlag)
	if o.NextBootBankErr != nil {
		glog.Warningf("Bootloader ignored the next boot bank: %v", o.NextBootBankErr)
	}
	if o.Action == bootloader.Swapped {
		glog.Infof("Reset %v: switching from %v to %v", o.Reason, o.Current, o.Desired)
		e.swaps.Inc()
		return o
	}
	glog.Infof("Reset %v: starting %v", o.Reason, o.Current)
	e.boots.WithLabelValues(o.Current.String()).Inc()

	img, err := appimage.Trim(e.board.BankContents(o.Current))
	if err != nil {
		glog.Warningf("No application in %v: %v", o.Current, err)
		return o
	}
	res, err := appimage.Run(img, appimage.NewResolver(e.mgr, stm32h7.NewIWDG(e.board), e.board, e.flash))
	if err != nil {
		glog.Warningf("Application in %v failed: %v", o.Current, err)
		return o
	}
	glog.V(1).Infof("Application in %v stopped: %+v", o.Current, res)
	return o
}

// runBootloader resets the board and runs the bootloader, keeping HTTP
// requests out until the application starts.
func (e *Emulator) runBootloader(kind sim.ResetKind) bootloader.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.board.Reset(kind)
	// A reset aborts any operation on the inactive bank.
	e.flash = iflash.New(e.board)
	return bootloader.Run(e.board)
}

// nextReset returns the reset which ends the current boot. Software asked
// for one, or else the watchdog eventually expires.
func (e *Emulator) nextReset() sim.ResetKind {
	if e.board.ResetRequested() {
		return sim.Software
	}
	e.board.Advance(bootloader.WatchdogTimeout + time.Second)
	if !e.board.WatchdogExpired() {
		glog.Warning("Watchdog not running, resetting with the pin")
		return sim.Pin
	}
	return sim.IndependentWatchdog
}

// Run boots the board repeatedly, starting with a reset of kind first. It
// stops after maxBoots bootloader runs, or never if maxBoots is 0, and
// returns ctx.Err() if ctx is done first.
func (e *Emulator) Run(ctx context.Context, first sim.ResetKind, maxBoots int) error {
	kind := first
	for i := 0; maxBoots <= 0 || i < maxBoots; i++ {
		o := e.Boot(kind)
		if o.Action == bootloader.Jumped {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.interval):
			}
		}
		kind = e.nextReset()
	}
	return nil
}

// application is the view of the running application offered over HTTP.
type application struct {
	e *Emulator
}

func (a application) CurrentBootBank() bootmeta.BootBank {
	a.e.mu.RLock()
	defer a.e.mu.RUnlock()
	return a.e.mgr.CurrentBootBank()
}

func (a application) NextBootBank() bootmeta.NextBootBank {
	a.e.mu.RLock()
	defer a.e.mu.RUnlock()
	return a.e.mgr.NextBootBank()
}

func (a application) CodeSetNextBootBank(v int32) int32 {
	a.e.mu.RLock()
	defer a.e.mu.RUnlock()
	return a.e.mgr.CodeSetNextBootBank(v)
}

func (a application) ResetCause() btmgr.ResetCause {
	a.e.mu.RLock()
	defer a.e.mu.RUnlock()
	return a.e.mgr.ResetCause()
}

func (a application) SystemReset() {
	a.e.mu.RLock()
	defer a.e.mu.RUnlock()
	a.e.mgr.SystemReset()
}

func (a application) CodeErase() int32 {
	a.e.mu.RLock()
	defer a.e.mu.RUnlock()
	return a.e.flash.CodeErase()
}

func (a application) CodeProgram(offset uint32, data []byte) int32 {
	a.e.mu.RLock()
	defer a.e.mu.RUnlock()
	return a.e.flash.CodeProgram(offset, data)
}

// CodeStatus also services the flash interrupt, as the emulated controller
// finishes every step immediately.
func (a application) CodeStatus() int32 {
	a.e.mu.RLock()
	defer a.e.mu.RUnlock()
	a.e.flash.Poll()
	return a.e.flash.CodeStatus()
}
