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

// emulator runs the bootloader and the application images stored in a
// simulated board, power cycle after power cycle, and serves the boot
// manager state over HTTP while doing so.
//
// Usage:
//   go run ./cmd/emulator --logtostderr --board_db=/tmp/board.db --max_boots=10
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/c2a-monazite/dualboot/cmd/emulator/impl"
	"github.com/golang/glog"
)

var (
	boardDB    = flag.String("board_db", "", "Path to the sqlite database holding the simulated board")
	listen     = flag.String("listen", ":8080", "Address to listen on")
	maxBoots   = flag.Int("max_boots", 0, "Number of bootloader runs before exiting, 0 to run until interrupted")
	firstReset = flag.String("first_reset", "power", "Reset which starts the first boot, one of [power, pin, brownout, software, iwdg, wwdg]")
	interval   = flag.Duration("interval", time.Second, "Wall time the application is left running between resets")
	seed       = flag.Int64("seed", 0, "Seed for the power-on contents of volatile state, 0 to use the current time")
)

func main() {
	flag.Parse()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	s := *seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	if err := impl.Main(ctx, impl.EmulatorOpts{
		BoardDB:    *boardDB,
		Listen:     *listen,
		MaxBoots:   *maxBoots,
		FirstReset: *firstReset,
		Interval:   *interval,
		Seed:       s,
	}); err != nil {
		glog.Exit(err.Error())
	}
}
