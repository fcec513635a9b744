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

// flash_tool writes an application image into a bank of a simulated board,
// using the same flashing algorithms an SWD debugger runs on the target.
//
// Usage:
//   go run ./cmd/flash_tool --logtostderr --board_db=/tmp/board.db --image=/path/to/app.wasm --side=bank2
//
// Flashing a single side also selects it as the bank to boot after the next
// reset. Use --side=mirrored to write the same image to both banks.
package main

import (
	"context"
	"flag"

	"github.com/c2a-monazite/dualboot/cmd/flash_tool/impl"
	"github.com/golang/glog"
)

var (
	boardDB  = flag.String("board_db", "", "Path to the sqlite database holding the simulated board")
	image    = flag.String("image", "", "File path to read the application image from")
	side     = flag.String("side", "bank2", "One of [bank1, bank2, mirrored]")
	eraseAll = flag.Bool("erase_all", false, "Erase the whole bank instead of only the sectors the image covers")
)

func main() {
	flag.Parse()

	if err := impl.Main(context.Background(), impl.FlashOpts{
		BoardDB:  *boardDB,
		Image:    *image,
		Side:     *side,
		EraseAll: *eraseAll,
	}); err != nil {
		glog.Exit(err.Error())
	}
}
