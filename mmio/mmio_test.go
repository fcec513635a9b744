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

package mmio_test

import (
	"testing"

	"github.com/c2a-monazite/dualboot/mmio"
	"github.com/c2a-monazite/dualboot/mmio/mock_mmio"
	"github.com/golang/mock/gomock"
)

func TestFill(t *testing.T) {
	ctrl := gomock.NewController(t)
	bus := mock_mmio.NewMockBus(ctrl)
	r := mmio.Region{Start: 0x2000_0000, End: 0x2000_0010}

	gomock.InOrder(
		bus.EXPECT().Write(uint32(0x2000_0000), uint32(0)),
		bus.EXPECT().Write(uint32(0x2000_0004), uint32(0)),
		bus.EXPECT().Write(uint32(0x2000_0008), uint32(0)),
		bus.EXPECT().Write(uint32(0x2000_000C), uint32(0)),
	)
	mmio.Fill(bus, r, 0)

	if got := r.Size(); got != 16 {
		t.Errorf("Size() = %d, want 16", got)
	}
	if !r.Contains(r.Start) || r.Contains(r.End) {
		t.Errorf("%v must contain its start and not its end", r)
	}
}

func TestReadModifyWrite(t *testing.T) {
	const addr = uint32(0x5800_0000)
	for _, test := range []struct {
		desc string
		op   func(mmio.Bus)
		old  uint32
		want uint32
	}{
		{desc: "set", op: func(b mmio.Bus) { mmio.Set(b, addr, 4) }, old: 0x1, want: 0x11},
		{desc: "clear", op: func(b mmio.Bus) { mmio.Clear(b, addr, 0) }, old: 0x11, want: 0x10},
		{desc: "set to true", op: func(b mmio.Bus) { mmio.SetTo(b, addr, 31, true) }, old: 0, want: 0x8000_0000},
		{desc: "set to false", op: func(b mmio.Bus) { mmio.SetTo(b, addr, 31, false) }, old: 0xFFFF_FFFF, want: 0x7FFF_FFFF},
	} {
		t.Run(test.desc, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			bus := mock_mmio.NewMockBus(ctrl)
			gomock.InOrder(
				bus.EXPECT().Read(addr).Return(test.old),
				bus.EXPECT().Write(addr, test.want),
			)
			test.op(bus)
		})
	}
}

func TestWaitClear(t *testing.T) {
	ctrl := gomock.NewController(t)
	bus := mock_mmio.NewMockBus(ctrl)
	const addr = uint32(0x5200_2010)
	gomock.InOrder(
		bus.EXPECT().Read(addr).Return(uint32(1)).Times(3),
		bus.EXPECT().Read(addr).Return(uint32(0)),
	)
	mmio.WaitClear(bus, addr, 0)
}
