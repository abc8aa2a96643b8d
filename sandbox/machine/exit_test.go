package machine

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEventIO(t *testing.T) {
	page := make(RunPage, fakeRunPageSize)
	if err := ioExit(EXITIOOUT, 0x10, 4, 0xdeadbeef)(page); err != nil {
		t.Fatal(err)
	}

	ev, err := page.Event()
	if err != nil {
		t.Fatalf("Event() error = %v", err)
	}
	want := &PortAccess{
		Port:       0x10,
		Direction:  EXITIOOUT,
		Size:       4,
		Count:      1,
		DataOffset: fakeIOOffset,
		Data:       []byte{0xef, 0xbe, 0xad, 0xde},
	}
	if ev.Reason != EXITIO {
		t.Errorf("Reason = %s, want %s", ev.Reason, EXITIO)
	}
	if diff := cmp.Diff(want, ev.IO); diff != "" {
		t.Errorf("IO mismatch (-want +got):\n%s", diff)
	}
	if got := ev.IO.Value(); got != 0xdeadbeef {
		t.Errorf("Value() = %#x, want 0xdeadbeef", got)
	}

	// The payload aliases the page, so IN data written through it is what
	// the guest sees on resume.
	ev.IO.Data[0] = 0x55
	if page[fakeIOOffset] != 0x55 {
		t.Error("IO data does not alias the run page")
	}
}

func TestEventIOString(t *testing.T) {
	page := make(RunPage, fakeRunPageSize)
	if err := ioExit(EXITIOIN, 0x3f8, 2, 1, 2, 3)(page); err != nil {
		t.Fatal(err)
	}
	ev, err := page.Event()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := ev.String(), "EXITIO port=0x3f8 dir=0 size=2 count=3"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := leValue(ev.IO.Item(2)); got != 3 {
		t.Errorf("Item(2) = %d, want 3", got)
	}
}

func TestEventMMIO(t *testing.T) {
	page := make(RunPage, fakeRunPageSize)
	binary.LittleEndian.PutUint32(page[runExitReason:], uint32(EXITMMIO))
	binary.LittleEndian.PutUint64(page[runExitData:], 0xfee00000)
	copy(page[runExitData+8:], []byte{1, 2, 3, 4})
	binary.LittleEndian.PutUint32(page[runExitData+16:], 4)
	page[runExitData+20] = 1

	ev, err := page.Event()
	if err != nil {
		t.Fatalf("Event() error = %v", err)
	}
	want := &MMIOAccess{Addr: 0xfee00000, IsWrite: true, Data: []byte{1, 2, 3, 4}}
	if diff := cmp.Diff(want, ev.MMIO); diff != "" {
		t.Errorf("MMIO mismatch (-want +got):\n%s", diff)
	}
}

func TestEventMalformed(t *testing.T) {
	tests := []struct {
		name string
		page RunPage
		fill func(RunPage)
		want error
	}{
		{
			name: "short page",
			page: make(RunPage, runHeaderSize-1),
			fill: func(RunPage) {},
			want: ErrBadRunPage,
		},
		{
			name: "bad io size",
			page: make(RunPage, fakeRunPageSize),
			fill: func(p RunPage) {
				binary.LittleEndian.PutUint32(p[runExitReason:], uint32(EXITIO))
				putIO(p, EXITIOOUT, 3, 0x10, 1, fakeIOOffset)
			},
			want: ErrDataLenInvalid,
		},
		{
			name: "zero count",
			page: make(RunPage, fakeRunPageSize),
			fill: func(p RunPage) {
				binary.LittleEndian.PutUint32(p[runExitReason:], uint32(EXITIO))
				putIO(p, EXITIOOUT, 1, 0x10, 0, fakeIOOffset)
			},
			want: ErrBadRunPage,
		},
		{
			name: "offset inside header",
			page: make(RunPage, fakeRunPageSize),
			fill: func(p RunPage) {
				binary.LittleEndian.PutUint32(p[runExitReason:], uint32(EXITIO))
				putIO(p, EXITIOOUT, 1, 0x10, 1, runExitData)
			},
			want: ErrBadRunPage,
		},
		{
			name: "data past page",
			page: make(RunPage, fakeRunPageSize),
			fill: func(p RunPage) {
				binary.LittleEndian.PutUint32(p[runExitReason:], uint32(EXITIO))
				putIO(p, EXITIOOUT, 4, 0x10, 2, fakeRunPageSize-4)
			},
			want: ErrBadRunPage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fill(tt.page)
			if _, err := tt.page.Event(); !errors.Is(err, tt.want) {
				t.Errorf("Event() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestImmediateExit(t *testing.T) {
	page := make(RunPage, fakeRunPageSize)
	page.SetImmediateExit(true)
	if page[runImmediateExit] != 1 {
		t.Error("immediate_exit not set")
	}
	page.SetImmediateExit(false)
	if page[runImmediateExit] != 0 {
		t.Error("immediate_exit not cleared")
	}
}

func TestExitString(t *testing.T) {
	tests := []struct {
		e    Exit
		want string
	}{
		{EXITIO, "EXITIO"},
		{EXITSHUTDOWN, "EXITSHUTDOWN"},
		{EXITINTERNALERROR, "EXITINTERNALERROR"},
		{Exit(99), "Exit(99)"},
	}
	for _, tt := range tests {
		if got := tt.e.String(); got != tt.want {
			t.Errorf("Exit(%d).String() = %q, want %q", uint32(tt.e), got, tt.want)
		}
	}
}
