package machine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	fakeRunPageSize = 2 * 4096
	fakeIOOffset    = 4096
)

// exitStep fills a run page the way KVM_RUN would, or fails the call.
type exitStep func(page []byte) error

func exitWith(e Exit) exitStep {
	return func(page []byte) error {
		binary.LittleEndian.PutUint32(page[runExitReason:], uint32(e))
		return nil
	}
}

func ioExit(direction uint8, port uint16, size uint8, values ...uint32) exitStep {
	return func(page []byte) error {
		binary.LittleEndian.PutUint32(page[runExitReason:], uint32(EXITIO))
		putIO(page, direction, size, port, uint32(len(values)), fakeIOOffset)
		for i, v := range values {
			b := page[fakeIOOffset+i*int(size):]
			switch size {
			case 1:
				b[0] = byte(v)
			case 2:
				binary.LittleEndian.PutUint16(b, uint16(v))
			case 4:
				binary.LittleEndian.PutUint32(b, v)
			}
		}
		return nil
	}
}

func putIO(page []byte, direction, size uint8, port uint16, count uint32, offset uint64) {
	page[runExitData] = direction
	page[runExitData+1] = size
	binary.LittleEndian.PutUint16(page[runExitData+2:], port)
	binary.LittleEndian.PutUint32(page[runExitData+4:], count)
	binary.LittleEndian.PutUint64(page[runExitData+8:], offset)
}

func runError(err error) exitStep {
	return func([]byte) error { return err }
}

// fakeSys is a Sys that hands out fds and mappings from the Go heap and
// tracks every one of them, so tests can assert nothing leaks.
type fakeSys struct {
	mu sync.Mutex

	version  int
	mmapSize int
	fail     map[string]error

	nextFd  P
	fds     map[P]string
	maps    map[*byte]int
	regions map[uint32]UserspaceMemoryRegion
	vcpus   map[P]int
	pages   map[P][]byte
	regs    map[P]*Regs
	sregs   map[P]*Sregs
	scripts map[int][]exitStep
	spins   map[int]bool
	calls   []string
}

func newFakeSys() *fakeSys {
	return &fakeSys{
		version:  APIVersion,
		mmapSize: fakeRunPageSize,
		fail:     make(map[string]error),
		nextFd:   3,
		fds:      make(map[P]string),
		maps:     make(map[*byte]int),
		regions:  make(map[uint32]UserspaceMemoryRegion),
		vcpus:    make(map[P]int),
		pages:    make(map[P][]byte),
		regs:     make(map[P]*Regs),
		sregs:    make(map[P]*Sregs),
		scripts:  make(map[int][]exitStep),
		spins:    make(map[int]bool),
	}
}

// script queues exits for vCPU id; once it runs dry the vCPU shuts down.
func (f *fakeSys) script(id int, steps ...exitStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[id] = append(f.scripts[id], steps...)
}

// spin makes vCPU id report EXITINTR forever once its script runs dry,
// like a guest busy in a loop that only the host can stop.
func (f *fakeSys) spin(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spins[id] = true
}

func (f *fakeSys) call(name string) error {
	f.calls = append(f.calls, name)
	return f.fail[name]
}

func (f *fakeSys) newFd(kind string) P {
	fd := f.nextFd
	f.nextFd++
	f.fds[fd] = kind
	return fd
}

func (f *fakeSys) outstanding() (fds, maps int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fds), len(f.maps)
}

func (f *fakeSys) assertReleased(t *testing.T) {
	t.Helper()
	if fds, maps := f.outstanding(); fds != 0 || maps != 0 {
		t.Errorf("outstanding fds %d, mappings %d, want none (fds: %v)", fds, maps, f.fds)
	}
}

func (f *fakeSys) Open(path string) (P, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("Open"); err != nil {
		return 0, err
	}
	return f.newFd("dev:" + path), nil
}

func (f *fakeSys) Close(fd P) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.fds[fd]; !ok {
		return unix.EBADF
	}
	delete(f.fds, fd)
	delete(f.vcpus, fd)
	return f.call("Close")
}

func (f *fakeSys) APIVersion(P) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version, f.call("APIVersion")
}

func (f *fakeSys) CheckExtension(_ P, c Cap) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int(c), f.call("CheckExtension")
}

func (f *fakeSys) CreateVM(P) (P, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateVM"); err != nil {
		return 0, err
	}
	return f.newFd("vm"), nil
}

func (f *fakeSys) VCPUMmapSize(P) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mmapSize, f.call("VCPUMmapSize")
}

func (f *fakeSys) SetUserMemoryRegion(_ P, r *UserspaceMemoryRegion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("SetUserMemoryRegion"); err != nil {
		return err
	}
	if r.MemorySize == 0 {
		delete(f.regions, r.Slot)
		return nil
	}
	f.regions[r.Slot] = *r
	return nil
}

func (f *fakeSys) CreateVCPU(_ P, id int) (P, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateVCPU"); err != nil {
		return 0, err
	}
	fd := f.newFd(fmt.Sprintf("vcpu%d", id))
	f.vcpus[fd] = id
	f.regs[fd] = &Regs{RIP: 0xfff0, RFLAGS: 2}
	f.sregs[fd] = &Sregs{CS: Segment{Selector: 0xf000, Base: 0xffff0000, Limit: 0xffff}}
	return fd, nil
}

func (f *fakeSys) mapBytes(name string, size int) ([]byte, error) {
	if err := f.call(name); err != nil {
		return nil, err
	}
	b := make([]byte, size)
	f.maps[&b[0]] = size
	return b, nil
}

func (f *fakeSys) MapAnonymous(size int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mapBytes("MapAnonymous", size)
}

func (f *fakeSys) MapShared(fd P, size int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.mapBytes("MapShared", size)
	if err == nil {
		f.pages[fd] = b
	}
	return b, err
}

func (f *fakeSys) Unmap(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(b) == 0 {
		return unix.EINVAL
	}
	if _, ok := f.maps[&b[0]]; !ok {
		return unix.EINVAL
	}
	delete(f.maps, &b[0])
	return f.call("Unmap")
}

func (f *fakeSys) GetRegs(fd P, regs *Regs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetRegs"); err != nil {
		return err
	}
	*regs = *f.regs[fd]
	return nil
}

func (f *fakeSys) SetRegs(fd P, regs *Regs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("SetRegs"); err != nil {
		return err
	}
	*f.regs[fd] = *regs
	return nil
}

func (f *fakeSys) GetSregs(fd P, sregs *Sregs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetSregs"); err != nil {
		return err
	}
	*sregs = *f.sregs[fd]
	return nil
}

func (f *fakeSys) SetSregs(fd P, sregs *Sregs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("SetSregs"); err != nil {
		return err
	}
	*f.sregs[fd] = *sregs
	return nil
}

func (f *fakeSys) Run(fd P) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("Run"); err != nil {
		return err
	}
	page := f.pages[fd]
	id := f.vcpus[fd]
	steps := f.scripts[id]
	if len(steps) == 0 {
		if f.spins[id] {
			return exitWith(EXITINTR)(page)
		}
		return exitWith(EXITSHUTDOWN)(page)
	}
	f.scripts[id] = steps[1:]
	return steps[0](page)
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// portRecord is one guest port access seen by a recordingPortIO.
type portRecord struct {
	Out   bool
	Port  uint64
	Value uint32
}

type recordingPortIO struct {
	mu      sync.Mutex
	records []portRecord
	err     error
}

func (r *recordingPortIO) In(port uint64, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(data)
	r.records = append(r.records, portRecord{Port: port})
	return r.err
}

func (r *recordingPortIO) Out(port uint64, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, portRecord{Out: true, Port: port, Value: leValue(data)})
	return r.err
}

func (r *recordingPortIO) seen() []portRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]portRecord(nil), r.records...)
}

var errInjected = errors.New("injected")
