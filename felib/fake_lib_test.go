package felib

import (
	"fmt"
	"strings"
	"unsafe"
)

// fakeLib implements api in memory, recording calls so tests can assert
// on call ordering and retry behavior without a device or the native
// library being loaded.
type fakeLib struct {
	calls []string

	openErr    error
	nextHandle uint64

	// full set reported by GetChildHandles regardless of buffer size
	childHandles  []uint64
	childBufSizes []int

	// full document reported by GetDeviceTree
	tree         []byte
	treeBufSizes []int

	nodes  map[string]uint64
	props  map[string]fakeProps
	values map[string]string
	regs   map[uint32]uint32

	formats []string

	hasDataErr error

	// popped one per ReadData call; an empty list means success
	readErrs []error
	fill     func(args []unsafe.Pointer)
}

type fakeProps struct {
	name string
	typ  NodeType
}

func newFakeLib() *fakeLib {
	return &fakeLib{
		nextHandle: 1,
		nodes:      make(map[string]uint64),
		props:      make(map[string]fakeProps),
		values:     make(map[string]string),
		regs:       make(map[uint32]uint32),
	}
}

func (f *fakeLib) record(format string, args ...interface{}) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeLib) callCount(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeLib) Open(url string) (uint64, error) {
	f.record("Open %s", url)
	if f.openErr != nil {
		return 0, f.openErr
	}
	h := f.nextHandle
	f.nextHandle++
	return h, nil
}

func (f *fakeLib) Close(h uint64) error {
	f.record("Close %d", h)
	return nil
}

func (f *fakeLib) GetDeviceTree(h uint64, buf []byte) (int, error) {
	f.record("GetDeviceTree %d", h)
	f.treeBufSizes = append(f.treeBufSizes, len(buf))
	copy(buf, f.tree)
	return len(f.tree), nil
}

func (f *fakeLib) GetChildHandles(h uint64, path string, out []uint64) (int, error) {
	f.record("GetChildHandles %d %q", h, path)
	f.childBufSizes = append(f.childBufSizes, len(out))
	copy(out, f.childHandles)
	return len(f.childHandles), nil
}

func (f *fakeLib) GetParentHandle(h uint64, path string) (uint64, error) {
	f.record("GetParentHandle %d %q", h, path)
	return f.lookup(path)
}

func (f *fakeLib) GetHandle(h uint64, path string) (uint64, error) {
	f.record("GetHandle %d %q", h, path)
	return f.lookup(path)
}

func (f *fakeLib) lookup(path string) (uint64, error) {
	if hh, ok := f.nodes[path]; ok {
		return hh, nil
	}
	hh := f.nextHandle
	f.nextHandle++
	f.nodes[path] = hh
	return hh, nil
}

func (f *fakeLib) GetPath(h uint64) (string, error) {
	f.record("GetPath %d", h)
	for p, hh := range f.nodes {
		if hh == h {
			return p, nil
		}
	}
	return "/", nil
}

func (f *fakeLib) GetNodeProperties(h uint64, path string) (string, NodeType, error) {
	f.record("GetNodeProperties %d %q", h, path)
	if p, ok := f.props[fmt.Sprintf("%d %s", h, path)]; ok {
		return p.name, p.typ, nil
	}
	return "node", ParameterNode, nil
}

func (f *fakeLib) GetValue(h uint64, path, arg string) (string, error) {
	f.record("GetValue %d %q %q", h, path, arg)
	return f.values[path], nil
}

func (f *fakeLib) SetValue(h uint64, path, value string) error {
	f.record("SetValue %d %q %q", h, path, value)
	f.values[path] = value
	return nil
}

func (f *fakeLib) GetUserRegister(h uint64, addr uint32) (uint32, error) {
	f.record("GetUserRegister %d %#x", h, addr)
	return f.regs[addr], nil
}

func (f *fakeLib) SetUserRegister(h uint64, addr, value uint32) error {
	f.record("SetUserRegister %d %#x %#x", h, addr, value)
	f.regs[addr] = value
	return nil
}

func (f *fakeLib) SendCommand(h uint64, path string) error {
	f.record("SendCommand %d %q", h, path)
	return nil
}

func (f *fakeLib) SetReadDataFormat(h uint64, format string) error {
	f.record("SetReadDataFormat %d", h)
	f.formats = append(f.formats, format)
	return nil
}

func (f *fakeLib) HasData(h uint64, timeoutMillis int) error {
	f.record("HasData %d %d", h, timeoutMillis)
	return f.hasDataErr
}

func (f *fakeLib) ReadData(h uint64, timeoutMillis int, args []unsafe.Pointer) error {
	f.record("ReadData %d %d", h, timeoutMillis)
	if len(f.readErrs) > 0 {
		err := f.readErrs[0]
		f.readErrs = f.readErrs[1:]
		if err != nil {
			return err
		}
	}
	if f.fill != nil {
		f.fill(args)
	}
	return nil
}
