package felib

/*
#include <stdlib.h>
#include "readdata.h"
*/
import "C"

import (
	"reflect"
	"unsafe"
)

// ScalarType identifies the C element type of a field, spelled the way the
// library's JSON format parser expects.
type ScalarType string

// Scalar types accepted by SetReadDataFormat.  PTRDIFF_T is part of the
// library's format grammar but is not supported here: Go has no primitive
// guaranteed to match its width on every platform.
const (
	U8         ScalarType = "U8"
	U16        ScalarType = "U16"
	U32        ScalarType = "U32"
	U64        ScalarType = "U64"
	I8         ScalarType = "I8"
	I16        ScalarType = "I16"
	I32        ScalarType = "I32"
	I64        ScalarType = "I64"
	Char       ScalarType = "CHAR"
	Bool       ScalarType = "BOOL"
	SizeT      ScalarType = "SIZE_T"
	Float      ScalarType = "FLOAT"
	Double     ScalarType = "DOUBLE"
	LongDouble ScalarType = "LONG DOUBLE"
)

// scalarSizes maps each supported type to its C ABI width in bytes.  The
// platform-dependent widths come from the C compiler, not from guesses;
// a mismatch here corrupts memory silently during ReadData.
var scalarSizes = map[ScalarType]int{
	U8:         1,
	U16:        2,
	U32:        4,
	U64:        8,
	I8:         1,
	I16:        2,
	I32:        4,
	I64:        8,
	Char:       1,
	Bool:       C.FELIB_SIZEOF_BOOL,
	SizeT:      C.FELIB_SIZEOF_SIZE_T,
	Float:      4,
	Double:     8,
	LongDouble: C.FELIB_SIZEOF_LONG_DOUBLE,
}

// Size returns the element width of t in bytes, or 0 if t is unsupported.
func (t ScalarType) Size() int {
	return scalarSizes[t]
}

// Field declares one member of the event record filled by each ReadData
// call.  Name and Type follow the endpoint's documented format; Shape is a
// binding-side extension used only to size the local buffers and is
// ignored by the library's own JSON parser.
type Field struct {
	Name  string     `json:"name"`
	Type  ScalarType `json:"type"`
	Dim   int        `json:"dim,omitempty"`
	Shape []int      `json:"shape,omitempty"`
}

// validate enforces the constructability invariants: known scalar type,
// rank 0..2, len(Shape) == Dim, non-negative extents.
func (f Field) validate() error {
	if _, ok := scalarSizes[f.Type]; !ok {
		return ErrUnsupportedType{Field: f.Name, Type: f.Type}
	}
	if f.Dim < 0 || f.Dim > 2 || len(f.Shape) != f.Dim {
		return ErrShapeMismatch{Field: f.Name, Dim: f.Dim, Shape: f.Shape}
	}
	for _, extent := range f.Shape {
		if extent < 0 {
			return ErrShapeMismatch{Field: f.Name, Dim: f.Dim, Shape: f.Shape}
		}
	}
	return nil
}

// Buffer owns the native allocation backing one Field.  The storage is
// C-allocated so its address is stable and it may legally hold the row
// pointers ReadData dereferences.
type Buffer struct {
	field    Field
	elemSize int

	// n is the total element count; a single element for rank 0
	n   int
	ptr unsafe.Pointer

	// rank 2 only: the native call expects an array of row pointers
	// rather than one contiguous block, so the buffer also owns a proxy
	// array of rows row-start addresses
	rows      int
	cols      int
	proxy     unsafe.Pointer
	proxyBase unsafe.Pointer
}

func newBuffer(f Field) *Buffer {
	b := &Buffer{field: f, elemSize: f.Type.Size(), n: 1}
	for _, extent := range f.Shape {
		b.n *= extent
	}
	if b.n > 0 {
		b.ptr = C.calloc(C.size_t(b.n), C.size_t(b.elemSize))
	}
	if f.Dim == 2 {
		b.rows, b.cols = f.Shape[0], f.Shape[1]
		if b.rows > 0 {
			b.proxy = C.calloc(C.size_t(b.rows), C.size_t(unsafe.Sizeof(uintptr(0))))
		}
		b.rebuildProxy()
	}
	return b
}

// rebuildProxy refreshes the row-proxy array so that proxy[i] is the
// address of row i of the primary buffer.
func (b *Buffer) rebuildProxy() {
	b.proxyBase = b.ptr
	if b.proxy == nil {
		return
	}
	rowBytes := uintptr(b.cols * b.elemSize)
	rows := (*[1 << 28]unsafe.Pointer)(b.proxy)[:b.rows:b.rows]
	for i := range rows {
		rows[i] = unsafe.Pointer(uintptr(b.ptr) + uintptr(i)*rowBytes)
	}
}

// arg is the address ReadData receives for this field: the primary buffer
// for rank < 2, the row-proxy array for rank 2.  The proxy is regenerated
// if the primary base moved since it was built; in practice buffers are
// allocated once and never move, but the contract must hold regardless.
func (b *Buffer) arg() unsafe.Pointer {
	if b.field.Dim < 2 {
		return b.ptr
	}
	if b.proxyBase != b.ptr {
		b.rebuildProxy()
	}
	return b.proxy
}

func (b *Buffer) free() {
	if b.ptr != nil {
		C.free(b.ptr)
		b.ptr = nil
	}
	if b.proxy != nil {
		C.free(b.proxy)
		b.proxy = nil
	}
	b.n = 0
}

// Field returns the declaration this buffer backs.
func (b *Buffer) Field() Field {
	return b.field
}

// Name returns the field name this buffer backs.
func (b *Buffer) Name() string {
	return b.field.Name
}

// Len returns the total element count of the primary buffer.
func (b *Buffer) Len() int {
	return b.n
}

// slice builds a Go view of the primary allocation with the given element
// count.  The view aliases native memory; it is valid until free.
func (b *Buffer) slice(out unsafe.Pointer, n int) {
	hdr := (*reflect.SliceHeader)(out)
	hdr.Data = uintptr(b.ptr)
	hdr.Len = n
	hdr.Cap = n
}

// Bytes views the primary buffer as raw bytes.  All views are
// memory-transparent: no conversion or copying is performed, and the
// caller is responsible for choosing the view that matches the declared
// scalar type.
func (b *Buffer) Bytes() []byte {
	if b.ptr == nil {
		return nil
	}
	var s []byte
	b.slice(unsafe.Pointer(&s), b.n*b.elemSize)
	return s
}

// Uint8s views the primary buffer as uint8 elements.
func (b *Buffer) Uint8s() []uint8 {
	if b.ptr == nil {
		return nil
	}
	var s []uint8
	b.slice(unsafe.Pointer(&s), b.n)
	return s
}

// Uint16s views the primary buffer as uint16 elements.
func (b *Buffer) Uint16s() []uint16 {
	if b.ptr == nil {
		return nil
	}
	var s []uint16
	b.slice(unsafe.Pointer(&s), b.n)
	return s
}

// Uint32s views the primary buffer as uint32 elements.
func (b *Buffer) Uint32s() []uint32 {
	if b.ptr == nil {
		return nil
	}
	var s []uint32
	b.slice(unsafe.Pointer(&s), b.n)
	return s
}

// Uint64s views the primary buffer as uint64 elements.
func (b *Buffer) Uint64s() []uint64 {
	if b.ptr == nil {
		return nil
	}
	var s []uint64
	b.slice(unsafe.Pointer(&s), b.n)
	return s
}

// Int16s views the primary buffer as int16 elements.
func (b *Buffer) Int16s() []int16 {
	if b.ptr == nil {
		return nil
	}
	var s []int16
	b.slice(unsafe.Pointer(&s), b.n)
	return s
}

// Int32s views the primary buffer as int32 elements.
func (b *Buffer) Int32s() []int32 {
	if b.ptr == nil {
		return nil
	}
	var s []int32
	b.slice(unsafe.Pointer(&s), b.n)
	return s
}

// Int64s views the primary buffer as int64 elements.
func (b *Buffer) Int64s() []int64 {
	if b.ptr == nil {
		return nil
	}
	var s []int64
	b.slice(unsafe.Pointer(&s), b.n)
	return s
}

// SizeTs views the primary buffer as size_t elements.  Go's uint matches
// size_t on every platform the library ships for (LP64 and LLP64 both
// have 8-byte size_t with 8-byte Go uint on 64-bit builds).
func (b *Buffer) SizeTs() []uint {
	if b.ptr == nil {
		return nil
	}
	var s []uint
	b.slice(unsafe.Pointer(&s), b.n)
	return s
}

// Float32s views the primary buffer as float32 elements.
func (b *Buffer) Float32s() []float32 {
	if b.ptr == nil {
		return nil
	}
	var s []float32
	b.slice(unsafe.Pointer(&s), b.n)
	return s
}

// Float64s views the primary buffer as float64 elements.
func (b *Buffer) Float64s() []float64 {
	if b.ptr == nil {
		return nil
	}
	var s []float64
	b.slice(unsafe.Pointer(&s), b.n)
	return s
}

// Row views row i of a rank-2 buffer as raw bytes.
func (b *Buffer) Row(i int) []byte {
	if b.field.Dim != 2 || i < 0 || i >= b.rows {
		return nil
	}
	rowBytes := b.cols * b.elemSize
	return b.Bytes()[i*rowBytes : (i+1)*rowBytes]
}

// Uint16Matrix views a rank-2 U16/I16-sized buffer as one row slice per
// outer extent.  The rows alias the primary buffer.
func (b *Buffer) Uint16Matrix() [][]uint16 {
	if b.field.Dim != 2 {
		return nil
	}
	flat := b.Uint16s()
	out := make([][]uint16, b.rows)
	for i := range out {
		out[i] = flat[i*b.cols : (i+1)*b.cols]
	}
	return out
}

// FormatSet is the compiled pairing of field declarations and native
// buffers for one registered read format.  Order is significant: the
// variadic native call receives buffer addresses positionally in the same
// order the fields were declared.
type FormatSet struct {
	node  Node
	bufs  []*Buffer
	args  []unsafe.Pointer
	freed bool
}

// Buffers returns the compiled buffers in declaration order.
func (fs *FormatSet) Buffers() []*Buffer {
	return fs.bufs
}

// Buffer returns the buffer backing the named field, or nil if the name
// was not part of the registered format.
func (fs *FormatSet) Buffer(name string) *Buffer {
	for _, b := range fs.bufs {
		if b.field.Name == name {
			return b
		}
	}
	return nil
}

// argList computes the positional address sequence for the native call.
func (fs *FormatSet) argList() []unsafe.Pointer {
	for i, b := range fs.bufs {
		fs.args[i] = b.arg()
	}
	return fs.args
}

// Read performs one data read into the set's buffers, in place.  A
// timeout of -1 blocks until an event arrives.  On Timeout the caller
// should retry; on Stop the acquisition ended and the read loop should
// terminate.  No new objects are returned: the buffers already hold the
// latest event afterwards.
func (fs *FormatSet) Read(timeoutMillis int) error {
	if err := fs.node.valid("CAEN_FELib_ReadData"); err != nil {
		return err
	}
	if fs.freed {
		return APIError{Code: InvalidHandle, Op: "CAEN_FELib_ReadData", Desc: "format set released"}
	}
	return fs.node.dig.a.ReadData(fs.node.h, timeoutMillis, fs.argList())
}

// Free releases the native allocations.  It is idempotent and is also
// invoked by the owning Digitizer's Close.
func (fs *FormatSet) Free() {
	if fs.freed {
		return
	}
	if fs.node.dig != nil {
		fs.node.dig.untrack(fs)
	}
	fs.release()
}

// release frees the buffers without touching the owner's bookkeeping;
// Close has already dropped the tracking list when it calls this.
func (fs *FormatSet) release() {
	if fs.freed {
		return
	}
	fs.freed = true
	for _, b := range fs.bufs {
		b.free()
	}
}
