package felib

/*
#cgo CFLAGS: -I/usr/local/include
#cgo LDFLAGS: -L/usr/local/lib -lCAEN_FELib
#include <stdlib.h>
#include <string.h>
#include <CAEN_FELib.h>
#include "readdata.h"
*/
import "C"

import (
	"encoding/json"
	"unsafe"
)

// fixed buffer sizes from the CAEN FELib API contract
const (
	versionLen = 16
	nameLen    = 32
	valueLen   = 256
	pathLen    = 256
	errDescLen = 256
	lastErrLen = 1024
)

// maxReadFields caps the arity of the ReadData forwarding shim.
const maxReadFields = C.FELIB_MAX_READ_ARGS

// api is the foreign function table: every CAEN_FELib entry point this
// package consumes, reduced to Go signatures.  The only implementation
// used outside of tests is cLib.
type api interface {
	Open(url string) (uint64, error)
	Close(h uint64) error
	GetDeviceTree(h uint64, buf []byte) (int, error)
	GetChildHandles(h uint64, path string, out []uint64) (int, error)
	GetParentHandle(h uint64, path string) (uint64, error)
	GetHandle(h uint64, path string) (uint64, error)
	GetPath(h uint64) (string, error)
	GetNodeProperties(h uint64, path string) (string, NodeType, error)
	GetValue(h uint64, path, arg string) (string, error)
	SetValue(h uint64, path, value string) error
	GetUserRegister(h uint64, addr uint32) (uint32, error)
	SetUserRegister(h uint64, addr, value uint32) error
	SendCommand(h uint64, path string) error
	SetReadDataFormat(h uint64, format string) error
	HasData(h uint64, timeoutMillis int) error
	ReadData(h uint64, timeoutMillis int, args []unsafe.Pointer) error
}

// cLib implements api by calling into the shared library.
type cLib struct{}

var lib api = cLib{}

// errCheck converts a negative status into an APIError carrying the
// library's last-error description.  Non-negative statuses are not errors;
// positive values are required buffer sizes on the two calls whose
// contract uses them.
func errCheck(op string, res C.int) error {
	if res >= 0 {
		return nil
	}
	return APIError{Code: ErrorCode(res), Op: op, Desc: LastError()}
}

// cstrOpt converts path to a C string, mapping "" to NULL, which the
// library interprets as "this node".  The caller owns the result.
func cstrOpt(s string) *C.char {
	if s == "" {
		return nil
	}
	return C.CString(s)
}

func freeOpt(p *C.char) {
	if p != nil {
		C.free(unsafe.Pointer(p))
	}
}

func (cLib) Open(url string) (uint64, error) {
	curl := C.CString(url)
	defer C.free(unsafe.Pointer(curl))
	var h C.uint64_t
	err := errCheck("CAEN_FELib_Open", C.int(C.CAEN_FELib_Open(curl, &h)))
	return uint64(h), err
}

func (cLib) Close(h uint64) error {
	return errCheck("CAEN_FELib_Close", C.int(C.CAEN_FELib_Close(C.uint64_t(h))))
}

func (cLib) GetDeviceTree(h uint64, buf []byte) (int, error) {
	var ptr *C.char
	if len(buf) > 0 {
		ptr = (*C.char)(unsafe.Pointer(&buf[0]))
	}
	res := C.int(C.CAEN_FELib_GetDeviceTree(C.uint64_t(h), ptr, C.size_t(len(buf))))
	if err := errCheck("CAEN_FELib_GetDeviceTree", res); err != nil {
		return 0, err
	}
	return int(res), nil
}

func (cLib) GetChildHandles(h uint64, path string, out []uint64) (int, error) {
	cpath := cstrOpt(path)
	defer freeOpt(cpath)
	var ptr *C.uint64_t
	if len(out) > 0 {
		ptr = (*C.uint64_t)(unsafe.Pointer(&out[0]))
	}
	res := C.int(C.CAEN_FELib_GetChildHandles(C.uint64_t(h), cpath, ptr, C.size_t(len(out))))
	if err := errCheck("CAEN_FELib_GetChildHandles", res); err != nil {
		return 0, err
	}
	return int(res), nil
}

func (cLib) GetParentHandle(h uint64, path string) (uint64, error) {
	cpath := cstrOpt(path)
	defer freeOpt(cpath)
	var out C.uint64_t
	err := errCheck("CAEN_FELib_GetParentHandle", C.int(C.CAEN_FELib_GetParentHandle(C.uint64_t(h), cpath, &out)))
	return uint64(out), err
}

func (cLib) GetHandle(h uint64, path string) (uint64, error) {
	cpath := cstrOpt(path)
	defer freeOpt(cpath)
	var out C.uint64_t
	err := errCheck("CAEN_FELib_GetHandle", C.int(C.CAEN_FELib_GetHandle(C.uint64_t(h), cpath, &out)))
	return uint64(out), err
}

func (cLib) GetPath(h uint64) (string, error) {
	buf := make([]C.char, pathLen)
	err := errCheck("CAEN_FELib_GetPath", C.int(C.CAEN_FELib_GetPath(C.uint64_t(h), &buf[0])))
	if err != nil {
		return "", err
	}
	return C.GoString(&buf[0]), nil
}

func (cLib) GetNodeProperties(h uint64, path string) (string, NodeType, error) {
	cpath := cstrOpt(path)
	defer freeOpt(cpath)
	buf := make([]C.char, nameLen)
	var typ C.CAEN_FELib_NodeType_t
	err := errCheck("CAEN_FELib_GetNodeProperties", C.int(C.CAEN_FELib_GetNodeProperties(C.uint64_t(h), cpath, &buf[0], &typ)))
	if err != nil {
		return "", UnknownNode, err
	}
	return C.GoString(&buf[0]), NodeType(typ), nil
}

func (cLib) GetValue(h uint64, path, arg string) (string, error) {
	cpath := cstrOpt(path)
	defer freeOpt(cpath)
	buf := make([]C.char, valueLen)
	// GetValue reads some arguments through the value buffer as well as
	// writing the result there
	if arg != "" {
		carg := C.CString(arg)
		C.strncpy(&buf[0], carg, valueLen-1)
		C.free(unsafe.Pointer(carg))
	}
	err := errCheck("CAEN_FELib_GetValue", C.int(C.CAEN_FELib_GetValue(C.uint64_t(h), cpath, &buf[0])))
	if err != nil {
		return "", err
	}
	return C.GoString(&buf[0]), nil
}

func (cLib) SetValue(h uint64, path, value string) error {
	cpath := cstrOpt(path)
	defer freeOpt(cpath)
	cval := C.CString(value)
	defer C.free(unsafe.Pointer(cval))
	return errCheck("CAEN_FELib_SetValue", C.int(C.CAEN_FELib_SetValue(C.uint64_t(h), cpath, cval)))
}

func (cLib) GetUserRegister(h uint64, addr uint32) (uint32, error) {
	var out C.uint32_t
	err := errCheck("CAEN_FELib_GetUserRegister", C.int(C.CAEN_FELib_GetUserRegister(C.uint64_t(h), C.uint32_t(addr), &out)))
	return uint32(out), err
}

func (cLib) SetUserRegister(h uint64, addr, value uint32) error {
	return errCheck("CAEN_FELib_SetUserRegister", C.int(C.CAEN_FELib_SetUserRegister(C.uint64_t(h), C.uint32_t(addr), C.uint32_t(value))))
}

func (cLib) SendCommand(h uint64, path string) error {
	cpath := cstrOpt(path)
	defer freeOpt(cpath)
	return errCheck("CAEN_FELib_SendCommand", C.int(C.CAEN_FELib_SendCommand(C.uint64_t(h), cpath)))
}

func (cLib) SetReadDataFormat(h uint64, format string) error {
	cfmt := C.CString(format)
	defer C.free(unsafe.Pointer(cfmt))
	return errCheck("CAEN_FELib_SetReadDataFormat", C.int(C.CAEN_FELib_SetReadDataFormat(C.uint64_t(h), cfmt)))
}

func (cLib) HasData(h uint64, timeoutMillis int) error {
	return errCheck("CAEN_FELib_HasData", C.int(C.CAEN_FELib_HasData(C.uint64_t(h), C.int(timeoutMillis))))
}

func (cLib) ReadData(h uint64, timeoutMillis int, args []unsafe.Pointer) error {
	var ptr *unsafe.Pointer
	if len(args) > 0 {
		ptr = &args[0]
	}
	return errCheck("CAEN_FELib_ReadData", C.FELibReadData(C.uint64_t(h), C.int(timeoutMillis), ptr, C.int(len(args))))
}

// LastError returns the library's description of the last error occurred
// on the calling thread.  The empty string is returned if the description
// itself cannot be fetched.
func LastError() string {
	buf := make([]C.char, lastErrLen)
	if C.CAEN_FELib_GetLastError(&buf[0]) != 0 {
		return ""
	}
	return C.GoString(&buf[0])
}

// LibVersion returns the version of the loaded CAEN FELib.
func LibVersion() (string, error) {
	buf := make([]C.char, versionLen)
	err := errCheck("CAEN_FELib_GetLibVersion", C.int(C.CAEN_FELib_GetLibVersion(&buf[0])))
	if err != nil {
		return "", err
	}
	return C.GoString(&buf[0]), nil
}

// ErrorName returns the library's symbolic name for a code.
func ErrorName(code ErrorCode) (string, error) {
	buf := make([]C.char, nameLen)
	err := errCheck("CAEN_FELib_GetErrorName", C.int(C.CAEN_FELib_GetErrorName(C.CAEN_FELib_ErrorCode(code), &buf[0])))
	if err != nil {
		return "", err
	}
	return C.GoString(&buf[0]), nil
}

// ErrorDescription returns the library's human description for a code.
func ErrorDescription(code ErrorCode) (string, error) {
	buf := make([]C.char, errDescLen)
	err := errCheck("CAEN_FELib_GetErrorDescription", C.int(C.CAEN_FELib_GetErrorDescription(C.CAEN_FELib_ErrorCode(code), &buf[0])))
	if err != nil {
		return "", err
	}
	return C.GoString(&buf[0]), nil
}

// LibInfo returns the library's self-description as JSON.  The call
// reports the required size when the provided buffer is too small; one
// regrow-and-retry is sufficient because the reported size is exact.
func LibInfo() (json.RawMessage, error) {
	size := 1 << 16
	for {
		buf := make([]C.char, size)
		res := C.int(C.CAEN_FELib_GetLibInfo(&buf[0], C.size_t(size)))
		if err := errCheck("CAEN_FELib_GetLibInfo", res); err != nil {
			return nil, err
		}
		// equal is not fine: the terminator needs a byte
		if int(res) < size {
			return json.RawMessage(C.GoString(&buf[0])), nil
		}
		size = int(res) + 1
	}
}

// DevicesDiscovery scans for reachable digitizers and returns the result
// as JSON.  timeoutMillis bounds the scan.
func DevicesDiscovery(timeoutMillis int) (json.RawMessage, error) {
	const size = 1 << 20
	buf := make([]C.char, size)
	err := errCheck("CAEN_FELib_DevicesDiscovery", C.int(C.CAEN_FELib_DevicesDiscovery(&buf[0], C.size_t(size), C.int(timeoutMillis))))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(C.GoString(&buf[0])), nil
}
