package felib

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorCodeString(t *testing.T) {
	cases := map[ErrorCode]string{
		Success:            "Success",
		GenericError:       "GenericError",
		Timeout:            "Timeout",
		Stop:               "Stop",
		InvalidHandle:      "InvalidHandle",
		CommunicationError: "CommunicationError",
		ErrorCode(-99):     "UnknownErrorCode(-99)",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("%d.String() = %q, expected %q", int(code), got, want)
		}
	}
}

func TestAPIErrorMessage(t *testing.T) {
	err := APIError{Code: DeviceNotFound, Op: "CAEN_FELib_Open", Desc: "no device at dig2://10.0.0.5"}
	msg := err.Error()
	for _, frag := range []string{"CAEN_FELib_Open", "DeviceNotFound", "no device at dig2://10.0.0.5"} {
		if !strings.Contains(msg, frag) {
			t.Errorf("message %q is missing %q", msg, frag)
		}
	}
}

func TestClassifiersSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("acquire: %w", APIError{Code: Timeout, Op: "CAEN_FELib_ReadData"})
	if !IsTimeout(wrapped) {
		t.Error("timeout not recognized through wrapping")
	}
	if IsStop(wrapped) || IsInvalidHandle(wrapped) {
		t.Error("timeout misclassified")
	}
	stop := fmt.Errorf("drain: %w", APIError{Code: Stop, Op: "CAEN_FELib_ReadData"})
	if !IsStop(stop) {
		t.Error("stop not recognized through wrapping")
	}
	if IsTimeout(errors.New("deadline exceeded")) {
		t.Error("foreign error classified as a timeout")
	}
	if IsTimeout(nil) || IsStop(nil) || IsInvalidHandle(nil) {
		t.Error("nil classified as a failure")
	}
}

func TestFieldErrorMessages(t *testing.T) {
	ut := ErrUnsupportedType{Field: "WAVEFORM", Type: "PTRDIFF_T"}
	if !strings.Contains(ut.Error(), "WAVEFORM") || !strings.Contains(ut.Error(), "PTRDIFF_T") {
		t.Errorf("message %q does not name the field and type", ut.Error())
	}
	sm := ErrShapeMismatch{Field: "WAVEFORM", Dim: 2, Shape: []int{64}}
	if !strings.Contains(sm.Error(), "WAVEFORM") {
		t.Errorf("message %q does not name the field", sm.Error())
	}
}
