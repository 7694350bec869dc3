// Package acq contains acquisition helpers for CAEN digitizers: connection
// with retry, the standard endpoint read formats, and a scope front-end
// usable from the HTTP layer.
package acq

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.jpl.nasa.gov/bdube/godig/felib"
)

// Connect opens the device at url, retrying with exponential backoff.
// Booting digitizers refuse connections for a few hundred milliseconds;
// thrashing them with immediate retries extends that window.
func Connect(url string) (*felib.Digitizer, error) {
	var d *felib.Digitizer
	op := func() error {
		var err error
		d, err = felib.Open(url)
		if err != nil && felib.IsInvalidHandle(err) {
			// not produced by Open; guard anyway
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, fmt.Errorf("connection to %s failed: %w", url, err)
	}
	return d, nil
}

// ScopeFormat is the read format for the scope endpoint with nch
// channels of reclen samples each.
func ScopeFormat(nch, reclen int) []felib.Field {
	return []felib.Field{
		{Name: "EVENT_SIZE", Type: felib.SizeT},
		{Name: "TIMESTAMP", Type: felib.U64},
		{Name: "WAVEFORM", Type: felib.U16, Dim: 2, Shape: []int{nch, reclen}},
		{Name: "WAVEFORM_SIZE", Type: felib.U64, Dim: 1, Shape: []int{nch}},
	}
}

// DPPPSDFormat is the read format for the dpppsd endpoint with the first
// analog and digital probes enabled, reclen samples each.
func DPPPSDFormat(reclen int) []felib.Field {
	return []felib.Field{
		{Name: "CHANNEL", Type: felib.U8},
		{Name: "TIMESTAMP", Type: felib.U64},
		{Name: "ENERGY", Type: felib.U16},
		{Name: "ANALOG_PROBE_1", Type: felib.I16, Dim: 1, Shape: []int{reclen}},
		{Name: "ANALOG_PROBE_1_TYPE", Type: felib.I32},
		{Name: "DIGITAL_PROBE_1", Type: felib.U8, Dim: 1, Shape: []int{reclen}},
		{Name: "DIGITAL_PROBE_1_TYPE", Type: felib.I32},
		{Name: "WAVEFORM_SIZE", Type: felib.SizeT},
	}
}

// Reader performs one blocking data read with a millisecond timeout.
type Reader interface {
	Read(timeoutMillis int) error
}

// Run drives a read loop until the acquisition stops.  Timeouts retry,
// a stop ends the loop cleanly, any other read error aborts.  onEvent
// runs after each successful read; returning an error from it aborts
// the loop as well.
func Run(r Reader, timeoutMillis int, onEvent func() error) error {
	for {
		err := r.Read(timeoutMillis)
		if felib.IsStop(err) {
			return nil
		}
		if felib.IsTimeout(err) {
			continue
		}
		if err != nil {
			return err
		}
		if err := onEvent(); err != nil {
			return err
		}
	}
}

// readUntilEvent reads until a read succeeds, retrying up to maxRetries
// timeouts before surfacing the last one to the caller.
func readUntilEvent(r Reader, timeoutMillis, maxRetries int) error {
	var err error
	for i := 0; i <= maxRetries; i++ {
		err = r.Read(timeoutMillis)
		if !felib.IsTimeout(err) {
			return err
		}
	}
	return err
}

// Scope wraps a digitizer running scope firmware.  It embeds the
// digitizer, so the full parameter/command/register/tree surface stays
// available, and adds one-call waveform acquisition on top.
type Scope struct {
	*felib.Digitizer

	// ReadTimeoutMillis is the per-read timeout used by Waveforms
	ReadTimeoutMillis int

	// MaxReadRetries bounds the timed-out reads Waveforms will retry
	// after a trigger; a stalled board then returns a timeout error
	// instead of blocking forever
	MaxReadRetries int

	// readMu serializes access to the format set's shared buffers
	readMu sync.Mutex

	nch            int
	samplePeriodNs int
	reclen         int
	fs             *felib.FormatSet
}

// NewScope queries the board geometry and returns an unconfigured scope.
// Configure must run before waveforms can be acquired.
func NewScope(d *felib.Digitizer) (*Scope, error) {
	s := &Scope{Digitizer: d, ReadTimeoutMillis: 100, MaxReadRetries: 50}
	v, err := d.GetValue("/par/NUMCH")
	if err != nil {
		return nil, err
	}
	s.nch, err = strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("NUMCH %q is not an integer: %w", v, err)
	}
	v, err = d.GetValue("/par/ADC_SAMPLRATE")
	if err != nil {
		return nil, err
	}
	msps, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("ADC_SAMPLRATE %q is not a number: %w", v, err)
	}
	s.samplePeriodNs = int(1e3 / msps)
	return s, nil
}

// NumChannels returns the channel count reported by the board.
func (s *Scope) NumChannels() int {
	return s.nch
}

// RecordLength returns the record length in samples, valid after
// Configure.
func (s *Scope) RecordLength() int {
	return s.reclen
}

// ReadTimeout returns the per-read timeout in milliseconds used by
// Waveforms.
func (s *Scope) ReadTimeout() (int, error) {
	return s.ReadTimeoutMillis, nil
}

// SetReadTimeout sets the per-read timeout in milliseconds used by
// Waveforms.
func (s *Scope) SetReadTimeout(millis int) error {
	if millis <= 0 {
		return fmt.Errorf("read timeout must be positive, got %d", millis)
	}
	s.ReadTimeoutMillis = millis
	return nil
}

// SamplePeriod returns the sampling period in nanoseconds.
func (s *Scope) SamplePeriod() (float64, error) {
	return float64(s.samplePeriodNs), nil
}

// Configure programs the acquisition window and registers the scope
// read format.  recordNs and pretriggerNs are in nanoseconds; the board
// rounds the record length, so it is read back to size the buffers.
func (s *Scope) Configure(recordNs, pretriggerNs int) error {
	err := s.SetValue("/par/RECORDLENGTHT", strconv.Itoa(recordNs))
	if err != nil {
		return err
	}
	err = s.SetValue("/par/PRETRIGGERT", strconv.Itoa(pretriggerNs))
	if err != nil {
		return err
	}
	// software triggers drive acquisition
	err = s.SetValue("/par/ACQTRIGGERSOURCE", "SWTRG")
	if err != nil {
		return err
	}
	v, err := s.GetValue("/par/RECORDLENGTHT")
	if err != nil {
		return err
	}
	roundedNs, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("RECORDLENGTHT %q is not an integer: %w", v, err)
	}
	s.reclen = roundedNs / s.samplePeriodNs

	endpoint, err := s.GetNode("/endpoint/scope")
	if err != nil {
		return err
	}
	fs, err := endpoint.SetReadDataFormat(ScopeFormat(s.nch, s.reclen))
	if err != nil {
		return err
	}
	if s.fs != nil {
		s.fs.Free()
	}
	s.fs = fs
	return s.SetValue("/endpoint/par/activeendpoint", "scope")
}

// Arm starts the acquisition.
func (s *Scope) Arm() error {
	err := s.SendCommand("/cmd/ARMACQUISITION")
	if err != nil {
		return err
	}
	return s.SendCommand("/cmd/SWSTARTACQUISITION")
}

// Trigger sends one software trigger.
func (s *Scope) Trigger() error {
	return s.SendCommand("/cmd/SENDSWTRIGGER")
}

// Disarm stops the acquisition.
func (s *Scope) Disarm() error {
	return s.SendCommand("/cmd/DISARMACQUISITION")
}

// Read performs one data read into the scope's buffers; it satisfies
// Reader so the scope can drive Run.
func (s *Scope) Read(timeoutMillis int) error {
	if s.fs == nil {
		return fmt.Errorf("scope is not configured")
	}
	return s.fs.Read(timeoutMillis)
}

// Waveforms triggers and reads one event, returning its timestamp and
// one copied sample record per channel, trimmed to the valid length.
// The copy decouples callers from the next read.
func (s *Scope) Waveforms() (uint64, [][]uint16, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if s.fs == nil {
		return 0, nil, fmt.Errorf("scope is not configured")
	}
	if err := s.Trigger(); err != nil {
		return 0, nil, err
	}
	if err := readUntilEvent(s.fs, s.ReadTimeoutMillis, s.MaxReadRetries); err != nil {
		return 0, nil, err
	}
	ts := s.fs.Buffer("TIMESTAMP").Uint64s()[0]
	sizes := s.fs.Buffer("WAVEFORM_SIZE").Uint64s()
	matrix := s.fs.Buffer("WAVEFORM").Uint16Matrix()
	out := make([][]uint16, len(matrix))
	for i, row := range matrix {
		n := int(sizes[i])
		if n > len(row) {
			n = len(row)
		}
		out[i] = append([]uint16(nil), row[:n]...)
	}
	return ts, out, nil
}
