// Package digitizer provides a generic HTTP interface to a waveform digitizer
package digitizer

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"strconv"
	"time"

	"github.com/astrogo/fitsio"
	"github.jpl.nasa.gov/bdube/godig/generichttp"
	"golang.org/x/time/rate"

	"github.com/go-chi/chi"
)

// ParameterStore describes a device with a string-typed parameter tree
type ParameterStore interface {
	// GetValue reads the parameter at an absolute path
	GetValue(path string) (string, error)

	// SetValue writes the parameter at an absolute path
	SetValue(path, value string) error
}

// Commander describes a device which executes named commands
type Commander interface {
	// SendCommand executes the command node at an absolute path
	SendCommand(path string) error
}

// RegisterAccessor describes a device with user-accessible registers
type RegisterAccessor interface {
	// GetUserRegister reads a 32-bit register
	GetUserRegister(addr uint32) (uint32, error)

	// SetUserRegister writes a 32-bit register
	SetUserRegister(addr, value uint32) error
}

// TreeDumper describes a device which can serialize its parameter tree
type TreeDumper interface {
	// DeviceTree returns the JSON document describing the tree
	DeviceTree() (json.RawMessage, error)
}

// Waveformer describes a device which acquires multi-channel waveforms
type Waveformer interface {
	// Waveforms acquires one event and returns its timestamp and one
	// sample record per channel
	Waveforms() (uint64, [][]uint16, error)
}

// ReadTimeouter describes a device with an adjustable data read timeout
type ReadTimeouter interface {
	// ReadTimeout returns the read timeout in milliseconds
	ReadTimeout() (int, error)

	// SetReadTimeout sets the read timeout in milliseconds
	SetReadTimeout(millis int) error
}

// Timebaser describes a device with a known sampling period
type Timebaser interface {
	// SamplePeriod returns the sampling period in nanoseconds
	SamplePeriod() (float64, error)
}

// Digitizer is the full feature set exposed over HTTP
type Digitizer interface {
	ParameterStore
	Commander
	RegisterAccessor
	TreeDumper
	Waveformer
}

// ValueT is a struct with path and value fields, used for json requests
type ValueT struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

// RegisterT is a struct with a single u32 field, used for json requests
type RegisterT struct {
	U32 uint32 `json:"u32"`
}

// waveformT is the json encoding of one acquired event
type waveformT struct {
	Timestamp uint64     `json:"timestamp"`
	Waveforms [][]uint16 `json:"waveforms"`
}

// HTTPDigitizer wraps a Digitizer in an HTTP route table
type HTTPDigitizer struct {
	// D is the digitizer being wrapped
	D Digitizer

	// Limiter throttles waveform acquisition, which monopolizes the
	// device's data path while it runs
	Limiter *rate.Limiter

	RouteTable generichttp.RouteTable
}

// NewHTTPDigitizer returns a new wrapper with the route table populated
func NewHTTPDigitizer(d Digitizer) HTTPDigitizer {
	w := HTTPDigitizer{D: d, Limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1)}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/value"}:  w.GetValue,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/value"}: w.SetValue,

		generichttp.MethodPath{Method: http.MethodPost, Path: "/cmd"}: w.SendCommand,

		generichttp.MethodPath{Method: http.MethodGet, Path: "/tree"}: w.DeviceTree,

		generichttp.MethodPath{Method: http.MethodGet, Path: "/register/{addr}"}:  w.GetRegister,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/register/{addr}"}: w.SetRegister,

		generichttp.MethodPath{Method: http.MethodGet, Path: "/waveforms"}: w.Waveforms,

		generichttp.MethodPath{Method: http.MethodGet, Path: "/waveforms/interval"}:  generichttp.GetFloat(w.acquisitionInterval),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/waveforms/interval"}: generichttp.SetFloat(w.setAcquisitionInterval),
	}
	if t, ok := d.(ReadTimeouter); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/read-timeout"}] = generichttp.GetInt(t.ReadTimeout)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/read-timeout"}] = generichttp.SetInt(t.SetReadTimeout)
	}
	if t, ok := d.(Timebaser); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/sample-period"}] = generichttp.GetFloat(t.SamplePeriod)
	}
	w.RouteTable = rt
	return w
}

// acquisitionInterval returns the minimum time between waveform
// acquisitions in seconds
func (h HTTPDigitizer) acquisitionInterval() (float64, error) {
	l := h.Limiter.Limit()
	if l <= 0 {
		return 0, nil
	}
	return 1 / float64(l), nil
}

// setAcquisitionInterval sets the minimum time between waveform
// acquisitions in seconds
func (h HTTPDigitizer) setAcquisitionInterval(seconds float64) error {
	if seconds <= 0 {
		return fmt.Errorf("interval must be positive, got %v", seconds)
	}
	h.Limiter.SetLimit(rate.Every(time.Duration(seconds * float64(time.Second))))
	return nil
}

// RT satisfies generichttp.HTTPer
func (h HTTPDigitizer) RT() generichttp.RouteTable {
	return h.RouteTable
}

// GetValue reads the parameter named in the path query parameter
func (h HTTPDigitizer) GetValue(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path query parameter is required", http.StatusBadRequest)
		return
	}
	v, err := h.D.GetValue(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := generichttp.HumanPayload{T: types.String, String: v}
	hp.EncodeAndRespond(w, r)
	return
}

// SetValue writes a parameter from a json body of {'path': ..., 'value': ...}
func (h HTTPDigitizer) SetValue(w http.ResponseWriter, r *http.Request) {
	v := ValueT{}
	err := json.NewDecoder(r.Body).Decode(&v)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if v.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	err = h.D.SetValue(v.Path, v.Value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SendCommand executes the command named in the path query parameter
func (h HTTPDigitizer) SendCommand(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path query parameter is required", http.StatusBadRequest)
		return
	}
	err := h.D.SendCommand(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// DeviceTree returns the device's parameter tree as JSON
func (h HTTPDigitizer) DeviceTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.D.DeviceTree()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(tree)
}

// regAddr parses the addr URL parameter; 0x-prefixed hex is accepted
func regAddr(r *http.Request) (uint32, error) {
	s := chi.URLParam(r, "addr")
	a, err := strconv.ParseUint(s, 0, 32)
	return uint32(a), err
}

// GetRegister reads the user register named in the URL
func (h HTTPDigitizer) GetRegister(w http.ResponseWriter, r *http.Request) {
	addr, err := regAddr(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	v, err := h.D.GetUserRegister(addr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(RegisterT{U32: v})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// SetRegister writes the user register named in the URL from a json
// body of {'u32': value}
func (h HTTPDigitizer) SetRegister(w http.ResponseWriter, r *http.Request) {
	addr, err := regAddr(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	v := RegisterT{}
	err = json.NewDecoder(r.Body).Decode(&v)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.D.SetUserRegister(addr, v.U32)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Waveforms acquires one event and returns it on a GET request.
//
// the format may be specified in the fmt query parameter; json (the
// default) encodes the event as {'timestamp': ..., 'waveforms': [[...]]},
// fits streams a FITS file with one image row per channel
func (h HTTPDigitizer) Waveforms(w http.ResponseWriter, r *http.Request) {
	if !h.Limiter.Allow() {
		http.Error(w, "waveform acquisition rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	ts, waves, err := h.D.Waveforms()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	format := r.URL.Query().Get("fmt")
	if format == "" {
		format = "json"
	}
	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
		err = json.NewEncoder(w).Encode(waveformT{Timestamp: ts, Waveforms: waves})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	case "fits":
		hdr := w.Header()
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", "attachment; filename=waveforms.fits")
		cards := []fitsio.Card{
			{Name: "BZERO", Value: 32768},
			{Name: "BSCALE", Value: 1.0},
			{Name: "TSTAMP", Value: strconv.FormatUint(ts, 10), Comment: "event timestamp, device clock ticks"},
		}
		err = writeFITS(w, cards, waves)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	default:
		http.Error(w, "fmt must be json or fits", http.StatusBadRequest)
	}
}

// writeFITS streams the event to w with one image row per channel
func writeFITS(w http.ResponseWriter, cards []fitsio.Card, waves [][]uint16) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	nch := len(waves)
	// channels report independent sizes; size the image by the longest
	samples := 0
	for _, wave := range waves {
		if len(wave) > samples {
			samples = len(wave)
		}
	}
	im := fitsio.NewImage(16, []int{samples, nch})
	defer im.Close()
	err = im.Header().Append(cards...)
	if err != nil {
		return err
	}
	// FITS has no unsigned 16-bit type; underflow wraps the way the
	// BZERO convention expects
	buf := make([]int16, nch*samples)
	for i := range buf {
		buf[i] = -32768 // raw zero pad for channels shorter than the longest
	}
	for i, wave := range waves {
		for j, samp := range wave {
			buf[i*samples+j] = int16(samp - 32768)
		}
	}
	err = im.Write(buf)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
