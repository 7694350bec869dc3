package digitizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"
	"github.jpl.nasa.gov/bdube/godig/generichttp"
	"golang.org/x/time/rate"
)

// tunableFakeDevice adds the optional timeout and timebase surfaces
type tunableFakeDevice struct {
	*fakeDevice
	timeoutMillis int
}

func (f *tunableFakeDevice) ReadTimeout() (int, error) {
	return f.timeoutMillis, nil
}

func (f *tunableFakeDevice) SetReadTimeout(millis int) error {
	if millis <= 0 {
		return errors.New("timeout must be positive")
	}
	f.timeoutMillis = millis
	return nil
}

func (f *tunableFakeDevice) SamplePeriod() (float64, error) {
	return 8, nil
}

type fakeDevice struct {
	values map[string]string
	regs   map[uint32]uint32
	cmds   []string
	waves  [][]uint16
	ts     uint64
	err    error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		values: make(map[string]string),
		regs:   make(map[uint32]uint32),
		ts:     42,
		waves:  [][]uint16{{1, 2, 3}, {4, 5, 6}},
	}
}

func (f *fakeDevice) GetValue(path string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.values[path], nil
}

func (f *fakeDevice) SetValue(path, value string) error {
	if f.err != nil {
		return f.err
	}
	f.values[path] = value
	return nil
}

func (f *fakeDevice) SendCommand(path string) error {
	f.cmds = append(f.cmds, path)
	return f.err
}

func (f *fakeDevice) GetUserRegister(addr uint32) (uint32, error) {
	return f.regs[addr], f.err
}

func (f *fakeDevice) SetUserRegister(addr, value uint32) error {
	f.regs[addr] = value
	return f.err
}

func (f *fakeDevice) DeviceTree() (json.RawMessage, error) {
	return json.RawMessage(`{"par":{}}`), f.err
}

func (f *fakeDevice) Waveforms() (uint64, [][]uint16, error) {
	return f.ts, f.waves, f.err
}

func setup(t *testing.T) (*fakeDevice, *httptest.Server) {
	t.Helper()
	dev := newFakeDevice()
	h := NewHTTPDigitizer(dev)
	mux := chi.NewRouter()
	h.RT().Bind(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return dev, srv
}

func TestValueRoundTrip(t *testing.T) {
	dev, srv := setup(t)
	body, _ := json.Marshal(ValueT{Path: "/par/RecordLengthT", Value: "512"})
	resp, err := http.Post(srv.URL+"/value", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /value returned %d", resp.StatusCode)
	}
	if dev.values["/par/RecordLengthT"] != "512" {
		t.Error("value did not reach the device")
	}

	resp, err = http.Get(srv.URL + "/value?path=/par/RecordLengthT")
	if err != nil {
		t.Fatal(err)
	}
	var s struct {
		Str string `json:"str"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if s.Str != "512" {
		t.Errorf("GET /value returned %q, expected 512", s.Str)
	}
}

func TestValueRequiresPath(t *testing.T) {
	_, srv := setup(t)
	resp, err := http.Get(srv.URL + "/value")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("GET /value without path returned %d, expected 400", resp.StatusCode)
	}
}

func TestSendCommand(t *testing.T) {
	dev, srv := setup(t)
	resp, err := http.Post(srv.URL+"/cmd?path=/cmd/ArmAcquisition", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /cmd returned %d", resp.StatusCode)
	}
	if len(dev.cmds) != 1 || dev.cmds[0] != "/cmd/ArmAcquisition" {
		t.Errorf("device saw commands %v", dev.cmds)
	}
}

func TestDeviceTree(t *testing.T) {
	_, srv := setup(t)
	resp, err := http.Get(srv.URL + "/tree")
	if err != nil {
		t.Fatal(err)
	}
	var tree map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&tree); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if _, ok := tree["par"]; !ok {
		t.Errorf("tree %v missing par", tree)
	}
}

func TestRegisterRoundTrip(t *testing.T) {
	dev, srv := setup(t)
	body, _ := json.Marshal(RegisterT{U32: 0xbeef})
	resp, err := http.Post(srv.URL+"/register/0x1080", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /register returned %d", resp.StatusCode)
	}
	if dev.regs[0x1080] != 0xbeef {
		t.Errorf("register holds %#x, expected 0xbeef", dev.regs[0x1080])
	}

	resp, err = http.Get(srv.URL + "/register/4224")
	if err != nil {
		t.Fatal(err)
	}
	var reg RegisterT
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if reg.U32 != 0xbeef {
		t.Errorf("read back %#x, expected 0xbeef; hex and decimal addresses should alias", reg.U32)
	}
}

func TestRegisterBadAddress(t *testing.T) {
	_, srv := setup(t)
	resp, err := http.Get(srv.URL + "/register/zz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad address returned %d, expected 400", resp.StatusCode)
	}
}

func TestWaveformsJSON(t *testing.T) {
	dev, srv := setup(t)
	resp, err := http.Get(srv.URL + "/waveforms")
	if err != nil {
		t.Fatal(err)
	}
	var wt waveformT
	if err := json.NewDecoder(resp.Body).Decode(&wt); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if wt.Timestamp != dev.ts {
		t.Errorf("timestamp %d, expected %d", wt.Timestamp, dev.ts)
	}
	if diff := cmp.Diff(dev.waves, wt.Waveforms); diff != "" {
		t.Errorf("waveform mismatch (-want +got):\n%s", diff)
	}
}

func TestWaveformsFITS(t *testing.T) {
	dev := newFakeDevice()
	h := NewHTTPDigitizer(dev)
	req := httptest.NewRequest(http.MethodGet, "/waveforms?fmt=fits", nil)
	w := httptest.NewRecorder()
	h.Waveforms(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("fits request returned %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/fits" {
		t.Errorf("content type %q, expected image/fits", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("SIMPLE")) {
		t.Error("body does not begin with a FITS primary header")
	}
}

func TestWaveformsFITSJaggedRows(t *testing.T) {
	dev := newFakeDevice()
	// per-channel sizes legitimately differ; the first row may be empty
	dev.waves = [][]uint16{{}, {3, 4, 5, 6}}
	h := NewHTTPDigitizer(dev)
	req := httptest.NewRequest(http.MethodGet, "/waveforms?fmt=fits", nil)
	w := httptest.NewRecorder()
	h.Waveforms(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("jagged event returned %d: %s", w.Code, w.Body.String())
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("SIMPLE")) {
		t.Error("body does not begin with a FITS primary header")
	}
}

func TestAcquisitionIntervalRoundTrip(t *testing.T) {
	_, srv := setup(t)
	body, _ := json.Marshal(generichttp.FloatT{F64: 0.5})
	resp, err := http.Post(srv.URL+"/waveforms/interval", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /waveforms/interval returned %d", resp.StatusCode)
	}
	resp, err = http.Get(srv.URL + "/waveforms/interval")
	if err != nil {
		t.Fatal(err)
	}
	var f generichttp.FloatT
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if f.F64 != 0.5 {
		t.Errorf("interval read back %v, expected 0.5", f.F64)
	}
}

func TestReadTimeoutRoundTrip(t *testing.T) {
	dev := &tunableFakeDevice{fakeDevice: newFakeDevice(), timeoutMillis: 100}
	h := NewHTTPDigitizer(dev)
	mux := chi.NewRouter()
	h.RT().Bind(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	body, _ := json.Marshal(generichttp.IntT{Int: 250})
	resp, err := http.Post(srv.URL+"/read-timeout", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /read-timeout returned %d", resp.StatusCode)
	}
	if dev.timeoutMillis != 250 {
		t.Errorf("device timeout %d, expected 250", dev.timeoutMillis)
	}
	resp, err = http.Get(srv.URL + "/read-timeout")
	if err != nil {
		t.Fatal(err)
	}
	var i generichttp.IntT
	if err := json.NewDecoder(resp.Body).Decode(&i); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if i.Int != 250 {
		t.Errorf("timeout read back %d, expected 250", i.Int)
	}
}

func TestSamplePeriodRoute(t *testing.T) {
	dev := &tunableFakeDevice{fakeDevice: newFakeDevice(), timeoutMillis: 100}
	h := NewHTTPDigitizer(dev)
	mux := chi.NewRouter()
	h.RT().Bind(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	resp, err := http.Get(srv.URL + "/sample-period")
	if err != nil {
		t.Fatal(err)
	}
	var f generichttp.FloatT
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if f.F64 != 8 {
		t.Errorf("sample period %v, expected 8", f.F64)
	}
}

func TestBasicDeviceHasNoTimeoutRoutes(t *testing.T) {
	_, srv := setup(t)
	resp, err := http.Get(srv.URL + "/read-timeout")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed && resp.StatusCode != http.StatusNotFound {
		t.Errorf("device without a read timeout served the route (%d)", resp.StatusCode)
	}
}

func TestWaveformsBadFormat(t *testing.T) {
	_, srv := setup(t)
	resp, err := http.Get(srv.URL + "/waveforms?fmt=tiff")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown format returned %d, expected 400", resp.StatusCode)
	}
}

func TestWaveformsRateLimited(t *testing.T) {
	dev := newFakeDevice()
	h := NewHTTPDigitizer(dev)
	h.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	first := httptest.NewRecorder()
	h.Waveforms(first, httptest.NewRequest(http.MethodGet, "/waveforms", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request returned %d", first.Code)
	}
	second := httptest.NewRecorder()
	h.Waveforms(second, httptest.NewRequest(http.MethodGet, "/waveforms", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second request returned %d, expected 429", second.Code)
	}
}

func TestDeviceErrorsAre500s(t *testing.T) {
	dev, srv := setup(t)
	dev.err = errors.New("communication lost")
	resp, err := http.Get(srv.URL + "/value?path=/par/NumCh")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("device error returned %d, expected 500", resp.StatusCode)
	}
}
