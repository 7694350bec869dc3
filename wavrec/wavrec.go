// Package wavrec contains a waveform recorder used to automatically save acquired events to disk.
package wavrec

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/astrogo/fitsio"
	"github.jpl.nasa.gov/bdube/godig/generichttp"
)

// Recorder records event sequences with incrementing filenames in yyyy-mm-dd subfolders.  It is not thread safe.
type Recorder struct {
	// counter is the internally incrementing counter
	counter int

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// timeFldr is the subfolder with yyyy-mm-dd format.
	timeFldr string

	// Enabled is a flag unused by this struct that allows consumers to disable its use in their code
	Enabled bool
}

// updateFolder checks the current time and updates the folder and timestamp as needed
func (r *Recorder) updateFolder() {
	now := time.Now()
	y, m, d := now.Year(), now.Month(), now.Day()
	r.timeFldr = fmt.Sprintf("%04d-%02d-%02d", y, m, d)
	return
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := path.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// Write implements io.Writer and writes the contents of a fits file to disk
func (r *Recorder) Write(p []byte) (n int, err error) {
	// make sure the folder exists
	r.updateFolder()
	fldr, err := r.mkDir()
	if err != nil {
		return 0, err
	}

	// now open the file and write to it
	fn := fmt.Sprintf("%s%06d.fits", r.Prefix, r.counter)
	fn = path.Join(fldr, fn)
	var fid *os.File
	fid, err = os.OpenFile(fn, os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil && os.IsNotExist(err) {
		fid, err = os.Create(fn)
		if err != nil {
			return 0, err
		}
	}
	defer fid.Close()
	if err != nil {
		return 0, err
	}
	return fid.Write(p)
}

// Record writes one acquired event as a FITS file, one image row per
// channel, and advances the filename counter
func (r *Recorder) Record(timestamp uint64, waveforms [][]uint16) error {
	fits, err := fitsio.Create(r)
	if err != nil {
		return err
	}
	defer fits.Close()
	nch := len(waveforms)
	// channels report independent sizes; size the image by the longest
	samples := 0
	for _, wave := range waveforms {
		if len(wave) > samples {
			samples = len(wave)
		}
	}
	im := fitsio.NewImage(16, []int{samples, nch})
	defer im.Close()
	err = im.Header().Append(
		fitsio.Card{Name: "BZERO", Value: 32768},
		fitsio.Card{Name: "BSCALE", Value: 1.0},
		fitsio.Card{Name: "TSTAMP", Value: strconv.FormatUint(timestamp, 10), Comment: "event timestamp, device clock ticks"},
	)
	if err != nil {
		return err
	}
	buf := make([]int16, nch*samples)
	for i := range buf {
		buf[i] = -32768 // raw zero pad for channels shorter than the longest
	}
	for i, wave := range waveforms {
		for j, samp := range wave {
			buf[i*samples+j] = int16(samp - 32768)
		}
	}
	err = im.Write(buf)
	if err != nil {
		return err
	}
	err = fits.Write(im)
	if err != nil {
		return err
	}
	r.Incr()
	return nil
}

// Incr updates the filename counter; it scans the folder to do so.  If there is an error, the counter is not incremented
func (r *Recorder) Incr() {
	dn, _ := r.mkDir()
	files, err := ioutil.ReadDir(dn)
	if err != nil {
		return
	}
	count := 0
	for _, file := range files {
		// skip directories, non-fits, and wrong prefix
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		// guaranteed match
		bit := strings.Split(fn, r.Prefix)[1]
		bit = bit[:len(bit)-5] // pop fits
		n, err := strconv.Atoi(bit)
		if err != nil {
			return
		}
		if count < n {
			count = n
		}
	}
	r.counter = count + 1
}

// HTTPWrapper is an HTTP wrapper around a waveform recorder that allows the folder and prefix to be changed on the fly
//
// it does not implement generichttp.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// setRoot points the recorder at a new root folder, creating today's
// subfolder inside it
func (h HTTPWrapper) setRoot(root string) error {
	rec := h.Recorder
	rec.Root = root
	rec.updateFolder()
	_, err := rec.mkDir()
	return err
}

// setPrefix updates the filename prefix and rewinds the counter
func (h HTTPWrapper) setPrefix(prefix string) error {
	h.Recorder.Prefix = prefix
	h.Recorder.counter = 0
	return nil
}

func (h HTTPWrapper) setEnabled(b bool) error {
	h.Recorder.Enabled = b
	return nil
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix,
// and /autowrite/enabled to the HTTPer which manipulate this wrapper's recorder
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rec := h.Recorder
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = generichttp.SetString(h.setRoot)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = generichttp.GetString(func() (string, error) { return rec.Root, nil })
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = generichttp.SetString(h.setPrefix)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = generichttp.GetString(func() (string, error) { return rec.Prefix, nil })
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = generichttp.SetBool(h.setEnabled)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = generichttp.GetBool(func() (bool, error) { return rec.Enabled, nil })
}
