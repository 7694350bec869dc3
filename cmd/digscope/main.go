// digscope acquires software-triggered scope events from a digitizer
// and records them to FITS files.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/theckman/yacspin"
	"github.jpl.nasa.gov/bdube/godig/acq"
	"github.jpl.nasa.gov/bdube/godig/felib"
	"github.jpl.nasa.gov/bdube/godig/wavrec"
)

func main() {
	var (
		conn        = flag.String("conn", "dig2://192.0.2.1", "device connection string")
		events      = flag.Int("n", 100, "number of events to acquire")
		out         = flag.String("out", ".", "output folder for FITS files")
		prefix      = flag.String("prefix", "event", "output filename prefix")
		recordNs    = flag.Int("record", 4096, "record length, ns")
		pretrigNs   = flag.Int("pretrigger", 512, "pre-trigger length, ns")
		readTimeout = flag.Int("timeout", 100, "per-read timeout, ms")
		discover    = flag.Bool("discover", false, "list reachable devices and exit")
	)
	flag.Parse()

	version, err := felib.LibVersion()
	if err != nil {
		log.Fatal(err)
	}
	log.Println("CAEN FELib version", version)

	if *discover {
		devices, err := felib.DevicesDiscovery(5000)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(string(devices))
		return
	}

	d, err := acq.Connect(*conn)
	if err != nil {
		log.Fatal(err)
	}
	defer d.Close()

	if err := d.SendCommand("/cmd/RESET"); err != nil {
		log.Fatal(err)
	}
	scope, err := acq.NewScope(d)
	if err != nil {
		log.Fatal(err)
	}
	if err := scope.Configure(*recordNs, *pretrigNs); err != nil {
		log.Fatal(err)
	}
	scope.ReadTimeoutMillis = *readTimeout
	log.Printf("%d channels, %d samples per record\n", scope.NumChannels(), scope.RecordLength())

	rec := &wavrec.Recorder{Root: *out, Prefix: *prefix}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[59],
		Suffix:          " acquiring",
		SuffixAutoColon: true,
		StopCharacter:   "done",
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := scope.Arm(); err != nil {
		log.Fatal(err)
	}
	defer scope.Disarm()

	spinner.Start()
	got := 0
	for got < *events {
		ts, waves, err := scope.Waveforms()
		if felib.IsStop(err) {
			break
		}
		if err != nil {
			spinner.Stop()
			log.Fatal(err)
		}
		if err := rec.Record(ts, waves); err != nil {
			spinner.Stop()
			log.Fatal(err)
		}
		got++
		spinner.Message(fmt.Sprintf("event %d of %d", got, *events))
	}
	spinner.Stop()
	log.Printf("recorded %d events under %s\n", got, *out)
}
