package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.jpl.nasa.gov/bdube/godig/acq"
	"github.jpl.nasa.gov/bdube/godig/generichttp"
	"github.jpl.nasa.gov/bdube/godig/generichttp/digitizer"
	"github.jpl.nasa.gov/bdube/godig/generichttp/locker"
	"github.jpl.nasa.gov/bdube/godig/wavrec"

	"github.com/go-chi/chi"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "dig-http.yml"
	k              = koanf.New(".")
)

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`
}

type digSetup struct {
	// URL is the stem the digitizer is mounted at, e.g. /dt2740
	URL string `yaml:"URL"`

	// Conn is the device connection string, e.g. dig2://10.0.0.5
	Conn string `yaml:"Conn"`

	// RecordNs is the acquisition window in nanoseconds
	RecordNs int `yaml:"RecordNs"`

	// PretriggerNs is the pre-trigger portion of the window in nanoseconds
	PretriggerNs int `yaml:"PretriggerNs"`

	Recorder recorder `yaml:"Recorder"`
}

type config struct {
	Addr       string     `yaml:"Addr"`
	Digitizers []digSetup `yaml:"Digitizers"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr: ":8000",
		Digitizers: []digSetup{
			{
				URL:          "/dig1",
				Conn:         "dig2://192.0.2.1",
				RecordNs:     4096,
				PretriggerNs: 512,
				Recorder:     recorder{},
			}}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `dig-http exposes control of CAEN digitizers over HTTP
This enables a server-client architecture,
and the clients can leverage the excellent HTTP
libraries for any programming language,
instead of custom socket logic.

Usage:
	dig-http <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `dig-http is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.
There is no need to do this unless you want to start from the prepopulated defaults when making
a config file.

Each entry under Digitizers mounts one device below its URL stem.  Conn takes the
connection string of the underlying library, dig2://<address> for second generation
hardware and dig1://<address> for first generation.

The board rounds RecordNs to a multiple of its sampling period; the rounded value
is what the waveform routes return.

If the files and folders created do not have the permissions you want on linux,
your umask is likely to blame  dig-http makes them with permission 666, but your
umask is probably the default of 0022 which knocks them down to 444.  Set your
umask to 0000 before running dig-http to solve this.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("dig-http version %v\n", Version)
}

func run() {
	cfg := config{}
	k.Unmarshal("", &cfg)
	if len(cfg.Digitizers) == 0 {
		log.Fatal("no digitizers configured")
	}
	root := chi.NewRouter()
	for _, setup := range cfg.Digitizers {
		log.Println("connecting to", setup.Conn)
		d, err := acq.Connect(setup.Conn)
		if err != nil {
			log.Fatal(err)
		}
		defer d.Close()
		scope, err := acq.NewScope(d)
		if err != nil {
			log.Fatal(err)
		}
		err = scope.Configure(setup.RecordNs, setup.PretriggerNs)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("%s: %d channels, %d samples per record\n", setup.Conn, scope.NumChannels(), scope.RecordLength())

		w := digitizer.NewHTTPDigitizer(scope)
		lock := locker.New()
		locker.Inject(w, lock)
		rec := &wavrec.Recorder{Root: setup.Recorder.Root, Prefix: setup.Recorder.Prefix}
		wavrec.NewHTTPWrapper(rec).Inject(w)

		stem := generichttp.SubMuxSanitize(setup.URL)
		mux := chi.NewRouter()
		mux.Use(lock.Check)
		w.RT().Bind(mux)
		root.Mount(stem, mux)
	}
	log.Println("now listening for requests at", cfg.Addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, root))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "version":
		pversion()
		return
	case "run":
		run()
		return
	default:
		root()
	}
}
