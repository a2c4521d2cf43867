package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/speters/minishutter/pkg/api"
	"github.com/speters/minishutter/pkg/calibration"
	"github.com/speters/minishutter/pkg/config"
	"github.com/speters/minishutter/pkg/shutter"
	"github.com/speters/minishutter/pkg/telemetry"
)

var cfgFile = flag.String("config", "", "read configuration from YAML `file`")
var envFile = flag.String("env", ".env", "load environment variables from `file` if it exists")
var connTo = flag.String("c", "", "connection string, use socket://[host]:[port] for TCP or [serialDevice] for direct serial connection")
var httpServe = flag.String("s", "", "start http server at [bindtohost][:]port")
var name = flag.String("name", "", "device name, selects the calibration")
var baud = flag.Int("baudrate", 0, "baudrate of the serial connection")
var debug = flag.Bool("debug", false, "forward everything received without decoding frames")
var withShutter = flag.Bool("shutter", true, "module has a shutter")
var withPhotodiode = flag.Bool("photodiode", true, "module has a photodiode")
var verbose = flag.Bool("v", false, "verbose logging")

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

// To be set via go build -ldflags "-X main.buildVersion=$(git describe --dirty) -X main.buildDate=$(date -u +%FT%TZ)"
var buildVersion = "unspecified"
var buildDate = "unknown"

const reconnectDelay = 12 * time.Second

func loadConfig() (config.Config, error) {
	if err := config.LoadDotEnv(*envFile); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if *cfgFile != "" {
		var err error
		if cfg, err = config.Load(*cfgFile); err != nil {
			return cfg, err
		}
	}

	if *connTo != "" {
		cfg.Device.Link = *connTo
	}
	if *httpServe != "" {
		// accept :[portnum] as well as [portnum]
		if i, err := strconv.Atoi(*httpServe); err == nil {
			*httpServe = fmt.Sprintf(":%d", i)
		}
		cfg.HTTP.Listen = *httpServe
	}
	if *name != "" {
		cfg.Device.Name = *name
	}
	if *baud != 0 {
		cfg.Device.Baudrate = *baud
	}
	if *debug {
		cfg.Device.Debug = true
	}
	// capability flags only override the config file when given explicitly
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "shutter":
			cfg.Device.Shutter = *withShutter
		case "photodiode":
			cfg.Device.Photodiode = *withPhotodiode
		}
	})
	if *verbose {
		cfg.Log.Level = "debug"
	}

	if err := config.Validate(&cfg); err != nil {
		return cfg, err
	}
	config.Normalize(&cfg)
	return cfg, nil
}

func setupLogging(c config.Log) {
	if lvl, err := log.ParseLevel(c.Level); err == nil {
		log.SetLevel(lvl)
	}
	if c.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
}

func newSink(c config.Telemetry) (telemetry.Sink, func()) {
	var sinks telemetry.MultiSink
	cleanup := func() {}
	if c.Influx.Enabled() {
		s := telemetry.NewInfluxSink(telemetry.InfluxConfig{
			URL:         c.Influx.URL,
			Token:       c.Influx.Token,
			Org:         c.Influx.Org,
			Bucket:      c.Influx.Bucket,
			Measurement: c.Influx.Measurement,
			Timeout:     c.Influx.Timeout,
		})
		sinks = append(sinks, s)
		cleanup = s.Close
		log.Infof("Writing readings to %v, bucket %v", c.Influx.URL, c.Influx.Bucket)
	}
	if c.Log || len(sinks) == 0 {
		sinks = append(sinks, telemetry.LogSink{})
	}
	if len(sinks) == 1 {
		return sinks[0], cleanup
	}
	return sinks, cleanup
}

func deviceConfig(d config.Device) shutter.Config {
	return shutter.Config{
		Name:        d.Name,
		Baud:        d.Baudrate,
		ReadTimeout: d.ReadTimeout,
		CheckDelay:  d.CheckDelay,
		Shutter:     d.Shutter,
		Photodiode:  d.Photodiode,
		Passthrough: d.Debug,
	}
}

// session runs the reader and telemetry workers of one connection until it is lost or ctx is done
func session(ctx context.Context, cfg config.Config, server *api.Server, cal *calibration.Active, sink telemetry.Sink) error {
	d := cfg.Device
	dev := shutter.NewDevice(deviceConfig(d))
	if err := dev.Connect(d.Link); err != nil {
		return err
	}
	defer dev.Close()

	server.SetDevice(dev)
	dev.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		server.Hub().Pump(ctx, dev.Events(), dev.Done())
	}()

	if d.Photodiode && !d.Debug {
		w := &telemetry.Worker{
			Name:        d.Name,
			Interval:    cfg.Telemetry.Interval,
			Source:      dev,
			Calibration: cal,
			Sink:        sink,
			Done:        dev.Done(),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	select {
	case <-ctx.Done():
	case <-dev.Done():
		log.Warnf("Lost connection to %v", d.Link)
	}
	dev.Close()
	wg.Wait()
	return nil
}

func writeMemProfile() {
	if *memprofile == "" {
		return
	}
	f, err := os.Create(*memprofile)
	if err != nil {
		log.Error("could not create memory profile: ", err)
		return
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Error("could not write memory profile: ", err)
	}
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	setupLogging(cfg.Log)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}
	defer writeMemProfile()

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	defer stop()

	store := calibration.NewStore(cfg.Calibration.Dir)
	l, err := store.Load(cfg.Device.Name)
	if err != nil {
		log.Warnf("Using identity calibration: %v", err)
	}
	cal := calibration.NewActive(l)
	log.Infof("Calibration for %v: a=%v, b=%v", cfg.Device.Name, l.A, l.B)

	sink, closeSink := newSink(cfg.Telemetry)
	defer closeSink()

	server := api.NewServer(api.Options{
		Name:        cfg.Device.Name,
		Version:     buildVersion,
		BuildDate:   buildDate,
		Store:       store,
		Calibration: cal,
	})
	h := &http.Server{Addr: cfg.HTTP.Listen, Handler: server.Handler()}
	go func() {
		if err := h.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err)
		}
	}()
	log.Infof("Serving http on %v", cfg.HTTP.Listen)

	for {
		if err := session(ctx, cfg, server, cal, sink); err != nil {
			log.Error(err)
		}
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			h.Shutdown(sctx)
			cancel()
			return
		case <-time.After(reconnectDelay):
			log.Infof("Reconnecting to %v", cfg.Device.Link)
		}
	}
}
