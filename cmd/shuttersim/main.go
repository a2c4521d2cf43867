package main

import (
	"context"
	"flag"
	"net"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/speters/minishutter/pkg/device"
	"github.com/speters/minishutter/pkg/shutter"
)

var listen = flag.String("l", ":3478", "accept host connections on [bindtohost]:port")
var serialDev = flag.String("c", "", "use serial `device` instead of tcp")
var baud = flag.Int("baudrate", shutter.DefaultBaud, "baudrate of the serial connection")
var withShutter = flag.Bool("shutter", true, "simulate a shutter")
var withPhotodiode = flag.Bool("photodiode", true, "simulate a photodiode")
var bufferSize = flag.Int("buffer", 10, "samples per data frame")
var period = flag.Duration("period", time.Second, "recording period")
var tick = flag.Duration("tick", 10*time.Millisecond, "poll interval of the device loop")
var dark = flag.Float64("dark", 20, "photodiode counts with closed shutter")
var bright = flag.Float64("bright", 3000, "photodiode counts with open shutter")
var noise = flag.Float64("noise", 5, "photodiode noise (standard deviation)")
var verbose = flag.Bool("v", false, "verbose logging")

func main() {
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	o := simOptions{
		shutter:    *withShutter,
		photodiode: *withPhotodiode,
		dark:       *dark,
		bright:     *bright,
		noise:      *noise,
		engine: device.Config{
			BufferSize:      *bufferSize,
			RecordingPeriod: *period,
		},
		tick: *tick,
	}

	if *serialDev != "" {
		port, err := serial.OpenPort(&serial.Config{Name: *serialDev, Baud: *baud})
		if err != nil {
			log.Fatal(err)
		}
		log.Infof("Device program running on %v", *serialDev)
		if _, err := serve(ctx, port, o); err != nil {
			log.Fatal(err)
		}
		return
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatal(err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	log.Infof("Device program listening on %v", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Fatal(err)
		}
		log.Infof("Host connected from %v", conn.RemoteAddr())
		stopped, err := serve(ctx, conn, o)
		if err != nil {
			log.Errorf("Device program failed: %v", err)
		}
		if stopped {
			log.Infof("Device program stopped by host")
			return
		}
		log.Infof("Host disconnected")
	}
}
