package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rectcircle/bambusource/internal/fakedevice"
	"github.com/rectcircle/bambusource/internal/variable"
	"github.com/rectcircle/bambusource/tools"
	log "github.com/sirupsen/logrus"
)

type config struct {
	host     string
	port     uint16
	certPath string
	debug    bool
	opts     fakedevice.Options
}

func parseArgs(args []string) (cfg config) {
	var (
		portUint64 uint
		frameSize  int
		help       bool
	)
	flagset := flag.NewFlagSet("fakedevice", flag.ExitOnError)
	flagset.StringVar(&cfg.host, "h", "127.0.0.1", "host - bind host")
	flagset.UintVar(&portUint64, "p", uint(variable.DefaultDevicePort), "port - bind port")
	flagset.StringVar(&cfg.opts.Username, "user", "bblp", "user - expected username, empty accepts anyone")
	flagset.StringVar(&cfg.opts.Password, "passwd", "", "passwd - expected access code")
	flagset.Float64Var(&cfg.opts.FPS, "fps", 1, "fps - frames per second, 0 means unpaced")
	flagset.Uint64Var(&cfg.opts.MaxFrames, "n", 0, "n - frames per start packet, 0 means until stopped")
	flagset.IntVar(&frameSize, "size", 32549, "size - bytes of each synthetic JPEG frame")
	flagset.StringVar(&cfg.certPath, "cert", filepath.Join(variable.ConfigBaseDir, variable.FakeDeviceCertFileName), "cert - PEM certificate and key, generated when missing")
	flagset.BoolVar(&cfg.debug, "debug", false, "debug - enable trace log")
	flagset.BoolVar(&help, "help", false, "output this help")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "Emulate the camera endpoint of a printer in LAN mode\nUsage of `%s`:\n", os.Args[0])
		flagset.PrintDefaults()
	}
	flagset.Parse(args[1:])
	if help {
		flagset.Usage()
		os.Exit(0)
	}
	if portUint64 >= (1 << 16) {
		os.Stderr.WriteString("error: port must is uint16\n")
		os.Exit(2)
	}
	if frameSize < 0 {
		os.Stderr.WriteString("error: size must not be negative\n")
		os.Exit(2)
	}
	cfg.port = uint16(portUint64)
	cfg.opts.Frames = fakedevice.SyntheticJPEG(frameSize)
	return
}

func main() {
	cfg := parseArgs(os.Args)
	if cfg.debug {
		log.SetLevel(log.DebugLevel)
		variable.EnableTraceLog = true
	}
	cert, err := fakedevice.LoadOrCreateCertificate(cfg.certPath)
	tools.LogAndExitIfErr(err)
	tools.LogAndExitIfErr(fakedevice.ListenAndServe(cfg.host, cfg.port, cert, cfg.opts))
}
