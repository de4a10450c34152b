package main

import (
	"context"
	"crypto/x509"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rectcircle/bambusource/internal/bambutunnel"
	"github.com/rectcircle/bambusource/internal/bambutunnel/transport"
	"github.com/rectcircle/bambusource/internal/metrics"
	"github.com/rectcircle/bambusource/internal/variable"
	log "github.com/sirupsen/logrus"
	"github.com/vharitonsky/iniflags"
	"golang.org/x/term"
)

var (
	descriptor  string
	outPath     string
	count       int
	streamType  int
	pollEvery   time.Duration
	debug       bool
	metricsAddr string
	caFile      string
)

// sampleReader - the part of a session the stream loop needs
type sampleReader interface {
	ReadSample(out *bambutunnel.Sample) error
}

// streamSession - the part of a session used by a whole capture
type streamSession interface {
	sampleReader
	Open(ctx context.Context) error
	Start(requestType int32) error
	Close() error
}

// openOutput - "-" is stdout, refused when it is a terminal
func openOutput(path string, isTerminal func(fd int) bool) (io.WriteCloser, error) {
	if path == "-" {
		if isTerminal(int(os.Stdout.Fd())) {
			return nil, errors.New("refusing to write video to a terminal, use -out")
		}
		return os.Stdout, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create output")
	}
	return f, nil
}

// loadVerifier - trust everything without caFile, else check the chain
// against its certificates and the device name
func loadVerifier(caFile, host string) (transport.Verifier, error) {
	if caFile == "" {
		return transport.NoVerification{}, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, errors.Wrap(err, "read ca file")
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pem) {
		return nil, errors.Errorf("no certificate found in %s", caFile)
	}
	return transport.ChainVerification{Roots: roots, ServerName: host}, nil
}

// streamSamples - copy samples into w until count samples (0 is unlimited)
// or ctx is done, sleeping poll between empty reads
func streamSamples(ctx context.Context, r sampleReader, w io.Writer, count int, poll time.Duration) (int, error) {
	var (
		sample bambutunnel.Sample
		n      int
	)
	for count == 0 || n < count {
		err := r.ReadSample(&sample)
		if bambutunnel.IsRetryable(err) {
			select {
			case <-ctx.Done():
				return n, nil
			case <-time.After(poll):
			}
			continue
		}
		if err != nil {
			return n, err
		}
		if _, err := w.Write(sample.Buffer); err != nil {
			return n, errors.Wrap(err, "write sample")
		}
		n++
		log.Debugf("sample %d: track = %d, flags = %d, size = %d", n, sample.Track, sample.Flags, len(sample.Buffer))
	}
	return n, nil
}

// capture - open, start and copy samples into w, the stream is stopped
// again when it was started
func capture(ctx context.Context, s streamSession, w io.Writer, requestType int32, count int, poll time.Duration) (int, error) {
	if err := s.Open(ctx); err != nil {
		return 0, err
	}
	if err := s.Start(requestType); err != nil {
		return 0, err
	}
	n, err := streamSamples(ctx, s, w, count, poll)
	if closeErr := s.Close(); closeErr != nil {
		log.Warnf("close: %s", closeErr)
	}
	return n, err
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		log.Infof("metrics on http://%s/metrics", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("metrics server: %s", err)
		}
	}()
}

func main() {
	if err := run(); err != nil {
		log.Errorf("error: %s", err)
		os.Exit(1)
	}
}

// run - everything deferred here runs before the process exits
func run() error {
	iniflags.SetConfigFile(filepath.Join(variable.ConfigBaseDir, "camstream.conf"))
	iniflags.SetAllowMissingConfigFile(true)

	flag.StringVar(&descriptor, "url", "", "device descriptor, bambu:///local/<host>.?port=6000&user=bblp&passwd=<access code>")
	flag.StringVar(&outPath, "out", "-", "file receiving the raw samples, - for stdout")
	flag.IntVar(&count, "count", 0, "samples to read before exiting, 0 for unlimited")
	flag.IntVar(&streamType, "streamType", int(variable.StreamTypeVideo), "request type of the start packet")
	flag.DurationVar(&pollEvery, "poll", 10*time.Millisecond, "sleep between reads without a sample")
	flag.BoolVar(&debug, "debug", false, "debug log and trace of every tick")
	flag.StringVar(&metricsAddr, "metricsAddr", "", "if set, serve prometheus metrics on this address")
	flag.StringVar(&caFile, "caFile", "", "if set, verify the device certificate against the PEM certificates in this file")
	iniflags.Parse()

	log.SetOutput(os.Stderr)
	if debug {
		log.SetLevel(log.DebugLevel)
		variable.EnableTraceLog = true
	}

	settings, err := bambutunnel.ParseSettings(descriptor)
	if err != nil {
		return err
	}
	verifier, err := loadVerifier(caFile, settings.Hostname)
	if err != nil {
		return err
	}
	out, err := openOutput(outPath, term.IsTerminal)
	if err != nil {
		return err
	}
	defer out.Close()

	reg := prometheus.NewRegistry()
	if metricsAddr != "" {
		serveMetrics(metricsAddr, reg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := bambutunnel.NewSession(settings,
		bambutunnel.WithMetrics(metrics.New(reg)),
		bambutunnel.WithTransportConfig(transport.Config{Verifier: verifier, DialTimeout: 10 * time.Second}))
	defer session.Destroy()
	log.Infof("connecting to %s", settings)
	n, err := capture(ctx, session, out, int32(streamType), count, pollEvery)
	log.Infof("%d samples received", n)
	return err
}
