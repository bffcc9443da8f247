package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/smartnotifier/internal/cache"
	"github.com/mesh-intelligence/smartnotifier/internal/dispatch"
	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

const (
	stopTimeout     = 5 * time.Second
	maxEventLineLen = 1 << 20
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Dispatch notifications read from stdin",
		Long: "Reads one JSON event per line from stdin:\n" +
			`  {"origin":"...","channel":"...","title":"...","body":"...","key":"..."}` + "\n" +
			"and writes cancel, create_sink and emit actions as JSON lines on stdout.\n" +
			"Stops at end of input or on SIGINT/SIGTERM.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func (a *app) run(ctx context.Context, in io.Reader, out io.Writer) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	log := a.log.Named("run")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	lines := newLineWriter(out)
	d, err := dispatch.New(dispatch.Config{
		MonitoredSources: a.cfg.GetStringSlice(cfgKeyMonitoredSources),
		Workers:          a.cfg.GetInt(cfgKeyWorkers),
		QueueSize:        a.cfg.GetInt(cfgKeyQueueSize),
	}, store, stdoutSource{out: lines}, stdoutSinks{out: lines},
		dispatch.WithGate(staticGate(a.cfg.GetBool(cfgKeyCanEmit))),
		dispatch.WithSoundLabeler(soundLabels(a.cfg.GetStringMapString(cfgKeySoundLabels))),
		dispatch.WithLogger(a.log),
		dispatch.WithRegisterer(reg),
	)
	if err != nil {
		return err
	}

	if a.cfg.GetBool(cfgKeyWatch) {
		dir := a.dataDir
		if fd, ok := store.Backend().(interface{ Dir() string }); ok {
			dir = fd.Dir()
		}
		w, err := cache.Watch(store.Cache(), dir, a.log)
		if err != nil {
			return err
		}
		defer w.Close()
	}

	if addr := a.cfg.GetString(cfgKeyMetricsAddr); addr != "" {
		shutdown, err := serveMetrics(addr, reg, log)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	// Workers keep draining after a signal; Stop bounds the wait.
	if err := d.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	log.Info("dispatching", zap.Strings("sources", a.cfg.GetStringSlice(cfgKeyMonitoredSources)))

	events := make(chan types.Event)
	go readEvents(ctx, in, events, log)

	consumeErr := d.Consume(ctx, events)
	stopErr := d.Stop(stopTimeout)

	stats := d.Stats()
	cs := store.Cache().Stats()
	log.Info("stopped",
		zap.Int64("submitted", stats.Submitted),
		zap.Int64("processed", stats.Processed),
		zap.Int64("failed", stats.Failed),
		zap.Int64("dropped", stats.Dropped),
		zap.Int64("cache_hits", cs.Hits),
		zap.Int64("cache_misses", cs.Misses))

	if consumeErr != nil && !errors.Is(consumeErr, context.Canceled) {
		return consumeErr
	}
	return stopErr
}

// serveMetrics exposes reg on /metrics at addr and returns a function that
// shuts the server down.
func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("metrics shutdown", zap.Error(err))
		}
	}, nil
}

// readEvents decodes one event per line from in and closes events at end
// of input. Malformed lines are logged and skipped.
func readEvents(ctx context.Context, in io.Reader, events chan<- types.Event, log *zap.Logger) {
	defer close(events)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventLineLen)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Warn("skipping malformed event", zap.Int("line", line), zap.Error(err))
			continue
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil {
		log.Warn("reading events", zap.Error(err))
	}
}
