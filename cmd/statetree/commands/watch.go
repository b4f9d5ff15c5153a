package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/born-ml/statetree/internal/loader"
	"github.com/born-ml/statetree/internal/metrics"
	"github.com/born-ml/statetree/internal/serialization"
	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/store"
	"github.com/born-ml/statetree/internal/watch"
)

// WatchCmd implements the 'watch' command.
//
// TARGET is read once and becomes the live tree. Every time SOURCE changes on
// disk it is loaded into the live tree; the live tree can then be written to
// --output and stored as a snapshot.
type WatchCmd struct {
	Target      string        `arg:"" help:"Checkpoint providing the live tree" type:"existingfile"`
	Source      string        `arg:"" help:"Checkpoint file to watch"`
	Select      string        `short:"s" help:"Only load source keys matching this expression (applied after --rename)"`
	Rename      []string      `short:"r" help:"Rename source key prefixes before loading (from=to, repeatable)" sep:"none"`
	Output      string        `short:"o" help:"Write the live tree here after every successful reload"`
	Snapshot    string        `help:"Store the live tree under this snapshot name after every successful reload"`
	MetricsAddr string        `name:"metrics-addr" help:"Serve Prometheus metrics on this address. Overrides metrics.addr."`
	Debounce    time.Duration `help:"Quiet period before reloading. Overrides watch.debounce."`
	Initial     bool          `help:"Load SOURCE once at startup"`
	MaxReloads  int           `name:"max-reloads" help:"Exit after this many reloads (0 runs until interrupted)"`
}

func (w *WatchCmd) Run(g *Global) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return w.watch(ctx, g)
}

func (w *WatchCmd) watch(ctx context.Context, g *Global) error {
	sel, err := compileSelector(w.Select)
	if err != nil {
		return err
	}
	target, err := readCheckpoint(g, w.Target)
	if err != nil {
		return err
	}
	live := target.Tree

	reg := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(reg)

	addr := w.MetricsAddr
	if addr == "" {
		addr = g.Config.Metrics.Addr
	}
	if addr != "" {
		shutdown, err := serveMetrics(g, addr, reg)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	var snaps *store.SQLiteStore
	if w.Snapshot != "" {
		snaps, err = store.OpenSQLite(g.Config.Store.Path, store.WithRecorder(recorder))
		if err != nil {
			return fmt.Errorf("open snapshot store: %w", err)
		}
		defer snaps.Close()
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = g.Config.Watch.DebounceDuration()
	}
	opts := []watch.Option{
		watch.WithDebounce(debounce),
		watch.WithRecorder(recorder),
		watch.WithLogger(g.Logger),
		watch.WithReaderOptions(g.Config.ReaderOptions()),
	}
	if sel != nil {
		opts = append(opts, watch.WithSelector(sel))
	}
	if len(w.Rename) > 0 {
		mapper, err := loader.ParseRules(w.Rename)
		if err != nil {
			return fmt.Errorf("--rename: %w", err)
		}
		opts = append(opts, watch.WithMapper(mapper))
	}
	reloader, err := watch.New(w.Source, live, opts...)
	if err != nil {
		return err
	}
	if err := reloader.Start(ctx); err != nil {
		_ = reloader.Stop()
		return err
	}
	defer func() { _ = reloader.Stop() }()

	var reloads int
	handle := func(res watch.Result) error {
		reloads++
		if res.Err != nil {
			fmt.Fprintf(g.Out, "reload failed: %v\n", res.Err)
			return nil
		}
		fmt.Fprintf(g.Out, "reloaded copied=%d skipped=%d incompatible=%d\n",
			res.Stats.Copied, res.Stats.Skipped, res.Stats.Incompatible)
		return w.publish(ctx, g, live, snaps, res)
	}

	if w.Initial {
		if err := handle(reloader.ReloadNow()); err != nil {
			return err
		}
	}
	for w.MaxReloads == 0 || reloads < w.MaxReloads {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-reloader.Reloads():
			if !ok {
				return nil
			}
			if err := handle(res); err != nil {
				return err
			}
		}
	}
	return nil
}

// publish writes and snapshots the live tree after a successful reload.
func (w *WatchCmd) publish(ctx context.Context, g *Global, live *state.Tree, snaps *store.SQLiteStore, res watch.Result) error {
	meta := map[string]string{"source": w.Source}
	if res.RunID != "" {
		meta["source_run_id"] = res.RunID
	}
	if w.Output != "" {
		opts := serialization.WriteOptions{Metadata: meta}
		if err := serialization.Write(w.Output, serialization.FormatUnknown, live, opts); err != nil {
			return fmt.Errorf("write %s: %w", w.Output, err)
		}
	}
	if snaps != nil {
		snap, err := snaps.Save(ctx, w.Snapshot, live, meta)
		if err != nil {
			return err
		}
		g.Logger.Info("Snapshot saved", "id", snap.ID, "name", snap.Name)
	}
	return nil
}

// serveMetrics starts the metrics endpoint and returns its shutdown func.
func serveMetrics(g *Global, addr string, reg *prom.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.Logger.Error("Metrics server failed", "error", err)
		}
	}()
	g.Logger.Info("Serving metrics", "addr", ln.Addr().String(), "path", "/metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
