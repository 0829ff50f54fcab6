package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gogpu/pls/flush"
	"github.com/gogpu/pls/metrics"
)

type runOptions struct {
	backend     string
	frames      int
	interlock   string
	metricsAddr string
	linger      time.Duration
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [scenario.yaml]",
		Short: "Run a scenario and print pipeline statistics",
		Long: "Run submits the frames a YAML scenario describes. Without a file the\n" +
			"built-in default scenario runs. Flags override the scenario.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := defaultScenario()
			if len(args) == 1 {
				var err error
				if sc, err = LoadScenarioFile(args[0]); err != nil {
					return err
				}
			}
			if err := opts.apply(cmd, &sc); err != nil {
				return err
			}
			return runScenario(cmd.Context(), cmd.OutOrStdout(), sc, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.backend, "backend", "", "registered backend to open")
	f.IntVar(&opts.frames, "frames", 0, "number of frames")
	f.StringVar(&opts.interlock, "interlock", "", "interlock mode (rasterOrdering, atomics, clockwiseAtomic)")
	f.StringVar(&opts.metricsAddr, "metrics", "", "serve Prometheus metrics on this address, e.g. :9090")
	f.DurationVar(&opts.linger, "linger", 0, "keep serving metrics this long after the run")
	return cmd
}

func (o *runOptions) apply(cmd *cobra.Command, sc *Scenario) error {
	flags := cmd.Flags()
	if flags.Changed("backend") {
		sc.Backend = o.backend
	}
	if flags.Changed("frames") {
		sc.Frames = o.frames
	}
	if flags.Changed("interlock") {
		sc.Interlock = o.interlock
	}
	return sc.Validate()
}

func runScenario(ctx context.Context, out io.Writer, sc Scenario, opts *runOptions) (err error) {
	b, err := newBench(sc)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		err = errors.Join(err, b.Close(closeCtx))
	}()

	if opts.metricsAddr != "" {
		srv, addr, serr := serveMetrics(opts.metricsAddr, b.ctx)
		if serr != nil {
			return serr
		}
		defer srv.Close()
		fmt.Fprintf(out, "serving metrics on http://%s/metrics\n", addr)
	}

	res, err := b.Run(ctx)
	if err != nil {
		return err
	}
	if err := printResult(out, res); err != nil {
		return err
	}

	if opts.metricsAddr != "" && opts.linger > 0 {
		select {
		case <-time.After(opts.linger):
		case <-ctx.Done():
		}
	}
	return nil
}

// serveMetrics registers the context collector with the Go runtime
// collectors and serves them over HTTP.
func serveMetrics(addr string, src metrics.Source) (*http.Server, net.Addr, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		metrics.NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("plsbench: listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = srv.Serve(ln)
	}()
	return srv, ln.Addr(), nil
}

func printResult(out io.Writer, r *Result) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "scenario\t%s\n", r.Scenario)
	fmt.Fprintf(w, "backend\t%s\n", r.Backend)
	fmt.Fprintf(w, "frames\t%d (retired %d)\n", r.Flush.Frames, r.Retired)
	fmt.Fprintf(w, "elapsed\t%s (%s/frame)\n", r.Elapsed.Round(time.Microsecond), r.FrameTime().Round(time.Microsecond))
	fmt.Fprintf(w, "flushes\t%d (dropped %d, skipped %d)\n", r.Flush.Flushes, r.Flush.Dropped, r.Flush.SkippedEmpty)
	fmt.Fprintf(w, "batches\t%d (barriers %d, resolves %d, stripped %d)\n",
		r.Flush.Batches, r.Flush.Barriers, r.Flush.Resolves, r.Flush.Stripped)
	fmt.Fprintf(w, "offscreen\t%d copies, %d blits\n", r.Flush.OffscreenCopies, r.Flush.TargetBlits)
	fmt.Fprintf(w, "stalls\t%d\n", r.Stalls)
	fmt.Fprintf(w, "ledger\t%d pending, %d destroyed\n", r.Ledger.Pending, r.Ledger.Destroyed)
	for k, rs := range r.Rings {
		if rs.Submits == 0 {
			continue
		}
		fmt.Fprintf(w, "ring %s\t%d bytes in %d submits, capacity %d\n",
			flush.BufferKind(k), rs.BytesSubmitted, rs.Submits, rs.Capacity)
	}
	if d := r.Device; d != nil {
		fmt.Fprintf(w, "device\t%d submits, %d slots, %d tables\n", d.Submits, d.SlotsAllocated, d.TablesCreated)
	}
	return w.Flush()
}
