package main

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"
	_ "github.com/gogpu/wgpu/hal/noop"
	_ "github.com/gogpu/wgpu/hal/vulkan"
	"github.com/spf13/cobra"

	"github.com/gogpu/pls"
	"github.com/gogpu/pls/backend"
	_ "github.com/gogpu/pls/backend/software"
	"github.com/gogpu/pls/backend/wgpu"
	"github.com/gogpu/pls/flush"
)

type rootOptions struct {
	logLevel string
	hal      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "plsbench",
		Short:        "Drive synthetic frames through a pixel local storage backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := setupLogging(cmd, opts.logLevel); err != nil {
				return err
			}
			return registerWGPU(opts.hal)
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "", "log to stderr at this level (debug, info, warn, error)")
	flags.StringVar(&opts.hal, "hal", "vulkan", "HAL backend under the wgpu backend (vulkan, noop)")

	cmd.AddCommand(newRunCmd(), newBackendsCmd())
	return cmd
}

func setupLogging(cmd *cobra.Command, level string) error {
	if level == "" {
		return nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("plsbench: --log-level: %w", err)
	}
	pls.SetLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: l})))
	return nil
}

var halBackends = map[string]gputypes.Backend{
	"vulkan": gputypes.BackendVulkan,
	"noop":   gputypes.BackendEmpty,
}

// registerWGPU replaces the wgpu registry entry with one that opens the
// selected HAL backend.
func registerWGPU(name string) error {
	variant, ok := halBackends[name]
	if !ok {
		return fmt.Errorf("plsbench: unknown HAL backend %q", name)
	}
	backend.Register(backend.BackendWGPU, func() (flush.Backend, error) {
		b, err := wgpu.Open(wgpu.WithHALBackend(variant))
		if err != nil {
			return nil, err
		}
		return b, nil
	})
	return nil
}
