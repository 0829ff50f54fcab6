package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gogpu/pls/backend"
)

func newBackendsCmd() *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List registered backends in selection order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			best := backend.Best()
			for _, name := range backend.Available() {
				mark := ""
				if name == best {
					mark = "*"
				}
				status := ""
				if probe {
					status = probeBackend(name)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", mark, name, status)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "open and close each backend")
	return cmd
}

func probeBackend(name string) string {
	b, err := backend.Open(name)
	if err != nil {
		return "unavailable: " + err.Error()
	}
	if err := b.Close(); err != nil {
		return "close failed: " + err.Error()
	}
	return "ok"
}
