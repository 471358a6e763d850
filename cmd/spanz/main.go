// Command spanz runs a tracer against a synthetic workload and prints its
// effective configuration.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/zoobzio/spanz"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "spanz: %+v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "spanz",
		Short:         "Tracing core workbench",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"YAML configuration file; environment variables are applied on top")

	root.AddCommand(newDemoCommand(&configPath), newConfigCommand(&configPath))
	return root
}

// loadConfig reads the configuration file, if any, then the environment.
func loadConfig(path string) (spanz.Config, error) {
	cfg := spanz.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = spanz.LoadConfig(path); err != nil {
			return spanz.Config{}, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return spanz.Config{}, errors.Wrap(err, "apply environment")
	}
	return cfg, nil
}

func newConfigCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), cfg.String())
			return err
		},
	}
}

func newDemoCommand(configPath *string) *cobra.Command {
	var traces, workers int

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Generate traces that hop between goroutines and print tracer stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if traces <= 0 || workers <= 0 {
				return errors.Newf("traces and workers must be > 0, got %d and %d", traces, workers)
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			tracer, err := spanz.NewFromConfig(cfg)
			if err != nil {
				return err
			}

			if err := runDemo(cmd.Context(), tracer, traces, workers); err != nil {
				_ = tracer.Close()
				return err
			}
			if err := tracer.Close(); err != nil {
				return errors.Wrap(err, "close tracer")
			}

			out, err := yaml.Marshal(tracer.Stats())
			if err != nil {
				return errors.Wrap(err, "encode stats")
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().IntVarP(&traces, "traces", "n", 100, "number of traces to generate")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "number of concurrent workers")
	return cmd
}

// runDemo starts traces on a bounded set of goroutines. Each trace hands its
// root to a second goroutine through a continuation, so the trace is only
// written once both sides are done.
func runDemo(ctx context.Context, tracer *spanz.Tracer, traces, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < traces; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			root := tracer.BuildSpan("demo.request").
				WithResourceName("GET /demo/" + strconv.Itoa(i%8)).
				WithTag("demo.index", spanz.Int(i)).
				StartActive()
			root.SetBaggageItem("request.id", strconv.Itoa(i))

			cont := root.Capture()
			done := make(chan struct{})
			go func() {
				defer close(done)
				scope := cont.Activate()
				defer scope.Deactivate()

				child := tracer.BuildSpan("demo.work").StartActive()
				child.SetTag("demo.worker", spanz.Bool(true))
				child.Close()
			}()

			query := tracer.BuildSpan("demo.query").WithSpanType("db").StartActive()
			query.Close()

			<-done
			root.Close()
			return nil
		})
	}
	return g.Wait()
}
