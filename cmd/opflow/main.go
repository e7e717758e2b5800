package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warriorguo/opflow"
	"github.com/warriorguo/opflow/examples"
	"github.com/warriorguo/opflow/op"
	"github.com/warriorguo/opflow/runtime"
	"github.com/warriorguo/opflow/store/postgres"
	"github.com/warriorguo/opflow/types"
	"github.com/warriorguo/opflow/utils"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "opflow",
		Short:         "Run and render the example operation graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				return errors.Trace(err)
			}
			log.SetLevel(level)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warning", "logrus level (debug, info, warning, error)")
	root.AddCommand(listCmd())
	root.AddCommand(renderCmd())
	root.AddCommand(runCmd())
	return root
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the example graphs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range examples.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func renderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render <example>",
		Short: "Print an example graph as Graphviz DOT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := examples.Build(args[0])
			if err != nil {
				return errors.Trace(err)
			}
			dot, err := runtime.RenderDOT(g, nil)
			if err != nil {
				return errors.Trace(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), dot)
			return nil
		},
	}
}

type runFlags struct {
	params    map[string]string
	breaks    []string
	stepInto  bool
	useEngine bool
	dsn       string
	dot       bool
	timeout   time.Duration
}

func runCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run <example>",
		Short: "Run an example graph and print its outputs",
		Long: `Run an example graph. Params are routed into the unlinked inputs of the
same name. Breakpoints name nodes by path, e.g. affine.double, but only
top level nodes pause the run; it is resumed right away, skipping the
breakpoint node.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := examples.Build(args[0])
			if err != nil {
				return errors.Trace(err)
			}
			if err := setBreakpoints(g, flags.breaks); err != nil {
				return errors.Trace(err)
			}
			params := types.Data{}
			for k, v := range flags.params {
				params[k] = v
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()
			if flags.useEngine || flags.dsn != "" {
				return runEngine(ctx, cmd.OutOrStdout(), g, params, flags)
			}
			return runProcessor(cmd.OutOrStdout(), g, params, flags)
		},
	}

	cmd.Flags().StringToStringVarP(&flags.params, "param", "p", nil, "request params, key=value")
	cmd.Flags().StringSliceVar(&flags.breaks, "break", nil, "paths of nodes to pause before")
	cmd.Flags().BoolVar(&flags.stepInto, "step", false, "step into composite nodes, printing every inner node")
	cmd.Flags().BoolVar(&flags.useEngine, "engine", false, "run as an engine request with trace records")
	cmd.Flags().StringVar(&flags.dsn, "postgres", "", "PostgreSQL DSN for the engine store, implies --engine")
	cmd.Flags().BoolVar(&flags.dot, "dot", false, "print the request as DOT coloured by its trace, with --engine")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", time.Minute, "give up after this long")
	return cmd
}

func setBreakpoints(g *op.OpGraph, paths []string) error {
	for _, path := range utils.UniqueSlice(paths) {
		n, exists := g.NodeAt(utils.NewPath(strings.Split(path, ".")...))
		if !exists {
			return errors.NotFoundf("node %s", path)
		}
		n.SetBreakpoint(true)
	}
	return nil
}

func runProcessor(w io.Writer, g *op.OpGraph, params types.Data, flags *runFlags) error {
	printer := &runtime.ListenerFuncs{
		OnBeginNode: func(p *runtime.Processor, n *op.OpNode) {
			fmt.Fprintf(w, "%s> %s\n", strings.Repeat("  ", len(p.Path())), n.Name())
		},
	}
	p := runtime.NewProcessor(g, runtime.WithListeners(printer))
	if err := p.Reset(runtime.NewRequestContext(g, params)); err != nil {
		return errors.Trace(err)
	}

	shouldBreak := len(flags.breaks) > 0
	for p.HasNext() {
		var err error
		if flags.stepInto {
			err = p.StepInto()
		} else {
			err = p.Step(shouldBreak)
		}
		if types.IsBreakpoint(err) {
			fmt.Fprintf(w, "paused: %v\n", err)
			continue
		}
		if err != nil {
			return errors.Trace(err)
		}
	}

	for _, n := range g.Nodes() {
		child, exists := p.Context().FindChild(n)
		if !exists {
			continue
		}
		for _, f := range n.Outputs() {
			if v, exists := child.GetField(f); exists {
				fmt.Fprintf(w, "%s.%s = %v\n", n.ID(), f.Key, v)
			}
		}
	}
	return nil
}

func runEngine(ctx context.Context, w io.Writer, g *op.OpGraph, params types.Data, flags *runFlags) error {
	opts := []types.EngineOption{types.WithContext(ctx), types.EnableMemStore()}
	if len(flags.breaks) > 0 {
		opts = append(opts, types.EnableBreakpoints())
	}
	if flags.dsn != "" {
		config, err := postgres.ParseDSN(flags.dsn)
		if err != nil {
			return errors.Trace(err)
		}
		opts = append(opts, types.WithPostgresConfig((*types.PostgresConfig)(config)))
	}

	engine, err := opflow.NewEngine(opts...)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if err := engine.Close(context.Background()); err != nil {
			log.Errorf("close engine: %v", err)
		}
	}()

	if err := engine.RegisterGraph(g); err != nil {
		return errors.Trace(err)
	}
	requestID, err := engine.RunGraph(ctx, g.ID(), "", params)
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintf(w, "request %s\n", requestID)

	status, err := waitRequest(ctx, w, engine, requestID)
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintf(w, "status %v\n", status.Status)

	records, err := engine.GetRequestRecords(ctx, requestID)
	if err != nil {
		return errors.Trace(err)
	}
	keys := make([]string, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		record := records[key]
		fmt.Fprintf(w, "%s %v %v\n", key, record.EndTime.Sub(record.StartTime), record.Output)
		if record.Error != "" {
			fmt.Fprintf(w, "  %s\n", strings.SplitN(record.Error, "\n", 2)[0])
		}
	}

	if flags.dot {
		dot, err := engine.RenderRequestStatus(ctx, requestID)
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Fprintln(w, dot)
	}
	if status.Status == types.Failed {
		return errors.Errorf("request %s failed: %s", requestID, status.LastError)
	}
	return nil
}

// waitRequest polls until the request ended, resuming it whenever it pauses.
func waitRequest(ctx context.Context, w io.Writer, engine runtime.Engine, requestID string) (*types.RequestStatus, error) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		status, err := engine.GetRequestStatus(ctx, requestID)
		if err != nil {
			return nil, errors.Trace(err)
		}
		switch status.Status {
		case types.Finished, types.Failed, types.Terminated:
			return status, nil
		case types.Paused:
			fmt.Fprintf(w, "paused at %s\n", status.CurrentNode)
			if err := engine.ResumeRequest(ctx, requestID); err != nil {
				return nil, errors.Trace(err)
			}
		}

		select {
		case <-ctx.Done():
			if err := engine.TerminateRequest(context.Background(), requestID); err != nil {
				log.Errorf("terminate %s: %v", requestID, err)
			}
			return nil, errors.Trace(ctx.Err())
		case <-ticker.C:
		}
	}
}
