// Package main is the entry point for the calc command: an interactive
// calculator, a one-shot evaluator and the calculator server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	grpcapi "github.com/lemonberrylabs/calcd/pkg/api/grpc"
	"github.com/lemonberrylabs/calcd/pkg/config"
	"github.com/lemonberrylabs/calcd/pkg/expr"
	"github.com/lemonberrylabs/calcd/pkg/session"
	"github.com/lemonberrylabs/calcd/pkg/types"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const banner = `
Simple calculator

Enter floating-point expressions using ( ) { } + - * / % and the postfix !.
Finish each expression with ; to see its value, for example: (2+3)*11;
Enter q to quit.

`

// cli holds the streams and resolved settings shared by every command.
type cli struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	cfg *config.Config
	log zerolog.Logger
}

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// execute runs the command line and reports a failure the way the exit
// status classifies it.
func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	root := newRootCmd(in, out, errOut)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	code := types.ExitCode(err)
	switch code {
	case types.ExitKnown:
		fmt.Fprintf(errOut, "error: %v\n", err)
	case types.ExitUnknown:
		fmt.Fprintf(errOut, "Oops: unknown failure: %v\n", err)
	}
	return code
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:               "calc",
		Short:             "Floating-point calculator",
		Args:              cobra.NoArgs,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		RunE:              c.repl,
	}
	root.Version = version + " (commit=" + commit + ", built=" + date + ")"
	root.SetVersionTemplate("calc version {{.Version}}\n")
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.String("config", "", "YAML configuration file")
	pf.String("log-level", "", "Log level: debug, info, warn, error (env CALC_LOG_LEVEL)")
	pf.Int("precision", 0, "Significant digits in printed results (default 6, env CALC_PRECISION)")
	pf.Int("max-depth", 0, "Maximum expression nesting, 0 for no limit (default 1000, env CALC_MAX_DEPTH)")

	root.Flags().String("prompt", "", "Prompt printed before each statement (default \">\", env CALC_PROMPT)")
	root.Flags().Bool("interactive", false, "Print the banner and prompts (default: when stdin is a terminal)")

	root.AddCommand(c.evalCmd(), c.serveCmd())
	return root
}

// setup resolves the configuration (defaults, file, environment, flags)
// and builds the logger.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("precision") {
		cfg.Precision, _ = flags.GetInt("precision")
	}
	if flags.Changed("max-depth") {
		cfg.MaxDepth, _ = flags.GetInt("max-depth")
	}
	if f := flags.Lookup("prompt"); f != nil && f.Changed {
		cfg.Prompt = f.Value.String()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	c.cfg = cfg
	c.log = zerolog.New(zerolog.ConsoleWriter{Out: c.errOut}).
		With().Timestamp().Str("service", "calc").Logger().
		Level(cfg.Level())
	return nil
}

func (c *cli) sessionOptions() session.Options {
	opts := c.cfg.SessionOptions()
	opts.Logger = c.log
	return opts
}

func (c *cli) precision() int {
	if c.cfg.Precision == 0 {
		return expr.DefaultPrecision
	}
	return c.cfg.Precision
}

// repl reads statements from stdin until q or end of input.
func (c *cli) repl(cmd *cobra.Command, _ []string) error {
	interactive := c.isTerminal()
	if cmd.Flags().Changed("interactive") {
		interactive, _ = cmd.Flags().GetBool("interactive")
	}

	opts := c.sessionOptions()
	opts.Interactive = interactive
	if interactive {
		fmt.Fprint(c.out, banner)
	}

	_, err := session.New(c.in, c.out, opts).Run(cmd.Context())
	if interactive && err == nil {
		fmt.Fprintln(c.out)
	}
	return err
}

func (c *cli) isTerminal() bool {
	f, ok := c.in.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (c *cli) evalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval EXPR...",
		Short: "Evaluate each argument and print its value",
		Args:  cobra.MinimumNArgs(1),
		RunE:  c.eval,
	}
	cmd.Flags().String("grpc", "", "Evaluate on a calculator server at this address")
	return cmd
}

func (c *cli) eval(cmd *cobra.Command, args []string) error {
	evaluate := func(_ context.Context, s string) (float64, error) {
		return expr.Evaluate(s, expr.WithMaxDepth(c.cfg.MaxDepth))
	}

	if addr, _ := cmd.Flags().GetString("grpc"); addr != "" {
		conn, err := grpcapi.Dial(addr)
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", addr, err)
		}
		defer conn.Close()
		evaluate = grpcapi.NewClient(conn).Evaluate
		c.log.Debug().Str("addr", addr).Msg("evaluating remotely")
	}

	precision := c.precision()
	for _, arg := range args {
		v, err := evaluate(cmd.Context(), arg)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, expr.FormatValue(v, precision))
	}
	return nil
}
