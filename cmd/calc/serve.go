package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/calcd/pkg/api"
	grpcapi "github.com/lemonberrylabs/calcd/pkg/api/grpc"
	"github.com/lemonberrylabs/calcd/pkg/store"
	"github.com/lemonberrylabs/calcd/web"
)

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API, web UI and gRPC service",
		Args:  cobra.NoArgs,
		RunE:  c.serve,
	}
	cmd.Flags().Int("port", 0, "HTTP server port (default 8787, env PORT)")
	cmd.Flags().Int("grpc-port", 0, "gRPC server port (default 8788, env GRPC_PORT)")
	cmd.Flags().String("host", "", "Bind address (default 0.0.0.0, env HOST)")
	cmd.Flags().String("programs-dir", "", "Directory of .calc programs to load (env PROGRAMS_DIR)")
	return cmd
}

func (c *cli) serve(cmd *cobra.Command, _ []string) error {
	sc := c.cfg.Server
	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		sc.Port = v
	}
	if v, _ := cmd.Flags().GetInt("grpc-port"); v != 0 {
		sc.GRPCPort = v
	}
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		sc.Host = v
	}
	if v, _ := cmd.Flags().GetString("programs-dir"); v != "" {
		sc.ProgramsDir = v
	}

	addr := fmt.Sprintf("%s:%d", sc.Host, sc.Port)
	grpcAddr := fmt.Sprintf("%s:%d", sc.Host, sc.GRPCPort)

	s := store.New()
	opts := c.sessionOptions()
	server := api.New(s, opts, c.log)

	if sc.ProgramsDir != "" {
		if err := server.WatchDir(sc.ProgramsDir); err != nil {
			c.log.Warn().Err(err).Str("dir", sc.ProgramsDir).Msg("failed to load programs directory")
		}
	}

	web.New(s, c.precision()).Register(server.App())

	grpcServer := grpcapi.New(s, opts, c.log)
	go func() {
		c.log.Info().Str("addr", grpcAddr).Msg("gRPC server listening")
		if err := grpcServer.Serve(grpcAddr); err != nil {
			c.log.Fatal().Err(err).Msg("gRPC server error")
		}
	}()

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		c.log.Info().Msg("shutting down")
		grpcServer.GracefulStop()
		if err := server.Shutdown(); err != nil {
			c.log.Error().Err(err).Msg("error during shutdown")
		}
	}()

	c.log.Info().
		Str("addr", addr).
		Str("version", version).
		Int("programs", len(s.ListPrograms())).
		Msg("calculator server listening")
	return server.Listen(addr)
}
