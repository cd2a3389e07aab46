// Command calcd runs the calculator tool host. It exposes the 'add' tool over
// stdio (the default), SSE, or WebSocket.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/localrivet/calcmcp/auth"
	"github.com/localrivet/calcmcp/logx"
	"github.com/localrivet/calcmcp/server"
	"github.com/localrivet/calcmcp/tools/calc"
)

const logLevelEnv = "CALCMCP_LOG_LEVEL"

var (
	flagTransport   string
	flagHost        string
	flagPort        int
	flagBasePath    string
	flagIdleTimeout time.Duration
	flagJWTSecret   string
	flagJWKSURL     string
	flagJWTIssuer   string
	flagJWTAudience string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "calcd",
		Short:         "Calculator tool host",
		Long:          "calcd exposes a single 'add' tool to MCP callers over stdio, SSE, or WebSocket.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	rootCmd.Flags().StringVar(&flagTransport, "transport", "stdio", "transport to serve on: stdio, sse, or ws")
	rootCmd.Flags().StringVar(&flagHost, "host", "127.0.0.1", "bind address for network transports")
	rootCmd.Flags().IntVar(&flagPort, "port", 8080, "bind port for network transports")
	rootCmd.Flags().StringVar(&flagBasePath, "base-path", "", "URL prefix for the SSE endpoints")
	rootCmd.Flags().DurationVar(&flagIdleTimeout, "idle-timeout", server.DefaultIdleTimeout, "close sessions idle longer than this (0 disables)")
	rootCmd.Flags().StringVar(&flagJWTSecret, "jwt-secret", "", "require HS256 bearer tokens signed with this secret")
	rootCmd.Flags().StringVar(&flagJWKSURL, "jwks-url", "", "require bearer tokens verifiable against this JWKS endpoint")
	rootCmd.Flags().StringVar(&flagJWTIssuer, "jwt-issuer", "", "required token issuer")
	rootCmd.Flags().StringVar(&flagJWTAudience, "jwt-audience", "", "required token audience")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "calcd: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	level, err := logx.ParseLevel(os.Getenv(logLevelEnv))
	if err != nil {
		fmt.Fprintf(os.Stderr, "calcd: %v, defaulting to INFO\n", err)
	}
	logger := logx.New(os.Stderr, level)

	srv := server.NewServer("calcmcp",
		server.WithLogger(logger),
		server.WithIdleTimeout(flagIdleTimeout),
		server.WithInstructions("Call the 'add' tool with two numeric arguments."),
	)
	if err := srv.RegisterTool(calc.AddTool(), calc.HandleAdd); err != nil {
		return fmt.Errorf("failed to register add tool: %w", err)
	}

	validator, err := buildValidator()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(logger, srv)
	defer stop()

	switch flagTransport {
	case "stdio":
		return srv.ServeStdio(ctx)
	case "sse":
		sseServer := server.NewSSEServer(srv, server.SSEOptions{
			BasePath:  flagBasePath,
			Validator: validator,
		})
		return sseServer.ListenAndServe(ctx, fmt.Sprintf("%s:%d", flagHost, flagPort))
	case "ws":
		wsServer := server.NewWSServer(srv, server.WSOptions{
			Validator: validator,
		})
		return wsServer.ListenAndServe(ctx, fmt.Sprintf("%s:%d", flagHost, flagPort))
	default:
		return fmt.Errorf("unknown transport %q (want stdio, sse, or ws)", flagTransport)
	}
}

func buildValidator() (auth.TokenValidator, error) {
	if flagJWTSecret != "" && flagJWKSURL != "" {
		return nil, fmt.Errorf("--jwt-secret and --jwks-url are mutually exclusive")
	}
	if flagJWTSecret != "" {
		return auth.NewHMACTokenValidator(auth.HMACConfig{
			Secret:           []byte(flagJWTSecret),
			ExpectedIssuer:   flagJWTIssuer,
			ExpectedAudience: flagJWTAudience,
		})
	}
	if flagJWKSURL != "" {
		return auth.NewJWKSTokenValidator(auth.JWKSConfig{
			JWKSURL:          flagJWKSURL,
			ExpectedIssuer:   flagJWTIssuer,
			ExpectedAudience: flagJWTAudience,
		}, http.DefaultClient)
	}
	return nil, nil
}

// signalContext returns a context cancelled on the first SIGINT/SIGTERM. The
// first signal triggers a graceful drain; a second forces immediate exit.
func signalContext(logger *logx.Logger, srv *server.Server) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received %s, shutting down", sig)
		cancel()

		drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer drainCancel()
		go func() {
			if err := srv.Shutdown(drainCtx); err != nil {
				logger.Warn("shutdown incomplete: %v", err)
			}
		}()

		sig = <-sigCh
		logger.Warn("received second %s, exiting immediately", sig)
		os.Exit(1)
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
