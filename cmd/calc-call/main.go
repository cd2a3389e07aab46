// Command calc-call is a one-shot tool caller: it connects to a calcd host,
// performs the handshake, invokes the 'add' tool with the two operands given
// on the command line, and prints the result.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/localrivet/calcmcp/client"
	"github.com/localrivet/calcmcp/logx"
)

const logLevelEnv = "CALCMCP_LOG_LEVEL"

var (
	flagTransport string
	flagURL       string
	flagCommand   string
	flagToken     string
	flagTimeout   time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "calc-call A B",
		Short:         "Call the add tool on a calcd host",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	rootCmd.Flags().StringVar(&flagTransport, "transport", "stdio", "transport to connect with: stdio, sse, or ws")
	rootCmd.Flags().StringVar(&flagURL, "url", "http://127.0.0.1:8080", "host base URL for network transports")
	rootCmd.Flags().StringVar(&flagCommand, "command", "calcd", "host command to spawn for the stdio transport")
	rootCmd.Flags().StringVar(&flagToken, "token", "", "bearer token for authenticated hosts")
	rootCmd.Flags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "overall deadline for the call")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "calc-call: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	a, err := parseOperand(args[0])
	if err != nil {
		return fmt.Errorf("invalid operand %q: %w", args[0], err)
	}
	b, err := parseOperand(args[1])
	if err != nil {
		return fmt.Errorf("invalid operand %q: %w", args[1], err)
	}

	level, _ := logx.ParseLevel(os.Getenv(logLevelEnv))
	logger := logx.New(os.Stderr, level)

	transport, err := buildTransport(logger)
	if err != nil {
		return err
	}

	c := client.New(transport,
		client.WithLogger(logger),
		client.WithRequestTimeout(flagTimeout),
		client.WithClientInfo("calc-call", "0.1.0"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), flagTimeout)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer c.Close()

	result, err := c.CallToolText(ctx, "add", map[string]interface{}{"a": a, "b": b})
	if err != nil {
		return err
	}

	fmt.Println(result)
	return nil
}

func buildTransport(logger *logx.Logger) (client.Transport, error) {
	switch flagTransport {
	case "stdio":
		parts := strings.Fields(flagCommand)
		if len(parts) == 0 {
			return nil, fmt.Errorf("--command must not be empty for the stdio transport")
		}
		return client.NewStdioTransport(parts[0], parts[1:], logger), nil
	case "sse":
		opts := []client.SSETransportOption{}
		if flagToken != "" {
			opts = append(opts, client.WithBearerToken(flagToken))
		}
		return client.NewSSETransport(flagURL, logger, opts...), nil
	case "ws":
		url := flagURL
		if strings.HasPrefix(url, "http://") {
			url = "ws://" + strings.TrimPrefix(url, "http://")
		} else if strings.HasPrefix(url, "https://") {
			url = "wss://" + strings.TrimPrefix(url, "https://")
		}
		if !strings.HasSuffix(url, "/ws") {
			url = strings.TrimSuffix(url, "/") + "/ws"
		}
		return client.NewWSTransport(url, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want stdio, sse, or ws)", flagTransport)
	}
}

// parseOperand validates that the argument is a JSON number and keeps it as
// one, so integer and floating-point operands stay distinguishable on the
// wire.
func parseOperand(s string) (json.Number, error) {
	var n json.Number
	if err := json.Unmarshal([]byte(s), &n); err != nil {
		return "", fmt.Errorf("not a number")
	}
	return n, nil
}
