// Command sumchat is a terminal chat client for a Llama-2 text-generation
// endpoint. Older turns are folded into a running summary so the prompt
// stays inside the model's context window.
//
// Secrets are read from a TOML file (default secrets.toml):
//
//	[huggingface]
//	bearer = "..."
//	api_token = "..."
//	endpoint_url = "https://..."
//
//	[system]
//	message = "You are a helpful, respectful and honest assistant"
//
// Environment variables (SUMCHAT_*, LLM_*) are read first; the secrets file
// overrides them.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/teilomillet/sumchat"
	"github.com/teilomillet/sumchat/chat"
	"github.com/teilomillet/sumchat/config"
	"github.com/teilomillet/sumchat/utils"
)

type cmdFlags struct {
	secrets        string
	secretsChanged bool
	system         string
	temperature    float64
	maxNewTokens   int
	logFile        string
	logLevel       string
	metricsAddr    string
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (*cmdFlags, *pflag.FlagSet, error) {
	flags := &cmdFlags{}
	flagSet := pflag.NewFlagSet("sumchat", pflag.ContinueOnError)
	flagSet.StringVar(&flags.secrets, "secrets", config.DefaultSecretsFile, "TOML file holding tokens, endpoint and system message")
	flagSet.StringVar(&flags.system, "system", "", "system message (overrides the secrets file)")
	flagSet.Float64Var(&flags.temperature, "temperature", -1, "sampling temperature between 0 and 2")
	flagSet.IntVar(&flags.maxNewTokens, "max-new-tokens", 0, "maximum tokens generated per reply")
	flagSet.StringVar(&flags.logFile, "log-file", "", "write JSON logs to this rotated file instead of stderr")
	flagSet.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error, off)")
	flagSet.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	if err := flagSet.Parse(args); err != nil {
		return nil, flagSet, err
	}
	flags.secretsChanged = flagSet.Changed("secrets")
	return flags, flagSet, nil
}

func loadConfig(flags *cmdFlags) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	// The default secrets file is optional; an explicit --secrets is not.
	if err := config.LoadSecrets(cfg, flags.secrets); err != nil {
		if flags.secretsChanged || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	var opts []config.ConfigOption
	if flags.system != "" {
		opts = append(opts, config.SetSystemMessage(flags.system))
	}
	if flags.temperature >= 0 {
		opts = append(opts, config.SetTemperature(flags.temperature))
	}
	if flags.maxNewTokens > 0 {
		opts = append(opts, config.SetMaxNewTokens(flags.maxNewTokens))
	}
	if flags.logFile != "" {
		opts = append(opts, config.SetLogFile(flags.logFile))
	}
	if flags.logLevel != "" {
		var level utils.LogLevel
		if err := level.UnmarshalText([]byte(flags.logLevel)); err != nil {
			return nil, err
		}
		opts = append(opts, config.SetLogLevel(level))
	}
	config.ApplyOptions(cfg, opts...)

	return cfg, config.Validate(cfg)
}

func newLogger(cfg *config.Config) (utils.Logger, error) {
	if cfg.LogFile == "" {
		return utils.NewLogger(cfg.LogLevel), nil
	}
	return utils.NewFileLogger(cfg.LogLevel, cfg.LogFile)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger utils.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", "addr", addr, "error", err)
		}
	}()
	return server
}

func run(args []string, in io.Reader, out io.Writer) error {
	flags, flagSet, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			_, _ = fmt.Fprintf(out, "Usage: sumchat [flags]\n\n%s", flagSet.FlagUsages())
		}
		return err
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	var convOpts []chat.Option
	if flags.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics, err := chat.NewMetrics(reg)
		if err != nil {
			return err
		}
		convOpts = append(convOpts, chat.WithMetrics(metrics))

		server := serveMetrics(flags.metricsAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	conv, err := sumchat.New(cfg, logger, sumchat.WithConversationOptions(convOpts...))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return repl(ctx, conv, cfg, in, out)
}

// repl reads one message per line. The displayed history grows without
// bound; only the prompt sent to the model is kept inside the budget.
// Cancelling ctx ends the loop even while it waits for input.
func repl(ctx context.Context, conv *chat.Conversation, cfg *config.Config, in io.Reader, out io.Writer) error {
	if used, limit, exceeded := conv.SystemTokens(cfg.SystemMessage); exceeded {
		_, _ = fmt.Fprintf(out, "warning: system message is %d tokens, above the %d token allowance\n", used, limit)
	}
	_, _ = fmt.Fprintln(out, "Type a message, /summary, /reset or /quit.")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines, errc := readLines(ctx, in)

	var history []chat.Message
	for {
		_, _ = fmt.Fprint(out, "> ")

		var line string
		select {
		case <-ctx.Done():
			_, _ = fmt.Fprintln(out)
			return nil
		case text, ok := <-lines:
			if !ok {
				_, _ = fmt.Fprintln(out)
				return <-errc
			}
			line = strings.TrimSpace(text)
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			conv.Reset()
			history = nil
			_, _ = fmt.Fprintln(out, "Conversation cleared.")
			continue
		case "/summary":
			summary := conv.Memory().Summary()
			if summary == "" {
				summary = "(no summary yet)"
			}
			_, _ = fmt.Fprintln(out, summary)
			continue
		}

		history = append(history, chat.Message{Role: chat.RoleUser, Content: line})
		reply := conv.ContinueConversation(ctx, history, cfg.SystemMessage, cfg.MaxNewTokens, cfg.Temperature)
		history = append(history, chat.Message{Role: chat.RoleAssistant, Content: reply.String()})

		_, _ = fmt.Fprintln(out, reply.String())
		if ctx.Err() != nil {
			return nil
		}
	}
}

// readLines scans in on its own goroutine so a blocked read never holds up
// cancellation. lines is closed at end of input, after the scanner error
// has been sent on errc. The goroutine exits once ctx is done, or stays
// parked in Read until in returns.
func readLines(ctx context.Context, in io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				errc <- nil
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}
