package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/app"
	"github.com/ternarybob/linkaudit/internal/common"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	collections = flag.String("collections", "", "Comma-separated collections to audit as format/key (default: all active)")
	emailMode   = flag.String("email", "", "Email mode: normal, force, print or single")
	emailTo     = flag.String("email-to", "", "Send every report to this single address")
	logLevel    = flag.String("log-level", "", "Log level: trace, debug, info, warn, error")
	threads     = flag.Int("threads", 0, "Maximum concurrent fetches (overrides config)")
	serve       = flag.Bool("serve", false, "Run as a daemon on the configured cron schedule")
	showVersion = flag.Bool("version", false, "Print version information")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	os.Exit(run())
}

func run() int {
	common.InstallCrashHandler("./logs")
	defer common.RecoverWithCrashFile()

	flag.Parse()

	if *showVersion {
		fmt.Printf("LinkAudit version %s\n", common.GetFullVersion())
		return 0
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("linkaudit.toml"); err == nil {
			configFiles = append(configFiles, "linkaudit.toml")
		}
	}

	// defaults -> files -> env -> flags
	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Error().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration files")
		return 1
	}
	common.ApplyFlagOverrides(config, *threads, *logLevel, *emailMode, *emailTo)

	logger := common.InitLogger(config)

	if err := config.Validate(); err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	if config.Email.Mode != common.EmailModePrint {
		common.PrintBanner(common.LoadVersionFromFile())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		return 1
	}
	defer application.Close()

	selectors := splitSelectors(*collections)

	if *serve || config.Scheduler.Enabled {
		if err := application.Serve(ctx, selectors); err != nil {
			logger.Error().Err(err).Msg("Failed to start audit daemon")
			return 1
		}
		<-ctx.Done()
		logger.Info().Msg("Shutdown signal received")
		return 0
	}

	summary, err := application.RunOnce(ctx, selectors)
	if err != nil {
		logger.Error().Err(err).Msg("Audit run failed")
		return 1
	}
	if summary.HasFailures() {
		return 1
	}
	return 0
}

func splitSelectors(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
