package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/satrio/kurir/internal/config"
	"github.com/satrio/kurir/internal/daemon"
	"github.com/satrio/kurir/internal/logger"
	"github.com/satrio/kurir/pkg/agent"
	"github.com/satrio/kurir/pkg/session"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the kurir gateway",
	Long: `Start the kurir gateway in the foreground. Every enabled channel is
brought up and the process runs until SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	if isRunning(pidFilePath()) {
		return fmt.Errorf("kurir is already running (PID file: %s)", pidFilePath())
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "config: %v\n", e)
		}
		return fmt.Errorf("configuration has %d problem(s)", len(errs))
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, ackRunner())
	if err != nil {
		return err
	}
	return d.Run()
}

// ackRunner is the built-in reply backend: it acknowledges every message
// with the channel default reply. Deployments plug a real agent in by
// constructing the daemon themselves.
func ackRunner() agent.Runner {
	return agent.RunnerFunc(func(ctx context.Context, s *session.Session, text string) (string, error) {
		return "", nil
	})
}

func pidFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/kurir.pid"
	}
	return filepath.Join(home, ".kurir", "kurir.pid")
}

func isRunning(pidFile string) bool {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return false
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix FindProcess always succeeds; probe with signal 0.
	return process.Signal(os.Signal(nil)) == nil
}
