/*
main.go - Application entry point

PURPOSE:
  Command-line front of the wallet desk. Loads configuration, opens the
  document store and wires the domain services.

COMMANDS:
  serve     Run the HTTP API until SIGINT/SIGTERM
  ledger    Print the wallet snapshot as JSON and exit

CONFIGURATION:
  --config points at a TOML file (optional). WALLETDESK_* environment
  variables override it. See config/config.go.

EXAMPLES:
  # Run with the default file backend under ./data
  ./server serve

  # Run against SQLite on another port
  WALLETDESK_BACKEND=sqlite ./server serve --addr :3000

  # Dump balances
  ./server ledger --config walletdesk.toml

SEE ALSO:
  - serve.go: Service wiring and graceful shutdown
  - api/server.go: Router configuration
*/
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/walletdesk/config"
	"github.com/warp/walletdesk/docstore"
	"github.com/warp/walletdesk/metrics"
	"github.com/warp/walletdesk/store/sqlite"
	"github.com/warp/walletdesk/wallet"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "walletdesk",
	Short:         "Wallet, order approval and inventory desk",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Print every wallet and the totals as JSON",
	Args:  cobra.NoArgs,
	RunE:  runLedger,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runLedger(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logrus.NewEntry(cfg.Logger())

	store, err := openStore(cfg, log, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := wallet.New(store, wallet.WithLogger(log)).Snapshot(cmd.Context())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// openStore selects the document backend named in cfg.
func openStore(cfg config.Config, log *logrus.Entry, m *metrics.Metrics) (*docstore.Store, error) {
	var backend docstore.Backend
	switch cfg.Backend {
	case config.BackendSQLite:
		b, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		backend = b
	case config.BackendMemory:
		log.Warn("memory backend selected, nothing will survive a restart")
		backend = docstore.NewMemoryBackend()
	default:
		b, err := docstore.NewFileBackend(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open data dir %s: %w", cfg.DataDir, err)
		}
		backend = b
	}
	log.WithFields(logrus.Fields{"backend": cfg.Backend, "data_dir": cfg.DataDir}).Info("document store opened")
	return docstore.New(backend, docstore.WithLogger(log), docstore.WithMetrics(m)), nil
}

func newMetrics() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, metrics.New(reg)
}
