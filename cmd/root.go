package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"

	"github.com/spf13/cobra"

	"github.com/tsmigrate/tsm/pkg/config"
	"github.com/tsmigrate/tsm/pkg/filter"
	"github.com/tsmigrate/tsm/pkg/importer"
	"github.com/tsmigrate/tsm/pkg/interrupt"
	"github.com/tsmigrate/tsm/pkg/logger"
	"github.com/tsmigrate/tsm/pkg/runtime"
	"github.com/tsmigrate/tsm/pkg/store"
	"github.com/tsmigrate/tsm/pkg/transaction"
)

var (
	flagLogLevel   = 0
	flagConfigFile = ""
	flagLogFile    = ""

	flagSource     = ""
	flagSourceDir  = ""
	flagTarget     = ""
	flagTargetDir  = ""
	flagMaxThreads = 0
	flagNoBackup   = false
	flagDryRun     = false
	flagFilter     = ""
)

var rootCmd = &cobra.Command{
	Use:     "tsm",
	Short:   "Migrate torrent resume state between client data directories",
	Version: runtime.Version,
	Long: `tsm reads the persisted per-torrent state of one BitTorrent client and
rewrites it into another client's on-disk format, preserving completion
bitmaps, priorities, limits, trackers and metadata. Writes are staged and
published atomically on commit.`,

	Run: func(cmd *cobra.Command, args []string) {
		if err := initCore(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "Failed initializing: %v\n", err)
			os.Exit(1)
		}

		log := logger.GetLogger("tsm")
		if err := migrate(cmd); err != nil {
			log.WithError(err).Error("Migration failed")
			os.Exit(1)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.CountVarP(&flagLogLevel, "verbose", "v", "Verbose mode (-v or -vv)")
	pf.StringVar(&flagConfigFile, "config", "", "Config file path (default ~/.config/tsm/config.yaml)")
	pf.StringVar(&flagLogFile, "log", "", "Log file path")

	f := rootCmd.Flags()
	f.StringVar(&flagSource, "source", "", "Source client name")
	f.StringVar(&flagSourceDir, "source-dir", "", "Source client data directory")
	f.StringVar(&flagTarget, "target", "", "Target client name")
	f.StringVar(&flagTargetDir, "target-dir", "", "Target client data directory")
	f.IntVar(&flagMaxThreads, "max-threads", 0, "Maximum number of migration threads (default hardware concurrency)")
	f.BoolVar(&flagNoBackup, "no-backup", false, "Do not backup target client data directory")
	f.BoolVar(&flagDryRun, "dry-run", false, "Do not write anything to disk")
	f.StringVar(&flagFilter, "filter", "", "Only migrate torrents matching this expression")
}

func initCore(cmd *cobra.Command) error {
	configFile := flagConfigFile
	if configFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			configFile = filepath.Join(home, ".config", "tsm", "config.yaml")
		}
	}

	if err := config.Init(configFile); err != nil {
		return err
	}

	// flags beat config file and environment
	if !cmd.Flags().Changed("max-threads") && config.Config.MaxThreads > 0 {
		flagMaxThreads = config.Config.MaxThreads
	}
	if !cmd.Flags().Changed("no-backup") {
		flagNoBackup = flagNoBackup || config.Config.NoBackup
	}
	if !cmd.Flags().Changed("dry-run") {
		flagDryRun = flagDryRun || config.Config.DryRun
	}
	if flagFilter == "" {
		flagFilter = config.Config.Filter
	}
	if flagLogFile == "" {
		flagLogFile = config.Config.LogPath
	}

	if err := logger.Init(flagLogLevel, flagLogFile); err != nil {
		return err
	}

	config.ShowUsing()
	logger.ShowUsing()
	return nil
}

func migrate(cmd *cobra.Command) error {
	log := logger.GetLogger("tsm")

	opts := store.Options{
		TransmissionCompat29x:  config.Config.Transmission.Compat29x,
		TransmissionWriteFiles: config.Config.Transmission.WriteFiles,
	}

	sourceStore, sourceDir, err := findStateStore(flagSource, flagSourceDir, store.IntentExport, opts)
	if err != nil {
		return err
	}
	log.Infof("Source: %s (%s)", sourceStore.Client(), sourceDir)

	targetStore, targetDir, err := findStateStore(flagTarget, flagTargetDir, store.IntentImport, opts)
	if err != nil {
		return err
	}
	log.Infof("Target: %s (%s)", targetStore.Client(), targetDir)

	var boxFilter *filter.Filter
	if flagFilter != "" {
		if boxFilter, err = filter.Compile(flagFilter); err != nil {
			return err
		}
		log.Infof("Using filter: %s", boxFilter)
	}

	threadCount := flagMaxThreads
	if threadCount < 1 {
		threadCount = goruntime.NumCPU()
	}

	txn := transaction.New(flagNoBackup, flagDryRun)
	defer txn.Close()

	interrupt.Install()

	result, err := importer.New(sourceStore, sourceDir, targetStore, targetDir, txn, boxFilter).Run(threadCount)
	if err != nil {
		return err
	}

	shouldCommit := true
	if !result.Clean() && !flagNoBackup && !flagDryRun {
		shouldCommit = promptCommit()
	}

	if shouldCommit && !interrupt.IsInterrupted() {
		txn.Commit()
	}
	return nil
}

// findStateStore resolves a client from its name, its data directory or
// both, mirroring the --source/--source-dir contract.
func findStateStore(name, dataDir string, intent store.Intent, opts store.Options) (store.StateStore, string, error) {
	direction := "source"
	if intent == store.IntentImport {
		direction = "target"
	}

	var result store.StateStore
	var err error

	switch {
	case name != "":
		client, err := store.ClientFromString(name)
		if err != nil {
			return nil, "", err
		}
		if result, err = store.NewStore(client, opts); err != nil {
			return nil, "", err
		}
		if dataDir == "" {
			if dataDir, err = result.GuessDataDir(intent); err != nil {
				return nil, "", err
			}
			if dataDir == "" {
				return nil, "", fmt.Errorf("no data directory found for %s torrent client", direction)
			}
		}

	case dataDir != "":
		if result, err = store.GuessByDataDir(dataDir, intent, opts); err != nil {
			return nil, "", err
		}

	default:
		return nil, "", fmt.Errorf("%s torrent client name and/or data directory are not specified", direction)
	}

	if !result.IsValidDataDir(dataDir, intent) {
		return nil, "", fmt.Errorf("bad %s data directory: %q", direction, dataDir)
	}

	return result, dataDir, nil
}

// promptCommit asks whether a dirty run should still be committed.
func promptCommit() bool {
	reader := bufio.NewReader(os.Stdin)
	for !interrupt.IsInterrupted() {
		fmt.Print("Import is not clean, do you want to commit? [yes/no]: ")

		answer, err := reader.ReadString('\n')
		if err != nil {
			return false
		}

		switch answer {
		case "yes\n":
			return true
		case "no\n":
			return false
		}
	}
	return false
}
