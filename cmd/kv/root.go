package kv

import (
	"github.com/spf13/cobra"

	"github.com/ValentinKolb/sKV/cmd/util"
	"github.com/ValentinKolb/sKV/lib/lifecycle"
	"github.com/ValentinKolb/sKV/lib/store"
)

var (
	dStore  store.IDurableStore
	watcher *lifecycle.Watcher

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:               "kv",
		Short:             "Perform key-value operations on a state database",
		PersistentPreRunE: setupStore,
		PersistentPostRun: teardownStore,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add subcommands
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(keysCmd)
	KeyValueCommands.AddCommand(mgetCmd)
	KeyValueCommands.AddCommand(incrCmd)
}

// setupStore opens the configured state database and registers its disposal
// with the lifecycle watcher, so an interrupt mid-command still flushes
func setupStore(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	s, err := util.OpenDurableStore()
	if err != nil {
		return err
	}
	dStore = s

	watcher = lifecycle.NewWatcher()
	watcher.Register("durable-store", dStore.Dispose)
	return nil
}

// teardownStore disposes the store (flushing buffered writes) after the
// command ran
func teardownStore(_ *cobra.Command, _ []string) {
	if watcher != nil {
		watcher.Shutdown()
	}
}
