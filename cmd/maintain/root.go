package maintain

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ValentinKolb/sKV/cmd/util"
	"github.com/ValentinKolb/sKV/lib/store"
)

var (
	dStore store.IDurableStore

	// MaintainCmd represents the maintenance command group
	MaintainCmd = &cobra.Command{
		Use:               "maintain",
		Short:             "Run maintenance operations on a state database",
		PersistentPreRunE: setupStore,
		PersistentPostRun: teardownStore,
	}

	flushCmd = &cobra.Command{
		Use:   "flush",
		Short: "Persists all buffered writes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dStore.Flush(); err != nil {
				return err
			}
			fmt.Println("flushed successfully")
			return nil
		},
	}
	vacuumCmd = &cobra.Command{
		Use:   "vacuum",
		Short: "Removes aged session records and reclaims file space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dStore.Vacuum(); err != nil {
				return err
			}
			fmt.Println("vacuumed successfully")
			return nil
		},
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Prints statistics about the state database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := dStore.Keys("*")
			if err != nil {
				return err
			}

			composite := 0
			for _, key := range keys {
				if store.CompositeKey(key) {
					composite++
				}
			}

			fmt.Printf("database:       %s\n", viper.GetString("db"))
			if info, err := os.Stat(viper.GetString("db")); err == nil {
				fmt.Printf("file size:      %d bytes\n", info.Size())
			}
			fmt.Printf("total keys:     %d\n", len(keys))
			fmt.Printf("session keys:   %d\n", composite)
			fmt.Printf("durable keys:   %d\n", len(keys)-composite)
			return nil
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add subcommands
	MaintainCmd.AddCommand(flushCmd)
	MaintainCmd.AddCommand(vacuumCmd)
	MaintainCmd.AddCommand(statsCmd)
}

func setupStore(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	s, err := util.OpenDurableStore()
	if err != nil {
		return err
	}
	dStore = s
	return nil
}

func teardownStore(_ *cobra.Command, _ []string) {
	if dStore != nil {
		dStore.Dispose()
	}
}
