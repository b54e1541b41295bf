package util

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ValentinKolb/sKV/lib/codec"
	"github.com/ValentinKolb/sKV/lib/engine"
	"github.com/ValentinKolb/sKV/lib/logging"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/store/durable"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var lines []string
	line := ""
	for _, word := range strings.Fields(text) {
		if line != "" && len(line)+1+len(word) > Wrap {
			lines = append(lines, line)
			line = ""
		}
		if line != "" {
			line += " "
		}
		line += word
	}
	if line != "" {
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// InitConfig initializes configuration from env files and environment
// variables (prefix SKV, e.g. SKV_DB)
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("skv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// SetupStoreFlags adds the common database flags to a command
func SetupStoreFlags(cmd *cobra.Command) {
	key := "db"
	cmd.PersistentFlags().String(key, "skv.db", WrapString("Path of the state database file"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("Log level (debug, info, warn, error)"))

	key = "flush-debounce"
	cmd.PersistentFlags().Duration(key, 500*time.Millisecond, WrapString("Delay between a staged write and the flush that persists it"))

	key = "vacuum-max-age"
	cmd.PersistentFlags().Duration(key, 14*24*time.Hour, WrapString("Last-access age after which session records are vacuumed"))

	key = "dispose-timeout"
	cmd.PersistentFlags().Duration(key, 5*time.Second, WrapString("Best-effort bound on the final flush during shutdown"))
}

// BindCommandFlags binds a command's flags (and the root's persistent flags)
// to viper
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.Flags())
}

// OpenDurableStore opens the configured state database file
func OpenDurableStore() (store.IDurableStore, error) {
	if err := logging.SetLevel(viper.GetString("log-level")); err != nil {
		return nil, err
	}

	eng, err := engine.Open(engine.DefaultConfig(viper.GetString("db")))
	if err != nil {
		return nil, err
	}

	opts := durable.DefaultOptions()
	opts.FlushDebounce = viper.GetDuration("flush-debounce")
	opts.VacuumMaxAge = viper.GetDuration("vacuum-max-age")
	opts.DisposeTimeout = viper.GetDuration("dispose-timeout")
	// the CLI is one-shot, every invocation may vacuum
	opts.VacuumInterval = 0

	return durable.NewDurableStore(eng, codec.NewJSONCodec(), opts)
}
