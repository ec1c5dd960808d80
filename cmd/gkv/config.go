package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/inconshreveable/log15"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Giulio2002/gkv"
	"github.com/Giulio2002/gkv/backend"
	"github.com/Giulio2002/gkv/backend/bolt"
	"github.com/Giulio2002/gkv/backend/leveldb"
	"github.com/Giulio2002/gkv/backend/mdbx"
	"github.com/Giulio2002/gkv/backend/pebble"
	"github.com/Giulio2002/gkv/backend/rocks"
	"github.com/Giulio2002/gkv/backend/safe"
)

const (
	// Wrap is the number of characters to wrap the help text at
	Wrap int = 50
)

// backends maps --backend values to adapter Open functions.
var backends = map[string]backend.OpenFunc{
	"mdbx":    mdbx.Open,
	"bolt":    bolt.Open,
	"pebble":  pebble.Open,
	"leveldb": leveldb.Open,
	"rocksdb": rocks.Open,
	"safe":    safe.Open,
}

func backendNames() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var lines []string
	var line strings.Builder
	width := 0
	for _, word := range strings.Fields(text) {
		if width > 0 && width+1+len(word) > Wrap {
			lines = append(lines, line.String())
			line.Reset()
			width = 0
		}
		if width > 0 {
			line.WriteString(" ")
			width++
		}
		line.WriteString(word)
		width += len(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// setupFlags adds the environment flags shared by every command.
func setupFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("backend", "mdbx", WrapString("storage engine: "+strings.Join(backendNames(), ", ")))
	flags.String("path", ".", WrapString("environment directory, or file with --no-subdir"))
	flags.Bool("read-only", false, WrapString("open the environment read-only"))
	flags.Bool("no-subdir", false, WrapString("treat --path as a file instead of a directory"))
	flags.Bool("no-sync", false, WrapString("skip fsync on commit"))
	flags.Bool("create-dir", false, WrapString("create the environment directory if it is missing"))
	flags.Uint64("map-size", backend.DefaultMapSize>>20, WrapString("map size ceiling in MiB"))
	flags.Uint32("max-dbs", backend.DefaultMaxDBs, WrapString("maximum number of named databases"))
	flags.String("log-level", "info", WrapString("log level (crit, error, warn, info, debug)"))
}

// initConfig loads .env files and binds GKV_* environment variables
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("gkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// setup binds the command's flags and installs the log handler.
func setup(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	lvl, err := log15.LvlFromString(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	log15.Root().SetHandler(log15.LvlFilterHandler(lvl, log15.StreamHandler(os.Stderr, log15.LogfmtFormat())))
	return nil
}

// getConfig builds the environment configuration from viper.
func getConfig() backend.Config {
	cfg := backend.DefaultConfig()
	cfg.MapSize = viper.GetUint64("map-size") << 20
	cfg.MaxDBs = viper.GetUint32("max-dbs")
	cfg.MakeDirIfNeeded = viper.GetBool("create-dir")
	if viper.GetBool("read-only") {
		cfg.Flags |= backend.EnvReadOnly
	}
	if viper.GetBool("no-subdir") {
		cfg.Flags |= backend.EnvNoSubdir
	}
	if viper.GetBool("no-sync") {
		cfg.Flags |= backend.EnvNoSync
	}
	return cfg
}

// openEnv opens the environment selected by the flags.
func openEnv() (*gkv.Rkv, error) {
	name := viper.GetString("backend")
	open, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (want one of %s)", name, strings.Join(backendNames(), ", "))
	}
	return gkv.Open(open, viper.GetString("path"), getConfig())
}
