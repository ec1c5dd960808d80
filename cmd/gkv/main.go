// Command gkv inspects and edits gkv environments.
//
//	gkv --backend bolt --path ./data dbs
//	gkv --path ./data put --multi users alice admin
//	gkv --path ./data dump users
//
// Every flag can also be set through a GKV_* environment variable, e.g.
// GKV_BACKEND=pebble, or in a .env or .env.local file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Giulio2002/gkv"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "gkv",
	Short: "typed key-value stores over pluggable engines",
	Long: fmt.Sprintf(`%s

Inspect and edit environments of the mdbx, bolt, pebble, leveldb,
rocksdb and safe storage engines.`, gkv.Version()),
	PersistentPreRunE: setup,
	SilenceUsage:      true,
}

func init() {
	cobra.OnInitialize(initConfig)
	setupFlags(RootCmd)

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(dbsCmd)
	RootCmd.AddCommand(statCmd)
	RootCmd.AddCommand(dumpCmd)
	RootCmd.AddCommand(getCmd)
	RootCmd.AddCommand(putCmd)
	RootCmd.AddCommand(delCmd)
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
