package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blockberries/cinderlink"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cinderlink",
	Short: "Peer-to-peer messaging and identity node",
	Long: `cinderlink - peer-to-peer messaging and identity node

Runs a libp2p node that exchanges signed and encrypted messages with
peers, keeps a self-sovereign identity document in a content-addressed
store and syncs its root with identity servers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the binary and protocol versions",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cinderlink %s (protocol %s)\n", version, cinderlink.CurrentVersion())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "cinderlink.toml", "config file")
	rootCmd.AddCommand(runCmd, keygenCmd, versionCmd)
}
