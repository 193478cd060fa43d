package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blockberries/cinderlink"
	"github.com/blockberries/cinderlink/pkg/crypto"
)

var (
	keygenWallet bool
	keygenForce  bool
	keygenRole   string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Write a config file with a fresh node key",
	RunE:  runKeygen,
}

func init() {
	keygenCmd.Flags().BoolVar(&keygenWallet, "wallet", false, "also generate a wallet key")
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "overwrite an existing config file")
	keygenCmd.Flags().StringVar(&keygenRole, "role", "peer", "node role (peer or server)")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgFile); err == nil && !keygenForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", cfgFile)
	}

	fc, err := cinderlink.LoadConfigFile(cfgFile)
	if err != nil && !keygenForce {
		return err
	}
	if fc == nil {
		fc = cinderlink.DefaultFileConfig()
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	fc.Node.PrivateKey = hex.EncodeToString(priv.Seed())
	fc.Node.Role = keygenRole

	if keygenWallet {
		w, err := crypto.GenerateWallet()
		if err != nil {
			return fmt.Errorf("generate wallet: %w", err)
		}
		fc.Node.WalletKey = w.Hex()
	}

	if _, err := fc.Options(); err != nil {
		return err
	}
	if err := fc.SaveTo(cfgFile); err != nil {
		return err
	}

	id, err := crypto.NewIdentity(priv)
	if err != nil {
		return err
	}
	defer id.Close()
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nDID: %s\n", cfgFile, id.DID())
	return nil
}
