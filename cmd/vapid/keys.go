package main

import (
	"encoding/json"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/imjasonh/vapid"
	"github.com/imjasonh/vapid/keys"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(genCmd, pubkeyCmd)

	genCmd.Flags().String("key", "vapid-private.pem", "Private key output path (.der writes DER, anything else PEM)")
	genCmd.Flags().String("public", "", "Optional public key PEM output path")

	pubkeyCmd.Flags().String("key", "vapid-private.pem", "Private key file (PEM, DER or base64 DER)")
	pubkeyCmd.Flags().Bool("jwk", false, "Print the public key as a JWK instead")
}

var genCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate a new VAPID key pair",
	Long: `Generate a new P-256 key pair and write it to disk.

The private key file is overwritten if it exists. The applicationServerKey
for PushManager.subscribe() is printed on stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		keyPath, _ := cmd.Flags().GetString("key")
		publicPath, _ := cmd.Flags().GetString("public")
		log := clog.FromContext(cmd.Context())

		kp, err := keys.GenerateFile(keyPath)
		if err != nil {
			return err
		}
		log.With("path", keyPath).Info("wrote private key")

		if publicPath != "" {
			if err := kp.SavePublic(publicPath); err != nil {
				return err
			}
			log.With("path", publicPath).Info("wrote public key")
		}

		fmt.Fprintln(cmd.OutOrStdout(), vapid.ApplicationServerKey(kp.PublicKey()))
		return nil
	},
}

var pubkeyCmd = &cobra.Command{
	Use:   "pubkey",
	Short: "Print the applicationServerKey for an existing private key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		keyPath, _ := cmd.Flags().GetString("key")
		asJWK, _ := cmd.Flags().GetBool("jwk")

		kp, err := keys.LoadFile(keyPath)
		if err != nil {
			return err
		}

		if !asJWK {
			fmt.Fprintln(cmd.OutOrStdout(), vapid.ApplicationServerKey(kp.PublicKey()))
			return nil
		}
		jwk, err := kp.JWK()
		if err != nil {
			return err
		}
		if jwk.KeyID, err = kp.KeyID(); err != nil {
			return err
		}
		out, err := json.MarshalIndent(jwk.Public(), "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JWK: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
