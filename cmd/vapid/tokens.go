package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/imjasonh/vapid"
	"github.com/imjasonh/vapid/keys"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(signCmd, decodeCmd, validateCmd)

	for _, c := range []*cobra.Command{signCmd, validateCmd} {
		c.Flags().String("key", "vapid-private.pem", "Private key file (PEM, DER or base64 DER)")
		c.Flags().String("kms-key", "", "Cloud KMS key version name; overrides --key")
	}

	signCmd.Flags().String("aud", "", "Audience: origin of the push service endpoint")
	signCmd.Flags().String("sub", "", "Subject: mailto: or https: contact")
	signCmd.Flags().Duration("ttl", 0, "Token lifetime; defaults to 24h")
	signCmd.Flags().String("claims", "", "JSON claims file ('-' for stdin); --aud and --sub override its values")
	signCmd.Flags().String("draft", "02", "VAPID draft to emit (01 or 02)")
	signCmd.Flags().String("crypto-key", "", "Existing Crypto-Key header value to extend (draft 01)")

	decodeCmd.Flags().String("public-key", "", "base64url uncompressed public key")
	_ = decodeCmd.MarkFlagRequired("public-key")
}

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Print VAPID request headers for a claim set",
	Example: `  vapid sign --aud https://updates.push.services.mozilla.com --sub mailto:admin@example.com
  vapid sign --claims claims.json --draft 01 --crypto-key "dh=BNa..."`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		draft, _ := cmd.Flags().GetString("draft")
		cryptoKey, _ := cmd.Flags().GetString("crypto-key")

		variant, err := vapid.ParseVariant(draft)
		if err != nil {
			return err
		}
		claims, err := claimsFromFlags(cmd)
		if err != nil {
			return err
		}

		key, closer, err := loadSigner(cmd)
		if err != nil {
			return err
		}
		defer closer()

		signer, err := vapid.New(key, vapid.WithVariant(variant))
		if err != nil {
			return err
		}
		headers, err := signer.Sign(ctx, claims, cryptoKey)
		if err != nil {
			return err
		}
		clog.FromContext(ctx).With("variant", variant.Name(), "aud", claims.Audience()).Debug("signed claims")

		names := make([]string, 0, len(headers))
		for name := range headers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, headers[name])
		}
		return nil
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode <token>",
	Short: "Verify a token and print its claims",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, _ := cmd.Flags().GetString("public-key")

		claims, err := vapid.Decode(stripScheme(args[0]), pub)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(claims, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling claims: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		if exp, ok := claims.Expiration(); ok && !exp.After(time.Now()) {
			clog.FromContext(cmd.Context()).With("exp", exp).Warn("token has expired")
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <token>",
	Short: "Sign a push service dashboard validation token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, closer, err := loadSigner(cmd)
		if err != nil {
			return err
		}
		defer closer()

		signer, err := vapid.New(key)
		if err != nil {
			return err
		}
		sig, err := signer.Validate(cmd.Context(), []byte(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sig)
		return nil
	},
}

// loadSigner returns the KMS key when --kms-key is set and the key file
// otherwise. The returned func releases the KMS client.
func loadSigner(cmd *cobra.Command) (keys.Signer, func(), error) {
	ctx := cmd.Context()
	if name, _ := cmd.Flags().GetString("kms-key"); name != "" {
		s, err := keys.NewKMSSigner(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				clog.FromContext(ctx).Warnf("closing KMS client: %v", err)
			}
		}, nil
	}

	path, _ := cmd.Flags().GetString("key")
	kp, err := keys.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return kp, func() {}, nil
}

func claimsFromFlags(cmd *cobra.Command) (vapid.Claims, error) {
	claims := vapid.Claims{}
	if path, _ := cmd.Flags().GetString("claims"); path != "" {
		var r io.Reader = cmd.InOrStdin()
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("opening claims file: %w", err)
			}
			defer f.Close()
			r = f
		}
		dec := json.NewDecoder(r)
		dec.UseNumber()
		if err := dec.Decode(&claims); err != nil {
			return nil, fmt.Errorf("parsing claims: %w", err)
		}
		if exp, ok := claims.Expiration(); ok {
			claims["exp"] = exp.Unix()
		}
	}

	if aud, _ := cmd.Flags().GetString("aud"); aud != "" {
		claims["aud"] = aud
	}
	if sub, _ := cmd.Flags().GetString("sub"); sub != "" {
		claims["sub"] = sub
	}
	if ttl, _ := cmd.Flags().GetDuration("ttl"); ttl > 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}
	return claims, nil
}

// stripScheme accepts a bare token or a full Authorization header value.
func stripScheme(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "Authorization:")
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "WebPush "); ok {
		return strings.TrimSpace(rest)
	}
	if rest, ok := strings.CutPrefix(s, "vapid "); ok {
		for _, p := range strings.Split(rest, ",") {
			if t, ok := strings.CutPrefix(strings.TrimSpace(p), "t="); ok {
				return t
			}
		}
	}
	return s
}
