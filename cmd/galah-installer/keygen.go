package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/galah-group/galah-installer/internal/atomicfile"
	"github.com/galah-group/galah-installer/internal/signature"
)

const defaultKeyBits = 4096

func newKeygenCmd(opts *rootOptions) *cobra.Command {
	var (
		prefix string
		bits   int
	)

	cmd := &cobra.Command{
		Use:   "keygen --out PREFIX",
		Short: "Generate a release signing key pair as PREFIX.pem and PREFIX.pub.pem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			privPath, pubPath := prefix+".pem", prefix+".pub.pem"
			for _, p := range []string{privPath, pubPath} {
				if _, err := os.Lstat(p); err == nil {
					return fmt.Errorf("%s already exists", p)
				}
			}

			key, err := signature.GenerateKey(bits)
			if err != nil {
				return err
			}
			priv, err := signature.MarshalPrivatePEM(key)
			if err != nil {
				return err
			}
			pub, err := signature.MarshalPublicPEM(key)
			if err != nil {
				return err
			}

			if err := atomicfile.WriteFile(privPath, priv, atomicfile.WithLogger(opts.logger)); err != nil {
				return fmt.Errorf("write private key: %w", err)
			}
			if err := atomicfile.WriteFile(pubPath, pub, atomicfile.WithLogger(opts.logger)); err != nil {
				return fmt.Errorf("write public key: %w", err)
			}
			if err := os.Chmod(pubPath, 0o644); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "private key: %s\npublic key:  %s\n", privPath, pubPath)
			return err
		},
	}

	cmd.Flags().StringVar(&prefix, "out", "", "path prefix for the key files")
	cmd.Flags().IntVar(&bits, "bits", defaultKeyBits, "RSA modulus size")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
