package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/galah-group/galah-installer/internal/signature"
	"github.com/galah-group/galah-installer/internal/transfer"
)

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var keyPath string

	cmd := &cobra.Command{
		Use:   "verify --key PUBLIC_KEY FILE [SIGNATURE]",
		Short: "Check FILE against its signature (default FILE.sig)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := signature.LoadKey(keyPath)
			if err != nil {
				return fmt.Errorf("load public key: %w", err)
			}

			file := args[0]
			sigPath := file + transfer.SignatureSuffix
			if len(args) == 2 {
				sigPath = args[1]
			}

			ok, digest, err := signature.VerifyFile(file, sigPath, key.Public())
			if err != nil {
				return err
			}
			if !ok {
				opts.logger.Debug("signature mismatch", "file", file, "signature", sigPath, "sha512", digest)
				return &exitError{code: 1, err: fmt.Errorf("%s failed verification: artifact is not trustworthy", file)}
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: OK sha512:%s\n", file, digest)
			return err
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "public or private key (PEM, DER, or OpenPGP)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
