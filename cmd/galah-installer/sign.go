package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/galah-group/galah-installer/internal/atomicfile"
	"github.com/galah-group/galah-installer/internal/signature"
	"github.com/galah-group/galah-installer/internal/transfer"
)

func newSignCmd(opts *rootOptions) *cobra.Command {
	var keyPath string

	cmd := &cobra.Command{
		Use:   "sign --key PRIVATE_KEY FILE",
		Short: "Write FILE.sig, an RSASSA-PSS signature over the SHA-512 of FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := signature.LoadKey(keyPath)
			if err != nil {
				return fmt.Errorf("load private key: %w", err)
			}
			if !key.IsPrivate() {
				return fmt.Errorf("%s is not a private key", keyPath)
			}

			file := args[0]
			sig, err := signature.SignFile(file, key)
			if err != nil {
				return err
			}
			sigPath := file + transfer.SignatureSuffix
			if err := atomicfile.WriteFile(sigPath, sig, atomicfile.WithLogger(opts.logger)); err != nil {
				return fmt.Errorf("write signature: %w", err)
			}

			opts.logger.Debug("signed", "file", file, "signature", sigPath, "bits", key.Bits())
			_, err = fmt.Fprintln(cmd.OutOrStdout(), sigPath)
			return err
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "private key (PEM, DER, or OpenPGP)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
