package main

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"wipecert/internal/certificate"
	"wipecert/internal/reporting"
	"wipecert/internal/storage"
)

// openChain opens the configured chain store. With writable set the signing
// key is loaded, or generated on first use, and a broken chain is refused.
// Otherwise the chain is opened read-only so the verifier sees every
// certificate as stored; the key, when present, only supplies the public key.
func openChain(ctx context.Context, writable bool) (*certificate.Chain, error) {
	store, err := storage.Open(ctx, cfg.Chain)
	if err != nil {
		return nil, fmt.Errorf("error opening chain store: %w", err)
	}

	var signer certificate.Signer
	if writable {
		s, created, err := certificate.LoadOrCreateSigner(cfg.Signing.KeyFile, cfg.Signing.Algorithm)
		if err != nil {
			store.Close()
			return nil, err
		}
		if created {
			logger.Log("WARN", "generated new signing key", "file", cfg.Signing.KeyFile, "algorithm", s.Algorithm())
		}
		signer = s
	} else if data, err := os.ReadFile(cfg.Signing.KeyFile); err == nil {
		if signer, err = certificate.LoadPrivateKeyPEM(data); err != nil {
			store.Close()
			return nil, err
		}
	}

	chain, err := certificate.OpenChain(ctx, store, signer, certificate.ChainOptions{
		PublicURL:     cfg.Chain.PublicURL,
		WorkstationID: cfg.Chain.WorkstationID,
		Organization:  cfg.Chain.Organization,
		Site:          cfg.Chain.Site,
		Standard:      cfg.Chain.Standard,
		ReadOnly:      !writable,
		Logger:        logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return chain, nil
}

// verificationKey returns the key from --pubkey, falling back to the
// chain signer.
func verificationKey(chain *certificate.Chain, pubkeyFile string) (crypto.PublicKey, error) {
	if pubkeyFile != "" {
		data, err := os.ReadFile(pubkeyFile)
		if err != nil {
			return nil, err
		}
		return certificate.LoadPublicKeyPEM(data)
	}
	if pub := chain.PublicKey(); pub != nil {
		return pub, nil
	}
	return nil, fmt.Errorf("no public key: pass --pubkey or configure signing.key_file")
}

func newVerifyCmd() *cobra.Command {
	var id, pubkeyFile string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the certificate chain or a single certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := openChain(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer chain.Close()
			pub, err := verificationKey(chain, pubkeyFile)
			if err != nil {
				return err
			}

			var res certificate.VerificationResult
			if id != "" {
				cert, _, err := chain.ByID(id)
				if err != nil {
					return err
				}
				res = certificate.VerifySingle(cert, pub)
			} else {
				res = certificate.Verify(chain.Snapshot(), pub)
			}

			if res.Valid() {
				if res.Unlinked {
					fmt.Printf("✓ %s: valid (chain link not checked)\n", id)
				} else {
					fmt.Printf("✓ chain valid: %d certificates\n", res.Checked)
				}
				logger.Log("INFO", "verification passed", "checked", res.Checked, "unlinked", res.Unlinked)
				return nil
			}
			logger.Log("ERROR", "verification failed",
				"status", string(res.Status), "position", res.Position, "certificate", res.CertificateID)
			return &exitError{code: EXIT_ERROR, msg: fmt.Sprintf("✗ %s at position %d (%s): %s",
				res.Status, res.Position, res.CertificateID, res.Detail)}
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Verify only this certificate")
	cmd.Flags().StringVar(&pubkeyFile, "pubkey", "", "PEM public key to verify against")
	return cmd
}

func newChainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Inspect the certificate chain",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List certificates, genesis first",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := openChain(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer chain.Close()

			certs := chain.Snapshot()
			if len(certs) == 0 {
				fmt.Println("chain is empty")
				return nil
			}
			fmt.Printf("%-4s %-20s %-10s %-24s %-20s %s\n", "POS", "ID", "STATUS", "DEVICE", "ISSUED", "SESSION")
			for i, c := range certs {
				status := c.ResultStatus
				if c.Incomplete {
					status += "*"
				}
				fmt.Printf("%-4d %-20s %-10s %-24s %-20s %s\n", i+1, c.ID, status,
					c.DeviceIdentity.Path, c.IssuedAt.Format("2006-01-02 15:04:05"), c.SessionID)
			}
			return nil
		},
	}

	var asJSON bool
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := openChain(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer chain.Close()

			cert, pos, err := chain.ByID(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(cert)
			}
			text, err := reporting.RenderCertificate(cert)
			if err != nil {
				return err
			}
			fmt.Printf("Position %d of %d\n\n%s", pos, chain.Len(), text)
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "Print the certificate as JSON")

	cmd.AddCommand(list, show)
	return cmd
}

func newKeygenCmd() *cobra.Command {
	var alg, out string
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = cfg.Signing.KeyFile
			}
			if _, err := os.Stat(out); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to replace it", out)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			signer, err := certificate.GenerateKey(alg)
			if err != nil {
				return err
			}
			priv, err := certificate.MarshalPrivateKeyPEM(signer)
			if err != nil {
				return err
			}
			pub, err := certificate.MarshalPublicKeyPEM(signer.Public())
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(out), 0700); err != nil {
				return err
			}
			if err := os.WriteFile(out, priv, 0600); err != nil {
				return err
			}
			if err := os.WriteFile(out+".pub", pub, 0644); err != nil {
				return err
			}
			logger.Log("INFO", "signing key generated", "file", out, "algorithm", signer.Algorithm())
			fmt.Printf("private key: %s\npublic key:  %s.pub\n", out, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&alg, "alg", certificate.AlgECDSAP256, "Algorithm (ECDSA-P256-SHA256/Ed25519)")
	cmd.Flags().StringVar(&out, "out", "", "Private key file (default signing.key_file)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing key")
	return cmd
}
