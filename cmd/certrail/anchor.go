package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/certrail/certrail/internal/hashing"
	"github.com/certrail/certrail/internal/ledger"
)

var anchorFlags struct {
	certID   string
	artifact string
	name     string
	event    string
	date     string
}

var anchorCmd = &cobra.Command{
	Use:   "anchor",
	Short: "Hash a certificate file and store the anchor on-chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, closeLedger, err := openAnchor(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeLedger()

		res, err := svc.AnchorFile(cmd.Context(), anchorFlags.certID, anchorFlags.artifact,
			anchorFlags.name, anchorFlags.event, anchorFlags.date)
		if err != nil {
			if errors.Is(err, ledger.ErrContractRejected) {
				return fmt.Errorf("%s was rejected by the contract (already anchored?): %w", anchorFlags.certID, err)
			}
			return err
		}

		fmt.Printf("Anchored %s\n", res.CertID)
		fmt.Printf("  hash:  %s\n", hashing.Prefixed(res.Hash))
		fmt.Printf("  tx:    %s (block %d)\n", res.Receipt.TxHash, res.Receipt.BlockNumber)
		return nil
	},
}

var verifyFlags struct {
	certID   string
	artifact string
	hash     string
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a certificate against its on-chain anchor",
	Long: `Verify checks a certificate id against the ledger. With --artifact the
digest is recomputed from the file; --hash is only trusted for pure
lookups when no file is available.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, closeLedger, err := openAnchor(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeLedger()

		ctx := cmd.Context()
		switch {
		case verifyFlags.artifact != "":
			v, err := svc.VerifyFile(ctx, verifyFlags.certID, verifyFlags.artifact)
			if err != nil {
				return err
			}
			printVerification(verifyFlags.certID, v.Valid, v.Name, v.Event, v.Date)
		case verifyFlags.hash != "":
			v, err := svc.VerifyHash(ctx, verifyFlags.certID, verifyFlags.hash)
			if err != nil {
				return err
			}
			printVerification(verifyFlags.certID, v.Valid, v.Name, v.Event, v.Date)
		default:
			rec, err := svc.Lookup(ctx, verifyFlags.certID)
			if errors.Is(err, ledger.ErrNotFound) {
				fmt.Printf("Certificate %s is not anchored\n", verifyFlags.certID)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Certificate %s\n", verifyFlags.certID)
			fmt.Printf("  name:  %s\n  event: %s\n  date:  %s\n  hash:  %s\n",
				rec.Name, rec.Event, rec.Date, rec.Hash)
		}
		return nil
	},
}

func printVerification(certID string, valid bool, name, event, date string) {
	if !valid {
		fmt.Printf("Certificate %s is INVALID\n", certID)
		return
	}
	fmt.Printf("Certificate %s is valid\n", certID)
	fmt.Printf("  name:  %s\n  event: %s\n  date:  %s\n", name, event, date)
}

func init() {
	anchorCmd.Flags().StringVar(&anchorFlags.certID, "id", "", "certificate id (unique per contract)")
	anchorCmd.Flags().StringVar(&anchorFlags.artifact, "artifact", "", "certificate file to hash")
	anchorCmd.Flags().StringVar(&anchorFlags.name, "name", "", "recipient name")
	anchorCmd.Flags().StringVar(&anchorFlags.event, "event", "", "event label")
	anchorCmd.Flags().StringVar(&anchorFlags.date, "date", "", "issue date, e.g. 2025-01-01")
	anchorCmd.MarkFlagRequired("id")
	anchorCmd.MarkFlagRequired("artifact")
	anchorCmd.MarkFlagRequired("name")

	verifyCmd.Flags().StringVar(&verifyFlags.certID, "id", "", "certificate id")
	verifyCmd.Flags().StringVar(&verifyFlags.artifact, "artifact", "", "certificate file to re-hash and check")
	verifyCmd.Flags().StringVar(&verifyFlags.hash, "hash", "", "digest to check when no file is available")
	verifyCmd.MarkFlagRequired("id")

	rootCmd.AddCommand(anchorCmd, verifyCmd)
}
