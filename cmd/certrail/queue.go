package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/certrail/certrail/internal/delivery"
	"github.com/certrail/certrail/internal/importer"
)

var enqueueFlags struct {
	name         string
	email        string
	certType     string
	artifact     string
	organization string
	phone        string
	subject      string
	body         string
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Stage one certificate delivery (no email is sent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, cleanup, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		req := delivery.EnqueueRequest{
			Name:            enqueueFlags.name,
			Email:           enqueueFlags.email,
			CertificateType: enqueueFlags.certType,
			ArtifactPath:    enqueueFlags.artifact,
			Subject:         enqueueFlags.subject,
			Body:            enqueueFlags.body,
		}
		if enqueueFlags.organization != "" {
			req.Organization = &enqueueFlags.organization
		}
		if enqueueFlags.phone != "" {
			req.Phone = &enqueueFlags.phone
		}

		jobID, err := engine.Enqueue(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Printf("Job %d queued for %s\n", jobID, enqueueFlags.email)
		return nil
	},
}

var importFlags struct {
	artifact string
	certType string
}

var importCmd = &cobra.Command{
	Use:   "import <participants.csv>",
	Short: "Stage deliveries for every participant in a CSV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, cleanup, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		imp := importer.New(engine, nil)
		res, err := imp.ImportFile(cmd.Context(), args[0], importFlags.artifact, importFlags.certType)
		if err != nil {
			return err
		}

		fmt.Printf("Imported %d, failed %d\n", res.Imported, res.Failed)
		for _, re := range res.RowErrors {
			fmt.Printf("  row %d: %s\n", re.Row, re.Reason)
		}
		return nil
	},
}

var sendFlags struct {
	jobID int64
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Dispatch pending deliveries (or one job with --job)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, cleanup, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		// Interruptible between jobs; the in-flight job still lands in
		// a definite state.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if sendFlags.jobID != 0 {
			if err := engine.DispatchOne(ctx, sendFlags.jobID); err != nil {
				return err
			}
			fmt.Printf("Job %d sent\n", sendFlags.jobID)
			return nil
		}

		report, err := engine.DispatchAllPending(ctx)
		if report != nil {
			fmt.Printf("Dispatched %d of %d (%d failed)\n", report.Sent, report.Total, report.Failed)
		}
		if errors.Is(err, context.Canceled) {
			fmt.Println("Interrupted; remaining jobs stay pending")
			return nil
		}
		return err
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, cleanup, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		st, err := engine.Store().Statistics(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Participants: %d\n", st.Participants)
		fmt.Printf("Jobs:         %d\n", st.TotalJobs)
		fmt.Printf("  sent:       %d\n", st.Sent)
		fmt.Printf("  pending:    %d\n", st.Pending)
		fmt.Printf("  failed:     %d\n", st.Failed)
		return nil
	},
}

var historyFlags struct {
	limit int
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent delivery jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, cleanup, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		entries, err := engine.Store().History(cmd.Context(), historyFlags.limit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			line := fmt.Sprintf("#%d  %-20s %-28s %-16s %s", e.JobID, e.Name, e.Email, e.CertificateType, e.Status)
			if e.SentAt != nil {
				line += "  " + e.SentAt.Format("2006-01-02 15:04:05")
			}
			if e.ErrorMessage != nil {
				line += "  (" + *e.ErrorMessage + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply delivery store schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := migrateDB(db); err != nil {
			return err
		}
		fmt.Println("Schema is up to date")
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueFlags.name, "name", "", "recipient name")
	enqueueCmd.Flags().StringVar(&enqueueFlags.email, "email", "", "recipient email")
	enqueueCmd.Flags().StringVar(&enqueueFlags.certType, "type", "", "certificate type")
	enqueueCmd.Flags().StringVar(&enqueueFlags.artifact, "artifact", "", "certificate file to deliver")
	enqueueCmd.Flags().StringVar(&enqueueFlags.organization, "organization", "", "recipient organization")
	enqueueCmd.Flags().StringVar(&enqueueFlags.phone, "phone", "", "recipient phone")
	enqueueCmd.Flags().StringVar(&enqueueFlags.subject, "subject", "", "override email subject")
	enqueueCmd.Flags().StringVar(&enqueueFlags.body, "body", "", "override email body")
	enqueueCmd.MarkFlagRequired("name")
	enqueueCmd.MarkFlagRequired("email")
	enqueueCmd.MarkFlagRequired("type")
	enqueueCmd.MarkFlagRequired("artifact")

	importCmd.Flags().StringVar(&importFlags.artifact, "artifact", "", "certificate file to deliver to every row")
	importCmd.Flags().StringVar(&importFlags.certType, "type", "Certificate", "certificate type")
	importCmd.MarkFlagRequired("artifact")

	sendCmd.Flags().Int64Var(&sendFlags.jobID, "job", 0, "dispatch a single job id (pending or failed)")

	historyCmd.Flags().IntVar(&historyFlags.limit, "limit", 20, "maximum entries to show")

	rootCmd.AddCommand(enqueueCmd, importCmd, sendCmd, statusCmd, historyCmd, migrateCmd)
}
