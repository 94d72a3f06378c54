package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/grospace/lease-engine/api"
	"github.com/grospace/lease-engine/config"
	"github.com/grospace/lease-engine/extraction"
	"github.com/grospace/lease-engine/lease"
	"github.com/grospace/lease-engine/store/sqlite"
)

type options struct {
	cfg    config.Config
	dbPath string
	asOf   string
}

// open returns an engine over the configured database and the as-of date.
func (o *options) open() (*lease.Engine, *sqlite.Store, lease.Date, error) {
	asOf := lease.Today()
	if o.asOf != "" {
		d, err := lease.ParseDate(o.asOf)
		if err != nil {
			return nil, nil, lease.Date{}, err
		}
		asOf = d
	}
	store, err := sqlite.New(o.dbPath)
	if err != nil {
		return nil, nil, lease.Date{}, fmt.Errorf("failed to open database: %w", err)
	}
	return lease.NewEngine(store, o.cfg.Engine), store, asOf, nil
}

func confirmCmd(o *options) *cobra.Command {
	var (
		fromExtraction bool
		docType        string
		id             string
		org            string
		outlet         string
	)
	cmd := &cobra.Command{
		Use:   "confirm <file>",
		Short: "Confirm an agreement and derive obligations, payments and alerts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(args[0])
			if err != nil {
				return err
			}

			var a lease.Agreement
			if fromExtraction {
				dt, err := extraction.ParseDocumentType(docType)
				if err != nil {
					return err
				}
				e, err := extraction.Parse(raw)
				if err != nil {
					return fmt.Errorf("failed to parse extraction: %w", err)
				}
				res := extraction.Normalize(e, dt, extraction.Identity{AgreementID: lease.AgreementID(id), OrgID: org, OutletID: outlet})
				for _, u := range res.Unresolved {
					fmt.Fprintf(cmd.ErrOrStderr(), "unresolved: %v\n", u)
				}
				a = res.Agreement
			} else {
				var req api.AgreementRequest
				if err := json.Unmarshal(raw, &req); err != nil {
					return fmt.Errorf("failed to parse agreement: %w", err)
				}
				if a, err = req.ToAgreement(); err != nil {
					return err
				}
			}

			engine, store, asOf, err := o.open()
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := engine.ConfirmAgreement(cmd.Context(), a, asOf)
			if err != nil {
				return err
			}
			if res.AlreadyConfirmed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already confirmed\n", res.Agreement.ID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s confirmed: %d obligations, %d payments, %d alerts (%d skipped)\n",
				res.Agreement.ID, len(res.Obligations), res.Payments.Created, res.Alerts.Created, len(res.Alerts.Skipped))
			for _, s := range res.Alerts.Skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "  skipped: %v\n", s)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromExtraction, "extraction", false, "Input is raw extraction output")
	cmd.Flags().StringVar(&docType, "doc-type", "lease", "Document type for --extraction (lease, license, franchise)")
	cmd.Flags().StringVar(&id, "id", "", "Agreement ID for --extraction")
	cmd.Flags().StringVar(&org, "org", "", "Organization ID for --extraction")
	cmd.Flags().StringVar(&outlet, "outlet", "", "Outlet ID for --extraction")
	return cmd
}

func generateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "generate [agreement-id]",
		Short: "Generate payment records up to the horizon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, store, asOf, err := o.open()
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				res, err := engine.GenerateForAgreement(cmd.Context(), lease.AgreementID(args[0]), asOf)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %d, duplicates %d\n", res.Created, res.Duplicates)
				return nil
			}

			var report lease.RunReport
			if err := engine.GenerateAll(cmd.Context(), asOf, &report); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d, duplicates %d, failures %d\n",
				report.PaymentsCreated, report.PaymentsDuplicate, len(report.Failures))
			return nil
		},
	}
}

func sweepCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Move agreements and payment records to their current status",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, store, asOf, err := o.open()
			if err != nil {
				return err
			}
			defer store.Close()

			var report lease.RunReport
			if err := engine.SweepAgreements(cmd.Context(), asOf, &report); err != nil {
				return err
			}
			if err := engine.SweepPayments(cmd.Context(), asOf, &report); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "agreements %d, payments %d, failures %d\n",
				report.AgreementsTransitioned, report.PaymentsSwept, len(report.Failures))
			return nil
		},
	}
}

func paymentsCmd(o *options) *cobra.Command {
	var agreement string
	var statuses []string
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "List payment records",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, _, err := o.open()
			if err != nil {
				return err
			}
			defer store.Close()

			var f lease.PaymentFilter
			if agreement != "" {
				id := lease.AgreementID(agreement)
				f.AgreementID = &id
			}
			for _, s := range statuses {
				f.Statuses = append(f.Statuses, lease.PaymentStatus(s))
			}
			records, err := store.ListPaymentRecords(cmd.Context(), f)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s  %-18s  %-10s  %-14s  %-14s\n", "Period", "Type", "Due", "Amount", "Status")
			for _, r := range records {
				amount := "metered"
				if r.DueAmount != nil {
					amount = r.DueAmount.StringFixed(2)
				}
				fmt.Fprintf(out, "%-10s  %-18s  %-10s  %-14s  %-14s\n", r.Period, r.Type, r.DueDate, amount, r.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agreement, "agreement", "", "Only this agreement")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only these statuses")
	return cmd
}

func alertsCmd(o *options) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Schedule alerts and list those visible as of the date",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, store, asOf, err := o.open()
			if err != nil {
				return err
			}
			defer store.Close()

			var report lease.RunReport
			if err := engine.ScheduleAll(cmd.Context(), asOf, &report); err != nil {
				return err
			}
			alerts, err := store.ListAlerts(cmd.Context(), lease.AlertFilter{})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scheduled %d new alerts\n", report.AlertsCreated)
			fmt.Fprintf(out, "%-10s  %-8s  %-16s  %-12s  %s\n", "Trigger", "Severity", "Type", "Status", "Title")
			for _, a := range alerts {
				if !all && !a.Visible(asOf) {
					continue
				}
				fmt.Fprintf(out, "%-10s  %-8s  %-16s  %-12s  %s\n", a.TriggerDate, a.Severity, a.Type, a.Status, a.Title)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include alerts not yet visible")
	return cmd
}

func runCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Full run: lifecycle sweep, generation, payment sweep, alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, store, asOf, err := o.open()
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := engine.Run(cmd.Context(), asOf)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s as of %s: %s\n", report.ID, report.AsOf, report.Status)
			fmt.Fprintf(out, "  agreements transitioned %d\n", report.AgreementsTransitioned)
			fmt.Fprintf(out, "  payments created %d (duplicates %d), swept %d\n",
				report.PaymentsCreated, report.PaymentsDuplicate, report.PaymentsSwept)
			fmt.Fprintf(out, "  alerts created %d (duplicates %d, skipped %d)\n",
				report.AlertsCreated, report.AlertsDuplicate, report.AlertsSkipped)
			for _, f := range report.Failures {
				fmt.Fprintf(out, "  failed %s %s: %s\n", f.Unit, f.ID, f.Error)
			}
			return err
		},
	}
}

// readInput reads a file, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
