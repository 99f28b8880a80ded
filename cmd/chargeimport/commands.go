package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
	importservice "github.com/FACorreiaa/charges-audit/internal/domain/import/service"
	"github.com/FACorreiaa/charges-audit/internal/domain/rules"
	"github.com/FACorreiaa/charges-audit/internal/domain/search"
	"github.com/FACorreiaa/charges-audit/pkg/config"
	"github.com/FACorreiaa/charges-audit/pkg/db"
)

// ============================================================================
// import
// ============================================================================

func newImportCmd() *cobra.Command {
	var (
		archive   string
		groupID   string
		groupCode string
		year      int
		controlID string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a ZIP archive of charge reports for a group and year",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := controlContext(groupID, groupCode, year, controlID)
			if err != nil {
				return err
			}

			return withDependencies(func(d *Dependencies) error {
				res, err := d.ImportService.Run(cmd.Context(), archive, cc)
				if err != nil {
					return err
				}
				if err := d.Metrics.WriteTextfile(d.Config.Observability.MetricsFile); err != nil {
					d.Logger.Warn("failed to write metrics", "error", err)
				}
				printImportResult(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&archive, "archive", "", "path to the ZIP archive")
	cmd.Flags().StringVar(&groupCode, "group", "", "group identifier")
	cmd.Flags().StringVar(&groupID, "group-id", "", "group UUID (derived from --group when empty)")
	cmd.Flags().IntVar(&year, "year", 0, "control year")
	cmd.Flags().StringVar(&controlID, "control", "", "existing control period UUID")
	_ = cmd.MarkFlagRequired("archive")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

// controlContext builds the import context. A group without an explicit UUID
// gets a stable one derived from its identifier.
func controlContext(groupID, groupCode string, year int, controlID string) (model.ControlContext, error) {
	cc := model.ControlContext{GroupIdentifier: groupCode, Year: year}
	if year < 1900 {
		return cc, fmt.Errorf("invalid year %d", year)
	}

	if groupID == "" {
		cc.GroupID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("group:"+groupCode))
	} else {
		id, err := uuid.Parse(groupID)
		if err != nil {
			return cc, fmt.Errorf("invalid group id: %w", err)
		}
		cc.GroupID = id
	}

	if controlID != "" {
		id, err := uuid.Parse(controlID)
		if err != nil {
			return cc, fmt.Errorf("invalid control id: %w", err)
		}
		cc.ControlID = id
	}
	return cc, nil
}

func printImportResult(w io.Writer, res *importservice.ImportResult) {
	fmt.Fprintf(w, "control period %s\n", res.ControlID)

	types := make([]model.DocumentType, 0, len(res.Documents))
	for t := range res.Documents {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	for _, t := range types {
		d := res.Documents[t]
		fmt.Fprintf(w, "  %-8s %-30s accepted=%d rejected=%d discarded=%d duplicates=%d",
			t, d.FileName, d.Accepted, d.Rejected, d.Discarded, d.Duplicates)
		if d.Truncation != nil {
			fmt.Fprintf(w, " truncated at %s (row %d, %d dropped)", d.Truncation.Code, d.Truncation.Position, d.Truncation.Dropped)
		}
		fmt.Fprintln(w)
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "  skipped %s: %v\n", s.Type, s.Reason)
	}

	fmt.Fprintf(w, "bundles=%d matched=%d unresolved=%d suppliers=%d\n",
		len(res.Bundles), len(res.Associations), len(res.Unresolved), res.SuppliersAssigned)
	for _, u := range res.Unresolved {
		fmt.Fprintf(w, "  unresolved %s (%s): %s\n", u.Bundle.Identifier, u.Bundle.Kind, u.Reason)
	}
}

// ============================================================================
// migrate
// ============================================================================

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := newLogger(cfg.Log)

			database, err := db.New(db.Config{DSN: cfg.Database.DSN(), MaxConns: 1}, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			return database.RunMigrations()
		},
	}
}

// ============================================================================
// export
// ============================================================================

func newExportCmd() *cobra.Command {
	var (
		controlID  string
		out        string
		rejections string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a control period to XLSX, and its rejection log to CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(controlID)
			if err != nil {
				return fmt.Errorf("invalid control id: %w", err)
			}

			return withDependencies(func(d *Dependencies) error {
				if out != "" {
					data, err := d.ExportService.WorkbookXLSX(cmd.Context(), id)
					if err != nil {
						return err
					}
					if err := os.WriteFile(out, data, 0o644); err != nil {
						return fmt.Errorf("failed to write workbook: %w", err)
					}
				}
				if rejections != "" {
					return writeRejections(cmd.Context(), d, id, rejections)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&controlID, "control", "", "control period UUID")
	cmd.Flags().StringVar(&out, "out", "", "XLSX output file")
	cmd.Flags().StringVar(&rejections, "rejections", "", "CSV output file for the rejection log")
	_ = cmd.MarkFlagRequired("control")
	return cmd
}

func writeRejections(ctx context.Context, d *Dependencies, controlID uuid.UUID, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := d.ExportService.RejectionsCSV(ctx, controlID, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ============================================================================
// review
// ============================================================================

func newReviewCmd() *cobra.Command {
	var (
		lineID  string
		status  string
		comment string
	)

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Record the review decision on an invoice line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(lineID)
			if err != nil {
				return fmt.Errorf("invalid line id: %w", err)
			}
			return withDependencies(func(d *Dependencies) error {
				return d.ImportRepo.UpdateInvoiceStatus(cmd.Context(), id, model.ReviewStatus(status), comment)
			})
		},
	}

	cmd.Flags().StringVar(&lineID, "line", "", "invoice line UUID")
	cmd.Flags().StringVar(&status, "status", string(model.StatusValidated), "pending, validated or contested")
	cmd.Flags().StringVar(&comment, "comment", "", "contest comment")
	_ = cmd.MarkFlagRequired("line")
	return cmd
}

// ============================================================================
// suppliers and rules
// ============================================================================

func newSuppliersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "suppliers", Short: "Manage suppliers"}

	var (
		name  string
		kind  string
		field string
		regex string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a supplier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := &rules.Supplier{Name: name, InvoiceKind: rules.InvoiceKind(kind), DetectionField: field}
			if regex != "" {
				s.DetectionRegex = &regex
			}
			return withDependencies(func(d *Dependencies) error {
				if err := d.RulesRepo.CreateSupplier(cmd.Context(), s); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "supplier name")
	add.Flags().StringVar(&kind, "kind", string(rules.KindInvoice), "invoice kind")
	add.Flags().StringVar(&field, "field", rules.DefaultDetectionField, "invoice line field used for detection")
	add.Flags().StringVar(&regex, "regex", "", "detection pattern")
	_ = add.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List suppliers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDependencies(func(d *Dependencies) error {
				suppliers, err := d.RulesRepo.ListSuppliers(cmd.Context())
				if err != nil {
					return err
				}
				for _, s := range suppliers {
					pattern := ""
					if s.DetectionRegex != nil {
						pattern = *s.DetectionRegex
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.InvoiceKind, s.DetectionField, pattern)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rules", Short: "Manage field-extraction rules"}

	var (
		supplierID  string
		table       string
		field       string
		regex       string
		description string
		text        string
	)

	add := &cobra.Command{
		Use:   "add",
		Short: "Add an extraction rule to a supplier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(supplierID)
			if err != nil {
				return fmt.Errorf("invalid supplier id: %w", err)
			}
			rule := &rules.Rule{
				SupplierID:  id,
				TargetTable: rules.InvoiceKind(table),
				TargetField: field,
				Regex:       regex,
				Description: description,
				Active:      true,
			}
			return withDependencies(func(d *Dependencies) error {
				if err := d.RulesRepo.CreateRule(cmd.Context(), rule); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), rule.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&supplierID, "supplier", "", "supplier UUID")
	add.Flags().StringVar(&table, "table", string(rules.KindInvoice), "target table")
	add.Flags().StringVar(&field, "field", "", "target field")
	add.Flags().StringVar(&regex, "regex", "", "extraction pattern")
	add.Flags().StringVar(&description, "description", "", "rule description")
	_ = add.MarkFlagRequired("supplier")
	_ = add.MarkFlagRequired("field")
	_ = add.MarkFlagRequired("regex")

	list := &cobra.Command{
		Use:   "list",
		Short: "List a supplier's rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(supplierID)
			if err != nil {
				return fmt.Errorf("invalid supplier id: %w", err)
			}
			return withDependencies(func(d *Dependencies) error {
				ruleList, err := d.RulesRepo.ListRules(cmd.Context(), id, false)
				if err != nil {
					return err
				}
				for _, r := range ruleList {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s.%s\t%t\t%s\n", r.ID, r.TargetTable, r.TargetField, r.Active, r.Regex)
				}
				return nil
			})
		},
	}
	list.Flags().StringVar(&supplierID, "supplier", "", "supplier UUID")
	_ = list.MarkFlagRequired("supplier")

	test := &cobra.Command{
		Use:   "test",
		Short: "Try a pattern against sample text",
		RunE: func(cmd *cobra.Command, _ []string) error {
			value, ok, err := rules.TestRule(regex, text)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no match")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "match: %q -> %v\n", value, rules.ConvertValue(value, field))
			return nil
		},
	}
	test.Flags().StringVar(&regex, "regex", "", "pattern to test")
	test.Flags().StringVar(&text, "text", "", "sample text")
	test.Flags().StringVar(&field, "field", "", "target field, selects the value conversion")
	_ = test.MarkFlagRequired("regex")

	cmd.AddCommand(add, list, test)
	return cmd
}

// ============================================================================
// search
// ============================================================================

func newSearchCmd() *cobra.Command {
	var (
		controlID string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search imported bundles and invoice lines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Search.IndexPath == "" {
				return fmt.Errorf("SEARCH_INDEX_PATH is not set")
			}

			var control *uuid.UUID
			if controlID != "" {
				id, err := uuid.Parse(controlID)
				if err != nil {
					return fmt.Errorf("invalid control id: %w", err)
				}
				control = &id
			}

			index, err := search.NewIndex(cfg.Search.IndexPath)
			if err != nil {
				return err
			}
			defer index.Close()

			results, err := index.Search(strings.Join(args, " "), control, limit)
			if err != nil {
				return err
			}
			for _, r := range results {
				doc := r.Document
				ref := doc.InvoiceNumber
				if doc.Type == search.TypeBundle {
					ref = doc.Identifier
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%.3f\t%s\t%s\t%s\t%s\n", r.Score, doc.Type, ref, doc.StoredPath, doc.Text)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&controlID, "control", "", "restrict to a control period UUID")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum hits")
	return cmd
}
