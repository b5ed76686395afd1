package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"vatpilot/internal/app"
	"vatpilot/internal/core"
	"vatpilot/internal/shopify"
	"vatpilot/internal/vat"
)

const usage = `Available: compute, recompute <shop>, boxes <shop> <from> <to>, draft <shop> <from> <to>, import <shop> <file.csv>`

// Run executes a one-shot CLI command and exits.
// args is os.Args[1:]; the first element is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, args []string) {
	if err := execute(ctx, svc, args, os.Stdin, os.Stdout); err != nil {
		log.Fatalf("%v", err)
	}
}

// Compute reads one order as JSON from in, runs the engine under vc and writes
// the summary to out. It needs no database.
func Compute(in io.Reader, out io.Writer, vc vat.VatContext) error {
	var order shopify.Order
	if err := json.NewDecoder(in).Decode(&order); err != nil {
		return fmt.Errorf("invalid order JSON: %w", err)
	}
	result, err := app.Compute(order, vc)
	if err != nil {
		return fmt.Errorf("compute failed: %w", err)
	}
	return writeIndented(out, result)
}

func execute(ctx context.Context, svc app.ApplicationService, args []string, in io.Reader, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("missing command\n" + usage)
	}

	switch args[0] {
	case "compute":
		return Compute(in, out, core.ContextFromSettings(core.ShopSettings{
			HomeCountry:          "GB",
			DomesticRate:         vat.Percent(20),
			ReverseChargeEnabled: true,
		}))

	case "recompute", "rc":
		if len(args) < 2 {
			return errors.New("usage: vatctl recompute <shop> < order.json")
		}
		var order shopify.Order
		if err := json.NewDecoder(in).Decode(&order); err != nil {
			return fmt.Errorf("invalid order JSON: %w", err)
		}
		result, err := svc.RecomputeOrder(ctx, args[1], order)
		if err != nil {
			return fmt.Errorf("recompute failed: %w", err)
		}
		return writeIndented(out, result)

	case "boxes", "b":
		if len(args) < 4 {
			return errors.New("usage: vatctl boxes <shop> <from> <to>")
		}
		report, err := svc.GetPeriodBoxes(ctx, app.PeriodRequest{Shop: args[1], From: args[2], To: args[3]})
		if err != nil {
			return fmt.Errorf("failed to compute boxes: %w", err)
		}
		printReport(out, report)

	case "draft", "d":
		if len(args) < 4 {
			return errors.New("usage: vatctl draft <shop> <from> <to>")
		}
		report, err := svc.GetManualDraft(ctx, app.PeriodRequest{Shop: args[1], From: args[2], To: args[3]})
		if err != nil {
			return fmt.Errorf("failed to compute draft: %w", err)
		}
		printReport(out, report)

	case "import", "imp":
		if len(args) < 3 {
			return errors.New("usage: vatctl import <shop> <file.csv>")
		}
		f, err := os.Open(args[2])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[2], err)
		}
		defer f.Close()
		result, err := svc.ImportCSV(ctx, args[1], f)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		fmt.Fprintf(out, "Imported %d orders, %d already present, %d skipped.\n",
			result.Inserted, result.Duplicates, len(result.Skipped))
		for _, s := range result.Skipped {
			fmt.Fprintf(out, "  skipped %s: %s\n", s.ExternalID, s.Reason)
		}

	default:
		return fmt.Errorf("unknown command: %s\n%s", args[0], usage)
	}
	return nil
}

func writeIndented(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(out io.Writer, report *core.PeriodReport) {
	b := report.Formatted
	title := "VAT RETURN"
	if report.Mode == core.PeriodManual {
		title = "VAT RETURN (DRAFT, NOT FOR SUBMISSION)"
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("=", 62))
	fmt.Fprintf(out, "  %-58s\n", title)
	fmt.Fprintf(out, "  Shop    : %s\n", report.ShopDomain)
	fmt.Fprintf(out, "  Period  : %s to %s (exclusive)\n", report.From.Format("2006-01-02"), report.To.Format("2006-01-02"))
	fmt.Fprintf(out, "  Orders  : %d\n", report.Orders)
	fmt.Fprintln(out, strings.Repeat("=", 62))
	rows := []struct {
		box   int
		label string
		value string
	}{
		{1, "VAT due on sales", b.VatDueSales},
		{2, "VAT due on acquisitions", b.VatDueAcquisitions},
		{3, "Total VAT due", b.TotalVatDue},
		{4, "VAT reclaimed", b.VatReclaimedCurrPeriod},
		{5, "Net VAT due", b.NetVatDue},
		{6, "Total sales ex VAT", fmt.Sprint(b.TotalValueSalesExVAT)},
		{7, "Total purchases ex VAT", fmt.Sprint(b.TotalValuePurchasesExVAT)},
		{8, "Goods supplied ex VAT", fmt.Sprint(b.TotalValueGoodsSuppliedExVAT)},
		{9, "Acquisitions ex VAT", fmt.Sprint(b.TotalAcquisitionsExVAT)},
	}
	for _, r := range rows {
		fmt.Fprintf(out, "  Box %d  %-36s %15s\n", r.box, r.label, r.value)
	}
	fmt.Fprintln(out, strings.Repeat("=", 62))
}
