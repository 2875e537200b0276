package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/wearwise/checkout/internal/payments"
	"github.com/wearwise/checkout/internal/pricing"
)

type quoteOutput struct {
	Lines              []pricing.LineQuote `json:"lines"`
	DiscountPercentage string              `json:"discountPercentage"`
	OriginalAmount     int64               `json:"originalAmount"`
	DiscountAmount     int64               `json:"discountAmount"`
	FinalAmount        int64               `json:"finalAmount"`
	WithinBounds       bool                `json:"withinBounds"`
}

func quoteCmd() *cobra.Command {
	var (
		lines    []string
		discount string
		minAmount, maxAmount int64
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price lines the way checkout does, without touching any store",
		Example: `  checkoutctl quote --line "100.000 VND:1" --line 250000:2 --discount 10%
  checkoutctl quote --line 500 --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(lines) == 0 {
				return fmt.Errorf("at least one --line is required")
			}
			quoteLines := make([]pricing.Line, 0, len(lines))
			for _, raw := range lines {
				line, err := parseLine(raw)
				if err != nil {
					return err
				}
				quoteLines = append(quoteLines, line)
			}
			pct := decimal.Zero
			if strings.TrimSpace(discount) != "" {
				parsed, err := pricing.ParsePercentage(discount)
				if err != nil {
					return fmt.Errorf("discount %q: %w", discount, err)
				}
				pct = parsed
			}

			quote, err := pricing.Quote(quoteLines, pct)
			if err != nil {
				return err
			}
			out := quoteOutput{
				Lines:              quote.Lines,
				DiscountPercentage: quote.Percentage.String(),
				OriginalAmount:     quote.OriginalAmount,
				DiscountAmount:     quote.DiscountAmount,
				FinalAmount:        quote.FinalAmount,
				WithinBounds:       payments.Bounds{Min: minAmount, Max: maxAmount}.Check(quote.FinalAmount) == nil,
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LINE\tTOTAL\tDISCOUNT\tFINAL")
			for i, l := range out.Lines {
				fmt.Fprintf(tw, "%d\t%d\t%d\t%d\n", i+1, l.LineTotal, l.LineDiscount, l.LineFinal)
			}
			fmt.Fprintf(tw, "order\t%d\t%d\t%d\n", out.OriginalAmount, out.DiscountAmount, out.FinalAmount)
			if err := tw.Flush(); err != nil {
				return err
			}
			if !out.WithinBounds {
				fmt.Fprintf(cmd.OutOrStdout(), "final amount %d is outside [%d, %d]\n", out.FinalAmount, minAmount, maxAmount)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&lines, "line", "l", nil, "Line as PRICE[:QTY]; price accepts storefront text such as \"100.000 VND\"")
	cmd.Flags().StringVarP(&discount, "discount", "d", "", "Order discount percentage, e.g. 10%")
	cmd.Flags().Int64Var(&minAmount, "min", payments.DefaultBounds.Min, "Minimum accepted order total")
	cmd.Flags().Int64Var(&maxAmount, "max", payments.DefaultBounds.Max, "Maximum accepted order total")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

// parseLine splits PRICE[:QTY] on the last colon so that prices may carry free text.
func parseLine(raw string) (pricing.Line, error) {
	price, qty := raw, "1"
	if i := strings.LastIndex(raw, ":"); i >= 0 {
		price, qty = raw[:i], raw[i+1:]
	}
	amount, err := pricing.ParseAmount(price)
	if err != nil {
		return pricing.Line{}, fmt.Errorf("line %q: %w", raw, err)
	}
	quantity, err := strconv.ParseInt(strings.TrimSpace(qty), 10, 64)
	if err != nil || quantity < 1 {
		return pricing.Line{}, fmt.Errorf("line %q: quantity must be a positive integer", raw)
	}
	return pricing.Line{UnitPrice: amount, Quantity: quantity}, nil
}
