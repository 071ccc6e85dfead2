package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"salesboard/internal/domain"
)

func newInvoiceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Invoice commands",
	}
	cmd.AddCommand(newInvoiceCreateCmd(a), newInvoiceListCmd(a))
	return cmd
}

func newInvoiceCreateCmd(a *app) *cobra.Command {
	var (
		req   domain.InvoiceCreateRequest
		items []string
		tax   string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an invoice for a lead",
		Example: `  boardctl invoice create --lead lead-42 --item "Onboarding:2:1000" --item "Licence:1:500"
  boardctl invoice create --lead lead-42 --item "Audit:1:750.50" --tax 11 --due 2026-11-30`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range items {
				item, err := parseItem(raw)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, item)
			}
			if tax != "" {
				pct, err := decimal.NewFromString(tax)
				if err != nil {
					return fmt.Errorf("--tax %q: %w", tax, err)
				}
				req.TaxPercent = &pct
			}
			req.Status = domain.InvoiceStatus(strings.ToUpper(string(req.Status)))

			ctx, cancel := a.commandContext(cmd)
			defer cancel()
			invoice, err := a.client().CreateInvoice(ctx, req)
			if err != nil {
				return err
			}
			printInvoice(a, invoice)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.LeadID, "lead", "", "lead id (required)")
	cmd.Flags().StringArrayVar(&items, "item", nil, "line item as NAME:QUANTITY:UNIT_PRICE, repeatable")
	cmd.Flags().StringVar(&req.Number, "number", "", "explicit invoice number (default: allocated)")
	cmd.Flags().StringVar(&tax, "tax", "", "tax percent (default: server setting)")
	cmd.Flags().StringVar((*string)(&req.Status), "status", "", "DRAFT, SENT or PAID")
	cmd.Flags().StringVar(&req.InvoiceDate, "date", "", "invoice date YYYY-MM-DD")
	cmd.Flags().StringVar(&req.DueDate, "due", "", "due date YYYY-MM-DD")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "free-form notes")
	_ = cmd.MarkFlagRequired("lead")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func newInvoiceListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list LEAD_ID",
		Short: "List a lead's invoices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.commandContext(cmd)
			defer cancel()
			invoices, err := a.client().LeadInvoices(ctx, args[0])
			if err != nil {
				return err
			}
			for _, invoice := range invoices {
				fmt.Fprintf(a.out, "%s\t%s\t%s\t%s\n", invoice.Number, invoice.Status, invoice.InvoiceDate.Format("2006-01-02"), invoice.Total.StringFixed(2))
			}
			return nil
		},
	}
}

func newNextNumberCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "next-number",
		Short: "Preview the next automatic invoice number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.commandContext(cmd)
			defer cancel()
			number, err := a.client().NextInvoiceNumber(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, number)
			return nil
		},
	}
}

// parseItem reads NAME:QUANTITY:UNIT_PRICE. The name may itself contain
// colons.
func parseItem(raw string) (domain.InvoiceItemInput, error) {
	priceAt := strings.LastIndex(raw, ":")
	if priceAt < 0 {
		return domain.InvoiceItemInput{}, fmt.Errorf("item %q: want NAME:QUANTITY:UNIT_PRICE", raw)
	}
	qtyAt := strings.LastIndex(raw[:priceAt], ":")
	if qtyAt < 0 {
		return domain.InvoiceItemInput{}, fmt.Errorf("item %q: want NAME:QUANTITY:UNIT_PRICE", raw)
	}

	qty, err := strconv.Atoi(strings.TrimSpace(raw[qtyAt+1 : priceAt]))
	if err != nil {
		return domain.InvoiceItemInput{}, fmt.Errorf("item %q quantity: %w", raw, err)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(raw[priceAt+1:]))
	if err != nil {
		return domain.InvoiceItemInput{}, fmt.Errorf("item %q unit price: %w", raw, err)
	}
	return domain.InvoiceItemInput{
		Name:      strings.TrimSpace(raw[:qtyAt]),
		Quantity:  qty,
		UnitPrice: price,
	}, nil
}

func printInvoice(a *app, invoice domain.Invoice) {
	fmt.Fprintf(a.out, "%s  %s  lead %s\n", invoice.Number, invoice.Status, invoice.LeadID)
	for _, item := range invoice.Items {
		fmt.Fprintf(a.out, "  %-30s %4d x %12s = %12s\n", item.Name, item.Quantity, item.UnitPrice.StringFixed(2), item.LineTotal.StringFixed(2))
	}
	fmt.Fprintf(a.out, "  subtotal %s  tax %s%% %s  total %s\n",
		invoice.Subtotal.StringFixed(2), invoice.TaxPercent.String(), invoice.TaxAmount.StringFixed(2), invoice.Total.StringFixed(2))
	fmt.Fprintf(a.out, "  due %s\n", invoice.DueDate.Format("2006-01-02"))
}
