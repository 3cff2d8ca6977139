package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/platinummonkey/invoicer/pkg/invoice"
	"github.com/platinummonkey/invoicer/pkg/pdf"
)

// renderInput is the JSON document render reads: an invoice draft, with an
// optional number to print instead of a guest number
type renderInput struct {
	invoice.Draft
	Number string `json:"invoice_number,omitempty"`
}

func newRenderCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "render",
		Description: "Compute totals and render a PDF offline: render <invoice.json> <out.pdf>",
		Flags:       flag.NewFlagSet("render", flag.ContinueOnError),
	}
	receipt := cmd.Flags.Bool("receipt", false, "Render a payment receipt instead of an invoice")
	logoPath := cmd.Flags.String("logo", "", "PNG or JPEG logo to place in the header")
	brand := cmd.Flags.String("brand", "Invoicer", "Product name printed in the footer")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if cmd.Flags.NArg() != 2 {
			return errors.New("usage: render [-receipt] [-logo file] <invoice.json> <out.pdf>")
		}

		inv, err := loadInvoice(cmd.Flags.Arg(0), time.Now())
		if err != nil {
			return err
		}

		var logo *pdf.Logo
		if *logoPath != "" {
			data, err := os.ReadFile(*logoPath)
			if err != nil {
				return fmt.Errorf("failed to read logo: %w", err)
			}
			logo = &pdf.Logo{Data: data, ContentType: http.DetectContentType(data)}
		}

		renderer := pdf.NewRenderer(*brand)
		var buf bytes.Buffer
		if *receipt {
			paidAt := inv.Date.Time
			inv.Status = invoice.StatusPaid
			inv.PaidAt = &paidAt
			err = renderer.RenderReceipt(&buf, inv)
		} else {
			err = renderer.RenderInvoice(&buf, inv, logo)
		}
		if err != nil {
			return fmt.Errorf("failed to render: %w", err)
		}

		out := cmd.Flags.Arg(1)
		if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}

		fmt.Fprintf(env.Out, "%s  subtotal %s  vat %s  total %s\n", inv.Number,
			inv.Currency.Format(inv.Subtotal), inv.Currency.Format(inv.TaxTotal), inv.Currency.Format(inv.Total))
		env.Logger.WithField("file", out).Info("PDF written")
		return nil
	}
	return cmd
}

// loadInvoice reads a draft and builds it the same way the API does,
// without a profile to take defaults from
func loadInvoice(path string, now time.Time) (*invoice.Invoice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var in renderInput
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("invalid invoice JSON: %w", err)
	}

	inv, err := invoice.Build(in.Draft, invoice.Defaults{}, now)
	if err != nil {
		return nil, err
	}
	inv.Number = in.Number
	if inv.Number == "" {
		inv.Number = invoice.GuestNumber(inv.Date.Time)
	}
	inv.CreatedAt = now
	inv.UpdatedAt = now
	return inv, nil
}
