package pdf

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

const (
	issuerName  = "Phage"
	issuerLine  = "Molecular dynamics simulations"
	itemSummary = "Simulation credits"
)

var ErrInvalidReceipt = errors.New("invalid receipt data")

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, receipt Receipt) ([]byte, error) {
	if strings.TrimSpace(receipt.Number) == "" || receipt.Credits < 0 {
		return nil, ErrInvalidReceipt
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	total := FormatAmount(receipt)
	paidOn := receipt.PaidAt.UTC().Format("January 2, 2006")

	m.AddRow(30,
		text.NewCol(6, "Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		col.New(6).Add(
			text.New(issuerName, props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(issuerLine, props.Text{Top: 5, Size: 9, Align: align.Right}),
		),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Receipt number: "+receipt.Number, props.Text{Top: 0}),
			text.New("Payment ID: "+receipt.PaymentID, props.Text{Top: 4}),
			text.New("Date paid: "+paidOn, props.Text{Top: 8}),
		),
		col.New(6).Add(
			text.New("Billed to", props.Text{Style: fontstyle.Bold}),
			text.New(receipt.CustomerName, props.Text{Top: 5}),
			text.New(receipt.CustomerEmail, props.Text{Top: 9}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, total+" paid on "+paidOn, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Currency", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(15,
		text.NewCol(6, itemSummary, props.Text{Size: 9}),
		text.NewCol(2, fmt.Sprintf("%d", receipt.Credits), props.Text{Size: 9, Align: align.Right}),
		text.NewCol(2, strings.ToUpper(receipt.Currency), props.Text{Size: 9, Align: align.Right}),
		text.NewCol(2, total, props.Text{Size: 9, Align: align.Right}),
	)

	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(2, total, props.Text{Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

// FormatAmount renders the paid amount in major units; zero-decimal
// currencies drop the fraction.
func FormatAmount(receipt Receipt) string {
	code := strings.ToUpper(strings.TrimSpace(receipt.Currency))
	places := int32(2)
	if code == "JPY" {
		places = 0
	}
	return receipt.Amount.StringFixed(places) + " " + code
}
