package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateActivityReport(ctx context.Context, report ActivityReport) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	title := report.Title
	if title == "" {
		title = "Activity report"
	}

	m.AddRow(20,
		text.NewCol(12, title, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	// Report meta
	m.AddRow(22,
		col.New(6).Add(
			text.New("Task: "+report.DisplayID, props.Text{Top: 0}),
			text.New(clip(report.ItemTitle, 80), props.Text{Top: 4, Size: 9}),
		),
		col.New(6).Add(
			text.New("Organization: "+report.Organization, props.Text{Top: 0}),
			text.New("Generated: "+report.GeneratedAt, props.Text{Top: 4}),
			text.New(fmt.Sprintf("Entries: %d", len(report.Rows)), props.Text{Top: 8}),
		),
	)

	// Table Header
	m.AddRow(8,
		text.NewCol(3, "Timestamp", props.Text{Style: fontstyle.Bold, Size: 8}),
		text.NewCol(2, "Actor", props.Text{Style: fontstyle.Bold, Size: 8}),
		text.NewCol(1, "Action", props.Text{Style: fontstyle.Bold, Size: 8}),
		text.NewCol(2, "Field", props.Text{Style: fontstyle.Bold, Size: 8}),
		text.NewCol(2, "Old", props.Text{Style: fontstyle.Bold, Size: 8}),
		text.NewCol(2, "New", props.Text{Style: fontstyle.Bold, Size: 8}),
	)

	for _, row := range report.Rows {
		m.AddRow(8,
			text.NewCol(3, row.Timestamp, props.Text{Size: 8}),
			text.NewCol(2, clip(row.Actor, 24), props.Text{Size: 8}),
			text.NewCol(1, row.Action, props.Text{Size: 8}),
			text.NewCol(2, row.Field, props.Text{Size: 8}),
			text.NewCol(2, clip(row.OldValue, 40), props.Text{Size: 8}),
			text.NewCol(2, clip(row.NewValue, 40), props.Text{Size: 8}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}

func clip(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-1]) + "…"
}
