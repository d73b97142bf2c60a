package pdf

import (
	"context"
	"io"
)

// ActivityRow is one flattened audit entry for export.
type ActivityRow struct {
	Timestamp string
	Actor     string
	Action    string
	Field     string
	OldValue  string
	NewValue  string
}

// ActivityReport carries everything the renderer needs. Values are already
// formatted; the renderer only lays them out.
type ActivityReport struct {
	Title        string
	DisplayID    string
	ItemTitle    string
	Organization string
	GeneratedAt  string
	Rows         []ActivityRow
}

type Provider interface {
	GenerateActivityReport(ctx context.Context, report ActivityReport) (io.Reader, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateActivityReport(ctx context.Context, report ActivityReport) (io.Reader, error) {
	return nil, nil
}
