package auditexport

import (
	"context"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/platform/auditlog"
)

// Exporter sends audit events to external compliance systems.
type Exporter interface {
	Export(ctx context.Context, event auditlog.StoredEvent) error
}

// NoopExporter discards events.
type NoopExporter struct{}

func (NoopExporter) Export(ctx context.Context, event auditlog.StoredEvent) error {
	return nil
}
