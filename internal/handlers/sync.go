package handlers

import (
	"context"
	"fmt"
	"hookq/internal/domain"
	"hookq/internal/ports"
)

// Sync dispatches a sync request to a named external system. Only n8n is
// supported; other systems complete with status unsupported_system.
type Sync struct {
	Workflow ports.WorkflowClient
}

func (h *Sync) Execute(ctx context.Context, t domain.Task, r ports.Reporter) (map[string]any, error) {
	system := str(t.Payload, "system")
	progress(ctx, r, t.ID, 0.1, "syncing with "+system)

	var out map[string]any
	switch system {
	case "n8n":
		if h.Workflow == nil {
			return nil, domain.Permanent(fmt.Errorf("n8n client not configured"))
		}
		syncType, err := requireStr(t.Payload, "sync_type")
		if err != nil {
			return nil, err
		}
		res, err := h.Workflow.Trigger(ctx, syncType, t.Payload)
		if err != nil {
			return nil, err
		}
		out = map[string]any{"status": res.Status, "response_code": res.StatusCode}
	default:
		out = map[string]any{"status": "unsupported_system"}
	}

	progress(ctx, r, t.ID, 1.0, "sync finished")
	return out, nil
}
