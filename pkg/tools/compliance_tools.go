package tools

import (
	"context"
	"encoding/json"

	"github.com/developer-mesh/agent-hub/pkg/services"
)

// ComplianceTools is the manage_compliance manager.
type ComplianceTools struct {
	compliance services.ComplianceService
}

// NewComplianceTools wires the compliance manager to its service.
func NewComplianceTools(compliance services.ComplianceService) *ComplianceTools {
	return &ComplianceTools{compliance: compliance}
}

// Manager implements Provider.
func (t *ComplianceTools) Manager() Manager {
	return Manager{
		Name:        "manage_compliance",
		Description: "Invariant validation and audit trails",
		Actions: []Action{
			{
				Name:        "validate_compliance",
				Description: "Check a project's live data against the standing invariants",
				Required:    []string{"project_id"},
				Params: map[string]interface{}{
					"project_id": pUUID("project to validate"),
				},
				Handler: t.validate,
			},
			{
				Name:        "get_audit_trail",
				Description: "Propagation and delegation history for one context tier",
				Required:    []string{"level", "context_id"},
				Params: map[string]interface{}{
					"level":      pEnum("tier", "task", "branch", "project", "global"),
					"context_id": pString("entity id"),
					"limit":      pInt("page size"),
				},
				Handler: t.auditTrail,
			},
		},
	}
}

func (t *ComplianceTools) validate(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		ProjectID string `json:"project_id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	projectID, err := parseUUID("project_id", in.ProjectID)
	if err != nil {
		return nil, err
	}
	report, err := t.compliance.Validate(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &Result{Data: map[string]interface{}{
		"compliant": report.Compliant(),
		"report":    report,
	}}, nil
}

func (t *ComplianceTools) auditTrail(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		Level     string `json:"level"`
		ContextID string `json:"context_id"`
		Limit     int    `json:"limit"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	level, err := parseLevel("level", in.Level)
	if err != nil {
		return nil, err
	}
	trail, err := t.compliance.AuditTrail(ctx, level, in.ContextID, in.Limit)
	if err != nil {
		return nil, err
	}
	return &Result{Data: trail}, nil
}
