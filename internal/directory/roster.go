package directory

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/domain"
)

const RosterSchemaV1 = "fleetgrid.approvers.v1"

// Roster is the operator-maintained pool of approvers, loaded from a YAML
// file at startup. Identity lifecycle lives outside this service; the
// roster only carries assignment attributes.
type Roster struct {
	Schema    string        `json:"schema" yaml:"schema"`
	Approvers []RosterEntry `json:"approvers" yaml:"approvers"`
}

type RosterEntry struct {
	ID            string  `json:"id" yaml:"id"`
	Name          string  `json:"name" yaml:"name"`
	Email         string  `json:"email" yaml:"email"`
	Department    string  `json:"department,omitempty" yaml:"department,omitempty"`
	ApprovalLimit float64 `json:"approval_limit" yaml:"approval_limit"`
	MaxPending    int     `json:"max_pending" yaml:"max_pending"`
}

func ParseRoster(input []byte) (Roster, error) {
	var roster Roster
	if err := yaml.Unmarshal(input, &roster); err != nil {
		return Roster{}, fmt.Errorf("decode roster: %w", err)
	}
	if err := roster.Validate(); err != nil {
		return Roster{}, err
	}
	return roster, nil
}

func LoadRoster(path string) (Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Roster{}, fmt.Errorf("read roster: %w", err)
	}
	return ParseRoster(data)
}

func (r Roster) Validate() error {
	if strings.TrimSpace(r.Schema) != RosterSchemaV1 {
		return fmt.Errorf("roster.schema must be %q", RosterSchemaV1)
	}
	if len(r.Approvers) == 0 {
		return errors.New("roster.approvers must be non-empty")
	}

	seen := make(map[string]struct{}, len(r.Approvers))
	for i, entry := range r.Approvers {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return fmt.Errorf("roster.approvers[%d].id is required", i)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("roster.approvers[%d].id must be unique (duplicate %q)", i, id)
		}
		seen[id] = struct{}{}

		if strings.TrimSpace(entry.Name) == "" {
			return fmt.Errorf("roster.approvers[%d].name is required", i)
		}
		if strings.TrimSpace(entry.Email) == "" {
			return fmt.Errorf("roster.approvers[%d].email is required", i)
		}
		if entry.ApprovalLimit <= 0 {
			return fmt.Errorf("roster.approvers[%d].approval_limit must be positive", i)
		}
		if entry.MaxPending < 1 {
			return fmt.Errorf("roster.approvers[%d].max_pending must be >= 1", i)
		}
	}
	return nil
}

func (r Roster) Domain() []domain.Approver {
	out := make([]domain.Approver, 0, len(r.Approvers))
	for _, entry := range r.Approvers {
		out = append(out, domain.Approver{
			ID:            strings.TrimSpace(entry.ID),
			Name:          strings.TrimSpace(entry.Name),
			Email:         strings.TrimSpace(entry.Email),
			Department:    strings.TrimSpace(entry.Department),
			ApprovalLimit: entry.ApprovalLimit,
			MaxPending:    entry.MaxPending,
		})
	}
	return out
}
