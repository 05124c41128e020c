package certs

import (
	"fmt"
	"strings"

	"certledger.org/internal/ledger"
)

// ErrInvalidMetadata is a validation error: a required field is missing.
var ErrInvalidMetadata = fmt.Errorf("invalid certificate metadata: %w", ledger.ErrValidation)

// Metadata describes a certificate. It is stored encrypted off-ledger.
type Metadata struct {
	RecipientName string            `json:"recipient_name"`
	CourseName    string            `json:"course_name"`
	Institution   string            `json:"institution"`
	IssueDate     string            `json:"issue_date"`
	Grade         string            `json:"grade,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Validate reports every missing required field.
func (m Metadata) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"recipient_name", m.RecipientName},
		{"course_name", m.CourseName},
		{"institution", m.Institution},
		{"issue_date", m.IssueDate},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidMetadata, strings.Join(missing, ", "))
	}
	return nil
}
