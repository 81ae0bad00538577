package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// idempotencyKeyPattern matches COMPANY_MODULE_REFID_STAGE_XXXXXXXX.
var idempotencyKeyPattern = regexp.MustCompile(`^([A-Za-z0-9-]+)_([A-Za-z0-9-]+)_([A-Za-z0-9-]+)_([A-Za-z0-9-]+)_([0-9A-F]{8})$`)

var ErrInvalidIdempotencyKey = errors.New("idempotency key must match COMPANY_MODULE_REFID_STAGE_XXXXXXXX")

type IdempotencyKey struct {
	CompanyID  string
	ModuleCode string
	RefID      string
	Stage      string
	Suffix     string
}

func (k IdempotencyKey) String() string {
	return strings.Join([]string{k.CompanyID, k.ModuleCode, k.RefID, k.Stage, k.Suffix}, "_")
}

func ParseIdempotencyKey(key string) (IdempotencyKey, error) {
	m := idempotencyKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return IdempotencyKey{}, ErrInvalidIdempotencyKey
	}
	return IdempotencyKey{CompanyID: m[1], ModuleCode: m[2], RefID: m[3], Stage: m[4], Suffix: m[5]}, nil
}

// ValidateIdempotencyKeyFor checks the key format and that it belongs to companyID.
func ValidateIdempotencyKeyFor(key, companyID string) error {
	k, err := ParseIdempotencyKey(key)
	if err != nil {
		return err
	}
	if k.CompanyID != companyID {
		return fmt.Errorf("idempotency key company %q does not match caller company %q", k.CompanyID, companyID)
	}
	return nil
}

// NewIdempotencyKey builds a producer key with a random 8 hex digit suffix.
func NewIdempotencyKey(companyID, moduleCode, refID, stage string) string {
	id := uuid.New()
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
	return IdempotencyKey{CompanyID: companyID, ModuleCode: moduleCode, RefID: refID, Stage: stage, Suffix: suffix}.String()
}
