package transform

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func rawValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks the fields every jurisdiction requires. Failures are
// reported as *docket.SchemaViolationError naming the first offending field.
func Validate(key docket.JurisdictionKey, raw docket.RawDocket) error {
	if err := rawValidator().Struct(raw); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return docket.NewSchemaViolation(fieldPath(fe.Namespace()), fe.Tag())
		}
		return docket.NewSchemaViolation("payload", err.Error())
	}
	if strings.TrimSpace(raw.CaseGovID) == "" {
		return docket.NewSchemaViolation("case_govid", "required")
	}
	if strings.TrimSpace(raw.CaseName) == "" {
		return docket.NewSchemaViolation("case_name", "required")
	}
	ref := docket.CaseRef{Key: key, GovID: strings.TrimSpace(raw.CaseGovID)}
	if err := ref.Validate(); err != nil {
		return docket.NewSchemaViolation("case_govid", err.Error())
	}
	return nil
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
