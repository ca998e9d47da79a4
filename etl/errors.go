package etl

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidSelector is returned by RunETL for an unknown selector.
	ErrInvalidSelector = errors.New("invalid ETL type")
)

// ValidationError describes a rejected batch: the rule that failed and the values that
// failed it. Nothing has been written to the database when one is returned.
type ValidationError struct {
	Kind   Kind
	Rule   string
	Detail string
	Values []string
}

func (e *ValidationError) Error() string {
	if len(e.Values) == 0 {
		return fmt.Sprintf("%s %s: %s", e.Kind, ErrValidation, e.Detail)
	}
	return fmt.Sprintf("%s %s: %s: [%s]", e.Kind, ErrValidation, e.Detail, strings.Join(e.Values, ", "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(kind Kind, rule string, detail string, values []string) *ValidationError {
	return &ValidationError{Kind: kind, Rule: rule, Detail: detail, Values: values}
}

// IsIntegrityError reports whether err is a uniqueness or foreign-key violation raised by
// the store. err itself is never rewritten; callers keep propagating it unchanged.
func IsIntegrityError(db *gorm.DB, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	if db != nil {
		if tr, ok := db.Dialector.(gorm.ErrorTranslator); ok {
			translated := tr.Translate(err)
			if errors.Is(translated, gorm.ErrDuplicatedKey) || errors.Is(translated, gorm.ErrForeignKeyViolated) {
				return true
			}
		}
	}
	// Drivers without a translator for the code still name the constraint.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "foreign key constraint") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key value")
}
