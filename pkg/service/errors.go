package service

import (
	"sort"
	"strings"

	"github.com/C-eorl/P9---LITRevu/pkg/validator"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrSelfFollow         = errors.New("you cannot follow yourself")
	ErrSelfBlock          = errors.New("you cannot block yourself")
	ErrAlreadyReviewed    = errors.New("you have already reviewed this ticket")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ValidationError carries per-field messages keyed by form field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidationError(err error, prefix string) error {
	fields := validator.FieldErrors(err)
	if prefix != "" {
		prefixed := make(map[string]string, len(fields))
		for k, v := range fields {
			prefixed[prefix+k] = v
		}
		fields = prefixed
	}
	return &ValidationError{Fields: fields}
}

func mergeValidation(errs ...error) error {
	var merged *ValidationError
	for _, err := range errs {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			continue
		}
		if merged == nil {
			merged = &ValidationError{Fields: map[string]string{}}
		}
		for k, v := range ve.Fields {
			merged.Fields[k] = v
		}
	}
	if merged == nil {
		return nil
	}
	return merged
}

// Authorize is the single ownership check guarding every modify and delete.
func Authorize(actorID, ownerID uint) error {
	if actorID != ownerID {
		return ErrPermissionDenied
	}
	return nil
}

// storeErr maps a missing row to ErrNotFound and wraps everything else.
func storeErr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(ErrNotFound, what)
	}
	return errors.Wrapf(err, "failed to load %s", what)
}
