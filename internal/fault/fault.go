// Package fault defines the coded error kinds shared by every layer of the
// change log: validation, provider, storage and skipped log lines.
package fault

import (
	"fmt"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeValidation Code = "change.input.invalid"
	CodeProvider   Code = "embedding.provider.failure"
	CodeStorage    Code = "storage.io.failure"
	CodeParseSkip  Code = "changelog.line.malformed"
	CodeConfig     Code = "config.validate.invalid_value"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldPath(path string) Attr { return Field("path", path) }

func FieldID(id string) Attr { return Field("id", id) }

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// Ensure keeps an already coded error as is and wraps anything else with code.
func Ensure(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) != "" {
		return err
	}
	return Wrap(err, code, msg, fields...)
}

// CodeOf returns the code carried by err, or "" for uncoded errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch c := oopsErr.Code().(type) {
	case Code:
		return c
	case string:
		return Code(c)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", c))
	}
}

// FieldsOf returns the structured context attached to err.
func FieldsOf(err error) map[string]any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func IsValidation(err error) bool { return HasCode(err, CodeValidation) }

func IsProvider(err error) bool { return HasCode(err, CodeProvider) }

func IsStorage(err error) bool { return HasCode(err, CodeStorage) }

func IsParseSkip(err error) bool { return HasCode(err, CodeParseSkip) }

func IsConfig(err error) bool { return HasCode(err, CodeConfig) }

func flatten(fields []Attr) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}
