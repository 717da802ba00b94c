// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

// Package validation wraps a singleton go-playground/validator instance and
// turns its field errors into readable messages.
//
//	type ServerConfig struct {
//	    Port int `koanf:"port" validate:"min=1,max=65535"`
//	}
//
//	if err := validation.ValidateStruct(&cfg.Server); err != nil {
//	    return fmt.Errorf("invalid server config: %w", err)
//	}
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is a single failed field.
type FieldError struct {
	Namespace string
	Tag       string
	Param     string
	Message   string
}

// StructError collects every failed field of one ValidateStruct call.
type StructError struct {
	Fields []FieldError
}

func (e *StructError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

// GetValidator returns the singleton validator.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct validates s. It returns nil or a *StructError.
func ValidateStruct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &StructError{Fields: []FieldError{{Namespace: "unknown", Tag: "unknown", Message: err.Error()}}}
	}

	fields := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		fields[i] = FieldError{
			Namespace: fe.Namespace(),
			Tag:       fe.Tag(),
			Param:     fe.Param(),
			Message:   translate(fe),
		}
	}
	return &StructError{Fields: fields}
}

var messageTemplates = map[string]string{
	"required": "%s is required",
	"dir":      "%s must be an existing directory",
	"file":     "%s must be an existing file",
	"hostname": "%s must be a valid hostname",
	"url":      "%s must be a valid URL",
}

var messageWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"min":   "%s must be at least %s",
	"max":   "%s must be at most %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
}

func translate(fe validator.FieldError) string {
	field := fe.Namespace()
	if tmpl, ok := messageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field)
	}
	if tmpl, ok := messageWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
