// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"
	CodeConfigSaveFailure          Code = "config.save.failure"

	CodeConversationConfigInvalid Code = "conversation.config.invalid"

	CodeSessionStreamConsumed Code = "session.stream.consumed"
	CodeSessionInputInvalid   Code = "session.input.invalid"

	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderResponseInvalid Code = "provider.response.invalid"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"
	CodeProviderModeUnsupported Code = "provider.mode.unsupported"
	CodeProviderNotFound        Code = "provider.registry.not_found"

	CodeSecretInvalidInput    Code = "secret.input.invalid"
	CodeSecretNotFound        Code = "secret.not_found"
	CodeSecretStoreFailure    Code = "secret.store.failure"
	CodeSecretDeleteFailure   Code = "secret.delete.failure"
	CodeSecretListFailure     Code = "secret.list.failure"
	CodeSecretResolveFailure  Code = "secret.resolve.failure"
	CodeTranscriptOpenFailure Code = "transcript.open.failure"
	CodeTranscriptDatabase    Code = "transcript.database.failure"
	CodeTranscriptNotFound    Code = "transcript.session.not_found"

	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeCLIInputInvalid Code = "cli.input.invalid"
	CodeInternalFailure Code = "internal.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

func Field(key string, value any) Attr { return Attr{Key: key, Value: value} }

func FieldSessionID(id string) Attr { return Field("session_id", id) }
func FieldProvider(name string) Attr { return Field("provider", name) }
func FieldModel(model string) Attr   { return Field("model", model) }

func builder(code Code, fields []Attr) oops.OopsErrorBuilder {
	b := oops.Code(code)
	for _, f := range fields {
		if f.Key != "" {
			b = b.With(f.Key, f.Value)
		}
	}
	return b
}

func New(code Code, msg string, fields ...Attr) error {
	return builder(code, fields).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

// Wrap attaches code and fields to err. A nil err stays nil.
func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return builder(code, fields).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds fields to err without changing its code. Uncoded errors become
// internal failures.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}
	code := CodeOf(err)
	if code == "" {
		code = CodeInternalFailure
	}
	return builder(code, fields).Wrap(err)
}

// Join combines errs into one internal failure; errors.Is matches each.
func Join(errs ...error) error {
	return oops.Code(CodeInternalFailure).Wrap(stderrors.Join(errs...))
}

// CodeOf returns the innermost code in the chain, or "" for uncoded errors.
func CodeOf(err error) Code {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch c := oopsErr.Code().(type) {
	case nil:
		return ""
	case Code:
		return c
	case string:
		return Code(c)
	default:
		return Code(fmt.Sprint(c))
	}
}

// FieldsOf returns the context attached anywhere in the chain.
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

// Codes end in a reason segment that classifies them.
var invalidReasons = map[string]bool{
	"invalid":        true,
	"invalid_input":  true,
	"invalid_value":  true,
	"invalid_format": true,
}

func IsNotFound(err error) bool {
	return CodeOf(err).reason() == "not_found"
}

func IsInvalidInput(err error) bool {
	return invalidReasons[CodeOf(err).reason()]
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return code.reason() == "failure" && strings.Contains(string(code), ".upstream.")
}

// ExitCode maps an error to a process exit status for the CLI.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case IsInvalidInput(err):
		return 2
	case IsNotFound(err):
		return 3
	case IsUpstreamFailure(err), HasCode(err, CodeProviderResponseInvalid):
		return 4
	default:
		return 1
	}
}

func (c Code) reason() string {
	s := string(c)
	if i := strings.LastIndexByte(s, '.'); i >= 0 && i < len(s)-1 {
		return s[i+1:]
	}
	return s
}
