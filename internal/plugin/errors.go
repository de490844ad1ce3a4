package plugin

import (
	"errors"
	"fmt"

	goerrors "github.com/agilira/go-errors"
)

// Error codes for plugin lifecycle failures.
const (
	CodeNotFound      = "PLUGIN_NOT_FOUND"
	CodeProtected     = "PLUGIN_PROTECTED"
	CodeInvalid       = "PLUGIN_INVALID"
	CodeRejected      = "PLUGIN_REJECTED"
	CodeAliasConflict = "PLUGIN_ALIAS_CONFLICT"
	CodeExists        = "PLUGIN_EXISTS"
	CodeLoadFailed    = "PLUGIN_LOAD_FAILED"
)

func newNotFoundError(name string) *goerrors.Error {
	return goerrors.New(CodeNotFound, "Plugin not found").
		WithUserMessage(fmt.Sprintf("❌ Plugin %q not found.", name)).
		WithContext("plugin_name", name)
}

func newProtectedError(name, action string) *goerrors.Error {
	return goerrors.New(CodeProtected, "Plugin is protected").
		WithUserMessage(fmt.Sprintf("❌ %s is a protected command and cannot be %s.", name, action)).
		WithContext("plugin_name", name).
		WithContext("action", action)
}

func newInvalidError(path, reason string) *goerrors.Error {
	return goerrors.New(CodeInvalid, "Invalid plugin: "+reason).
		WithUserMessage("❌ Invalid plugin: "+reason).
		WithContext("path", path)
}

func newRejectedError(pattern string) *goerrors.Error {
	return goerrors.New(CodeRejected, "Plugin source rejected").
		WithUserMessage("❌ Plugin rejected: the source uses a disallowed construct.").
		WithContext("pattern", pattern)
}

func newAliasConflictError(name, alias, owner string) *goerrors.Error {
	return goerrors.New(CodeAliasConflict, "Alias conflict").
		WithUserMessage(fmt.Sprintf("❌ %q is already used by %s.", alias, owner)).
		WithContext("plugin_name", name).
		WithContext("alias", alias).
		WithContext("owner", owner)
}

func newExistsError(name string) *goerrors.Error {
	return goerrors.New(CodeExists, "Plugin already exists").
		WithUserMessage(fmt.Sprintf("❌ A plugin named %q already exists.", name)).
		WithContext("plugin_name", name)
}

func newLoadError(path string, cause error) *goerrors.Error {
	return goerrors.Wrap(cause, CodeLoadFailed, "Plugin failed to load").
		WithUserMessage("❌ Plugin failed to load: "+cause.Error()).
		WithContext("path", path)
}

// IsCode reports whether err carries the given plugin error code.
func IsCode(err error, code string) bool {
	var coded *goerrors.Error
	if !errors.As(err, &coded) {
		return false
	}
	return coded.ErrorCode() == goerrors.ErrorCode(code)
}

// UserMessage returns the chat-facing message of a coded error.
func UserMessage(err error) (string, bool) {
	var coded *goerrors.Error
	if !errors.As(err, &coded) {
		return "", false
	}
	msg := coded.UserMessage()
	return msg, msg != ""
}

// UsageError is a user input error whose text is shown verbatim.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

// Usagef builds a UsageError.
func Usagef(format string, args ...interface{}) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// AsUsage extracts a UsageError from err.
func AsUsage(err error) (*UsageError, bool) {
	var usage *UsageError
	if errors.As(err, &usage) {
		return usage, true
	}
	return nil, false
}
