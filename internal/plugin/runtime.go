package plugin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"wa_command_bot/internal/permission"
	"wa_command_bot/internal/transport"
)

// Standard packages a script may import. Anything with host I/O is absent,
// so a script can only reach the outside world through its Context.
var scriptAllowedPkgs = []string{
	"bytes/bytes",
	"encoding/json/json",
	"errors/errors",
	"fmt/fmt",
	"math/math",
	"math/rand/rand",
	"regexp/regexp",
	"sort/sort",
	"strconv/strconv",
	"strings/strings",
	"time/time",
	"unicode/unicode",
	"unicode/utf8/utf8",
}

// Textual deterrents checked before an uploaded script is accepted. The
// interpreter's import allow-list is the actual boundary.
var blacklist = []*regexp.Regexp{
	regexp.MustCompile(`"os/exec"`),
	regexp.MustCompile(`"os"`),
	regexp.MustCompile(`"syscall"`),
	regexp.MustCompile(`"unsafe"`),
	regexp.MustCompile(`"plugin"`),
	regexp.MustCompile(`"net(/[a-z/]+)?"`),
	regexp.MustCompile(`"reflect"`),
	regexp.MustCompile(`"github\.com/traefik/yaegi[^"]*"`),
	regexp.MustCompile(`\bos\.(Exit|Remove|RemoveAll|Getenv)\s*\(`),
	regexp.MustCompile(`\bexec\.Command\s*\(`),
}

var scriptExports = interp.Exports{
	"bot/bot": {
		"Context":         reflect.ValueOf((*Context)(nil)),
		"Invocation":      reflect.ValueOf((*Invocation)(nil)),
		"UsageError":      reflect.ValueOf((*UsageError)(nil)),
		"Usagef":          reflect.ValueOf(Usagef),
		"Message":         reflect.ValueOf((*transport.Message)(nil)),
		"OutgoingMessage": reflect.ValueOf((*transport.OutgoingMessage)(nil)),
		"MediaKind":       reflect.ValueOf((*transport.MediaKind)(nil)),
		"Mention":         reflect.ValueOf(transport.Mention),
		"UserPart":        reflect.ValueOf(transport.UserPart),
		"SameUser":        reflect.ValueOf(transport.SameUser),
		"ResolveUserArg":  reflect.ValueOf(ResolveUserArg),
		"MediaImage":      reflect.ValueOf(transport.MediaImage),
		"MediaVideo":      reflect.ValueOf(transport.MediaVideo),
		"MediaAudio":      reflect.ValueOf(transport.MediaAudio),
		"MediaDocument":   reflect.ValueOf(transport.MediaDocument),
		"MediaSticker":    reflect.ValueOf(transport.MediaSticker),
	},
}

func restrictedStdlib() interp.Exports {
	restricted := interp.Exports{}
	for _, key := range scriptAllowedPkgs {
		if syms, ok := stdlib.Symbols[key]; ok {
			restricted[key] = syms
		}
	}
	return restricted
}

// Script is the metadata and entry point read from one plugin source file.
type Script struct {
	Name        string
	Description string
	Usage       string
	Aliases     []string
	Permissions []string
	// Cooldown is zero when the script does not declare one.
	Cooldown time.Duration
	Execute  func(*Context) error
	// Warnings lists non-fatal contract violations.
	Warnings []string
}

// CheckSource returns a rejected error when src matches a blacklist pattern.
func CheckSource(src string) error {
	for _, pattern := range blacklist {
		if pattern.MatchString(src) {
			return newRejectedError(pattern.String())
		}
	}
	return nil
}

// Hash returns the hex SHA-256 of src.
func Hash(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// Compile evaluates src in a fresh interpreter and extracts its contract:
// non-empty Name and Description and an Execute function are required.
func Compile(path, src string) (script Script, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newLoadError(path, fmt.Errorf("interpreter panic: %v", r))
		}
	}()

	i := interp.New(interp.Options{})
	if err := i.Use(restrictedStdlib()); err != nil {
		return Script{}, newLoadError(path, err)
	}
	if err := i.Use(scriptExports); err != nil {
		return Script{}, newLoadError(path, err)
	}
	if _, err := i.Eval(src); err != nil {
		return Script{}, newLoadError(path, err)
	}

	name, ok := evalString(i, "Name")
	if !ok || strings.TrimSpace(name) == "" {
		return Script{}, newInvalidError(path, "missing or empty Name")
	}
	description, ok := evalString(i, "Description")
	if !ok || strings.TrimSpace(description) == "" {
		return Script{}, newInvalidError(path, "missing or empty Description")
	}

	v, evalErr := i.Eval("Execute")
	if evalErr != nil || !v.IsValid() {
		return Script{}, newInvalidError(path, "missing Execute function")
	}
	execute, ok := v.Interface().(func(*Context) error)
	if !ok {
		return Script{}, newInvalidError(path, "Execute must be func(*bot.Context) error")
	}

	script = Script{
		Name:        normalizeName(name),
		Description: strings.TrimSpace(description),
		Execute:     execute,
	}
	script.Usage, _ = evalString(i, "Usage")

	if aliases, present, ok := evalStrings(i, "Aliases"); present && !ok {
		script.Warnings = append(script.Warnings, "Aliases should be a []string")
	} else {
		script.Aliases = aliases
	}
	if perms, present, ok := evalStrings(i, "Permissions"); present && !ok {
		script.Warnings = append(script.Warnings, "Permissions should be a []string")
	} else if len(perms) > 0 {
		roles, err := permission.ValidatePermissionList(perms)
		if err != nil {
			return Script{}, newInvalidError(path, err.Error())
		}
		script.Permissions = roles
	}
	if ms, present, ok := evalInt(i, "Cooldown"); present && !ok {
		script.Warnings = append(script.Warnings, "Cooldown should be an integer number of milliseconds")
	} else if ms > 0 {
		script.Cooldown = time.Duration(ms) * time.Millisecond
	}

	return script, nil
}

// Handler adapts the script entry point, turning panics into errors.
func (s Script) Handler() Handler {
	execute := s.Execute
	name := s.Name
	return func(_ context.Context, c *Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("plugin %s panicked: %v", name, r)
			}
		}()
		return execute(c)
	}
}

func evalSymbol(i *interp.Interpreter, name string) (reflect.Value, bool) {
	v, err := i.Eval(name)
	if err != nil || !v.IsValid() {
		return reflect.Value{}, false
	}
	return v, true
}

func evalString(i *interp.Interpreter, name string) (string, bool) {
	v, ok := evalSymbol(i, name)
	if !ok || v.Kind() != reflect.String {
		return "", false
	}
	return v.String(), true
}

// evalStrings reports the value, whether the symbol exists and whether it
// had the right type.
func evalStrings(i *interp.Interpreter, name string) ([]string, bool, bool) {
	v, ok := evalSymbol(i, name)
	if !ok {
		return nil, false, true
	}
	if v.Kind() != reflect.Slice || v.Type().Elem().Kind() != reflect.String {
		return nil, true, false
	}
	out := make([]string, 0, v.Len())
	for idx := 0; idx < v.Len(); idx++ {
		if s := strings.TrimSpace(v.Index(idx).String()); s != "" {
			out = append(out, s)
		}
	}
	return out, true, true
}

func evalInt(i *interp.Interpreter, name string) (int64, bool, bool) {
	v, ok := evalSymbol(i, name)
	if !ok {
		return 0, false, true
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint()), true, true
	default:
		return 0, true, false
	}
}
