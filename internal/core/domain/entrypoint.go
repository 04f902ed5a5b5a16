package domain

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

// EntrypointKind selects how the service process is started.
type EntrypointKind string

const (
	// KindASGI serves a module:object application through uvicorn.
	KindASGI EntrypointKind = "asgi"
	// KindScript runs a Python file with the interpreter.
	KindScript EntrypointKind = "script"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Entrypoint names the application the container serves.
type Entrypoint struct {
	Kind   EntrypointKind `json:"kind" yaml:"kind"`
	Target string         `json:"target" yaml:"target"`
}

// Validate checks the target against the kind.
func (e Entrypoint) Validate() error {
	switch e.Kind {
	case KindASGI:
		module, object, ok := strings.Cut(e.Target, ":")
		if !ok || module == "" || object == "" {
			return invalid("asgi target %q must be module:object", e.Target)
		}
		for _, part := range strings.Split(module, ".") {
			if !identifier.MatchString(part) {
				return invalid("asgi module %q is not a python module path", module)
			}
		}
		if !identifier.MatchString(object) {
			return invalid("asgi object %q is not a python identifier", object)
		}
	case KindScript:
		if !strings.HasSuffix(e.Target, ".py") {
			return invalid("script target %q must be a .py file", e.Target)
		}
		if path.IsAbs(e.Target) || strings.HasPrefix(path.Clean(e.Target), "..") {
			return invalid("script target %q must be relative to the work dir", e.Target)
		}
		if !safePath.MatchString(e.Target) {
			return invalid("script target %q may only contain letters, digits and ._/-", e.Target)
		}
	default:
		return invalid("unknown entrypoint kind %q", e.Kind)
	}
	return nil
}

// Argv returns the argument vector that starts the server on port.
func (e Entrypoint) Argv(port int) []string {
	if e.Kind == KindScript {
		return []string{"python", e.Target}
	}
	return []string{"uvicorn", e.Target, "--host", "0.0.0.0", "--port", strconv.Itoa(port)}
}

func (e Entrypoint) String() string {
	return string(e.Kind) + ":" + e.Target
}
