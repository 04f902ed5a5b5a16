package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// PortEnv is the environment variable that overrides the default listening port.
const PortEnv = "PORT"

// DefaultPort is the port used when neither the recipe nor the environment names one.
const DefaultPort = 8000

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ResolvePort returns the PORT value from lookup if it is set, else def.
// A set value that is not a valid TCP port is a runtime failure.
func ResolvePort(lookup LookupFunc, def int) (int, error) {
	if lookup != nil {
		if raw, ok := lookup(PortEnv); ok && strings.TrimSpace(raw) != "" {
			port, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || !ValidPort(port) {
				return 0, &RuntimeError{
					Reason: ReasonPort,
					Err:    fmt.Errorf("%s=%q is not a valid port", PortEnv, raw),
				}
			}
			return port, nil
		}
	}
	if !ValidPort(def) {
		return 0, &RuntimeError{Reason: ReasonPort, Err: fmt.Errorf("default port %d is out of range", def)}
	}
	return def, nil
}

// MapLookup adapts an environment map to a LookupFunc.
func MapLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func ValidPort(port int) bool {
	return port > 0 && port <= 65535
}
