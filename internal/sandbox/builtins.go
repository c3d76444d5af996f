package sandbox

import (
	"context"
	"strings"

	"github.com/reusee/starlarkutil"
	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// JSONCapability exposes encode, decode and indent as the optional "json" bundle.
func JSONCapability() Capability {
	return moduleBundle(json.Module)
}

// MathCapability exposes the optional "math" bundle.
func MathCapability() Capability {
	return moduleBundle(math.Module)
}

// TimeCapability exposes the optional "time" bundle.
//
// Programs get a time source through it, so rendering stops being
// deterministic once a program loads it.
func TimeCapability() Capability {
	return moduleBundle(time.Module)
}

// UtilsCapability exposes string helpers as the resident "utils" capability.
func UtilsCapability() Capability {
	return Capability{
		Name: "utils",
		Members: starlark.StringDict{
			"upper":      starlarkutil.MakeFunc("upper", strings.ToUpper),
			"lower":      starlarkutil.MakeFunc("lower", strings.ToLower),
			"trim":       starlarkutil.MakeFunc("trim", strings.TrimSpace),
			"contains":   starlarkutil.MakeFunc("contains", strings.Contains),
			"replace":    starlarkutil.MakeFunc("replace", strings.ReplaceAll),
			"repeat":     starlarkutil.MakeFunc("repeat", strings.Repeat),
			"has_prefix": starlarkutil.MakeFunc("has_prefix", strings.HasPrefix),
		},
	}
}

// moduleBundle wraps a library module as a lazily loaded capability.
func moduleBundle(m *starlarkstruct.Module) Capability {
	return Capability{
		Name: m.Name,
		Lazy: func(context.Context) (starlark.StringDict, error) {
			members := make(starlark.StringDict, len(m.Members))
			for k, v := range m.Members {
				members[k] = v
			}
			return members, nil
		},
	}
}
