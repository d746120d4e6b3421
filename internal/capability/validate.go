package capability

import "fmt"

// BindCall checks a command invocation against the declared parameter
// schema and normalizes it. It fails closed: any violation rejects the
// whole call before the command handler runs, so an invalid call never
// has partial side effects.
//
// Binding rules:
//   - positional args bind to Params in declaration order
//   - kwargs bind by parameter name
//   - a parameter bound both positionally and by name is an error
//   - unknown kwarg names are an error
//   - missing required parameters are an error
//   - an unbound optional parameter takes its declared Default, if any
//
// The returned forms are canonical: boundArgs holds one slot per declared
// parameter in Params order, and boundKwargs holds every bound parameter
// by name, so a handler may read either regardless of how the caller
// passed the values. An unbound optional parameter with no Default is nil
// in boundArgs and absent from boundKwargs.
func BindCall(c *Command, args []any, kwargs map[string]any) (boundArgs []any, boundKwargs map[string]any, err error) {
	if len(args) > len(c.Params) {
		return nil, nil, fmt.Errorf("%w: %d positional args for %d declared parameters",
			ErrInvalidParam, len(args), len(c.Params))
	}

	byName := make(map[string]*ParamSpec, len(c.Params))
	for i := range c.Params {
		byName[c.Params[i].Name] = &c.Params[i]
	}

	for name := range kwargs {
		if _, ok := byName[name]; !ok {
			return nil, nil, fmt.Errorf("%w: unknown parameter %q", ErrInvalidParam, name)
		}
	}

	boundArgs = make([]any, len(c.Params))
	boundKwargs = make(map[string]any, len(c.Params))

	for i, spec := range c.Params {
		var value any
		var bound bool

		if i < len(args) {
			value = args[i]
			bound = true
			if _, dup := kwargs[spec.Name]; dup {
				return nil, nil, fmt.Errorf("%w: parameter %q bound both positionally and by name",
					ErrInvalidParam, spec.Name)
			}
		} else if v, ok := kwargs[spec.Name]; ok {
			value = v
			bound = true
		}

		if !bound {
			if spec.Required {
				return nil, nil, fmt.Errorf("%w: missing required parameter %q", ErrInvalidParam, spec.Name)
			}
			if spec.Default == nil {
				continue
			}
			value = spec.Default
		}

		if err := checkParamType(spec, value); err != nil {
			return nil, nil, err
		}

		boundArgs[i] = value
		boundKwargs[spec.Name] = value
	}

	return boundArgs, boundKwargs, nil
}

// ValidateCall checks a command invocation against the declared parameter
// schema without returning the bound forms.
func ValidateCall(c *Command, args []any, kwargs map[string]any) error {
	_, _, err := BindCall(c, args, kwargs)
	return err
}

// checkParamType verifies a bound value against the declared parameter type.
func checkParamType(spec ParamSpec, value any) error {
	switch spec.Type {
	case ParamAny, "":
		return nil
	case ParamString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%w: parameter %q must be a string, got %T",
				ErrInvalidParam, spec.Name, value)
		}
	case ParamBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: parameter %q must be a bool, got %T",
				ErrInvalidParam, spec.Name, value)
		}
	case ParamNumber:
		if _, ok := AsFloat(value); !ok {
			return fmt.Errorf("%w: parameter %q must be a number, got %T",
				ErrInvalidParam, spec.Name, value)
		}
	default:
		return fmt.Errorf("%w: parameter %q has unknown type %q",
			ErrInvalidParam, spec.Name, spec.Type)
	}
	return nil
}

// CheckConstraint verifies a property write against the declared min/max
// constraints. Non-numeric values pass untouched when no constraint is set.
func CheckConstraint(p *Property, value any) error {
	if p.Min == nil && p.Max == nil {
		return nil
	}

	f, ok := AsFloat(value)
	if !ok {
		return fmt.Errorf("%w: constrained property requires a numeric value, got %T",
			ErrOutOfRange, value)
	}

	if p.Min != nil && f < *p.Min {
		return fmt.Errorf("%w: %v below minimum %v", ErrOutOfRange, f, *p.Min)
	}
	if p.Max != nil && f > *p.Max {
		return fmt.Errorf("%w: %v above maximum %v", ErrOutOfRange, f, *p.Max)
	}

	return nil
}

// AsFloat coerces the numeric types that survive JSON and YAML decoding
// into a float64. Returns false for non-numeric values.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
