package storm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ParamMode is the direction of a stored procedure parameter.
type ParamMode int

// Parameter modes.
const (
	ModeIn ParamMode = iota
	ModeOut
	ModeInOut
)

// String implements fmt.Stringer.
func (m ParamMode) String() string {
	switch m {
	case ModeOut:
		return "OUT"
	case ModeInOut:
		return "INOUT"
	default:
		return "IN"
	}
}

// Param is a stored procedure parameter. Output parameters hold the value
// returned by the procedure after the call, converted to their type.
type Param struct {
	Mode   ParamMode
	Type   reflect.Type
	value  any
	result any
}

// In returns an input parameter.
func In(v any) *Param {
	return &Param{Mode: ModeIn, Type: reflect.TypeOf(v), value: v}
}

// Out returns an output parameter of type T.
func Out[T any]() *Param {
	return &Param{Mode: ModeOut, Type: reflect.TypeFor[T]()}
}

// InOut returns an input/output parameter of type T.
func InOut[T any](v T) *Param {
	return &Param{Mode: ModeInOut, Type: reflect.TypeFor[T](), value: v}
}

// Value returns the input value of the parameter.
func (p *Param) Value() any { return p.value }

// Result returns the output value of the parameter.
func (p *Param) Result() any { return p.result }

// String implements fmt.Stringer.
func (p *Param) String() string {
	if p.Mode == ModeOut {
		return p.Mode.String()
	}
	return fmt.Sprintf("%s:%v", p.Mode, p.value)
}

// Result returns the output value of p as T.
func Result[T any](p *Param) (T, error) {
	var zero T
	if p.result == nil {
		return zero, nil
	}
	v, ok := p.result.(T)
	if !ok {
		return zero, fmt.Errorf("storm: parameter result is %T, not %v: %w", p.result, reflect.TypeFor[T](), ErrConversion)
	}
	return v, nil
}

func (s *session) procedure(ctx context.Context, name string, params []*Param) error {
	call := "CALL " + name + "(" + strings.TrimSuffix(strings.Repeat("?, ", len(params)), ", ") + ")"
	s.client.logger.DebugContext(ctx, fmt.Sprintf("%s -- %v", call, params))
	err := s.bound(ctx, func(s *session) (rerr error) {
		cs, err := s.conn.PrepareCall(ctx, "{"+call+"}")
		if err != nil {
			return err
		}
		defer func() {
			if err := cs.Close(); err != nil {
				rerr = errors.Join(rerr, fmt.Errorf("closing statement: %w", err))
			}
		}()
		args := make([]any, len(params))
		for i, p := range params {
			if p.Mode != ModeOut {
				if args[i], err = s.client.reduce(p.value); err != nil {
					return fmt.Errorf("parameter %d: %w", i+1, err)
				}
			}
			if p.Mode != ModeIn {
				cs.RegisterOut(i, p.Type)
			}
		}
		if err := cs.Exec(ctx, args...); err != nil {
			return err
		}
		for i, p := range params {
			if p.Mode == ModeIn {
				continue
			}
			v, err := cs.Out(i)
			if err != nil {
				return err
			}
			if p.result, err = s.client.graph.CastTo(p.Type, v); err != nil {
				return fmt.Errorf("parameter %d: %w", i+1, err)
			}
		}
		return nil
	})
	return wrap("", "procedure "+name, err)
}
