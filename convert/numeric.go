package convert

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
)

var (
	errOverflow    = errors.New("value out of range")
	errUnsupported = errors.New("unsupported source")
)

type integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

type float interface {
	~float32 | ~float64
}

// registerNumeric installs the numeric and boolean families.
func registerNumeric(g *Graph) {
	sources := append(numericTypes(), boolType, stringType, bytesType, bigIntType)
	integerEdge[int](g, sources)
	integerEdge[int8](g, sources)
	integerEdge[int16](g, sources)
	integerEdge[int32](g, sources)
	integerEdge[int64](g, sources)
	integerEdge[uint](g, sources)
	integerEdge[uint8](g, sources)
	integerEdge[uint16](g, sources)
	integerEdge[uint32](g, sources)
	integerEdge[uint64](g, sources)
	floatEdge[float32](g, sources, 32)
	floatEdge[float64](g, sources, 64)

	g.each(bigIntType, append(numericTypes(), stringType, bytesType), toBigInt)
	g.each(boolType, append(numericTypes(), stringType, bytesType, charType), toBool)
	g.each(stringType, append(numericTypes(), boolType, bigIntType), formatNumber)
	g.Register(boolType, charType, func(v any) (any, error) {
		if v.(bool) {
			return Char('1'), nil
		}
		return Char('0'), nil
	})
}

func integerEdge[T integer](g *Graph, sources []reflect.Type) {
	g.each(reflect.TypeFor[T](), sources, func(v any) (any, error) {
		t, err := castInteger[T](v)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
}

func floatEdge[T float](g *Graph, sources []reflect.Type, bits int) {
	g.each(reflect.TypeFor[T](), sources, func(v any) (any, error) {
		switch v := v.(type) {
		case bool:
			if v {
				return T(1), nil
			}
			return T(0), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), bits)
			return T(f), err
		case []byte:
			f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), bits)
			return T(f), err
		case *big.Int:
			f, _ := new(big.Float).SetInt(v).Float64()
			return T(f), nil
		}
		rv := reflect.ValueOf(v)
		switch {
		case rv.CanInt():
			return T(rv.Int()), nil
		case rv.CanUint():
			return T(rv.Uint()), nil
		case rv.CanFloat():
			return T(rv.Float()), nil
		}
		return nil, errUnsupported
	})
}

func castInteger[T integer](v any) (T, error) {
	switch v := v.(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		return parseInteger[T](v)
	case []byte:
		return parseInteger[T](string(v))
	case *big.Int:
		switch {
		case v.IsInt64():
			return fromInt64[T](v.Int64())
		case v.IsUint64():
			return fromUint64[T](v.Uint64())
		}
		return 0, errOverflow
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return fromInt64[T](rv.Int())
	case rv.CanUint():
		return fromUint64[T](rv.Uint())
	case rv.CanFloat():
		return fromFloat[T](rv.Float())
	}
	return 0, errUnsupported
}

func parseInteger[T integer](s string) (T, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromInt64[T](i)
	}
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return fromUint64[T](u)
}

func fromInt64[T integer](i int64) (T, error) {
	t := T(i)
	if int64(t) != i || (t < 0) != (i < 0) {
		return 0, fmt.Errorf("%d: %w", i, errOverflow)
	}
	return t, nil
}

func fromUint64[T integer](u uint64) (T, error) {
	t := T(u)
	if uint64(t) != u || t < 0 {
		return 0, fmt.Errorf("%d: %w", u, errOverflow)
	}
	return t, nil
}

// fromFloat truncates f toward zero.
func fromFloat[T integer](f float64) (T, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v: %w", f, errOverflow)
	}
	f = math.Trunc(f)
	if f < 0 {
		if f < math.MinInt64 {
			return 0, fmt.Errorf("%v: %w", f, errOverflow)
		}
		return fromInt64[T](int64(f))
	}
	if f >= math.MaxUint64 {
		return 0, fmt.Errorf("%v: %w", f, errOverflow)
	}
	return fromUint64[T](uint64(f))
}

func toBigInt(v any) (any, error) {
	switch v := v.(type) {
	case string:
		return parseBigInt(v)
	case []byte:
		return parseBigInt(string(v))
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return big.NewInt(rv.Int()), nil
	case rv.CanUint():
		return new(big.Int).SetUint64(rv.Uint()), nil
	case rv.CanFloat():
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%v: %w", f, errOverflow)
		}
		i, _ := big.NewFloat(f).Int(nil)
		return i, nil
	}
	return nil, errUnsupported
}

func parseBigInt(s string) (*big.Int, error) {
	i, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return i, nil
}

// toBool maps non-zero numbers to true. Text accepts the forms of
// strconv.ParseBool.
func toBool(v any) (any, error) {
	switch v := v.(type) {
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	case []byte:
		return strconv.ParseBool(strings.TrimSpace(string(v)))
	case Char:
		switch v {
		case '1', 't', 'T', 'y', 'Y':
			return true, nil
		case '0', 'f', 'F', 'n', 'N':
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", rune(v))
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return rv.Int() != 0, nil
	case rv.CanUint():
		return rv.Uint() != 0, nil
	case rv.CanFloat():
		return rv.Float() != 0, nil
	}
	return nil, errUnsupported
}

// formatNumber renders numbers in their shortest exact text form.
func formatNumber(v any) (any, error) {
	switch v := v.(type) {
	case bool:
		return strconv.FormatBool(v), nil
	case *big.Int:
		return v.String(), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return strconv.FormatInt(rv.Int(), 10), nil
	case rv.CanUint():
		return strconv.FormatUint(rv.Uint(), 10), nil
	case rv.CanFloat():
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64), nil
	}
	return nil, errUnsupported
}
