package convert

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// instantLayout renders instants in UTC with millisecond precision, dropping
// trailing zeros.
const instantLayout = "2006-01-02T15:04:05.999Z07:00"

// layouts are tried in order when parsing temporal text. Zone-less layouts
// are interpreted in the graph location.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
	"15:04:05.999999999",
}

// registerTemporal installs the temporal family. Every temporal type
// converts to every other through epoch milliseconds in a single hop.
func registerTemporal(g *Graph) {
	temporal := []reflect.Type{timeType, dateType, clockType}
	core := []reflect.Type{int64Type, float64Type, float32Type, stringType, bytesType}
	for _, target := range temporal {
		g.each(target, append(append([]reflect.Type{}, temporal...), core...), func(v any) (any, error) {
			ms, err := g.millis(v)
			if err != nil {
				return nil, err
			}
			return g.fromMillis(target, ms), nil
		})
	}
	for _, target := range core[:4] {
		g.each(target, temporal, func(v any) (any, error) {
			ms, err := g.millis(v)
			if err != nil {
				return nil, err
			}
			return g.fromMillis(target, ms), nil
		})
	}
}

// millis returns v as milliseconds since the epoch.
func (g *Graph) millis(v any) (int64, error) {
	switch v := v.(type) {
	case time.Time:
		return v.UnixMilli(), nil
	case Date:
		return v.In(g.loc).UnixMilli(), nil
	case TimeOfDay:
		return v.On(Date{Year: 1970, Month: time.January, Day: 1}, g.loc).UnixMilli(), nil
	case int64:
		return v, nil
	case float64:
		return secondsToMillis(v)
	case float32:
		return secondsToMillis(float64(v))
	case string:
		return g.parse(v)
	case []byte:
		return g.parse(string(v))
	}
	return 0, errUnsupported
}

func (g *Graph) fromMillis(target reflect.Type, ms int64) any {
	t := time.UnixMilli(ms).In(g.loc)
	switch target {
	case timeType:
		return t
	case dateType:
		return DateOf(t)
	case clockType:
		return TimeOf(t)
	case int64Type:
		return ms
	case float64Type:
		return float64(ms) / 1000
	case float32Type:
		return float32(float64(ms) / 1000)
	case stringType:
		return t.UTC().Format(instantLayout)
	}
	panic(fmt.Sprintf("convert: unexpected temporal target %v", target))
}

func (g *Graph) parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, g.loc); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("invalid temporal text %q", s)
}

func secondsToMillis(s float64) (int64, error) {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, fmt.Errorf("%v: %w", s, errOverflow)
	}
	return int64(math.Round(s * 1000)), nil
}
