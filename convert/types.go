package convert

import (
	"database/sql/driver"
	"fmt"
	"math/big"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Char is a single character column value.
type Char rune

// String implements fmt.Stringer.
func (c Char) String() string { return string(rune(c)) }

// Value implements driver.Valuer.
func (c Char) Value() (driver.Value, error) { return c.String(), nil }

// Date is a calendar date without time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// In returns the start of the date in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// String returns the date in YYYY-MM-DD form.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) { return d.String(), nil }

// TimeOfDay is a wall clock time without a date.
type TimeOfDay struct {
	Hour       int
	Minute     int
	Second     int
	Nanosecond int
}

// TimeOf returns the time of day of t in t's location.
func TimeOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second(), Nanosecond: t.Nanosecond()}
}

// On returns the time of day on the given date in loc.
func (c TimeOfDay) On(d Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, c.Second, c.Nanosecond, loc)
}

// String returns the time in HH:MM:SS[.fraction] form.
func (c TimeOfDay) String() string {
	return c.On(Date{Year: 1970, Month: time.January, Day: 1}, time.UTC).Format("15:04:05.999999999")
}

// Value implements driver.Valuer.
func (c TimeOfDay) Value() (driver.Value, error) { return c.String(), nil }

var (
	boolType    = reflect.TypeFor[bool]()
	stringType  = reflect.TypeFor[string]()
	bytesType   = reflect.TypeFor[[]byte]()
	charType    = reflect.TypeFor[Char]()
	bigIntType  = reflect.TypeFor[*big.Int]()
	uuidType    = reflect.TypeFor[uuid.UUID]()
	int64Type   = reflect.TypeFor[int64]()
	float32Type = reflect.TypeFor[float32]()
	float64Type = reflect.TypeFor[float64]()
	timeType    = reflect.TypeFor[time.Time]()
	dateType    = reflect.TypeFor[Date]()
	clockType   = reflect.TypeFor[TimeOfDay]()
)

// integerTypes and floatTypes list the numeric families of the graph.
var (
	integerTypes = []reflect.Type{
		reflect.TypeFor[int](),
		reflect.TypeFor[int8](),
		reflect.TypeFor[int16](),
		reflect.TypeFor[int32](),
		int64Type,
		reflect.TypeFor[uint](),
		reflect.TypeFor[uint8](),
		reflect.TypeFor[uint16](),
		reflect.TypeFor[uint32](),
		reflect.TypeFor[uint64](),
	}
	floatTypes = []reflect.Type{float32Type, float64Type}
)

func numericTypes() []reflect.Type {
	all := make([]reflect.Type, 0, len(integerTypes)+len(floatTypes))
	all = append(all, integerTypes...)
	return append(all, floatTypes...)
}
