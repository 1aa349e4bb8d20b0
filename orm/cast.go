package orm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cast"
)

// Cast converts an attribute between its application value and its storage value.
// Set runs when an attribute is written, Get when it is read. Both pass nil through.
type Cast interface {
	Set(value any) (any, error)
	Get(value any) (any, error)
}

// Built-in casts.
var (
	Int      Cast = intCast{}
	Float    Cast = floatCast{}
	Bool     Cast = boolCast{}
	String   Cast = stringCast{}
	Datetime Cast = timeCast{layout: "2006-01-02 15:04:05"}
	Date     Cast = timeCast{layout: "2006-01-02", truncate: true}
	JSON     Cast = jsonCast{}
)

func castError(kind string, value any, err error) error {
	return fmt.Errorf("%w: %s from %T: %v", ErrCast, kind, value, err)
}

type intCast struct{}

func (intCast) Set(v any) (any, error) { return toInt(v) }
func (intCast) Get(v any) (any, error) { return toInt(v) }

func toInt(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return nil, castError("int", v, err)
	}
	return n, nil
}

type floatCast struct{}

func (floatCast) Set(v any) (any, error) { return toFloat(v) }
func (floatCast) Get(v any) (any, error) { return toFloat(v) }

func toFloat(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil, castError("float", v, err)
	}
	return f, nil
}

// boolCast stores booleans as 0/1.
type boolCast struct{}

func (boolCast) Set(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return nil, castError("bool", v, err)
	}
	if b {
		return int64(1), nil
	}
	return int64(0), nil
}

func (boolCast) Get(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return nil, castError("bool", v, err)
	}
	return b, nil
}

type stringCast struct{}

func (stringCast) Set(v any) (any, error) { return toString(v) }
func (stringCast) Get(v any) (any, error) { return toString(v) }

func toString(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, castError("string", v, err)
	}
	return s, nil
}

// timeCast stores times as UTC text in layout and reads them back as time.Time.
type timeCast struct {
	layout   string
	truncate bool
}

func (c timeCast) Set(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	t, err := c.parse(v)
	if err != nil {
		return nil, err
	}
	return t.Format(c.layout), nil
}

func (c timeCast) Get(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return c.parse(v)
}

func (c timeCast) parse(v any) (time.Time, error) {
	var (
		t   time.Time
		err error
	)
	if s, ok := v.(string); ok {
		t, err = time.ParseInLocation(c.layout, s, time.UTC)
		if err != nil {
			t, err = cast.ToTimeE(s)
		}
	} else {
		t, err = cast.ToTimeE(v)
	}
	if err != nil {
		return time.Time{}, castError("time", v, err)
	}
	t = t.UTC().Truncate(time.Second)
	if c.truncate {
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t, nil
}

// jsonCast stores structured values as JSON text and decodes them into maps, slices and
// float64 numbers.
type jsonCast struct{}

func (jsonCast) Set(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, castError("json", v, err)
	}
	return string(raw), nil
}

func (jsonCast) Get(v any) (any, error) {
	var raw []byte
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		raw = []byte(s)
	case []byte:
		raw = s
	default:
		return v, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, castError("json", v, err)
	}
	return out, nil
}

// Enum returns a cast over a closed set of members of one named type whose underlying
// type is a string or an integer. Members are stored as their underlying scalar.
func Enum(members ...any) Cast {
	c := enumCast{byScalar: make(map[string]any, len(members))}
	for _, m := range members {
		scalar := enumScalar(m)
		c.byScalar[cast.ToString(scalar)] = m
		if c.typ == nil {
			c.typ = reflect.TypeOf(m)
		}
	}
	return c
}

type enumCast struct {
	typ      reflect.Type
	byScalar map[string]any
}

func enumScalar(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	}
	return v
}

func (c enumCast) Set(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	scalar := enumScalar(v)
	if c.typ != nil && reflect.TypeOf(v) != c.typ {
		// Accept the raw scalar of a member as well.
		member, ok := c.byScalar[cast.ToString(v)]
		if !ok {
			return nil, fmt.Errorf("%w: %v is not a member of %s", ErrCast, v, c.typ)
		}
		scalar = enumScalar(member)
	} else if _, ok := c.byScalar[cast.ToString(scalar)]; !ok {
		return nil, fmt.Errorf("%w: %v is not a member of %s", ErrCast, v, c.typ)
	}
	return scalar, nil
}

func (c enumCast) Get(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if member, ok := c.byScalar[cast.ToString(v)]; ok {
		return member, nil
	}
	return nil, fmt.Errorf("%w: stored value %v is not a member of %s", ErrCast, v, c.typ)
}

// Accessor customises reading and writing one attribute. Set runs before the cast and
// returns the value to store; Get runs after the cast. Either may be nil. An accessor may
// also describe a computed attribute that is never stored.
type Accessor struct {
	Get func(m *Model, value any) any
	Set func(m *Model, value any) (any, error)
}
