package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/sandevgo/chatd/internal/core"
)

type Number interface {
	~int64 | ~float64
}

// Ranged is a bounded numeric parameter. A nil bound is open.
// Optional parameters may stay unset, in which case they are not sent to the provider.
type Ranged[T Number] struct {
	Min      *T
	Max      *T
	Val      T
	Optional bool
	set      bool
}

type (
	RangedFloat = Ranged[float64]
	RangedInt   = Ranged[int64]
)

func Bound[T Number](v T) *T {
	return &v
}

// NewRanged fails when val lies outside [min, max]. Values are never clamped.
func NewRanged[T Number](lo, hi *T, val T) (Ranged[T], error) {
	r := Ranged[T]{Min: lo, Max: hi}
	if err := r.Set(val); err != nil {
		return Ranged[T]{}, err
	}
	return r, nil
}

func NewOptionalRanged[T Number](lo, hi *T) Ranged[T] {
	return Ranged[T]{Min: lo, Max: hi, Optional: true}
}

func (r *Ranged[T]) Set(v T) error {
	if r.Min != nil && v < *r.Min {
		return fmt.Errorf("%w: %v is below minimum %v", core.ErrInvalidConfiguration, v, *r.Min)
	}
	if r.Max != nil && v > *r.Max {
		return fmt.Errorf("%w: %v is above maximum %v", core.ErrInvalidConfiguration, v, *r.Max)
	}
	r.Val = v
	r.set = true
	return nil
}

// Get reports the value and whether it was set.
func (r Ranged[T]) Get() (T, bool) {
	return r.Val, r.set || !r.Optional
}

func (r Ranged[T]) Validate() error {
	if !r.set && r.Optional {
		return nil
	}
	check := Ranged[T]{Min: r.Min, Max: r.Max}
	return check.Set(r.Val)
}

type rangedJSON[T Number] struct {
	Type string `json:"type"`
	Min  *T     `json:"min"`
	Max  *T     `json:"max"`
	Val  *T     `json:"val"`
}

func (r Ranged[T]) MarshalJSON() ([]byte, error) {
	out := rangedJSON[T]{Type: "float", Min: r.Min, Max: r.Max}
	if _, isInt := any(r.Val).(int64); isInt {
		out.Type = "int"
	}
	if v, ok := r.Get(); ok {
		out.Val = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts a bare number or the schema object. Only the value is
// taken from the input; bounds stay those of the receiver.
func (r *Ranged[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	var raw json.RawMessage = data
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Val json.RawMessage `json:"val"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidConfiguration, err)
		}
		raw = obj.Val
	}

	if len(raw) == 0 || string(raw) == "null" {
		if !r.Optional {
			return fmt.Errorf("%w: value is required", core.ErrInvalidConfiguration)
		}
		r.set = false
		return nil
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidConfiguration, err)
	}
	return r.Set(v)
}

// OptionedString is a string restricted to a fixed set of options.
type OptionedString struct {
	Options []string
	Val     string
}

func NewOptionedString(options []string, val string) (OptionedString, error) {
	o := OptionedString{Options: options}
	if err := o.Set(val); err != nil {
		return OptionedString{}, err
	}
	return o, nil
}

func (o *OptionedString) Set(v string) error {
	if !slices.Contains(o.Options, v) {
		return fmt.Errorf("%w: %q is not one of %v", core.ErrInvalidConfiguration, v, o.Options)
	}
	o.Val = v
	return nil
}

func (o OptionedString) Validate() error {
	check := OptionedString{Options: o.Options}
	return check.Set(o.Val)
}

func (o OptionedString) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string   `json:"type"`
		Options []string `json:"options"`
		Val     string   `json:"val"`
	}{"string", o.Options, o.Val})
}

func (o *OptionedString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	var v string
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Val string `json:"val"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidConfiguration, err)
		}
		v = obj.Val
	} else if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidConfiguration, err)
	}
	return o.Set(v)
}
