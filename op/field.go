package op

import (
	"reflect"

	"github.com/juju/errors"
)

const (
	ErrFieldNotFound      = errors.ConstError("field not found")
	ErrIncompatibleFields = errors.ConstError("incompatible fields")
)

// EnabledKey is the implicit optional input every node declares. A node
// whose child context holds a false value for it is skipped.
const EnabledKey = "enabled"

// Field is a named input or output of a node. A nil Type accepts any value.
type Field struct {
	Key      string
	Type     reflect.Type
	Optional bool
	// Validator, if set, is applied to every value routed into the field
	Validator func(value any) error
}

func NewField(key string, typ reflect.Type) *Field {
	return &Field{Key: key, Type: typ}
}

func NewOptionalField(key string, typ reflect.Type) *Field {
	return &Field{Key: key, Type: typ, Optional: true}
}

// TypeOf returns the reflect.Type of T, interfaces included.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Accepts reports whether values produced by src may be routed into f. An
// untyped side is decided at run time by Check.
func (f *Field) Accepts(src *Field) bool {
	if f.Type == nil || src.Type == nil {
		return true
	}
	return src.Type.AssignableTo(f.Type)
}

// Check validates a value routed into f.
func (f *Field) Check(value any) error {
	if f.Type != nil {
		if value == nil {
			if !nilable(f.Type) {
				return errors.Annotatef(ErrIncompatibleFields, "nil is not a %v", f.Type)
			}
		} else if vt := reflect.TypeOf(value); !vt.AssignableTo(f.Type) {
			return errors.Annotatef(ErrIncompatibleFields, "%v is not a %v", vt, f.Type)
		}
	}
	if f.Validator != nil {
		return errors.Trace(f.Validator(value))
	}
	return nil
}

func (f *Field) String() string {
	if f.Type == nil {
		return f.Key
	}
	return f.Key + ":" + f.Type.String()
}

func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

func enabledField() *Field {
	return NewOptionalField(EnabledKey, TypeOf[bool]())
}
