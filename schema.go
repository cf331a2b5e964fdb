package jmux

import (
	"fmt"
	"reflect"
)

// structTag is the struct tag key a schema uses to declare its JSON field
// name, e.g. `jmux:"city_name"`.
const structTag = "jmux"

// fieldMap is the ordered, named record of a schema's declared sinks — the
// Go realization of spec §3's "field map", built once via reflection over a
// user schema struct at New()/newNested time rather than discovered anew on
// every key, per spec §4.4's key→sink binding.
type fieldMap struct {
	schemaName string
	order      []string
	sinks      map[string]sink

	// invalid records tagged fields whose Go type does not conform to the
	// sink interface, so that a later key lookup can raise
	// unexpected_attribute_type instead of missing_attribute.
	invalid map[string]string
}

// introspect builds a fieldMap for a schema instance, allocating a fresh
// sink (via reflect.New) for every tagged nil field — this is jmux's
// equivalent of the Python original's JMux._instantiate_attributes, except
// Go's static generics mean there is no runtime type hint to parse: each
// sink field's type is already the concrete, monomorphized
// AwaitableValue[T]/StreamableValues[T] the schema author wrote.
func introspect(v reflect.Value) (*fieldMap, error) {
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: schema must be a non-nil pointer to a struct", ErrUnexpectedAttribute)
	}
	elem := v.Elem()
	t := elem.Type()

	fm := &fieldMap{
		schemaName: t.Name(),
		sinks:      map[string]sink{},
		invalid:    map[string]string{},
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, ok := field.Tag.Lookup(structTag)
		if !ok || name == "" {
			continue
		}

		fv := elem.Field(i)
		if !fv.CanSet() {
			fm.invalid[name] = field.Type.String() + " (unexported)"
			continue
		}
		if fv.Kind() == reflect.Ptr && fv.IsNil() {
			if fv.Type().Elem().Kind() != reflect.Struct {
				fm.invalid[name] = field.Type.String()
				continue
			}
			fv.Set(reflect.New(fv.Type().Elem()))
		}

		s, ok := fv.Interface().(sink)
		if !ok {
			fm.invalid[name] = field.Type.String()
			continue
		}
		if err := s.validate(); err != nil {
			fm.invalid[name] = err.Error()
			continue
		}

		fm.order = append(fm.order, name)
		fm.sinks[name] = s
	}

	return fm, nil
}

func (fm *fieldMap) lookup(name string) (sink, error) {
	if s, ok := fm.sinks[name]; ok {
		return s, nil
	}
	if expected, ok := fm.invalid[name]; ok {
		return nil, errUnexpectedAttributeType(noDocumentID, fm.schemaName, name, expected)
	}
	return nil, errMissingAttribute(noDocumentID, fm.schemaName, name)
}
