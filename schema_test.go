package jmux

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type introspectSchema struct {
	Name       *AwaitableValue[string]  `jmux:"name"`
	Population *AwaitableValue[Int]     `jmux:"population"`
	Tags       *StreamableValues[string] `jmux:"tags"`
	untagged   *AwaitableValue[string]
	BadType    int `jmux:"bad_type"`
}

func TestIntrospectBuildsOrderedFieldMap(t *testing.T) {
	var s introspectSchema
	fm, err := introspect(reflect.ValueOf(&s))
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "population", "tags"}, fm.order)
	assert.Contains(t, fm.sinks, "name")
	assert.Contains(t, fm.sinks, "population")
	assert.Contains(t, fm.sinks, "tags")
	assert.NotNil(t, s.Name, "introspect should allocate a nil sink field")
}

func TestIntrospectRejectsNonStructPointer(t *testing.T) {
	notAStruct := 5
	_, err := introspect(reflect.ValueOf(&notAStruct))
	assert.ErrorIs(t, err, ErrUnexpectedAttribute)
}

func TestIntrospectRecordsInvalidTaggedField(t *testing.T) {
	var s introspectSchema
	fm, err := introspect(reflect.ValueOf(&s))
	require.NoError(t, err)
	assert.Contains(t, fm.invalid, "bad_type")
}

func TestFieldMapLookupMissingAttribute(t *testing.T) {
	var s introspectSchema
	fm, err := introspect(reflect.ValueOf(&s))
	require.NoError(t, err)

	_, err = fm.lookup("does_not_exist")
	assert.ErrorIs(t, err, ErrMissingAttribute)
}

func TestFieldMapLookupUnexpectedAttributeType(t *testing.T) {
	var s introspectSchema
	fm, err := introspect(reflect.ValueOf(&s))
	require.NoError(t, err)

	_, err = fm.lookup("bad_type")
	assert.ErrorIs(t, err, ErrUnexpectedAttribute)
}

func TestFieldMapLookupReturnsBoundSink(t *testing.T) {
	var s introspectSchema
	fm, err := introspect(reflect.ValueOf(&s))
	require.NoError(t, err)

	sk, err := fm.lookup("name")
	require.NoError(t, err)
	assert.Equal(t, SinkAwaitable, sk.sinkKind())
}

func TestIntrospectIgnoresUntaggedFields(t *testing.T) {
	var s introspectSchema
	fm, err := introspect(reflect.ValueOf(&s))
	require.NoError(t, err)
	assert.NotContains(t, fm.sinks, "untagged")
	assert.Nil(t, s.untagged)
}
