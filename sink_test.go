package jmux

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyType(t *testing.T) {
	for _, test := range []struct {
		name         string
		zero         reflect.Type
		wantKind     ElementKind
		wantNullable bool
		wantErr      bool
	}{
		{"string", reflect.TypeOf(""), KindString, false, false},
		{"nullable string", reflect.TypeOf((*string)(nil)), KindString, true, false},
		{"float64", reflect.TypeOf(float64(0)), KindFloat, false, false},
		{"bool", reflect.TypeOf(false), KindBool, false, false},
		{"big.Int", reflect.TypeOf(big.Int{}), KindInt, false, false},
		{"nested schema pointer", reflect.TypeOf(&struct{}{}), KindSchema, false, false},
		{"unsupported int", reflect.TypeOf(int(0)), 0, false, true},
	} {
		t.Run(test.name, func(t *testing.T) {
			kind, nullable, err := classifyType(test.zero)
			if test.wantErr {
				assert.ErrorIs(t, err, ErrUnexpectedAttribute)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.wantKind, kind)
			assert.Equal(t, test.wantNullable, nullable)
		})
	}
}

func TestAwaitableValuePutAndAwait(t *testing.T) {
	var a AwaitableValue[string]
	require.NoError(t, a.putValue(stringValue("Paris")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := a.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Paris", got)
}

func TestAwaitableValueTypeMismatch(t *testing.T) {
	var a AwaitableValue[string]
	err := a.putValue(boolValue(true))
	assert.ErrorIs(t, err, ErrTypeEmit)
}

func TestAwaitableValueDoublePutFails(t *testing.T) {
	var a AwaitableValue[string]
	require.NoError(t, a.putValue(stringValue("a")))
	err := a.putValue(stringValue("b"))
	assert.ErrorIs(t, err, ErrTypeEmit)
}

func TestAwaitableValueCloseWithoutValue(t *testing.T) {
	var a AwaitableValue[string]
	err := a.closeSink()
	assert.ErrorIs(t, err, ErrNothingEmitted)
}

func TestAwaitableValueNullableCloseWithoutValueYieldsNull(t *testing.T) {
	var a AwaitableValue[*string]
	require.NoError(t, a.closeSink())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := a.Await(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAwaitableValueDoubleCloseFails(t *testing.T) {
	var a AwaitableValue[string]
	require.NoError(t, a.putValue(stringValue("a")))
	require.NoError(t, a.closeSink())
	assert.ErrorIs(t, a.closeSink(), ErrSinkClosed)
}

func TestAwaitableValueEnsureClosedIsIdempotent(t *testing.T) {
	var a AwaitableValue[string]
	require.NoError(t, a.putValue(stringValue("a")))
	require.NoError(t, a.ensureClosed())
	require.NoError(t, a.ensureClosed())
	require.NoError(t, a.ensureClosed())
}

func TestAwaitableValueBigIntRoundTrip(t *testing.T) {
	var a AwaitableValue[Int]
	n, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.NoError(t, a.putValue(intValue(n)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := a.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Cmp(n))
}

func TestStreamableValuesPutAndDrain(t *testing.T) {
	var s StreamableValues[string]
	go func() {
		_ = s.putValue(stringValue("a"))
		_ = s.putValue(stringValue("b"))
		_ = s.closeSink()
	}()

	var got []string
	for v := range s.C() {
		got = append(got, v)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestStreamableValuesNextReportsClose(t *testing.T) {
	var s StreamableValues[string]
	require.NoError(t, s.putValue(stringValue("a")))
	require.NoError(t, s.closeSink())

	ctx := context.Background()
	v, ok, err := s.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok, err = s.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStreamableValuesPutAfterCloseFails(t *testing.T) {
	var s StreamableValues[string]
	require.NoError(t, s.closeSink())
	err := s.putValue(stringValue("a"))
	assert.ErrorIs(t, err, ErrSinkClosed)
}

func TestStreamableValuesRejectsNullableElementType(t *testing.T) {
	var s StreamableValues[*string]
	err := s.validate()
	assert.ErrorIs(t, err, ErrUnexpectedAttribute)
}

func TestAwaitableValueCurrentBeforeSetFails(t *testing.T) {
	var a AwaitableValue[string]
	_, err := a.Current()
	assert.True(t, errors.Is(err, ErrNoCurrentSink))
}
