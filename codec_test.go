package cachette

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v any) any {
	t.Helper()
	s, err := encode(v)
	require.NoError(t, err)
	out, err := decode(&s)
	require.NoError(t, err)
	return out
}

func TestCodecRoundTrip_Scalars(t *testing.T) {
	assert.Nil(t, roundTrip(t, nil))
	assert.Equal(t, true, roundTrip(t, true))
	assert.Equal(t, false, roundTrip(t, false))
	assert.Equal(t, "", roundTrip(t, ""))
	assert.Equal(t, "hello world", roundTrip(t, "hello world"))
}

func TestCodecRoundTrip_Numbers(t *testing.T) {
	cases := []float64{
		0,
		-1,
		0.1 + 0.2,
		9007199254740991, // MAX_SAFE_INTEGER
		math.Inf(1),
		math.Inf(-1),
	}
	for _, c := range cases {
		got := roundTrip(t, c)
		assert.Equal(t, c, got)
	}

	nan := roundTrip(t, math.NaN())
	f, ok := nan.(float64)
	require.True(t, ok)
	assert.True(t, math.IsNaN(f))
}

func TestCodecRoundTrip_NestedRecordWithMapAndSet(t *testing.T) {
	v := map[string]any{
		"level1": map[string]any{
			"level2": map[string]any{
				"level3": true,
			},
		},
		"aMap": KeyedMap{"x": float64(1), "y": float64(2)},
		"aSet": ValueSet{float64(1), float64(2), float64(3)},
	}
	got := roundTrip(t, v)
	gotMap, ok := got.(map[string]any)
	require.True(t, ok)

	level1 := gotMap["level1"].(map[string]any)
	level2 := level1["level2"].(map[string]any)
	assert.Equal(t, true, level2["level3"])

	aMap, ok := gotMap["aMap"].(KeyedMap)
	require.True(t, ok, "keyed map identity must survive the round trip")
	assert.Equal(t, float64(1), aMap["x"])

	aSet, ok := gotMap["aSet"].(ValueSet)
	require.True(t, ok, "set identity must survive the round trip")
	assert.ElementsMatch(t, []any{float64(1), float64(2), float64(3)}, []any(aSet))
}

type myError struct {
	msg            string
	Name           string
	Retryable      bool
	MyStringProperty string
}

func (e *myError) Error() string { return e.msg }

func TestCodecRoundTrip_ErrorWithCustomProperties(t *testing.T) {
	err := &myError{msg: "boom", Name: "MyError", Retryable: true, MyStringProperty: "hi"}
	s, encErr := encode(err)
	require.NoError(t, encErr)

	got, decErr := decode(&s)
	require.NoError(t, decErr)

	ce, ok := got.(*CachedError)
	require.True(t, ok)
	assert.Equal(t, "boom", ce.Message)
	assert.Equal(t, "MyError", ce.Props["name"])
	assert.Equal(t, true, ce.Props["retryable"])
	assert.Equal(t, "hi", ce.Props["myStringProperty"])
}

func TestCodec_EncodeAbsentFails(t *testing.T) {
	_, err := encode(Absent)
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestCodec_DecodeNilSignalsAbsence(t *testing.T) {
	v, err := decode(nil)
	require.NoError(t, err)
	assert.True(t, IsAbsent(v))
}

func TestCodec_SentinelsDoNotCollideWithPlainStrings(t *testing.T) {
	// A plain string that happens to look like a number still round-trips
	// as a number (documented numeric-sniffing behavior for unprefixed
	// strings); genuinely non-numeric strings are unaffected.
	got := roundTrip(t, "not-a-number-at-all")
	assert.Equal(t, "not-a-number-at-all", got)
}

func TestCodec_GenericErrorWithoutExportedFields(t *testing.T) {
	err := errors.New("plain")
	s, encErr := encode(err)
	require.NoError(t, encErr)
	got, decErr := decode(&s)
	require.NoError(t, decErr)
	ce, ok := got.(*CachedError)
	require.True(t, ok)
	assert.Equal(t, "plain", ce.Message)
	assert.Empty(t, ce.Props)
}
