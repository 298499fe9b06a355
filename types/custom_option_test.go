package types

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDictionaryItems(t *testing.T) {
	require.Equal(
		t,
		DictionaryItems{
			{Key: "movflags", Value: "+faststart"},
			{Key: "flag", Value: ""},
			{Key: "a", Value: "b=c"},
		},
		ParseDictionaryItems([]string{"movflags=+faststart", "", "flag", "a=b=c"}),
	)
	require.Nil(t, ParseDictionaryItems(nil))
}

func TestErrorKindsUnwrap(t *testing.T) {
	ioErr := ErrIO{Component: "reader", Err: io.ErrUnexpectedEOF}
	require.ErrorIs(t, ioErr, io.ErrUnexpectedEOF)
	require.Contains(t, ioErr.Error(), "reader")

	var protoErr ErrProtocol
	wrapped := errors.Join(errors.New("other"), ErrProtocol{Component: "demuxer"})
	require.True(t, errors.As(wrapped, &protoErr))
	require.Equal(t, "demuxer", protoErr.Component)
}
