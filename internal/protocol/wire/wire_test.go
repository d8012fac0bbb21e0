package wire

import (
	"testing"

	"github.com/danmuck/x32emu/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestAppendStringPadding(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, []byte{'h', 'e', 'l', 'l', 'o', 0, 0, 0}, AppendString(nil, "hello"))

	// A string whose length is already a multiple of 4 still gets a full NUL word.
	got := AppendString(nil, "/abc")
	require.Len(t, got, 8)
	require.Zero(t, got[4])
}

func TestReadStringRoundTrip(t *testing.T) {
	testlog.Start(t)
	for _, s := range []string{"", "a", "ab", "abc", "abcd", "/ch/01/mix/fader"} {
		buf := AppendString(nil, s)
		require.Zero(t, len(buf)%Align, s)
		require.Equal(t, StringLen(s), len(buf), s)
		raw, next, err := ReadString(buf, 0)
		require.NoError(t, err, s)
		require.Equal(t, s, string(raw))
		require.Equal(t, len(buf), next)
	}
}

func TestReadStringErrors(t *testing.T) {
	testlog.Start(t)
	_, _, err := ReadString([]byte("abcd"), 0)
	require.ErrorIs(t, err, ErrMissingTerminator)
	_, _, err = ReadString([]byte{'a', 0}, 0)
	require.ErrorIs(t, err, ErrBadPadding, "short padding")
	_, _, err = ReadString([]byte{'a', 0, 'x', 0}, 0)
	require.ErrorIs(t, err, ErrBadPadding, "dirty padding")
}

func TestBlobRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := []byte{1, 2, 3, 4, 5}
	buf := AppendBlob(nil, in)
	require.Len(t, buf, 12)
	require.Equal(t, BlobLen(in), len(buf))
	out, next, err := ReadBlob(buf, 0)
	require.NoError(t, err)
	require.Equal(t, in, out)
	require.Equal(t, len(buf), next)
}

func TestReadBlobErrors(t *testing.T) {
	testlog.Start(t)
	_, _, err := ReadBlob([]byte{0, 0}, 0)
	require.ErrorIs(t, err, ErrShortWord)
	_, _, err = ReadBlob([]byte{0, 0, 0, 8, 1, 2}, 0)
	require.ErrorIs(t, err, ErrShortBlob)
	_, _, err = ReadBlob([]byte{0xff, 0xff, 0xff, 0xff}, 0)
	require.ErrorIs(t, err, ErrNegativeLength)
}
