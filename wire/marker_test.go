package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("hello escrow")
	data, err := Encode(TypePosting, payload)
	require.NoError(t, err)

	typ, got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypePosting, typ)
	assert.True(t, bytes.Equal(payload, got))
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(TypePosting, make([]byte, maxPayload+1))
	require.Error(t, err)

	_, err = Encode(TypePosting, make([]byte, maxPayload))
	require.NoError(t, err)
}

func TestDecodeRejectsWrongMarker(t *testing.T) {
	data := append([]byte("XXXX"), 0x01, 0x01)
	_, _, err := Decode(data)
	require.Error(t, err)
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	data, err := Encode(TypePosting, []byte("x"))
	require.NoError(t, err)
	data[4] = 0x02 // corrupt version byte
	_, _, err = Decode(data)
	require.Error(t, err)
}

func TestDecodeRejectsUnrecognizedType(t *testing.T) {
	data, err := Encode(TypePosting, []byte("x"))
	require.NoError(t, err)
	data[5] = 0xFF
	_, _, err = Decode(data)
	require.Error(t, err)
}

func TestPostingPayloadRoundTrip(t *testing.T) {
	p := PostingPayload{JobID: [32]byte{1, 2, 3}, AmountSats: 123_456}
	data, err := EncodePosting(p)
	require.NoError(t, err)

	got, err := DecodePosting(data)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestApplicationPayloadRoundTrip(t *testing.T) {
	p := ApplicationPayload{JobID: [32]byte{4, 5, 6}, MessageHash: [32]byte{7, 8, 9}}
	data, err := EncodeApplication(p)
	require.NoError(t, err)

	got, err := DecodeApplication(data)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestDecodePostingRejectsApplicationMarker(t *testing.T) {
	p := ApplicationPayload{JobID: [32]byte{1}, MessageHash: [32]byte{2}}
	data, err := EncodeApplication(p)
	require.NoError(t, err)

	_, err = DecodePosting(data)
	require.Error(t, err)
}
