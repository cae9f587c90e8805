// Package wire encodes and decodes the OP_RETURN markers the core posts to
// announce job postings and applications on-chain (spec §6 Wire markers):
// a 4-byte protocol tag, a version byte, a type byte, and a payload, all
// within Bitcoin's 80-byte standard OP_RETURN limit.
package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/middleman-protocol/mmp-core/kerrors"
)

// marker is the protocol tag every MMP OP_RETURN output starts with.
var marker = [4]byte{'M', 'M', 'P', 'J'}

// MarkerType distinguishes the two OP_RETURN payload kinds spec §6 names.
type MarkerType byte

const (
	TypePosting     MarkerType = 0x01
	TypeApplication MarkerType = 0x02
)

const version byte = 0x01

// maxPayload is the space left for the payload after the 4-byte marker,
// 1-byte version, and 1-byte type, within an 80-byte OP_RETURN limit.
const maxPayload = 80 - len(marker) - 1 - 1

// Encode builds the full OP_RETURN data push for a marker of the given
// type and payload.
func Encode(t MarkerType, payload []byte) ([]byte, error) {
	if len(payload) > maxPayload {
		return nil, kerrors.Newf(kerrors.TooLarge, "payload %d bytes exceeds max %d", len(payload), maxPayload)
	}
	buf := make([]byte, 0, len(marker)+2+len(payload))
	buf = append(buf, marker[:]...)
	buf = append(buf, version, byte(t))
	buf = append(buf, payload...)
	return buf, nil
}

// Decode parses an OP_RETURN data push back into its type and payload,
// rejecting anything that doesn't carry the MMP marker and a recognized
// version.
func Decode(data []byte) (MarkerType, []byte, error) {
	if len(data) < len(marker)+2 {
		return 0, nil, kerrors.New(kerrors.InvalidMetadata, "marker data too short")
	}
	if !bytes.Equal(data[:len(marker)], marker[:]) {
		return 0, nil, kerrors.New(kerrors.InvalidMetadata, "not an MMP marker")
	}
	if data[len(marker)] != version {
		return 0, nil, kerrors.New(kerrors.InvalidMetadata, "unsupported marker version")
	}
	t := MarkerType(data[len(marker)+1])
	if t != TypePosting && t != TypeApplication {
		return 0, nil, kerrors.New(kerrors.InvalidMetadata, "unrecognized marker type")
	}
	payload := data[len(marker)+2:]
	if len(payload) > maxPayload {
		return 0, nil, kerrors.New(kerrors.TooLarge, "marker payload exceeds policy limit")
	}
	return t, payload, nil
}

// PostingPayload is the fixed-layout payload for a job-posting marker: the
// job_id hash and the amount in satoshis, the minimal data a crawler needs
// to locate and size a posting without parsing the full transaction graph.
type PostingPayload struct {
	JobID      [32]byte
	AmountSats uint64
}

// EncodePosting serializes a PostingPayload. 32 + 8 = 40 bytes, comfortably
// inside the maxPayload budget.
func EncodePosting(p PostingPayload) ([]byte, error) {
	buf := make([]byte, 40)
	copy(buf[:32], p.JobID[:])
	binary.BigEndian.PutUint64(buf[32:], p.AmountSats)
	return Encode(TypePosting, buf)
}

// DecodePosting parses a posting marker payload.
func DecodePosting(data []byte) (PostingPayload, error) {
	t, payload, err := Decode(data)
	if err != nil {
		return PostingPayload{}, err
	}
	if t != TypePosting {
		return PostingPayload{}, kerrors.New(kerrors.InvalidMetadata, "marker is not a posting")
	}
	if len(payload) != 40 {
		return PostingPayload{}, kerrors.New(kerrors.InvalidMetadata, "posting payload has wrong length")
	}
	var out PostingPayload
	copy(out.JobID[:], payload[:32])
	out.AmountSats = binary.BigEndian.Uint64(payload[32:])
	return out, nil
}

// ApplicationPayload is the fixed-layout payload for a worker-application
// marker: the job it targets and a hash of the worker's off-chain
// application message (the message itself travels off-chain per spec §1).
type ApplicationPayload struct {
	JobID       [32]byte
	MessageHash [32]byte
}

// EncodeApplication serializes an ApplicationPayload: 64 bytes, within the
// maxPayload budget.
func EncodeApplication(p ApplicationPayload) ([]byte, error) {
	buf := make([]byte, 64)
	copy(buf[:32], p.JobID[:])
	copy(buf[32:], p.MessageHash[:])
	return Encode(TypeApplication, buf)
}

// DecodeApplication parses an application marker payload.
func DecodeApplication(data []byte) (ApplicationPayload, error) {
	t, payload, err := Decode(data)
	if err != nil {
		return ApplicationPayload{}, err
	}
	if t != TypeApplication {
		return ApplicationPayload{}, kerrors.New(kerrors.InvalidMetadata, "marker is not an application")
	}
	if len(payload) != 64 {
		return ApplicationPayload{}, kerrors.New(kerrors.InvalidMetadata, "application payload has wrong length")
	}
	var out ApplicationPayload
	copy(out.JobID[:], payload[:32])
	copy(out.MessageHash[:], payload[32:])
	return out, nil
}
