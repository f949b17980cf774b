package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	recordFormatVersionCurrent = 2
	recordFormatVersionV1      = 1

	flagAgreementAccepted byte = 1 << 0
)

// CurrentSchemaVersion is the record format written by [Encode].
const CurrentSchemaVersion = recordFormatVersionCurrent

// Encode serializes a record. v2 layout:
//
//	version | len(userID) userID | len(role) role | flags | issuedAt | tokenExpiry | lastActiveAt
func Encode(r *Record) ([]byte, error) {
	if r == nil {
		return nil, errors.New("nil record")
	}
	var buf bytes.Buffer

	buf.WriteByte(recordFormatVersionCurrent)

	if len(r.UserID) == 0 {
		return nil, errors.New("userID required")
	}
	if len(r.UserID) > 255 {
		return nil, errors.New("userID too long")
	}
	buf.WriteByte(byte(len(r.UserID)))
	buf.WriteString(r.UserID)

	if len(r.Role) > 255 {
		return nil, errors.New("role too long")
	}
	buf.WriteByte(byte(len(r.Role)))
	buf.WriteString(r.Role)

	var flags byte
	if r.AgreementAccepted {
		flags |= flagAgreementAccepted
	}
	buf.WriteByte(flags)

	for _, v := range []int64{r.IssuedAt, r.TokenExpiry, r.LastActiveAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a record written by [Encode]. v1 records (written before
// issuedAt was tracked) are migrated on read with IssuedAt = 0.
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatVersionCurrent && version != recordFormatVersionV1 {
		return nil, fmt.Errorf("unsupported session schema version %d", version)
	}

	r := &Record{}

	userID, err := readShortString(reader)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, errors.New("empty userID")
	}
	r.UserID = userID

	if r.Role, err = readShortString(reader); err != nil {
		return nil, err
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	r.AgreementAccepted = flags&flagAgreementAccepted != 0

	if version == recordFormatVersionCurrent {
		if err := binary.Read(reader, binary.BigEndian, &r.IssuedAt); err != nil {
			return nil, err
		}
	}
	if err := binary.Read(reader, binary.BigEndian, &r.TokenExpiry); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.LastActiveAt); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in session record")
	}

	return r, nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
