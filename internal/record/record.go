// Package record defines the persisted paste record and its blob framing.
//
// A blob is a single line of JSON metadata terminated by '\n', followed by
// the raw content bytes. Only the first newline is significant, so content
// may contain any bytes.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is the metadata schema written by Encode.
const Version = 1

// ErrFormat is wrapped by every Decode failure.
var ErrFormat = errors.New("malformed paste record")

// Record is a paste's metadata and content.
type Record struct {
	Content   []byte
	CreatedAt time.Time
	ExpiresAt time.Time
	Onetime   bool
}

type meta struct {
	Version   int    `json:"v,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	ExpiresAt *int64 `json:"expires_at"`
	Onetime   bool   `json:"onetime"`
	Size      *int   `json:"size,omitempty"`
}

// Encode serializes r into a blob.
func Encode(r Record) ([]byte, error) {
	if r.ExpiresAt.IsZero() {
		return nil, errors.New("record has no expiry")
	}
	expires := r.ExpiresAt.Unix()
	size := len(r.Content)
	m := meta{
		Version:   Version,
		ExpiresAt: &expires,
		Onetime:   r.Onetime,
		Size:      &size,
	}
	if !r.CreatedAt.IsZero() {
		m.CreatedAt = r.CreatedAt.Unix()
	}
	head, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	out := make([]byte, 0, len(head)+1+len(r.Content))
	out = append(out, head...)
	out = append(out, '\n')
	out = append(out, r.Content...)
	return out, nil
}

// Decode parses a blob produced by Encode. On failure it returns the zero
// Record and an error wrapping ErrFormat.
func Decode(blob []byte) (Record, error) {
	nl := bytes.IndexByte(blob, '\n')
	if nl < 0 {
		return Record{}, fmt.Errorf("%w: missing metadata terminator", ErrFormat)
	}
	head, body := blob[:nl], blob[nl+1:]

	var m meta
	if err := json.Unmarshal(head, &m); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if m.Version > Version || m.Version < 0 {
		return Record{}, fmt.Errorf("%w: unsupported version %d", ErrFormat, m.Version)
	}
	if m.ExpiresAt == nil {
		return Record{}, fmt.Errorf("%w: missing expires_at", ErrFormat)
	}
	if m.Size != nil && *m.Size != len(body) {
		return Record{}, fmt.Errorf("%w: content is %d bytes, expected %d", ErrFormat, len(body), *m.Size)
	}

	r := Record{
		Content:   append([]byte(nil), body...),
		ExpiresAt: time.Unix(*m.ExpiresAt, 0).UTC(),
		Onetime:   m.Onetime,
	}
	if m.CreatedAt != 0 {
		r.CreatedAt = time.Unix(m.CreatedAt, 0).UTC()
	}
	return r, nil
}
