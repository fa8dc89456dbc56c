// Copyright 2018 Sourced Technologies, S.L.
// SPDX-License-Identifier: Apache-2.0

package pktline

import (
	"bufio"
	"fmt"
	"io"
)

// Encoder writes pkt-line-framed output. A zero Encoder is not usable;
// construct one with NewEncoder.
type Encoder struct {
	w *bufio.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes one pkt-line framing the given payload.
func (e *Encoder) Encode(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ErrPayloadTooLong
	}
	if _, err := e.w.WriteString(asciiHex16(len(payload) + lenSize)); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := e.w.Write(payload)
	return err
}

// Encodef formats a string and encodes it as one pkt-line.
func (e *Encoder) Encodef(format string, a ...any) error {
	return e.Encode([]byte(fmt.Sprintf(format, a...)))
}

// EncodeString encodes s as one pkt-line.
func (e *Encoder) EncodeString(s string) error {
	return e.Encode([]byte(s))
}

// Flush writes the special flush-pkt ("0000").
func (e *Encoder) Flush() error {
	if _, err := e.w.Write(FlushPkt); err != nil {
		return err
	}
	return e.w.Flush()
}

// Close flushes any buffered bytes without writing a flush-pkt.
func (e *Encoder) Close() error {
	return e.w.Flush()
}
