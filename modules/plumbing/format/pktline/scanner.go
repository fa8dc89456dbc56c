// Copyright 2018 Sourced Technologies, S.L.
// SPDX-License-Identifier: Apache-2.0

package pktline

import (
	"bufio"
	"errors"
	"io"
)

// ErrFlush is the state Scanner.Scan records when it reads a flush-pkt;
// callers detect it with Flushed, and Err never returns it.
var ErrFlush = errors.New("pktline: flush-pkt")

// Scanner reads a stream of pkt-line-framed records.
type Scanner struct {
	r       *bufio.Reader
	payload []byte
	err     error
}

func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReader(r)}
}

// Scan reads the next pkt-line. It returns false at EOF or on error; the
// flush-pkt is surfaced as a successful Scan whose Bytes() is nil and for
// which Flushed() reports true.
func (s *Scanner) Scan() bool {
	if errors.Is(s.err, ErrFlush) {
		s.err = nil // flush-pkt only terminates one section, not the stream
	}
	if s.err != nil {
		return false
	}
	var lenBuf [lenSize]byte
	if _, err := io.ReadFull(s.r, lenBuf[:]); err != nil {
		if err != io.EOF {
			s.err = err
		}
		return false
	}
	n, err := hexDecode(lenBuf)
	if err != nil {
		s.err = err
		return false
	}
	if n == 0 {
		s.payload = nil
		s.err = ErrFlush
		return true
	}
	if n < lenSize {
		s.err = ErrInvalidLength
		return false
	}
	payload := make([]byte, n-lenSize)
	if _, err := io.ReadFull(s.r, payload); err != nil {
		s.err = err
		return false
	}
	s.payload = payload
	return true
}

// Bytes returns the most recently scanned payload.
func (s *Scanner) Bytes() []byte { return s.payload }

// Flushed reports whether the most recent successful Scan was a flush-pkt.
func (s *Scanner) Flushed() bool { return errors.Is(s.err, ErrFlush) }

// Err returns the first non-flush error encountered, if any.
func (s *Scanner) Err() error {
	if errors.Is(s.err, ErrFlush) {
		return nil
	}
	return s.err
}
