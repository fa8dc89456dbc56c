// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
//
// Signature encode/decode adapted from modules/zeta/object/commit.go, itself
// derived from go-git (Copyright 2018 Sourced Technologies, S.L.,
// SPDX-License-Identifier: Apache-2.0).

package object

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/antgroup/zeta-edge/modules/plumbing"
)

// DateFormat is git's "commit --pretty" date rendering.
const DateFormat = "Mon Jan 02 15:04:05 2006 -0700"

// Signature is an author/committer/tagger identity line: "Name <email> <sec> <±HHMM>".
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

const timeZoneLength = 5

func (s *Signature) decodeTimeAndTimeZone(b []byte) {
	space := bytes.IndexByte(b, ' ')
	if space == -1 {
		space = len(b)
	}

	ts, err := strconv.ParseInt(string(b[:space]), 10, 64)
	if err != nil {
		return
	}

	s.When = time.Unix(ts, 0).In(time.UTC)
	tzStart := space + 1
	if tzStart >= len(b) || tzStart+timeZoneLength > len(b) {
		return
	}

	timezone := string(b[tzStart : tzStart+timeZoneLength])
	tzhours, err1 := strconv.ParseInt(timezone[0:3], 10, 64)
	tzmins, err2 := strconv.ParseInt(timezone[3:], 10, 64)
	if err1 != nil || err2 != nil {
		return
	}
	if tzhours < 0 {
		tzmins *= -1
	}

	s.When = s.When.In(time.FixedZone("", int(tzhours*60*60+tzmins*60)))
}

// Decode parses "Name <email> <sec> <±HHMM>", falling back to the zero time
// when the trailing timestamp is absent (spec.md §4.2).
func (s *Signature) Decode(b []byte) {
	open := bytes.LastIndexByte(b, '<')
	close := bytes.LastIndexByte(b, '>')
	if open == -1 || close == -1 || close < open {
		return
	}

	s.Name = string(bytes.Trim(b[:open], " "))
	s.Email = string(b[open+1 : close])

	if close+2 < len(b) {
		s.decodeTimeAndTimeZone(b[close+2:])
	}
}

const formatTimeZoneOnly = "-0700"

func (s *Signature) String() string {
	at := s.When.Unix()
	zone := s.When.Format(formatTimeZoneOnly)
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, at, zone)
}

// ExtraHeader preserves an unrecognized commit header byte-for-byte.
type ExtraHeader struct {
	K string
	V string
}

// Commit is the canonical Git commit object.
type Commit struct {
	Hash         plumbing.Hash
	Author       Signature
	Committer    Signature
	Parents      []plumbing.Hash
	Tree         plumbing.Hash
	ExtraHeaders []*ExtraHeader
	Message      string
	b            Backend
}

func (c *Commit) Encode(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "tree %s\n", c.Tree.String()); err != nil {
		return err
	}
	for _, parent := range c.Parents {
		if _, err := fmt.Fprintf(w, "parent %s\n", parent.String()); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "author %s\ncommitter %s\n", c.Author.String(), c.Committer.String()); err != nil {
		return err
	}
	for _, hdr := range c.ExtraHeaders {
		if _, err := fmt.Fprintf(w, "%s %s\n", hdr.K, strings.ReplaceAll(hdr.V, "\n", "\n ")); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\n%s", c.Message)
	return err
}

// DecodeCommit parses a commit body.
func DecodeCommit(oid plumbing.Hash, r io.Reader) (*Commit, error) {
	c := &Commit{Hash: oid}
	br := bufio.NewReader(r)

	var message strings.Builder
	var finishedHeaders bool
	for {
		line, readErr := br.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return nil, readErr
		}
		text := strings.TrimSuffix(line, "\n")
		if len(text) == 0 && !finishedHeaders {
			finishedHeaders = true
			if readErr == io.EOF {
				break
			}
			continue
		}
		if !finishedHeaders {
			fields := strings.SplitN(text, " ", 2)
			switch {
			case strings.HasPrefix(text, " ") && len(c.ExtraHeaders) != 0:
				idx := len(c.ExtraHeaders) - 1
				hdr := c.ExtraHeaders[idx]
				hdr.V = strings.Join([]string{hdr.V, text[1:]}, "\n")
			case len(fields) < 2:
				// malformed header line; ignore
			case fields[0] == "tree":
				c.Tree = plumbing.NewHash(fields[1])
			case fields[0] == "parent":
				c.Parents = append(c.Parents, plumbing.NewHash(fields[1]))
			case fields[0] == "author":
				c.Author.Decode([]byte(fields[1]))
			case fields[0] == "committer":
				c.Committer.Decode([]byte(fields[1]))
			default:
				c.ExtraHeaders = append(c.ExtraHeaders, &ExtraHeader{K: fields[0], V: fields[1]})
			}
		} else {
			_, _ = message.WriteString(line)
		}
		if readErr == io.EOF {
			break
		}
	}
	c.Message = message.String()
	return c, nil
}

// Less orders commits by committer time, then author time, then hash —
// used to give a deterministic order when walking concurrent tips.
func (c *Commit) Less(rhs *Commit) bool {
	return c.Committer.When.Before(rhs.Committer.When) ||
		(c.Committer.When.Equal(rhs.Committer.When) &&
			(c.Author.When.Before(rhs.Author.When) ||
				(c.Author.When.Equal(rhs.Author.When) && bytes.Compare(c.Hash[:], rhs.Hash[:]) < 0)))
}

func (c *Commit) SetBackend(b Backend) { c.b = b }
