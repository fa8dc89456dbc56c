// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/antgroup/zeta-edge/modules/plumbing"
)

// Tag is an annotated tag object: a named pointer to another object plus a
// tagger identity and message.
type Tag struct {
	Hash       plumbing.Hash
	Object     plumbing.Hash
	ObjectType ObjectType
	Name       string
	Tagger     Signature
	Content    string
}

// Extract splits the tag message from a trailing PGP/SSH signature block.
func (t *Tag) Extract() (message string, signature string) {
	if i := strings.Index(t.Content, "-----BEGIN"); i > 0 {
		return t.Content[:i], t.Content[i:]
	}
	return t.Content, ""
}

func (t *Tag) Encode(w io.Writer) error {
	headers := []string{
		fmt.Sprintf("object %s", t.Object),
		fmt.Sprintf("type %s", t.ObjectType),
		fmt.Sprintf("tag %s", t.Name),
		fmt.Sprintf("tagger %s", t.Tagger.String()),
	}
	_, err := fmt.Fprintf(w, "%s\n\n%s", strings.Join(headers, "\n"), t.Content)
	return err
}

// DecodeTag parses a tag body.
func DecodeTag(oid plumbing.Hash, r io.Reader) (*Tag, error) {
	t := &Tag{Hash: oid}
	br := bufio.NewReader(r)

	var finishedHeaders bool
	var message strings.Builder
	for {
		line, readErr := br.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return nil, readErr
		}
		if finishedHeaders {
			message.WriteString(line)
		} else {
			text := strings.TrimSuffix(line, "\n")
			if len(text) == 0 {
				finishedHeaders = true
				if readErr == io.EOF {
					break
				}
				continue
			}
			field, value, ok := strings.Cut(text, " ")
			if !ok {
				return nil, fmt.Errorf("object: invalid tag header: %s", text)
			}
			switch field {
			case "object":
				if !plumbing.ValidateHashHex(value) {
					return nil, fmt.Errorf("object: invalid tag object sha: %s", value)
				}
				t.Object = plumbing.NewHash(value)
			case "type":
				t.ObjectType = ObjectTypeFromString(value)
			case "tag":
				t.Name = value
			case "tagger":
				t.Tagger.Decode([]byte(value))
			default:
				return nil, fmt.Errorf("object: unknown tag header: %s", field)
			}
		}
		if readErr == io.EOF {
			break
		}
	}
	t.Content = message.String()
	return t, nil
}
