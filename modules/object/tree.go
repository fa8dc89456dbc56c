// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/antgroup/zeta-edge/modules/plumbing"
)

// FileMode mirrors Git's octal tree-entry modes.
type FileMode uint32

const (
	FileModeRegular    FileMode = 0o100644
	FileModeExecutable FileMode = 0o100755
	FileModeSymlink    FileMode = 0o120000
	FileModeDir        FileMode = 0o040000
	FileModeSubmodule  FileMode = 0o160000
)

func (m FileMode) IsDir() bool { return m == FileModeDir }

// TreeEntry is one "<mode> <name>\0<sha20>" record inside a tree body.
type TreeEntry struct {
	Name string
	Mode FileMode
	Hash plumbing.Hash
}

// Tree is an ordered set of TreeEntry, Git's directory object.
type Tree struct {
	Hash    plumbing.Hash
	Entries []*TreeEntry
	b       Backend
}

func NewTree(entries []*TreeEntry) *Tree {
	return &Tree{Entries: entries}
}

// subtreeName returns the collation key for an entry: directory names sort
// as though suffixed with '/' so that "foo" (blob) sorts before "foo/bar"
// (through directory "foo/"), matching upstream Git's tree ordering rule
// (spec.md §3).
func subtreeName(e *TreeEntry) string {
	if e.Mode.IsDir() {
		return e.Name + "/"
	}
	return e.Name
}

type treeOrder []*TreeEntry

func (s treeOrder) Len() int           { return len(s) }
func (s treeOrder) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s treeOrder) Less(i, j int) bool { return subtreeName(s[i]) < subtreeName(s[j]) }

// sortedEntries returns a copy of entries in canonical tree order.
func sortedEntries(entries []*TreeEntry) []*TreeEntry {
	out := make([]*TreeEntry, len(entries))
	copy(out, entries)
	sort.Sort(treeOrder(out))
	return out
}

func (t *Tree) Encode(w io.Writer) error {
	for _, e := range sortedEntries(t.Entries) {
		if _, err := fmt.Fprintf(w, "%o %s", uint32(e.Mode), e.Name); err != nil {
			return err
		}
		if _, err := w.Write([]byte{0x00}); err != nil {
			return err
		}
		if _, err := w.Write(e.Hash[:]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeTree parses a tree body: repeated "<mode> <name>\0<sha20>" records.
func DecodeTree(oid plumbing.Hash, r io.Reader) (*Tree, error) {
	br := bufio.NewReader(r)
	t := &Tree{Hash: oid}
	for {
		modeStr, err := br.ReadString(' ')
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		mode, err := strconv.ParseUint(modeStr[:len(modeStr)-1], 8, 32)
		if err != nil {
			return nil, fmt.Errorf("object: bad tree entry mode %q: %w", modeStr, err)
		}
		name, err := br.ReadString(0)
		if err != nil {
			return nil, fmt.Errorf("object: truncated tree entry name: %w", err)
		}
		var hash plumbing.Hash
		if _, err := io.ReadFull(br, hash[:]); err != nil {
			return nil, fmt.Errorf("object: truncated tree entry hash: %w", err)
		}
		t.Entries = append(t.Entries, &TreeEntry{
			Name: name[:len(name)-1],
			Mode: FileMode(mode),
			Hash: hash,
		})
	}
	return t, nil
}

// Entry looks up an immediate child by name.
func (t *Tree) Entry(name string) (*TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}
