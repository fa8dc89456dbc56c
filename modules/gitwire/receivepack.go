// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package gitwire

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/antgroup/zeta-edge/modules/object"
	"github.com/antgroup/zeta-edge/modules/pack"
	"github.com/antgroup/zeta-edge/modules/plumbing"
	"github.com/antgroup/zeta-edge/modules/plumbing/format/pktline"
	"github.com/antgroup/zeta-edge/modules/pushtxn"
	"github.com/antgroup/zeta-edge/modules/refstore"
)

// receiveCommand is one parsed `<old> <new> <ref>` line.
type receiveCommand struct {
	Old, New plumbing.Hash
	Ref      plumbing.ReferenceName
}

// ReceivePack parses the command list and packfile from r, buffers every
// object into txn, and executes the batch of ref updates, streaming a
// per-ref status report to w (spec.md §4.11).
func ReceivePack(ctx context.Context, r io.Reader, w io.Writer, txn *pushtxn.Txn, resolver pack.BaseResolver) error {
	br := bufio.NewReader(r)
	commands, err := parseReceivePackCommands(br)
	if err != nil {
		return err
	}

	reportStatus := true
	packData, err := io.ReadAll(br)
	if err != nil {
		return fmt.Errorf("gitwire: read packfile: %w", err)
	}

	e := pktline.NewEncoder(w)
	if len(packData) > 0 {
		objs, err := pack.Unpack(packData, resolver)
		if err != nil {
			if reportStatus {
				_ = e.Encodef("unpack %s\n", err.Error())
				_ = e.Flush()
			}
			return err
		}
		for _, o := range objs {
			if err := txn.Buffer(ctx, o.Hash, object.ObjectType(o.Type).String(), o.Body); err != nil {
				if reportStatus {
					_ = e.Encodef("unpack %s\n", err.Error())
					_ = e.Flush()
				}
				return err
			}
		}
	}

	txnCommands := make([]pushtxn.Command, len(commands))
	for i, c := range commands {
		txnCommands[i] = pushtxn.Command{Ref: c.Ref, Old: c.Old, New: c.New}
	}

	results, err := txn.Execute(ctx, txnCommands)
	if err != nil {
		return fmt.Errorf("gitwire: execute push transaction: %w", err)
	}
	if err := ensureHead(ctx, txn.Refs(), txnCommands, results); err != nil {
		return fmt.Errorf("gitwire: seed HEAD: %w", err)
	}

	if !reportStatus {
		return nil
	}
	if err := e.EncodeString("unpack ok\n"); err != nil {
		return err
	}
	for _, res := range results {
		if res.OK {
			if err := e.Encodef("ok %s\n", res.Ref); err != nil {
				return err
			}
			continue
		}
		if err := e.Encodef("ng %s %s\n", res.Ref, res.Reason); err != nil {
			return err
		}
	}
	return e.Flush()
}

// ensureHead points HEAD at the first branch this push newly created, if
// the repo has no HEAD yet (spec.md §3: HEAD is "rare, but required").
// Later pushes never move an existing HEAD.
func ensureHead(ctx context.Context, refs *refstore.Store, commands []pushtxn.Command, results []pushtxn.Result) error {
	if _, ok, err := refs.Read(ctx, "HEAD"); err != nil {
		return err
	} else if ok {
		return nil
	}
	for i, res := range results {
		if !res.OK || !commands[i].Old.IsZero() {
			continue
		}
		if strings.HasPrefix(string(commands[i].Ref), "refs/heads/") {
			return refs.WriteSymbolic(ctx, "HEAD", commands[i].Ref)
		}
	}
	return nil
}

func parseReceivePackCommands(r *bufio.Reader) ([]receiveCommand, error) {
	scanner := pktline.NewScanner(r)
	var commands []receiveCommand
	first := true
	for scanner.Scan() {
		if scanner.Flushed() {
			break
		}
		line := strings.TrimRight(string(scanner.Bytes()), "\n")
		if first {
			if i := strings.IndexByte(line, 0); i != -1 {
				line = line[:i]
			}
			first = false
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("gitwire: malformed receive-pack command %q", line)
		}
		commands = append(commands, receiveCommand{
			Old: plumbing.NewHash(fields[0]),
			New: plumbing.NewHash(fields[1]),
			Ref: plumbing.ReferenceName(fields[2]),
		})
	}
	return commands, scanner.Err()
}
