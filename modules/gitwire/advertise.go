// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package gitwire is the upload-pack/receive-pack glue (C11, spec.md
// §4.11): bit-exact Smart HTTP ref advertisement, want/have negotiation,
// and the receive-pack command list plus per-ref status report. Shaped
// after other_examples/1ffa8406_omegaup-githttp__protocol.go.go's
// handleInfoRefs/handlePull/handlePush — the teacher's own pack format is
// not Git's, so this component has no teacher-repo precedent and is
// grounded on that retrieved Go Git-server implementation instead
// (DESIGN.md).
package gitwire

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/antgroup/zeta-edge/modules/plumbing"
	"github.com/antgroup/zeta-edge/modules/plumbing/format/pktline"
	"github.com/antgroup/zeta-edge/modules/refstore"
)

// UploadPackCapabilities and ReceivePackCapabilities mirror the
// omegaup-githttp example's capability sets, trimmed to what this spec
// actually implements (no shallow/thin-pack, since pack output never
// deltas per spec.md §6).
var (
	UploadPackCapabilities  = []string{"agent=zeta-edge", "ofs-delta"}
	ReceivePackCapabilities = []string{"agent=zeta-edge", "report-status"}
)

const zeroOidLine = plumbing.ZERO_OID

// AdvertiseRefs writes the packet-line framed ref advertisement for
// service (either "git-upload-pack" or "git-receive-pack"), per spec.md
// §6: "starting with `# service=…\n` then the ref list terminated by
// `0000`". HEAD is resolved and advertised first, with a
// `symref=HEAD:<target>` capability when it points at a branch, per
// spec.md §3's "kind ∈ {direct, symbolic} — rare, but required for HEAD".
func AdvertiseRefs(ctx context.Context, w io.Writer, service string, refs *refstore.Store, capabilities []string) error {
	e := pktline.NewEncoder(w)
	if err := e.Encodef("# service=%s\n", service); err != nil {
		return err
	}
	if err := e.Flush(); err != nil {
		return err
	}

	list, err := refs.List(ctx, "refs/")
	if err != nil {
		return fmt.Errorf("gitwire: advertise: list refs: %w", err)
	}

	headLine, headCap, err := headAdvertisement(ctx, refs)
	if err != nil {
		return fmt.Errorf("gitwire: advertise: resolve HEAD: %w", err)
	}
	if headCap != "" {
		capabilities = append(append([]string{}, capabilities...), headCap)
	}
	capLine := strings.Join(capabilities, " ")

	if headLine == "" && len(list) == 0 {
		if err := e.Encodef("%s capabilities^{}\x00%s\n", zeroOidLine, capLine); err != nil {
			return err
		}
		return e.Flush()
	}

	first := true
	if headLine != "" {
		if err := e.Encodef("%s\x00%s\n", headLine, capLine); err != nil {
			return err
		}
		first = false
	}
	for _, ref := range list {
		if first {
			if err := e.Encodef("%s %s\x00%s\n", ref.Hash, ref.Name, capLine); err != nil {
				return err
			}
			first = false
			continue
		}
		if err := e.Encodef("%s %s\n", ref.Hash, ref.Name); err != nil {
			return err
		}
	}
	return e.Flush()
}

// headAdvertisement resolves HEAD to its advertised line ("<sha> HEAD")
// and, if HEAD is a symbolic ref, the symref capability naming its target
// branch. Both are empty if HEAD is unset.
func headAdvertisement(ctx context.Context, refs *refstore.Store) (line string, symrefCap string, err error) {
	sha, ok, err := refs.Read(ctx, "HEAD")
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", nil
	}
	line = fmt.Sprintf("%s HEAD", sha)
	if target, isSymbolic, err := refs.ReadSymbolic(ctx, "HEAD"); err != nil {
		return "", "", err
	} else if isSymbolic {
		symrefCap = fmt.Sprintf("symref=HEAD:%s", target)
	}
	return line, symrefCap, nil
}
