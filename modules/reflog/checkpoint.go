// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package reflog

import (
	"encoding/json"

	"github.com/antgroup/zeta-edge/modules/plumbing"
)

// checkpointEntry is one ref of a State flattened to a JSON record, with
// the hash stored as hex text.
type checkpointEntry struct {
	Name    string `json:"name"`
	Hash    string `json:"hash"`
	Version int64  `json:"version"`
}

func encodeState(s State) []byte {
	entries := make([]checkpointEntry, 0, len(s))
	for name, rs := range s {
		entries = append(entries, checkpointEntry{Name: string(name), Hash: rs.Hash.String(), Version: rs.Version})
	}
	blob, _ := json.Marshal(entries)
	return blob
}

func decodeState(blob []byte, into State) error {
	var entries []checkpointEntry
	if len(blob) == 0 {
		return nil
	}
	if err := json.Unmarshal(blob, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		into[plumbing.ReferenceName(e.Name)] = RefState{Hash: plumbing.NewHash(e.Hash), Version: e.Version}
	}
	return nil
}
