package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Checkpoint records where block processing left off so a restart resumes
// without replaying the whole chain. It is advisory: losing it costs a
// bounded catch-up, never correctness, because submissions are deduplicated
// downstream.
type Checkpoint struct {
	ChainID       int64  `json:"chain_id"`
	RouterAddress string `json:"router_address"`

	LastProcessedBlock uint64 `json:"last_processed_block"`
}

// CompatibleWith reports whether the checkpoint was written for the same
// chain and router. A mismatch means the operator repointed the process and
// the stored position is meaningless.
func (c Checkpoint) CompatibleWith(chainID int64, router string) bool {
	return c.ChainID == chainID && c.RouterAddress == router
}

// Load reads a checkpoint. A missing file is a clean first start, not an
// error; the second return reports whether one was found.
func Load(path string) (Checkpoint, bool, error) {
	if path == "" {
		return Checkpoint{}, false, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}

	var ckpt Checkpoint
	if err := json.Unmarshal(b, &ckpt); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return ckpt, true, nil
}

// Save writes the checkpoint atomically (temp file plus rename) so a crash
// mid-write never leaves a torn file.
func Save(path string, ckpt Checkpoint) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(ckpt, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
