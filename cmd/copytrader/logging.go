package main

import (
	"log"

	"uni-gocopy/internal/jsonl"
)

type auditEvent struct {
	TsMs  int64  `json:"ts_ms"`
	Event string `json:"event"`

	Leaders     []string `json:"leaders,omitempty"`
	Mode        string   `json:"mode,omitempty"`
	CopyBps     int64    `json:"copy_bps,omitempty"`
	SlippageBps int64    `json:"slippage_bps,omitempty"`

	// Replication attempt reference.
	Leader    string `json:"leader,omitempty"`
	SourceTx  string `json:"source_tx,omitempty"`
	Follower  string `json:"follower,omitempty"`
	Wallet    string `json:"wallet,omitempty"`
	ReplicaTx string `json:"replica_tx,omitempty"`

	Ok  bool   `json:"ok,omitempty"`
	Err string `json:"err,omitempty"`

	Block    uint64 `json:"block,omitempty"`
	UptimeMs int64  `json:"uptime_ms,omitempty"`
}

func logAuditEvent(w *jsonl.Writer, ev auditEvent) {
	if w == nil {
		return
	}
	if err := w.Write(ev); err != nil {
		log.Printf("[warn] audit log write failed: %v", err)
	}
}
