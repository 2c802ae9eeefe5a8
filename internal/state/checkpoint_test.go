package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingIsCleanStart(t *testing.T) {
	ckpt, found, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if found {
		t.Fatalf("missing file must not report found, got %+v", ckpt)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckpt", "checkpoint.json")
	want := Checkpoint{
		ChainID:            17000,
		RouterAddress:      "0x7a250d5630b4cf539739df2c5dacb4c659f2488d",
		LastProcessedBlock: 123456,
	}

	if err := Save(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, found, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found {
		t.Fatalf("expected checkpoint to be found")
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}

	// No temp file may survive the atomic rename.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := Load(path); err == nil {
		t.Fatalf("corrupt checkpoint must error")
	}
}

func TestCompatibleWith(t *testing.T) {
	ckpt := Checkpoint{ChainID: 17000, RouterAddress: "0xabc"}
	if !ckpt.CompatibleWith(17000, "0xabc") {
		t.Fatalf("same chain and router must be compatible")
	}
	if ckpt.CompatibleWith(1, "0xabc") {
		t.Fatalf("different chain must be incompatible")
	}
	if ckpt.CompatibleWith(17000, "0xdef") {
		t.Fatalf("different router must be incompatible")
	}
}

func TestEmptyPathIsNoop(t *testing.T) {
	if err := Save("", Checkpoint{ChainID: 1}); err != nil {
		t.Fatalf("save with empty path: %v", err)
	}
	if _, found, err := Load(""); err != nil || found {
		t.Fatalf("load with empty path: found=%v err=%v", found, err)
	}
}
