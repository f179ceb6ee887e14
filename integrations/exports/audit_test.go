package exports

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"basketpool/integrations/audit"
)

func sampleRecords() []audit.Record {
	return []audit.Record{{
		ID:         uuid.MustParse("1f0c3c9a-8a51-4c56-9a8e-2a4bd0f4a001"),
		Height:     12,
		Position:   0,
		Type:       "pool.deposited",
		Attributes: `{"shares":"300","amounts":"100,200"}`,
		CreatedAt:  time.Unix(1700, 0).UTC(),
	}}
}

func TestAuditCSV(t *testing.T) {
	data, checksum, err := AuditCSV(sampleRecords())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	sum := sha256.Sum256(data)
	if checksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("checksum mismatch")
	}
	output := string(data)
	if !strings.HasPrefix(output, "id,height,position,type,attributes,recorded_at\n") {
		t.Fatalf("missing header: %s", output)
	}
	if !strings.Contains(output, `"amounts=100,200;shares=300"`) {
		t.Fatalf("attributes not flattened: %s", output)
	}
}

func TestAuditJSONL(t *testing.T) {
	data, checksum, err := AuditJSONL(sampleRecords())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if len(data) == 0 || checksum == "" {
		t.Fatalf("expected data and checksum")
	}
	output := string(data)
	if !strings.Contains(output, `"height":12`) {
		t.Fatalf("unexpected payload: %s", output)
	}
	if !strings.Contains(output, `"shares":"300"`) {
		t.Fatalf("missing attributes: %s", output)
	}
}

func TestAuditRejectsCorruptAttributes(t *testing.T) {
	records := sampleRecords()
	records[0].Attributes = "{"
	if _, _, err := AuditJSONL(records); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestAuditParquet(t *testing.T) {
	data, checksum, err := Format("parquet", sampleRecords())
	if err != nil {
		t.Fatalf("parquet: %v", err)
	}
	if checksum == "" {
		t.Fatalf("expected checksum")
	}
	if !strings.HasPrefix(string(data), "PAR1") || !strings.HasSuffix(string(data), "PAR1") {
		t.Fatalf("missing parquet magic")
	}
}

func TestFormat(t *testing.T) {
	if _, _, err := Format("xml", nil); err == nil {
		t.Fatalf("expected unknown format error")
	}
	data, _, err := Format("CSV", nil)
	if err != nil || !strings.HasPrefix(string(data), "id,") {
		t.Fatalf("csv by name: %v %q", err, data)
	}
}
