package integrity

import (
	"strings"
	"testing"
	"time"

	"github.com/kairo-hq/kairo/internal/model"
)

func ptr(s string) *string { return &s }

func sampleRecord() model.DecisionRecord {
	return model.DecisionRecord{
		ID:         "11111111-1111-1111-1111-111111111111",
		Timestamp:  time.Date(2026, 1, 15, 10, 30, 0, 123456789, time.UTC),
		ActionType: model.ActionPlaybookRecommendation,
		Actor:      model.ActorSystem,
		PlaybookID: ptr("pb-restart"),
		Confidence: 0.85,
		Outcome:    model.OutcomePending,
		Context:    map[string]any{"module": "payments", "mode": "auto"},
	}
}

func TestRecordHash_Deterministic(t *testing.T) {
	h1 := RecordHash(sampleRecord())
	h2 := RecordHash(sampleRecord())

	if h1 != h2 {
		t.Fatalf("hash not deterministic: %q != %q", h1, h2)
	}
	if !strings.HasPrefix(h1, "v1:") || len(h1) != 3+64 {
		t.Fatalf("expected v1-prefixed 64-char hex SHA-256, got %q", h1)
	}
}

func TestRecordHash_MicrosecondPrecision(t *testing.T) {
	rec := sampleRecord()
	truncated := rec
	truncated.Timestamp = rec.Timestamp.Truncate(time.Microsecond)

	if RecordHash(rec) != RecordHash(truncated) {
		t.Fatal("sub-microsecond digits must not change the hash")
	}
}

func TestRecordHash_NilVersusEmpty(t *testing.T) {
	rec := sampleRecord()
	withEmpty := rec
	withEmpty.Impact = ptr("")

	if RecordHash(rec) == RecordHash(withEmpty) {
		t.Fatal("a missing impact and an empty impact must hash differently")
	}
}

func TestRecordHash_DifferentInputs(t *testing.T) {
	base := RecordHash(sampleRecord())
	mutations := map[string]func(*model.DecisionRecord){
		"outcome":    func(r *model.DecisionRecord) { r.Outcome = model.OutcomeExecuted },
		"confidence": func(r *model.DecisionRecord) { r.Confidence = 0.86 },
		"context":    func(r *model.DecisionRecord) { r.Context["mode"] = "manual" },
		"parent":     func(r *model.DecisionRecord) { r.ParentID = ptr("dec-0") },
		"actor":      func(r *model.DecisionRecord) { r.Actor = "oncall" },
	}
	for name, mutate := range mutations {
		rec := sampleRecord()
		mutate(&rec)
		if RecordHash(rec) == base {
			t.Fatalf("changing %s should change the hash", name)
		}
	}
}

func TestVerifyRecord(t *testing.T) {
	rec := sampleRecord()
	hash := RecordHash(rec)

	if !VerifyRecord(hash, rec) {
		t.Fatal("verification should succeed for an unchanged record")
	}

	rec.Outcome = model.OutcomeRejected
	if VerifyRecord(hash, rec) {
		t.Fatal("verification should fail for a modified record")
	}

	if VerifyRecord("tampered_hash", sampleRecord()) {
		t.Fatal("verification should fail for a tampered hash")
	}
}

func TestDigest(t *testing.T) {
	if Digest(nil) != "" {
		t.Fatal("an empty window has an empty digest")
	}

	a := sampleRecord()
	b := sampleRecord()
	b.ID = "22222222-2222-2222-2222-222222222222"

	if Digest([]model.DecisionRecord{a}) != RecordHash(a) {
		t.Fatal("a single record's digest is its own hash")
	}
	if Digest([]model.DecisionRecord{a, b}) == Digest([]model.DecisionRecord{b, a}) {
		t.Fatal("digest must bind record order")
	}
}

func TestBuildMerkleRoot_Empty(t *testing.T) {
	root := BuildMerkleRoot(nil)
	if root != "" {
		t.Fatalf("empty input should produce empty root, got %q", root)
	}
}

func TestBuildMerkleRoot_SingleLeaf(t *testing.T) {
	leaf := "abc123"
	root := BuildMerkleRoot([]string{leaf})
	if root != leaf {
		t.Fatalf("single leaf should be the root: got %q, want %q", root, leaf)
	}
}

func TestBuildMerkleRoot_OddLeafCount(t *testing.T) {
	root := BuildMerkleRoot([]string{"x", "y", "z"})
	if len(root) != 64 {
		t.Fatalf("expected 64-char hex SHA-256 root, got %d chars", len(root))
	}
	if root == BuildMerkleRoot([]string{"x", "y"}) {
		t.Fatal("the odd leaf must contribute to the root")
	}
}
