// Package integrity provides tamper-evident hashing and Merkle roots for the
// decision audit trail. All functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/kairo-hq/kairo/internal/model"
)

const hashPrefix = "v1:"

// RecordHash produces a versioned SHA-256 hex digest of a record's canonical
// fields. Timestamps are hashed at microsecond precision, the resolution both
// stores keep, so a record hashes the same before and after a round trip.
func RecordHash(rec model.DecisionRecord) string {
	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // record fields are bounded by model validation
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	optional := func(p *string) {
		if p == nil {
			writeField("\x00")
			return
		}
		writeField(*p)
	}

	writeField(rec.ID)
	writeField(rec.Timestamp.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano))
	writeField(rec.ActionType)
	writeField(rec.Actor)
	optional(rec.PlaybookID)
	writeField(strconv.FormatFloat(rec.Confidence, 'f', 10, 64))
	writeField(string(rec.Outcome))
	optional(rec.Impact)
	optional(rec.ParentID)
	// encoding/json sorts map keys, which makes the context encoding canonical.
	ctxJSON, err := json.Marshal(rec.Context)
	if err != nil {
		ctxJSON = nil
	}
	writeField(string(ctxJSON))
	return hashPrefix + hex.EncodeToString(h.Sum(nil))
}

// VerifyRecord reports whether stored matches the hash recomputed from rec.
func VerifyRecord(stored string, rec model.DecisionRecord) bool {
	return stored == RecordHash(rec)
}

// Digest returns the Merkle root over the record hashes of recs, taken in the
// order given. An empty slice yields "".
func Digest(recs []model.DecisionRecord) string {
	leaves := make([]string, len(recs))
	for i, r := range recs {
		leaves[i] = RecordHash(r)
	}
	return BuildMerkleRoot(leaves)
}

// hashPair produces SHA-256(0x01 || a || b) as a hex string. The 0x01 prefix
// separates internal nodes from leaves (RFC 6962).
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildMerkleRoot constructs a Merkle tree from leaf hashes and returns the root.
// If leaves is empty, returns an empty string.
// If leaves has one element, the root is that element.
// Odd-length levels hash the last node with itself.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}

	return level[0]
}
