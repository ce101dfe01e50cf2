package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"time"

	"zora/pkg/logger"
)

// integrityBaseline records the expected hash of the Tier-1 long-term
// file. A mismatch means the user (or something else) edited it outside
// the engine; that is legal and only logged.
type integrityBaseline struct {
	LongTermHash string    `json:"long_term_hash"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// refreshBaseline writes the current long-term hash to the baseline file.
func refreshBaseline(baselinePath, longTermPath string) error {
	hash, err := fileHash(longTermPath)
	if err != nil {
		if os.IsNotExist(err) {
			hash = ""
		} else {
			return err
		}
	}
	b := integrityBaseline{LongTermHash: hash, UpdatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	tmp := baselinePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, baselinePath)
}

// checkBaseline compares the long-term file against the recorded hash.
// Never fatal: a mismatch logs a warning and reports false.
func checkBaseline(baselinePath, longTermPath string) bool {
	data, err := os.ReadFile(baselinePath)
	if err != nil {
		return true // no baseline yet
	}
	var b integrityBaseline
	if err := json.Unmarshal(data, &b); err != nil {
		logger.Warn().Err(err).Msg("memory integrity baseline unreadable")
		return true
	}
	hash, err := fileHash(longTermPath)
	if err != nil {
		if os.IsNotExist(err) {
			hash = ""
		} else {
			return true
		}
	}
	if hash != b.LongTermHash {
		logger.Warn().Str("file", longTermPath).
			Msg("long-term memory modified outside the engine")
		return false
	}
	return true
}
