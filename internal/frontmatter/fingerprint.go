package frontmatter

import (
	"errors"
	"strings"

	"github.com/inful/mdfp"
	"gopkg.in/yaml.v3"
)

// ComputeFingerprint computes the canonical content fingerprint for a document.
//
// The stored fingerprint field itself is excluded; remaining fields are
// serialized as YAML with sorted keys so the hash is stable across runs.
func ComputeFingerprint(fields map[string]any, body []byte) (string, error) {
	if fields == nil {
		return "", errors.New("fields map is nil")
	}

	forHash := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == mdfp.FingerprintField {
			continue
		}
		forHash[k] = v
	}

	serialized := ""
	if len(forHash) > 0 {
		out, err := yaml.Marshal(forHash)
		if err != nil {
			return "", err
		}
		serialized = strings.TrimSuffix(string(out), "\n")
	}

	return mdfp.CalculateFingerprintFromParts(serialized, string(body)), nil
}
