package capability

import (
	"bytes"
	"encoding/json"
	"sort"
)

// canonicalJSON produces deterministic JSON for a flat claim map: sorted
// keys, no insignificant whitespace. This must match issuers byte-for-byte,
// so the encoding here is intentionally simple rather than general-purpose:
// callers build the exact claim sets they need to sign/verify as
// map[string]any before calling this.
// CanonicalEnvelope is the exported form of canonicalJSON, used by other
// packages (revocation, snapshot) that sign/verify their own action
// envelopes ({action, ...fields, timestamp}) with the same sorted-key,
// no-whitespace rule capability tokens use.
func CanonicalEnvelope(fields map[string]any) ([]byte, error) {
	return canonicalJSON(fields)
}

func canonicalJSON(claims map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := json.Marshal(claims[k])
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}
