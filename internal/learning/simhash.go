package learning

import (
	"hash/fnv"
	"math/bits"
	"strings"
)

// simhash64 fingerprints text so that small edits flip few bits. Tokens are
// FNV-1a hashed and weighted by length.
func simhash64(s string) uint64 {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0
	}
	var vec [64]int64
	for _, tok := range strings.Fields(s) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		v := h.Sum64()
		w := int64(1 + len(tok)/4)
		for i := 0; i < 64; i++ {
			if (v>>uint(i))&1 == 1 {
				vec[i] += w
			} else {
				vec[i] -= w
			}
		}
	}
	var out uint64
	for i := 0; i < 64; i++ {
		if vec[i] >= 0 {
			out |= 1 << uint(i)
		}
	}
	return out
}

// EditDistance is the Hamming distance between the simhashes of the drafted and
// the edited text, 0 for identical wording and up to 64
func EditDistance(original, edited string) int {
	return bits.OnesCount64(simhash64(original) ^ simhash64(edited))
}
