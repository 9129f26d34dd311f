package ta

import "github.com/keymint-ta/core/internal/protocol"

// UseCount tracks how many times a key with a UsageCountLimit has been
// used so far this boot.
type UseCount struct {
	KeyID KeyID
	Count uint32
}

// updateUseCount implements the exact scan described in §4.5: find an
// existing slot for keyID and increment it, or allocate the first free
// slot, or fail TooManyOperations if the table is full. If the
// incremented count would exceed limit, fail KeyMaxOpsExceeded instead —
// and do not commit the increment in that case.
func (t *KeyMintTA) updateUseCount(keyID KeyID, limit uint32) error {
	var free = -1
	for i, uc := range t.useCounts {
		if uc == nil {
			if free < 0 {
				free = i
			}
			continue
		}
		if uc.KeyID == keyID {
			if uc.Count+1 > limit {
				return taErr(protocol.ErrKeyMaxOpsExceeded, "key usage count limit exceeded")
			}
			uc.Count++
			return nil
		}
	}
	if free < 0 {
		return taErr(protocol.ErrTooManyOperations, "use-count table is full")
	}
	if limit < 1 {
		return taErr(protocol.ErrKeyMaxOpsExceeded, "key usage count limit exceeded")
	}
	t.useCounts[free] = &UseCount{KeyID: keyID, Count: 1}
	return nil
}
