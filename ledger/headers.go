package ledger

import (
	"github.com/neo-core/neod/errs"
	"github.com/neo-core/neod/payload"
)

// HeaderWindow bounds how far header-only sync may run ahead of the
// persisted block tip before AddHeader starts rejecting further headers,
// so an adversarial peer cannot force unbounded memory growth ahead of
// block bodies actually landing (spec.md §4.E header-only sync).
const HeaderWindow = 2000

// AddHeader accepts a header advancing the header chain ahead of body
// sync, bounded by HeaderWindow blocks past the persisted tip. It checks
// only the height, the parent hash and the window bound; the header's
// witness, timestamp and every other check run only when the matching body
// arrives via AddBlock.
func (bc *Blockchain) AddHeader(h *payload.Header) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.headerHeight == 0 && len(bc.headers) == 0 {
		bc.headerTip = bc.tip.Hash()
		bc.headerHeight = bc.height
	}

	if h.Index != bc.headerHeight+1 {
		return errs.New(errs.Validation, "bad-header-height", nil)
	}
	if h.PrevHash != bc.headerTip {
		return errs.New(errs.Validation, "unknown-header-parent", nil)
	}
	if h.Index > bc.height+HeaderWindow {
		return errs.New(errs.Validation, "header-window-exceeded", nil)
	}

	hash := h.Hash()
	bc.headers[hash] = h
	bc.headerTip = hash
	bc.headerHeight = h.Index
	return nil
}

// HeaderHeight returns how far the header-only chain has advanced ahead
// of (or even with) the persisted block tip.
func (bc *Blockchain) HeaderHeight() uint32 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.headerHeight == 0 && len(bc.headers) == 0 {
		return bc.height
	}
	return bc.headerHeight
}

// GetHeader looks up a header accepted via AddHeader, falling back to a
// persisted block's header if the hash has already been committed.
func (bc *Blockchain) GetHeader(hash payload.Hash32) (*payload.Header, error) {
	bc.mu.RLock()
	if h, ok := bc.headers[hash]; ok {
		bc.mu.RUnlock()
		return h, nil
	}
	bc.mu.RUnlock()

	b, err := bc.GetBlock(hash)
	if err != nil {
		return nil, err
	}
	return &b.Header, nil
}
