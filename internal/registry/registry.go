// Package registry implements the lock-free atomic bitmap that every other
// allocator component builds on: partitions use one bit per quantum,
// quantum allocators use one bit per partition slot and one bit per
// (partition slot, order) pair, and slab allocators use one bit per slab
// slot. A single bit set means "in use"; clear means free.
package registry

import (
	"sync/atomic"
	"unsafe"

	"github.com/qba-project/qba/internal/bitutil"
)

const bitsPerWord = 64

// NotFound is returned by FindFree and FindFreeRun when no free bit or run
// satisfies the request.
const NotFound = bitutil.NotFound

// Registry is an atomic bitmap of up to numBits bits packed into 64-bit
// words, with an atomic "lowest free word" hint used to skip words that are
// known to be fully in-use. The hint is a lower bound: it may lag behind
// the true lowest free word but must never overshoot one.
//
// Registry does not own the memory it describes; it only tracks which
// indices into some externally-managed array are currently claimed.
type Registry struct {
	words          []atomic.Uint64
	numBits        int
	lowestFreeWord atomic.Uint64
}

// New builds a Registry tracking numBits bits, all initially free, backed
// by an ordinary Go-heap allocation.
func New(numBits int) *Registry {
	wordCount := (numBits + bitsPerWord - 1) / bitsPerWord
	r := &Registry{
		words:   make([]atomic.Uint64, wordCount),
		numBits: numBits,
	}
	r.sealTailBits()
	return r
}

// WordsNeeded returns how many 8-byte words a registry of numBits bits
// requires, for callers (the Arena, during the sizing pass) that need to
// account for the space before any Registry exists.
func WordsNeeded(numBits int) int {
	return (numBits + bitsPerWord - 1) / bitsPerWord
}

// Attach builds a Registry whose backing words live at base, a page- or
// at-least-8-byte-aligned address inside memory the caller has already
// reserved and committed (ordinarily via sysmem, possibly shared across
// processes). This is what lets a Partition's or QuantumAllocator's bitmap
// be the one piece of state multiple attaching processes genuinely share:
// each process builds its own Registry value, but all of them alias the
// same underlying words, so their atomic CAS operations coordinate for
// real. If the memory is fresh (not previously used as a registry), the
// caller is responsible for zeroing it first; Attach does not clear it,
// since re-attaching to existing state must not reset it.
func Attach(base uintptr, numBits int) *Registry {
	wordCount := WordsNeeded(numBits)
	var words []atomic.Uint64
	if wordCount > 0 {
		words = unsafe.Slice((*atomic.Uint64)(unsafe.Pointer(base)), wordCount)
	}
	r := &Registry{
		words:   words,
		numBits: numBits,
	}
	r.sealTailBits()
	return r
}

// sealTailBits marks the bits beyond numBits in the final word as
// permanently set, so they are never reported free and never counted.
func (r *Registry) sealTailBits() {
	if len(r.words) == 0 {
		return
	}
	used := r.numBits % bitsPerWord
	if used == 0 {
		return
	}
	tailMask := ^uint64(0) << uint(used)
	last := &r.words[len(r.words)-1]
	for {
		old := last.Load()
		if old&tailMask == tailMask {
			return
		}
		if last.CompareAndSwap(old, old|tailMask) {
			return
		}
	}
}

func wordOf(i int) int { return i / bitsPerWord }
func bitOf(i int) uint { return uint(i % bitsPerWord) }

// NumBits returns the number of bits this registry tracks.
func (r *Registry) NumBits() int { return r.numBits }

// Set attempts to transition bit i from free to in-use. It returns true iff
// this call observed the 0->1 transition.
func (r *Registry) Set(i int) bool {
	w := &r.words[wordOf(i)]
	mask := uint64(1) << bitOf(i)
	for {
		old := w.Load()
		if old&mask != 0 {
			return false
		}
		if w.CompareAndSwap(old, old|mask) {
			return true
		}
	}
}

// Clear unconditionally clears bit i. It returns true iff this call observed
// the 1->0 transition.
func (r *Registry) Clear(i int) bool {
	w := &r.words[wordOf(i)]
	mask := uint64(1) << bitOf(i)
	for {
		old := w.Load()
		if old&mask == 0 {
			return false
		}
		if w.CompareAndSwap(old, old&^mask) {
			return true
		}
	}
}

// IsSet returns a weakly consistent read of bit i.
func (r *Registry) IsSet(i int) bool {
	w := &r.words[wordOf(i)]
	return w.Load()&(uint64(1)<<bitOf(i)) != 0
}

// updateLowest advances the lowest-free-word hint past word w if and only
// if w is now fully set. Losing the race is a no-op: the winning thread's
// value is adopted.
func (r *Registry) updateLowest(w int) {
	if w >= len(r.words) {
		return
	}
	if r.words[w].Load() != ^uint64(0) {
		return
	}
	for {
		old := r.lowestFreeWord.Load()
		if int(old) > w {
			return
		}
		if r.lowestFreeWord.CompareAndSwap(old, uint64(w+1)) {
			return
		}
	}
}

// FindFree returns the smallest free bit index and atomically claims it
// (sets it), or NotFound if the registry is full. The scan starts at the
// lowest-free-word hint.
func (r *Registry) FindFree() int {
	start := int(r.lowestFreeWord.Load())
	for wi := start; wi < len(r.words); wi++ {
		w := &r.words[wi]
		for {
			old := w.Load()
			if old == ^uint64(0) {
				r.updateLowest(wi)
				break
			}
			free := bitutil.LowZeroBit(old)
			if w.CompareAndSwap(old, old|free) {
				return wi*bitsPerWord + bitutil.Ctz(free)
			}
			// Lost the race; retry against the fresh word value.
		}
	}
	return NotFound
}

// FindFreeRun returns the smallest index i such that bits [i, i+n) are all
// free, and atomically claims them as a contiguous run, or NotFound. Single-
// word runs are handled entirely within one CAS loop; runs spanning two or
// more words use a claim-then-rollback protocol.
func (r *Registry) FindFreeRun(n int) int {
	if n <= 0 {
		return NotFound
	}
	if n <= bitsPerWord {
		if i := r.findFreeRunSingleWord(n); i != NotFound {
			return i
		}
	}
	return r.findFreeRunMultiWord(n)
}

func (r *Registry) findFreeRunSingleWord(n int) int {
	start := int(r.lowestFreeWord.Load())
	for wi := start; wi < len(r.words); wi++ {
		w := &r.words[wi]
		for {
			old := w.Load()
			pos := bitutil.LowZeroRunPos(old, n)
			if pos == NotFound {
				break
			}
			mask := runMask(uint(pos), n)
			if old&mask != 0 {
				// Stale read raced with a concurrent set; retry this word.
				continue
			}
			if w.CompareAndSwap(old, old|mask) {
				if old|mask == ^uint64(0) {
					r.updateLowest(wi)
				}
				return wi*bitsPerWord + pos
			}
		}
	}
	return NotFound
}

// findFreeRunMultiWord scans bit by bit for n consecutive free bits, which
// may cross word boundaries. It claims the candidate run one bit at a time
// with Set, not one word mask per CAS; if any bit is lost to a concurrent
// claim, the bits already set are rolled back and the scan restarts from
// index 0.
func (r *Registry) findFreeRunMultiWord(n int) int {
restart:
	for i := 0; i <= r.numBits-n; i++ {
		if !r.rangeLooksFree(i, n) {
			continue
		}
		claimed, ok := r.tryClaimRange(i, n)
		if ok {
			return i
		}
		r.rollback(i, claimed)
		goto restart
	}
	return NotFound
}

func (r *Registry) rangeLooksFree(start, n int) bool {
	for k := 0; k < n; k++ {
		if r.IsSet(start + k) {
			return false
		}
	}
	return true
}

// tryClaimRange attempts to set every bit in [start, start+n). It returns
// the number of bits actually claimed before a failure (or n on success)
// and whether the whole range was claimed.
func (r *Registry) tryClaimRange(start, n int) (int, bool) {
	for k := 0; k < n; k++ {
		if !r.Set(start + k) {
			return k, false
		}
	}
	for k := 0; k < n; k += bitsPerWord {
		r.updateLowest(wordOf(start + k))
	}
	return n, true
}

func (r *Registry) rollback(start, claimed int) {
	for k := 0; k < claimed; k++ {
		r.Clear(start + k)
	}
}

func runMask(start uint, n int) uint64 {
	if n == bitsPerWord {
		return ^uint64(0) << start
	}
	return ((uint64(1) << uint(n)) - 1) << start
}

// Free clears bit i and pulls the lowest-free-word hint back to i's word if
// the hint was past it.
func (r *Registry) Free(i int) bool {
	ok := r.Clear(i)
	if ok {
		r.retreatLowest(wordOf(i))
	}
	return ok
}

// FreeRun clears bits [i, i+n).
func (r *Registry) FreeRun(i, n int) {
	for k := 0; k < n; k++ {
		r.Clear(i + k)
	}
	r.retreatLowest(wordOf(i))
}

// retreatLowest pulls the hint back to w if w is now known to contain a
// free bit and the hint currently claims otherwise.
func (r *Registry) retreatLowest(w int) {
	for {
		old := r.lowestFreeWord.Load()
		if int(old) <= w {
			return
		}
		if r.lowestFreeWord.CompareAndSwap(old, uint64(w)) {
			return
		}
	}
}

// Count returns a sampled popcount across all words. It is not a
// linearization point: concurrent mutation may make the result stale the
// instant it is computed.
func (r *Registry) Count() int {
	total := 0
	for i := range r.words {
		total += bitutil.PopCount(r.words[i].Load())
	}
	return total
}

// IsEmpty is a hint, not a guarantee. If the lowest-free-word hint is 0, it
// scans all words for any set bit; otherwise it returns false without
// scanning. Concurrent allocation can produce a false negative but never a
// false positive.
func (r *Registry) IsEmpty() bool {
	if r.lowestFreeWord.Load() != 0 {
		return false
	}
	for i := range r.words {
		if r.words[i].Load() != 0 {
			return false
		}
	}
	return true
}

// NumWords returns the number of 64-bit words backing this registry.
func (r *Registry) NumWords() int { return len(r.words) }

// ClaimRestOfWord CASes word wi to all-ones in one shot and returns a mask
// of the bits that transitioned 0->1 by this call (0 if the word was
// already full). Used by bulk-sparse allocation, which claims whole words
// at a time and reports addresses for the bits it just grabbed.
func (r *Registry) ClaimRestOfWord(wi int) uint64 {
	w := &r.words[wi]
	for {
		old := w.Load()
		if old == ^uint64(0) {
			return 0
		}
		if w.CompareAndSwap(old, ^uint64(0)) {
			r.updateLowest(wi)
			return ^old
		}
	}
}

// ClearMask clears every bit set in mask within word wi. Used to return an
// over-claimed tail from ClaimRestOfWord to the free pool.
func (r *Registry) ClearMask(wi int, mask uint64) {
	w := &r.words[wi]
	for {
		old := w.Load()
		if w.CompareAndSwap(old, old&^mask) {
			r.retreatLowest(wi)
			return
		}
	}
}

// WordLoad returns a weakly consistent snapshot of word wi, for callers
// (bulk iteration, next-allocation walks) that need to inspect several bits
// at once without claiming any of them.
func (r *Registry) WordLoad(wi int) uint64 {
	return r.words[wi].Load()
}
