package risk

import "sync/atomic"

// TokenBucket is a lock-free rate limiter. Tokens accrue at rate per second
// of elapsed clock time, capped at the bucket size; Allow consumes one token
// via a CAS loop. The refill step only advances lastRefill when at least one
// whole token has accrued, so sub-token elapsed intervals are never lost.
type TokenBucket struct {
	tokens     atomic.Uint32
	lastRefill atomic.Uint64

	rate uint32
	size uint32
	now  func() uint64
}

// NewTokenBucket builds a full bucket. now supplies monotonic nanoseconds;
// it is injectable so refill behavior is testable against a fake clock.
func NewTokenBucket(rate, size uint32, now func() uint64) *TokenBucket {
	b := &TokenBucket{rate: rate, size: size, now: now}
	b.tokens.Store(size)
	b.lastRefill.Store(now())
	return b
}

// Allow refills from elapsed time and consumes one token, reporting whether
// one was available. Safe for concurrent callers.
func (b *TokenBucket) Allow() bool {
	b.refill()
	for {
		cur := b.tokens.Load()
		if cur == 0 {
			return false
		}
		if b.tokens.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// Tokens is the current token count; it does not refill first.
func (b *TokenBucket) Tokens() uint32 { return b.tokens.Load() }

func (b *TokenBucket) refill() {
	now := b.now()
	last := b.lastRefill.Load()
	if now <= last {
		return
	}
	add := (now - last) * uint64(b.rate) / 1_000_000_000
	if add == 0 {
		return
	}
	if add > uint64(b.size) {
		add = uint64(b.size)
	}
	// One winner performs the refill for this interval; losers raced with a
	// concurrent refill that already covered the elapsed time.
	if !b.lastRefill.CompareAndSwap(last, now) {
		return
	}
	for {
		cur := b.tokens.Load()
		next := cur + uint32(add)
		if next > b.size || next < cur {
			next = b.size
		}
		if b.tokens.CompareAndSwap(cur, next) {
			return
		}
	}
}
