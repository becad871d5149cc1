package router

// tokenSet marks token graph indices during a path search. It is a fixed-size
// bitset: one bit per token, 64 tokens per word.
type tokenSet []uint64

func newTokenSet(tokens int) tokenSet {
	return make(tokenSet, (tokens+63)/64)
}

func (s tokenSet) has(i int) bool {
	return s[i/64]&(uint64(1)<<(uint(i)%64)) != 0
}

func (s tokenSet) add(i int) {
	s[i/64] |= uint64(1) << (uint(i) % 64)
}

func (s tokenSet) remove(i int) {
	s[i/64] &^= uint64(1) << (uint(i) % 64)
}
