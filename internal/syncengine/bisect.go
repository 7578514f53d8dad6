package syncengine

// FindDivergence returns the first offset in [0, n) at which two byte
// streams differ, or n when they agree on the whole range. samePrefix
// reports whether the streams agree up to and including an offset; it is
// assumed monotone: once the streams differ they are never considered
// equal again.
//
// The search keeps lo as the last offset known to agree and hi as the
// first offset known to differ, probing the midpoint until they are
// adjacent. It makes at most ceil(log2(n+1)) probes.
func FindDivergence(n int64, samePrefix func(offset int64) (bool, error)) (int64, error) {
	lo, hi := int64(-1), n

	for hi-lo > 1 {
		mid := lo + (hi-lo)/2

		same, err := samePrefix(mid)
		if err != nil {
			return 0, err
		}

		if same {
			lo = mid
		} else {
			hi = mid
		}
	}

	return hi, nil
}
