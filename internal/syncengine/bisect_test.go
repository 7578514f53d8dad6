//nolint:varnamelen // Test files use idiomatic short variable names (t, g, k, etc.)
package syncengine_test

import (
	"bytes"
	"errors"
	"math/bits"
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/dpt-sync/internal/syncengine"
)

// prefixComparator agrees at offset when a and b match on [0, offset].
func prefixComparator(a, b []byte, probes *int) func(int64) (bool, error) {
	return func(offset int64) (bool, error) {
		*probes++
		return bytes.Equal(a[:offset+1], b[:offset+1]), nil
	}
}

func TestFindDivergenceLocatesEveryPosition(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	for _, n := range []int{1, 2, 3, 7, 64, 100, 1000} {
		base := bytes.Repeat([]byte{'a'}, n)
		limit := bits.Len(uint(n)) // ceil(log2(n+1))

		for k := 0; k < n; k++ {
			other := bytes.Clone(base)
			other[k] = 'b'

			probes := 0
			got, err := syncengine.FindDivergence(int64(n), prefixComparator(base, other, &probes))

			g.Expect(err).ShouldNot(HaveOccurred())
			g.Expect(got).Should(Equal(int64(k)), "n=%d k=%d", n, k)
			g.Expect(probes).Should(BeNumerically("<=", limit), "n=%d k=%d", n, k)
		}
	}
}

func TestFindDivergenceIdenticalInputs(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	data := []byte("identical content")
	probes := 0

	got, err := syncengine.FindDivergence(int64(len(data)), prefixComparator(data, data, &probes))

	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(got).Should(Equal(int64(len(data))))
}

func TestFindDivergenceEmptyRange(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	got, err := syncengine.FindDivergence(0, func(int64) (bool, error) {
		t.Fatal("no probe expected for an empty range")
		return false, nil
	})

	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(got).Should(BeZero())
}

func TestFindDivergenceStopsOnProbeError(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	probeErr := errors.New("read failed")

	_, err := syncengine.FindDivergence(10, func(int64) (bool, error) {
		return false, probeErr
	})

	g.Expect(err).Should(MatchError(probeErr))
}
