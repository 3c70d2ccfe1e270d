package randengine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/microsim/utils/randengine"
)

func TestDeriveIsReproducible(t *testing.T) {
	a := randengine.Derive(42, 7)
	b := randengine.Derive(42, 7)
	for i := 0; i < 16; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
	}
}

func TestDeriveSeparatesEntities(t *testing.T) {
	a := randengine.Derive(42, 7)
	b := randengine.Derive(42, 8)
	same := 0
	for i := 0; i < 16; i++ {
		if a.Uint64() == b.Uint64() {
			same++
		}
	}
	assert.Less(t, same, 16)
}

func TestTruncNormalBounds(t *testing.T) {
	e := randengine.New(1)
	for i := 0; i < 1000; i++ {
		x := e.TruncNormal(1, 0.5, 0.8, 1.2)
		assert.GreaterOrEqual(t, x, 0.8)
		assert.LessOrEqual(t, x, 1.2)
	}
	assert.Equal(t, 1.2, e.TruncNormal(3, 0, 0.8, 1.2))
}

func TestDiscreteDistribution(t *testing.T) {
	e := randengine.New(3)
	for i := 0; i < 100; i++ {
		assert.Equal(t, int32(1), e.DiscreteDistribution([]float64{0, 1, 0}))
	}
}
