package ssaopt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rvopt/internal/frontend"
	"rvopt/internal/ir"
)

func lowerForDSE(t *testing.T, src string) *ir.Module {
	t.Helper()
	prog, perr, err := frontend.ParseString("dse.sy", src)
	require.NoError(t, err, "%v", perr)
	m, rep := frontend.Lower("dse", prog)
	require.False(t, rep.HasErrors(), "%v", rep.Diagnostics())
	return m
}

func countStores(m *ir.Module) int {
	n := 0
	for _, fid := range m.Functions {
		for _, bid := range ir.AllBlocksInFunc(m, fid) {
			for _, opID := range m.Block(bid).Ops {
				if m.Op(opID).Opcode == ir.OpStore {
					n++
				}
			}
		}
	}
	return n
}

func TestDSEEliminatesDoubleStoreToLocal(t *testing.T) {
	m := lowerForDSE(t, `
int main() {
	int a;
	a = 1;
	a = 2;
	return a;
}
`)
	require.Equal(t, 2, countStores(m))

	d := &DSE{}
	changed := d.Apply(m)
	assert.True(t, changed)
	assert.Equal(t, 1, countStores(m))
}

func TestDSEPreservesDoubleStoreToGlobal(t *testing.T) {
	m := lowerForDSE(t, `
int g;
int main() {
	g = 1;
	g = 2;
	return g;
}
`)
	require.Equal(t, 2, countStores(m))

	d := &DSE{}
	d.Apply(m)
	assert.Equal(t, 2, countStores(m), "a store to a global must never be eliminated")
}

// TestDSEPreservesGlobalStoreEvenAfterGVNUnifiesAddresses reproduces
// spec.md §8's alias-guarded scenario directly: GVN value-numbers the two
// per-use OpGetGlobal address ops that internal/frontend/lower.go
// intentionally re-materializes into a single must-aliasing op, and DSE
// must still refuse to drop the first store.
func TestDSEPreservesGlobalStoreEvenAfterGVNUnifiesAddresses(t *testing.T) {
	m := lowerForDSE(t, `
int g;
int main() {
	g = 1;
	g = 2;
	return g;
}
`)
	gvn := &GVN{}
	gvn.Apply(m)

	d := &DSE{}
	d.Apply(m)
	assert.Equal(t, 2, countStores(m), "a store to a global must never be eliminated, even once GVN unifies its address op")
}

func TestDSEKeepsStoreReadByInterveningLoad(t *testing.T) {
	m := lowerForDSE(t, `
int main() {
	int a;
	a = 1;
	int b = a;
	a = 2;
	return a + b;
}
`)
	require.Equal(t, 3, countStores(m))

	d := &DSE{}
	d.Apply(m)
	assert.Equal(t, 3, countStores(m), "a store read by an intervening load must not be eliminated")
}
