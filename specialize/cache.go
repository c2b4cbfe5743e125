package specialize

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"

	"github.com/scalarden/fray/scan"
)

// FnCache is the build-once cache of specialized functions: a pure mapping
// from (tuple layout, conjunct set, materialization order) to a compiled
// entry point, shared by all scanner instantiations of a query.
type FnCache struct {
	cache *ristretto.Cache
}

func NewFnCache() (*FnCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1024,    // number of keys to track frequency of.
		MaxCost:     1 << 10, // compiled functions are cheap, bound by count.
		BufferItems: 64,      // number of keys per Get buffer.
	})
	if err != nil {
		return nil, errors.Wrap(err, "couldn't initialize specialized function cache")
	}
	return &FnCache{cache: cache}, nil
}

// GetOrBuild returns the cached function for key, building and caching it on
// a miss. Concurrent scanners may race to build; both get equivalent
// functions, so the losing build is just discarded by the cache.
func (c *FnCache) GetOrBuild(key string, build func() (*CompiledFn, error)) (*CompiledFn, error) {
	if v, ok := c.cache.Get(key); ok {
		return v.(*CompiledFn), nil
	}
	fn, err := build()
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, fn, 1)
	return fn, nil
}

// Fingerprint derives the cache key for a scan node's specialization inputs.
func Fingerprint(node *scan.ScanNode) string {
	var sb strings.Builder
	l := node.Layout
	fmt.Fprintf(&sb, "layout:%d:%d:%d;", l.ByteSize, l.NullBytes, l.TupleIndex)
	for i := range l.Slots {
		s := l.Slots[i]
		fmt.Fprintf(&sb, "slot:%d:%d:%d:%d:%d;", int(s.Type), s.ByteOffset, s.NullByte, s.NullMask, s.ColPos)
	}
	for _, conjunctIdx := range node.Order {
		fmt.Fprintf(&sb, "order:%d;", conjunctIdx)
	}
	for i := range node.Conjuncts {
		fmt.Fprintf(&sb, "conjunct:%s;", node.Conjuncts[i].ID)
	}
	fmt.Fprintf(&sb, "copy:%t;escape:%d;null:%s", node.CopyStrings, node.EscapeChar, node.NullSentinel)
	return sb.String()
}

// InitializeWriteTuplesFn is the per-scanner specialization gate: it returns
// the jitted batch-level writer when the scan is eligible, nil when the
// scanner should stay on the interpreted path. Either way the node's
// specialization counters record the decision; failure is never surfaced as
// an error.
func InitializeWriteTuplesFn(node *scan.ScanNode, cache *FnCache) scan.BatchWriterFn {
	// Strings that need compacting (copy mode or escape characters) rule out
	// the fused in-place approach regardless of what compiled successfully.
	if node.Layout.HasStringSlots() && (node.EscapeChar != 0 || node.CopyStrings) {
		node.IncNumScannersCodegenDisabled()
		return nil
	}

	fn, err := cache.GetOrBuild(Fingerprint(node), func() (*CompiledFn, error) {
		writeTuple, err := CompileFusedTupleWriter(node)
		if err != nil {
			return nil, err
		}
		return SpliceCallSite(WriteAlignedTuplesTemplate(), "WriteCompleteTuple", writeTuple)
	})
	if err != nil {
		node.IncNumScannersCodegenDisabled()
		return nil
	}

	node.IncNumScannersCodegenEnabled()
	return Jit(fn)
}
