package paths

import (
	"github.com/michaelpento.lv/cyclearb/types"
)

// Band is an inclusive hop-count range scanned together.
type Band struct {
	Min, Max int
}

func (b Band) Contains(hops int) bool {
	return hops >= b.Min && hops <= b.Max
}

// Bands are visited round-robin, one per full rotation over the assets.
var Bands = []Band{{2, 3}, {4, 5}, {6, 8}, {9, 10}}

// PathSet is the immutable, ranked result of a generator run. It is safe for
// concurrent readers.
type PathSet struct {
	all      []*types.CircularPath
	byAsset  map[string][]*types.CircularPath
	assets   []string
	perCycle int
}

func newPathSet(ranked []*types.CircularPath, assets []string, perCycle int) *PathSet {
	s := &PathSet{
		all:      ranked,
		byAsset:  make(map[string][]*types.CircularPath, len(assets)),
		assets:   assets,
		perCycle: perCycle,
	}
	for _, p := range ranked {
		s.byAsset[p.FlashLoanAsset] = append(s.byAsset[p.FlashLoanAsset], p)
	}
	return s
}

// Selection identifies what a cycle scans.
type Selection struct {
	Asset string
	Band  Band
	Paths []*types.CircularPath
}

// ForCycle deterministically picks the flash-loan asset and hop band for a
// cycle and returns the best matching paths.
func (s *PathSet) ForCycle(cycle uint64) Selection {
	if len(s.assets) == 0 {
		return Selection{}
	}
	n := uint64(len(s.assets))
	sel := Selection{
		Asset: s.assets[cycle%n],
		Band:  Bands[(cycle/n)%uint64(len(Bands))],
	}
	for _, p := range s.byAsset[sel.Asset] {
		if !sel.Band.Contains(p.Hops()) {
			continue
		}
		sel.Paths = append(sel.Paths, p)
		if len(sel.Paths) == s.perCycle {
			break
		}
	}
	return sel
}

// PathsForCycle is ForCycle without the selection metadata.
func (s *PathSet) PathsForCycle(cycle uint64) []*types.CircularPath {
	return s.ForCycle(cycle).Paths
}

// All returns every retained path in rank order.
func (s *PathSet) All() []*types.CircularPath {
	return s.all
}

// ForAsset returns the ranked paths borrowing asset.
func (s *PathSet) ForAsset(asset string) []*types.CircularPath {
	return s.byAsset[asset]
}

func (s *PathSet) Len() int {
	return len(s.all)
}

// Pairs lists the distinct directed hops of paths in first-seen order.
func Pairs(paths []*types.CircularPath) [][2]string {
	seen := make(map[[2]string]bool)
	var out [][2]string
	for _, p := range paths {
		for i := 0; i < p.Hops(); i++ {
			pair := [2]string{p.Assets[i], p.Assets[i+1]}
			if seen[pair] {
				continue
			}
			seen[pair] = true
			out = append(out, pair)
		}
	}
	return out
}
