package processor

import (
	"sort"

	"github.com/nci/satgate/utils"
)

// TileMerger orders the band reads of one tile and stacks their raw
// values. Bands that produced nothing become zero arrays.
type TileMerger struct {
	In    chan *bandRead
	Out   chan *tileStack
	Error chan error
}

func NewTileMerger(errChan chan error) *TileMerger {
	return &TileMerger{
		In:    make(chan *bandRead, 100),
		Out:   make(chan *tileStack, 100),
		Error: errChan,
	}
}

func (m *TileMerger) Run() {
	defer close(m.Out)

	var reads []*bandRead
	for br := range m.In {
		reads = append(reads, br)
	}
	m.Out <- MergeTileBands(reads)
}

// MergeTileBands stacks reads in request order.
func MergeTileBands(reads []*bandRead) *tileStack {
	sort.SliceStable(reads, func(i, j int) bool { return reads[i].Index < reads[j].Index })

	size := utils.TileSize * utils.TileSize
	stack := &tileStack{Width: utils.TileSize, Height: utils.TileSize, Empty: true}
	for _, br := range reads {
		if br.Err == nil || len(br.Href) > 0 {
			stack.Reads++
		}
		if br.placeholder() {
			stack.Placeholders++
			stack.Raw = append(stack.Raw, make([]float32, size))
			continue
		}
		stack.Empty = false
		for _, arr := range br.Arrays {
			stack.Raw = append(stack.Raw, arr.Data)
		}
	}
	return stack
}
