package requestStrategy

import (
	"fmt"

	ajwerner "github.com/anacrolix/btree"
	"github.com/tidwall/btree"
)

// Ordered storage for a PieceOrder. Items are unique by index.
type Btree interface {
	Add(PieceOrderItem)
	Scan(func(PieceOrderItem) bool)
	Len() int
}

func duplicatePiece(item PieceOrderItem) string {
	return fmt.Sprintf("piece %v already ordered", item.Index)
}

type tidwallBtree struct {
	tree *btree.BTreeG[PieceOrderItem]
	// Pieces tend to be added in index order, which makes consecutive inserts land close together.
	hint btree.PathHint
}

var _ Btree = (*tidwallBtree)(nil)

func NewTidwallBtree() *tidwallBtree {
	return &tidwallBtree{
		tree: btree.NewBTreeGOptions(
			func(a, b PieceOrderItem) bool {
				return pieceOrderLess(a, b).Less()
			},
			btree.Options{NoLocks: true, Degree: 64},
		),
	}
}

func (me *tidwallBtree) Add(item PieceOrderItem) {
	if _, replaced := me.tree.SetHint(item, &me.hint); replaced {
		panic(duplicatePiece(item))
	}
}

func (me *tidwallBtree) Scan(f func(PieceOrderItem) bool) {
	me.tree.Scan(f)
}

func (me *tidwallBtree) Len() int {
	return me.tree.Len()
}

// Uses anacrolix's fork of github.com/ajwerner/btree.
type ajwernerBtree struct {
	set ajwerner.Set[PieceOrderItem]
}

var _ Btree = (*ajwernerBtree)(nil)

func NewAjwernerBtree() *ajwernerBtree {
	return &ajwernerBtree{
		set: ajwerner.MakeSet(func(a, b PieceOrderItem) int {
			return pieceOrderLess(a, b).OrderingInt()
		}),
	}
}

func (me *ajwernerBtree) Add(item PieceOrderItem) {
	if _, replaced := me.set.Upsert(item); replaced {
		panic(duplicatePiece(item))
	}
}

func (me *ajwernerBtree) Scan(f func(PieceOrderItem) bool) {
	it := me.set.Iterator()
	for it.First(); it.Valid(); it.Next() {
		if !f(it.Cur()) {
			return
		}
	}
}

func (me *ajwernerBtree) Len() int {
	return me.set.Len()
}
