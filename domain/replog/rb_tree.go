package replog

type rbColor bool

const (
	red   rbColor = false
	black rbColor = true
)

type rbNode struct {
	key    uint64
	entry  *entry
	color  rbColor
	left   *rbNode
	right  *rbNode
	parent *rbNode
}

// rbTree indexes sequenced entries by global position. Entries are never
// removed: the log has no deletion.
type rbTree struct {
	root *rbNode
	nil  *rbNode
	size int
}

func newRBTree() *rbTree {
	nilNode := &rbNode{color: black}
	return &rbTree{
		root: nilNode,
		nil:  nilNode,
	}
}

// ---- public API ----

func (t *rbTree) Len() int { return t.size }

func (t *rbTree) Find(pos uint64) *entry {
	n := t.find(pos)
	if n == t.nil {
		return nil
	}
	return n.entry
}

// Put inserts e at pos. The caller guarantees pos is free.
func (t *rbTree) Put(pos uint64, e *entry) {
	t.insert(pos, e)
}

func (t *rbTree) Max() *entry {
	n := t.max(t.root)
	if n == t.nil {
		return nil
	}
	return n.entry
}

// ---- walkers ----

// walkFrom visits entries with key >= from in ascending order until fn
// returns false.
func (t *rbTree) walkFrom(from uint64, fn func(*entry) bool) {
	for n := t.ceil(from); n != t.nil; n = t.next(n) {
		if !fn(n.entry) {
			return
		}
	}
}

func (t *rbTree) walkAsc(fn func(*entry)) {
	for n := t.min(t.root); n != t.nil; n = t.next(n) {
		fn(n.entry)
	}
}

// ---- internal helpers ----

func (t *rbTree) find(pos uint64) *rbNode {
	n := t.root
	for n != t.nil {
		if pos < n.key {
			n = n.left
		} else if pos > n.key {
			n = n.right
		} else {
			return n
		}
	}
	return t.nil
}

// ceil returns the smallest node with key >= pos.
func (t *rbTree) ceil(pos uint64) *rbNode {
	best := t.nil
	n := t.root
	for n != t.nil {
		if n.key >= pos {
			best = n
			n = n.left
		} else {
			n = n.right
		}
	}
	return best
}

func (t *rbTree) min(n *rbNode) *rbNode {
	for n != t.nil && n.left != t.nil {
		n = n.left
	}
	return n
}

func (t *rbTree) max(n *rbNode) *rbNode {
	for n != t.nil && n.right != t.nil {
		n = n.right
	}
	return n
}

func (t *rbTree) next(n *rbNode) *rbNode {
	if n.right != t.nil {
		return t.min(n.right)
	}
	p := n.parent
	for p != t.nil && n == p.right {
		n = p
		p = p.parent
	}
	return p
}

func (t *rbTree) insert(pos uint64, e *entry) {
	z := &rbNode{key: pos, entry: e, color: red, left: t.nil, right: t.nil}

	y := t.nil
	x := t.root
	for x != t.nil {
		y = x
		if z.key < x.key {
			x = x.left
		} else {
			x = x.right
		}
	}
	z.parent = y
	switch {
	case y == t.nil:
		t.root = z
	case z.key < y.key:
		y.left = z
	default:
		y.right = z
	}
	t.size++
	t.insertFixup(z)
}

func (t *rbTree) insertFixup(z *rbNode) {
	for z.parent.color == red {
		if z.parent == z.parent.parent.left {
			y := z.parent.parent.right
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
				continue
			}
			if z == z.parent.right {
				z = z.parent
				t.rotateLeft(z)
			}
			z.parent.color = black
			z.parent.parent.color = red
			t.rotateRight(z.parent.parent)
		} else {
			y := z.parent.parent.left
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
				continue
			}
			if z == z.parent.left {
				z = z.parent
				t.rotateRight(z)
			}
			z.parent.color = black
			z.parent.parent.color = red
			t.rotateLeft(z.parent.parent)
		}
	}
	t.root.color = black
}

func (t *rbTree) rotateLeft(x *rbNode) {
	y := x.right
	x.right = y.left
	if y.left != t.nil {
		y.left.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == t.nil:
		t.root = y
	case x == x.parent.left:
		x.parent.left = y
	default:
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *rbTree) rotateRight(x *rbNode) {
	y := x.left
	x.left = y.right
	if y.right != t.nil {
		y.right.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == t.nil:
		t.root = y
	case x == x.parent.right:
		x.parent.right = y
	default:
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}
