package comments

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sitegate/pkg/models"
)

var (
	ErrUnknownParent = errors.New("parent comment is not in the tree")
	ErrDuplicate     = errors.New("comment is already in the tree")
)

// Tree is the rendered comment thread of one post. Every reply's parent is
// present in the tree.
type Tree struct {
	mu      sync.RWMutex
	nodes   map[int64]*node
	roots   []int64
	dropped int
}

type node struct {
	comment  models.Comment // Replies is always empty, children holds the links
	children []int64
}

// NewTree builds a tree from comments, which may be a flat list linked by
// parent_id, nested through replies, or a mix of both
func NewTree(comments []models.Comment) *Tree {
	t := &Tree{}
	t.Replace(comments)
	return t
}

// Replace swaps the whole tree for comments. Comments whose parent is absent
// are dropped.
func (t *Tree) Replace(comments []models.Comment) {
	flat := flatten(comments, nil, nil)

	index := make(map[int64]*node, len(flat))
	for _, c := range flat {
		if _, dup := index[c.ID]; dup {
			continue
		}
		index[c.ID] = &node{comment: c}
	}

	var roots []int64
	for id, n := range index {
		if n.comment.ParentID == nil {
			roots = append(roots, id)
			continue
		}
		if parent, ok := index[*n.comment.ParentID]; ok && *n.comment.ParentID != id {
			parent.children = append(parent.children, id)
		}
	}

	// drop everything not reachable from a root
	reachable := make(map[int64]*node, len(index))
	var walk func(id int64)
	walk = func(id int64) {
		if _, seen := reachable[id]; seen {
			return
		}
		reachable[id] = index[id]
		for _, child := range index[id].children {
			walk(child)
		}
	}
	for _, id := range roots {
		walk(id)
	}

	for _, n := range reachable {
		sortIDs(n.children, reachable)
	}
	sortIDs(roots, reachable)

	t.mu.Lock()
	t.nodes = reachable
	t.roots = roots
	t.dropped = len(index) - len(reachable)
	t.mu.Unlock()
}

func flatten(comments []models.Comment, parent *int64, out []models.Comment) []models.Comment {
	for _, c := range comments {
		replies := c.Replies
		c.Replies = nil
		if c.ParentID == nil && parent != nil {
			p := *parent
			c.ParentID = &p
		}
		out = append(out, c)
		if len(replies) > 0 {
			id := c.ID
			out = flatten(replies, &id, out)
		}
	}
	return out
}

func sortIDs(ids []int64, nodes map[int64]*node) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := nodes[ids[i]].comment, nodes[ids[j]].comment
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Append adds reply under parentID
func (t *Tree) Append(reply models.Comment, parentID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.nodes[parentID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownParent, parentID)
	}
	if _, exists := t.nodes[reply.ID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicate, reply.ID)
	}

	pid := parentID
	reply.ParentID = &pid
	reply.Replies = nil
	t.nodes[reply.ID] = &node{comment: reply}
	// replies are shown oldest first, and a new reply is the newest
	parent.children = append(parent.children, reply.ID)
	return nil
}

// Get returns the comment with id, without its replies
func (t *Tree) Get(id int64) (models.Comment, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return models.Comment{}, false
	}
	return n.comment, true
}

// Len returns the number of comments in the tree
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Dropped returns how many comments the last Replace left out for lack of a
// parent
func (t *Tree) Dropped() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dropped
}

// Roots returns the thread as nested comments
func (t *Tree) Roots() []models.Comment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.build(t.roots)
}

func (t *Tree) build(ids []int64) []models.Comment {
	if len(ids) == 0 {
		return nil
	}
	out := make([]models.Comment, 0, len(ids))
	for _, id := range ids {
		n := t.nodes[id]
		c := n.comment
		c.Replies = t.build(n.children)
		out = append(out, c)
	}
	return out
}

// Walk visits every comment depth-first with its nesting depth
func (t *Tree) Walk(fn func(c models.Comment, depth int)) {
	var visit func(list []models.Comment, depth int)
	visit = func(list []models.Comment, depth int) {
		for _, c := range list {
			fn(c, depth)
			visit(c.Replies, depth+1)
		}
	}
	visit(t.Roots(), 0)
}
