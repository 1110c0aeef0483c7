package tree

import (
	"sort"

	"github.com/google/uuid"
	"projecttree/backend/internal/models"
)

// Node is a FileNode with its children materialized.
type Node struct {
	models.FileNode
	Expanded bool    `json:"expanded"`
	Children []*Node `json:"children"`
}

// Tree is the assembled project tree. Root is nil for a project with no rows.
// Orphans lists rows that are not reachable from the root, such as rows whose
// parent is missing; they are left out of the tree.
type Tree struct {
	Root    *Node       `json:"root"`
	Orphans []uuid.UUID `json:"orphans,omitempty"`
}

// Assemble builds the tree from flat rows using a parent index and a single
// iterative walk from the root. expanded may be nil.
func Assemble(rows []models.FileNode, expanded map[uuid.UUID]struct{}) *Tree {
	if len(rows) == 0 {
		return &Tree{}
	}

	byParent := make(map[uuid.UUID][]*Node, len(rows))
	var roots []*Node
	for i := range rows {
		_, open := expanded[rows[i].ID]
		n := &Node{FileNode: rows[i], Expanded: open, Children: []*Node{}}
		if n.ParentID == nil {
			roots = append(roots, n)
			continue
		}
		byParent[*n.ParentID] = append(byParent[*n.ParentID], n)
	}

	t := &Tree{}
	if len(roots) == 0 {
		for i := range rows {
			t.Orphans = append(t.Orphans, rows[i].ID)
		}
		return t
	}

	// one root per project; extra roots are treated as unreachable
	sort.SliceStable(roots, func(i, j int) bool { return roots[i].CreatedAt.Before(roots[j].CreatedAt) })
	t.Root = roots[0]

	visited := map[uuid.UUID]struct{}{t.Root.ID: {}}
	stack := []*Node{t.Root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, child := range byParent[n.ID] {
			if _, seen := visited[child.ID]; seen {
				continue
			}
			visited[child.ID] = struct{}{}
			n.Children = append(n.Children, child)
			stack = append(stack, child)
		}
		sortChildren(n.Children)
	}

	for i := range rows {
		if _, ok := visited[rows[i].ID]; !ok {
			t.Orphans = append(t.Orphans, rows[i].ID)
		}
	}
	return t
}

// sortChildren orders folders before files, then by name.
func sortChildren(children []*Node) {
	sort.SliceStable(children, func(i, j int) bool {
		a, b := children[i], children[j]
		if a.IsFolder != b.IsFolder {
			return a.IsFolder
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// Count returns the number of folders and files reachable in the tree.
func (t *Tree) Count() (folders, files int) {
	if t.Root == nil {
		return 0, 0
	}
	stack := []*Node{t.Root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.IsFolder {
			folders++
		} else {
			files++
		}
		stack = append(stack, n.Children...)
	}
	return folders, files
}

// Annotate decorates flat rows with the caller's expand flag.
func Annotate(rows []models.FileNode, expanded map[uuid.UUID]struct{}) []models.TreeRow {
	out := make([]models.TreeRow, 0, len(rows))
	for _, n := range rows {
		_, open := expanded[n.ID]
		out = append(out, models.TreeRow{FileNode: n, Expanded: open})
	}
	return out
}
