package migrate

import (
	"fmt"
	"sort"
)

// graph is the dependency DAG over plan operations: an edge from A to B
// means B must run after A.
type graph struct {
	ops   map[string]*Operation
	edges []edgePair
}

type edgePair struct {
	dependency string
	dependent  string
}

func newGraph() *graph {
	return &graph{ops: make(map[string]*Operation)}
}

func (g *graph) add(op *Operation) error {
	if _, exists := g.ops[op.ID]; exists {
		return fmt.Errorf("duplicate operation %q", op.ID)
	}
	g.ops[op.ID] = op
	return nil
}

// edge records that dependent runs after dependency. Edges are buffered
// and resolved once the full plan is known, so either endpoint may be
// added to the graph after the edge is declared.
func (g *graph) edge(dependency, dependent string) {
	if dependency == dependent {
		return
	}
	g.edges = append(g.edges, edgePair{dependency: dependency, dependent: dependent})
}

// resolve materializes the buffered edges into adjacency maps. Edges
// whose endpoint never became a plan operation are pruned; such a
// dependency is on an object the plan does not touch, so it is already
// satisfied.
func (g *graph) resolve() (children, depends map[string][]string) {
	children = make(map[string][]string)
	depends = make(map[string][]string)
	for _, e := range g.edges {
		if _, ok := g.ops[e.dependency]; !ok {
			continue
		}
		if _, ok := g.ops[e.dependent]; !ok {
			continue
		}
		if !contains(children[e.dependency], e.dependent) {
			children[e.dependency] = append(children[e.dependency], e.dependent)
		}
		if !contains(depends[e.dependent], e.dependency) {
			depends[e.dependent] = append(depends[e.dependent], e.dependency)
		}
	}
	return children, depends
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// cycle returns a cycle path if the graph has one.
func (g *graph) cycle(children map[string][]string) []string {
	visited := make(map[string]bool)
	inStack := make(map[string]bool)
	parent := make(map[string]string)
	var found []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		inStack[id] = true
		for _, child := range children[id] {
			if !visited[child] {
				parent[child] = id
				if dfs(child) {
					return true
				}
			} else if inStack[child] {
				found = []string{child}
				for cur := id; cur != child; cur = parent[cur] {
					found = append([]string{cur}, found...)
				}
				found = append([]string{child}, found...)
				return true
			}
		}
		inStack[id] = false
		return false
	}

	for id := range g.ops {
		if !visited[id] && dfs(id) {
			return found
		}
	}
	return nil
}

// sorted returns the operations in topological order, dependencies first,
// with ties broken by operation ID so output is deterministic.
func (g *graph) sorted() ([]*Operation, error) {
	children, depends := g.resolve()
	if path := g.cycle(children); path != nil {
		return nil, fmt.Errorf("operation cycle: %v", path)
	}

	ids := make([]string, 0, len(g.ops))
	for id := range g.ops {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	visited := make(map[string]bool)
	var out []*Operation

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		deps := append([]string(nil), depends[id]...)
		sort.Strings(deps)
		for _, dep := range deps {
			visit(dep)
		}
		out = append(out, g.ops[id])
	}

	for _, id := range ids {
		visit(id)
	}
	return out, nil
}
