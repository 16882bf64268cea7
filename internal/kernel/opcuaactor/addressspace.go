// Package opcuaactor implements the OPC UA server actor (C9). It has no
// teacher counterpart in the retrieved pack; it is built directly on
// github.com/gopcua/opcua/server (a real ecosystem library, named not
// grounded per spec.md §4.8) in the actor-runtime idiom established by
// the rest of this kernel.
package opcuaactor

import (
	"fmt"
	"sync"
)

// NodeKind enumerates the node shapes the address space can hold.
type NodeKind int

const (
	KindFolder NodeKind = iota
	KindObject
	KindVariable
	KindProperty
)

// Node is one entry in the address-space forest.
type Node struct {
	NodeID     string
	ParentID   string // empty for a root node
	Kind       NodeKind
	BrowseName string
	Value      any
	Writable   bool
}

// AddressSpace holds a rooted forest of nodes, inserted parent-first.
type AddressSpace struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// NewAddressSpace creates an empty address space.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{nodes: make(map[string]*Node)}
}

// AddNode inserts n. If n.ParentID is non-empty, the parent must
// already exist; building the address space is otherwise deterministic
// and parent-first per spec.md §4.8.
func (as *AddressSpace) AddNode(n Node) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if n.ParentID != "" {
		if _, ok := as.nodes[n.ParentID]; !ok {
			return fmt.Errorf("opcuaactor: parent %q of node %q not yet present in address space", n.ParentID, n.NodeID)
		}
	}
	if _, exists := as.nodes[n.NodeID]; exists {
		return fmt.Errorf("opcuaactor: node %q already exists", n.NodeID)
	}

	stored := n
	as.nodes[n.NodeID] = &stored
	return nil
}

// UpdateValue writes value to nodeID's Variable, taking the address
// space's write lock for the minimal window. It fails if the node is
// absent or not writable.
func (as *AddressSpace) UpdateValue(nodeID string, value any) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	n, ok := as.nodes[nodeID]
	if !ok {
		return fmt.Errorf("opcuaactor: node %q not found", nodeID)
	}
	if !n.Writable {
		return fmt.Errorf("opcuaactor: node %q is not writable", nodeID)
	}
	n.Value = value
	return nil
}

// Value reads nodeID's current value.
func (as *AddressSpace) Value(nodeID string) (any, bool) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	n, ok := as.nodes[nodeID]
	if !ok {
		return nil, false
	}
	return n.Value, true
}

// Len reports the number of nodes currently in the address space.
func (as *AddressSpace) Len() int {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return len(as.nodes)
}
