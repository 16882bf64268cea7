package opcuaactor

// NodeBuilder is a fluent, parent-first address-space builder,
// generalizing the "fluent builder with parent-first constraint"
// pattern from the Rust source's address-space macros (see DESIGN.md).
type NodeBuilder struct {
	as  *AddressSpace
	err error
}

// Build starts a NodeBuilder over as.
func Build(as *AddressSpace) *NodeBuilder {
	return &NodeBuilder{as: as}
}

func (b *NodeBuilder) add(n Node) *NodeBuilder {
	if b.err != nil {
		return b
	}
	b.err = b.as.AddNode(n)
	return b
}

// Folder inserts a folder node under parentID (empty for root).
func (b *NodeBuilder) Folder(nodeID, parentID, browseName string) *NodeBuilder {
	return b.add(Node{NodeID: nodeID, ParentID: parentID, Kind: KindFolder, BrowseName: browseName})
}

// Object inserts an object node under parentID.
func (b *NodeBuilder) Object(nodeID, parentID, browseName string) *NodeBuilder {
	return b.add(Node{NodeID: nodeID, ParentID: parentID, Kind: KindObject, BrowseName: browseName})
}

// Variable inserts a variable node under parentID with an initial value.
func (b *NodeBuilder) Variable(nodeID, parentID, browseName string, value any, writable bool) *NodeBuilder {
	return b.add(Node{NodeID: nodeID, ParentID: parentID, Kind: KindVariable, BrowseName: browseName, Value: value, Writable: writable})
}

// Property inserts a read-only property node under parentID.
func (b *NodeBuilder) Property(nodeID, parentID, browseName string, value any) *NodeBuilder {
	return b.add(Node{NodeID: nodeID, ParentID: parentID, Kind: KindProperty, BrowseName: browseName, Value: value})
}

// Err returns the first error encountered by any chained call, if any.
func (b *NodeBuilder) Err() error { return b.err }
