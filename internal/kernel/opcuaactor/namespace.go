package opcuaactor

import "fmt"

// NamespaceConfig declares one user namespace to register with the
// server. Index 0 is reserved for the OPC UA standard namespace.
type NamespaceConfig struct {
	Index uint16
	URI   string
}

// validateNamespaces enforces spec.md §4.8's invariants: index 0 and
// empty URIs are rejected, and entries must be supplied in ascending
// index order (registration happens in that order and the returned
// index must match the requested one, else Startup/NamespaceMismatch).
func validateNamespaces(cfgs []NamespaceConfig) error {
	last := -1
	for _, c := range cfgs {
		if c.Index == 0 {
			return fmt.Errorf("opcuaactor: namespace index 0 is reserved")
		}
		if c.URI == "" {
			return fmt.Errorf("opcuaactor: namespace entry for index %d has an empty URI", c.Index)
		}
		if int(c.Index) <= last {
			return fmt.Errorf("opcuaactor: namespaces must be supplied in ascending index order, got %d after %d", c.Index, last)
		}
		last = int(c.Index)
	}
	return nil
}

// ErrNamespaceMismatch is reported as a Startup error when a
// namespace registration returns an index other than the one requested.
type ErrNamespaceMismatch struct {
	Requested, Got uint16
}

func (e *ErrNamespaceMismatch) Error() string {
	return fmt.Sprintf("opcuaactor: namespace mismatch: requested index %d, registrar returned %d", e.Requested, e.Got)
}
