package graph

import "github.com/google/uuid"

// pathNamespace seeds every path identifier of a top-level graph.
var pathNamespace = uuid.MustParse("8a3f5c1e-2b7d-5e90-a4c6-1f0e9d8b7a62")

// PathGUID derives a deterministic identifier from a node path. A nil namespace selects
// the top-level namespace; child instances pass the GUID of the referencing state so
// the same referenced graph yields distinct identifiers per reference site.
func PathGUID(namespace uuid.UUID, path string) uuid.UUID {
	if namespace == uuid.Nil {
		namespace = pathNamespace
	}
	return uuid.NewSHA1(namespace, []byte(path))
}

// Rebase maps a GUID computed in a referenced graph into the namespace of a reference site.
func Rebase(site, id uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(site, id[:])
}
