package runtime

import (
	"fmt"

	"github.com/aretw0/arbor/pkg/domain"
)

type referenceCycleError struct {
	graph string
}

func (e *referenceCycleError) Error() string {
	return fmt.Sprintf("graph %q is referenced from inside itself", e.graph)
}

func (e *referenceCycleError) Unwrap() error { return domain.ErrReferenceCycle }

type unresolvedReferenceError struct {
	path string
	name string
}

func (e *unresolvedReferenceError) Error() string {
	return fmt.Sprintf("state %q: no graph for reference %q", e.path, e.name)
}

func (e *unresolvedReferenceError) Unwrap() error { return domain.ErrUnresolvedReference }
