package operators

import (
	"github.com/itlab-ai/infer/internal/layers"
)

func (r *Registry) registerUtilityOps() {
	r.Register("Dropout", handleDropout)
	r.Register("Identity", handleIdentity)
}

// handleDropout keeps a dropout node in the chain; it is the identity at
// inference time.
func handleDropout(_ *Context, _ *Node) (layers.Layer, error) {
	return layers.NewDropOutLayer(0, 0)
}

func handleIdentity(_ *Context, _ *Node) (layers.Layer, error) {
	return nil, nil
}
