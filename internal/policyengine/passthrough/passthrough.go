// Package passthrough provides the reference identity policy: it
// implements no hooks, so the orchestrator's default fold behavior (pass
// everything through unchanged) applies. It exists to validate the
// no-op-equivalence law in the testable properties (§8): running it
// alongside no policy at all must be observationally indistinguishable.
package passthrough

import (
	"encoding/json"

	"github.com/luthienresearch/luthien-gateway/internal/policyengine"
)

// Policy is the identity policy.
type Policy struct{}

// New constructs Policy, ignoring config since it has none.
func New(json.RawMessage) (policyengine.Policy, error) {
	return Policy{}, nil
}

func (Policy) Name() string { return "passthrough" }
