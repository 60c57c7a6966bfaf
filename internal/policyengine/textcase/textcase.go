// Package textcase provides a reference transformation policy (end-to-end
// scenario 2, §8), registered by the serve command under class_ref
// "textcase": it upper-cases every text delta, leaving tool-call and
// thinking deltas untouched.
package textcase

import (
	"encoding/json"
	"strings"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
	"github.com/luthienresearch/luthien-gateway/internal/policyengine"
)

// Policy upper-cases streaming text content.
type Policy struct{}

// New constructs Policy, ignoring config since it has none.
func New(json.RawMessage) (policyengine.Policy, error) {
	return Policy{}, nil
}

func (Policy) Name() string { return "textcase" }

// OnContentDelta implements policyengine.ContentDeltaHook.
func (Policy) OnContentDelta(_ *policyengine.Context, text string) (policyengine.HookResult, error) {
	upper := strings.ToUpper(text)
	if upper == text {
		return policyengine.PassThrough(), nil
	}
	return policyengine.Replace(canonical.Chunk{Delta: canonical.Delta{Content: upper}}), nil
}

// OnResponse implements policyengine.ResponseHook for the non-streaming
// path, so the policy behaves consistently regardless of stream.
func (Policy) OnResponse(_ *policyengine.Context, resp *canonical.Response) (*canonical.Response, error) {
	cp := resp.Clone()
	for i, c := range cp.Choices {
		if c.Message.Text != "" {
			cp.Choices[i].Message.Text = strings.ToUpper(c.Message.Text)
		}
	}
	return cp, nil
}
