// Package toolschema provides a reference policy that validates every
// tool-call block's accumulated arguments against the JSON schema the
// request declared for that tool, rejecting a transaction whose model
// produced arguments the tool itself would refuse.
package toolschema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
	"github.com/luthienresearch/luthien-gateway/internal/policyengine"
)

// config is the toolschema policy's class_ref configuration. Strict
// rejects the transaction on a schema violation; otherwise the
// violation is only logged.
type config struct {
	Strict bool `json:"strict"`
}

// Policy validates tool-call arguments against each request's declared
// ToolSpec.JSONSchema as tool-call blocks complete.
type Policy struct {
	strict bool

	mu     sync.Mutex
	cache  map[string]*jsonschema.Schema
}

// New constructs Policy from its class_ref config block.
func New(raw json.RawMessage) (policyengine.Policy, error) {
	var cfg config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("toolschema: invalid config: %w", err)
		}
	}
	return &Policy{strict: cfg.Strict, cache: make(map[string]*jsonschema.Schema)}, nil
}

func (p *Policy) Name() string { return "toolschema" }

// OnBlockComplete validates a completed tool-call block's arguments
// against the schema the request declared for that tool name, if any.
func (p *Policy) OnBlockComplete(ctx *policyengine.Context, block canonical.Block) (policyengine.HookResult, error) {
	if block.Type != canonical.BlockToolCall {
		return policyengine.PassThrough(), nil
	}

	var spec *canonical.ToolSpec
	for i := range ctx.Request.Tools {
		if ctx.Request.Tools[i].Name == block.ToolName {
			spec = &ctx.Request.Tools[i]
			break
		}
	}
	if spec == nil || len(spec.JSONSchema) == 0 {
		return policyengine.PassThrough(), nil
	}

	schema, err := p.compile(spec.Name, spec.JSONSchema)
	if err != nil {
		ctx.Logger.Warn("toolschema: schema compile failed", "tool", spec.Name, "error", err)
		return policyengine.PassThrough(), nil
	}

	var args any
	if err := json.Unmarshal([]byte(block.ArgsJSON), &args); err != nil {
		return p.violation(ctx, spec.Name, fmt.Errorf("arguments not valid JSON: %w", err))
	}
	if err := schema.Validate(args); err != nil {
		return p.violation(ctx, spec.Name, err)
	}
	return policyengine.PassThrough(), nil
}

func (p *Policy) violation(ctx *policyengine.Context, tool string, cause error) (policyengine.HookResult, error) {
	reason := fmt.Sprintf("tool %q arguments failed schema validation: %v", tool, cause)
	if p.strict {
		return policyengine.Terminate(reason), nil
	}
	ctx.Logger.Warn("toolschema: schema violation", "tool", tool, "error", cause)
	return policyengine.PassThrough(), nil
}

func (p *Policy) compile(tool string, raw json.RawMessage) (*jsonschema.Schema, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.cache[tool]; ok {
		return cached, nil
	}
	compiled, err := jsonschema.CompileString(tool+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	p.cache[tool] = compiled
	return compiled, nil
}
