// Package upstream implements the External Interface Layer's outbound
// side: the abstract upstream client (§4.6) and the concrete provider
// clients that satisfy it, plus a Router that resolves a canonical
// request's model to the provider configured to serve it
// (`upstream.providers`, §6).
package upstream

import (
	"context"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

// Client is the abstract upstream interface every provider client
// implements: a non-streaming completion and a streaming one. Stream's
// channel is closed when the upstream response is exhausted; cancelling
// ctx aborts the underlying request.
type Client interface {
	Complete(ctx context.Context, req *canonical.Request) (*canonical.Response, *canonical.Error)
	Stream(ctx context.Context, req *canonical.Request) (<-chan canonical.Chunk, <-chan *canonical.Error)
}

// ProviderConfig is one entry of the `upstream.providers` config mapping:
// a model pattern to the dialect and credentials used to reach it.
type ProviderConfig struct {
	ModelPattern  string `yaml:"model_pattern" json:"model_pattern"`
	BaseURL       string `yaml:"base_url" json:"base_url"`
	CredentialRef string `yaml:"credentials_ref" json:"credentials_ref"`
	Dialect       string `yaml:"dialect" json:"dialect"`
}
