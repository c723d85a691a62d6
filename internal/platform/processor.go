package platform

import (
	"net/http"

	"omnichat-gateway/internal/config"
)

// Processor turns one provider's webhook delivery into canonical events.
// Adding a platform means adding an implementation and registering it; the
// gateway never branches on platform names itself.
type Processor interface {
	// Platform returns the platform identifier this processor handles.
	Platform() string
	// VerifySignature authenticates the raw request body against the
	// provider's signature header. A nil error means authentic.
	VerifySignature(body []byte, header http.Header) error
	// ChallengeToken returns the configured subscription verify token, or ""
	// for platforms without a challenge handshake.
	ChallengeToken() string
	// ExtractEvents parses the raw payload into events in arrival order.
	ExtractEvents(body []byte) ([]Event, error)
}

// Registry maps platform identifiers to their processors.
type Registry struct {
	processors map[string]Processor
}

func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{processors: make(map[string]Processor)}
	r.Register(NewFacebookProcessor(cfg))
	r.Register(NewLineProcessor(cfg))
	r.Register(NewWhatsAppProcessor(cfg))
	return r
}

func (r *Registry) Register(p Processor) {
	r.processors[p.Platform()] = p
}

// Get returns the processor for a platform, or nil if unknown.
func (r *Registry) Get(platform string) Processor {
	return r.processors[platform]
}
