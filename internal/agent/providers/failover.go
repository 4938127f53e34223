package providers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/cinebot/internal/agent"
)

// FailoverMember is one provider in a failover chain. Model overrides the
// request's model when the member is a fallback, since model names rarely
// carry across vendors.
type FailoverMember struct {
	Provider agent.LLMProvider
	Model    string
}

// FailoverConfig configures the failover provider's circuit breaker.
type FailoverConfig struct {
	// Threshold is the number of consecutive failures that opens a member's circuit
	Threshold int

	// Cooldown is how long an open circuit skips its member
	Cooldown time.Duration
}

type memberState struct {
	failures  int
	openUntil time.Time
}

// FailoverProvider tries members in order until one produces a response.
//
// A member is abandoned when Complete fails or when its stream fails before
// any text or tool call has been delivered; once output has reached the
// caller, a later stream error is passed through unchanged.
type FailoverProvider struct {
	members []FailoverMember
	config  FailoverConfig
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	states map[int]*memberState
}

// NewFailoverProvider builds a chain from primary followed by fallbacks.
func NewFailoverProvider(primary agent.LLMProvider, config FailoverConfig, logger *slog.Logger, fallbacks ...FailoverMember) (*FailoverProvider, error) {
	if primary == nil {
		return nil, agent.ErrNoProvider
	}
	if config.Threshold <= 0 {
		config.Threshold = 3
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	members := []FailoverMember{{Provider: primary}}
	for _, fb := range fallbacks {
		if fb.Provider != nil {
			members = append(members, fb)
		}
	}
	return &FailoverProvider{
		members: members,
		config:  config,
		logger:  logger.With("component", "failover"),
		now:     time.Now,
		states:  make(map[int]*memberState),
	}, nil
}

// Name joins member names, e.g. "groq+anthropic".
func (f *FailoverProvider) Name() string {
	names := make([]string, len(f.members))
	for i, m := range f.members {
		names[i] = m.Provider.Name()
	}
	return strings.Join(names, "+")
}

// Models returns the primary's models.
func (f *FailoverProvider) Models() []agent.Model {
	return f.members[0].Provider.Models()
}

// SupportsTools reports whether every member supports tools.
func (f *FailoverProvider) SupportsTools() bool {
	for _, m := range f.members {
		if !m.Provider.SupportsTools() {
			return false
		}
	}
	return true
}

// Complete implements agent.LLMProvider with ordered failover.
func (f *FailoverProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	var lastErr error
	for i, member := range f.members {
		if !f.available(i) {
			continue
		}
		memberReq := req
		if i > 0 {
			clone := *req
			clone.Model = member.Model
			memberReq = &clone
		}

		upstream, err := member.Provider.Complete(ctx, memberReq)
		if err == nil {
			var first *agent.CompletionChunk
			var ok bool
			select {
			case first, ok = <-upstream:
			case <-ctx.Done():
				go drain(upstream)
				return nil, ctx.Err()
			}
			if ok && first != nil && first.Error != nil {
				err = first.Error
				go drain(upstream)
			} else {
				f.recordSuccess(i)
				return relay(ctx, first, ok, upstream), nil
			}
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.recordFailure(i)
		if !ShouldFailover(err) {
			return nil, err
		}
		if i < len(f.members)-1 {
			f.logger.Warn("provider failed, trying fallback",
				"provider", member.Provider.Name(),
				"fallback", f.members[i+1].Provider.Name(),
				"reason", ClassifyError(err),
				"error", err,
			)
		}
	}
	if lastErr == nil {
		lastErr = errors.New("failover: every provider circuit is open")
	}
	return nil, lastErr
}

func (f *FailoverProvider) available(i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[i]
	if !ok {
		return true
	}
	return !f.now().Before(state.openUntil)
}

func (f *FailoverProvider) recordSuccess(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, i)
}

func (f *FailoverProvider) recordFailure(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[i]
	if !ok {
		state = &memberState{}
		f.states[i] = state
	}
	state.failures++
	// The last member is never skipped, so a request always reaches someone.
	if state.failures >= f.config.Threshold && i < len(f.members)-1 {
		state.openUntil = f.now().Add(f.config.Cooldown)
		state.failures = 0
	}
}

// relay forwards first (if present) and the remainder of upstream.
func relay(ctx context.Context, first *agent.CompletionChunk, hasFirst bool, upstream <-chan *agent.CompletionChunk) <-chan *agent.CompletionChunk {
	out := make(chan *agent.CompletionChunk)
	go func() {
		defer close(out)
		if !hasFirst {
			return
		}
		if !sendChunk(ctx, out, first) {
			go drain(upstream)
			return
		}
		for chunk := range upstream {
			if !sendChunk(ctx, out, chunk) {
				go drain(upstream)
				return
			}
		}
	}()
	return out
}

func drain(ch <-chan *agent.CompletionChunk) {
	for range ch {
	}
}
