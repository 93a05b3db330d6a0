package policy

import (
	"context"
	"regexp"
	"time"

	"github.com/rs/zerolog"
)

// EvaluationContext carries the fields a heuristic policy's rules are checked against. Grounded on section 4.3's
// decide step: payload, recipient username and whether requireContext is satisfied.
type EvaluationContext struct {
	Payload           string
	RecipientUsername string
	HasContext        bool
}

// Decision is the outcome of running a policy list through Evaluate.
type Decision struct {
	Allowed bool
	Reason  string
}

// LLMEvaluator evaluates an LLM policy's prompt against a message. The default build never calls out to one: LLM
// policies are skipped and PASS with a warning (an explicit deployment choice, not executed by default).
type LLMEvaluator interface {
	Evaluate(ctx context.Context, prompt string, evalCtx EvaluationContext) (pass bool, reason string, err error)
}

// NoopLLMEvaluator always reports pass=true without making any external call; Evaluate logs a warning through the
// logger passed at construction and never blocks on network I/O.
type NoopLLMEvaluator struct {
	log zerolog.Logger
}

// NewNoopLLMEvaluator builds the default LLMEvaluator: PASS-with-warning, no network call.
func NewNoopLLMEvaluator(logger zerolog.Logger) *NoopLLMEvaluator {
	return &NoopLLMEvaluator{log: logger}
}

// Evaluate always passes; LLM policy evaluation is not wired to a backend in the default build.
func (n *NoopLLMEvaluator) Evaluate(ctx context.Context, prompt string, evalCtx EvaluationContext) (bool, string, error) {
	n.log.Warn().Msg("llm policy evaluation skipped in the default build; passing with a warning")
	return true, "llm policy skipped (no evaluator configured)", nil
}

// DefaultLLMTimeout is the budget a configured LLMEvaluator.Evaluate call is allotted before the policy passes with
// a warning instead of blocking the send.
const DefaultLLMTimeout = 5 * time.Second

// Engine runs the evaluation funnel described in section 4.3: scope filter (performed by the caller via
// Repository.ScopeFilterForUser/ScopeFilterForGroup), then decide in priority order, first FAIL aborting.
type Engine struct {
	llm LLMEvaluator
	log zerolog.Logger
}

// NewEngine builds a policy Engine. llm may be nil, in which case a NoopLLMEvaluator is used.
func NewEngine(llm LLMEvaluator, logger zerolog.Logger) *Engine {
	if llm == nil {
		llm = NewNoopLLMEvaluator(logger)
	}
	return &Engine{llm: llm, log: logger}
}

// Evaluate runs policies (already scope-filtered and ordered priority DESC) against evalCtx, returning the first
// Decision with Allowed=false, or an allowing Decision if every policy passes.
func (e *Engine) Evaluate(ctx context.Context, policies []Policy, evalCtx EvaluationContext) Decision {
	for _, p := range policies {
		var (
			pass   bool
			reason string
		)
		switch p.PolicyType {
		case TypeHeuristic:
			pass, reason = e.evaluateHeuristic(p, evalCtx)
		case TypeLLM:
			pass, reason = e.evaluateLLM(ctx, p, evalCtx)
		default:
			// Unknown/unrecognized types never block a send; content validation should have rejected them at
			// creation time.
			pass = true
		}
		if !pass {
			return Decision{Allowed: false, Reason: reason}
		}
	}
	return Decision{Allowed: true}
}

func (e *Engine) evaluateHeuristic(p Policy, evalCtx EvaluationContext) (bool, string) {
	hc, err := ParseHeuristicContent(p.PolicyContent)
	if err != nil {
		// Content was validated at create time; a parse failure here means stored state drifted. Fail closed with
		// the underlying error rather than silently passing.
		return false, "policy content is invalid: " + err.Error()
	}

	if hc.MaxLength != nil && len(evalCtx.Payload) > *hc.MaxLength {
		return false, "payload exceeds the policy's maxLength"
	}
	if hc.MinLength != nil && len(evalCtx.Payload) < *hc.MinLength {
		return false, "payload is shorter than the policy's minLength"
	}
	for _, pattern := range hc.BlockedPatterns {
		if matched, _ := regexp.MatchString(pattern, evalCtx.Payload); matched {
			return false, "payload matches a blocked pattern"
		}
	}
	for _, pattern := range hc.RequiredPatterns {
		if matched, _ := regexp.MatchString(pattern, evalCtx.Payload); !matched {
			return false, "payload is missing a required pattern"
		}
	}
	if hc.RequireContext && !evalCtx.HasContext {
		return false, "this policy requires a context to be attached"
	}

	if isTrustedAllowlist(hc.TrustedRecipients) && !contains(hc.TrustedRecipients, evalCtx.RecipientUsername) {
		return false, "recipient is not on the policy's trusted allowlist"
	}
	if contains(hc.BlockedRecipients, evalCtx.RecipientUsername) {
		return false, "recipient is on the policy's blocked list"
	}

	return true, ""
}

func (e *Engine) evaluateLLM(ctx context.Context, p Policy, evalCtx EvaluationContext) (bool, string) {
	llmCtx, cancel := context.WithTimeout(ctx, DefaultLLMTimeout)
	defer cancel()

	pass, reason, err := e.llm.Evaluate(llmCtx, p.PolicyContent, evalCtx)
	if err != nil || llmCtx.Err() != nil {
		e.log.Warn().Err(err).Msg("llm policy evaluator failed or timed out; passing with a warning")
		return true, ""
	}
	return pass, reason
}

// isTrustedAllowlist reports whether a non-empty trustedRecipients allowlist is configured; when empty, the
// allowlist imposes no restriction.
func isTrustedAllowlist(trusted []string) bool {
	return len(trusted) > 0
}

func contains(list []string, needle string) bool {
	for _, v := range list {
		if v == needle {
			return true
		}
	}
	return false
}
