package policy_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/policy"
)

func heuristicPolicy(content string, priority int) policy.Policy {
	return policy.Policy{
		ID: uuid.New(), PolicyType: policy.TypeHeuristic, PolicyContent: content, Priority: priority, Enabled: true,
	}
}

func TestEngine_Evaluate_heuristicBlockedPattern(t *testing.T) {
	t.Parallel()
	engine := policy.NewEngine(nil, zerolog.Nop())
	policies := []policy.Policy{heuristicPolicy(`{"blockedPatterns":["secret"]}`, 100)}

	d := engine.Evaluate(context.Background(), policies, policy.EvaluationContext{Payload: "this is a secret"})
	if d.Allowed {
		t.Error("expected the send to be blocked")
	}
	if d.Reason == "" {
		t.Error("expected a non-empty rejection reason")
	}
}

func TestEngine_Evaluate_passesWhenNoRuleMatches(t *testing.T) {
	t.Parallel()
	engine := policy.NewEngine(nil, zerolog.Nop())
	policies := []policy.Policy{heuristicPolicy(`{"blockedPatterns":["secret"]}`, 100)}

	d := engine.Evaluate(context.Background(), policies, policy.EvaluationContext{Payload: "hello there"})
	if !d.Allowed {
		t.Errorf("expected the send to be allowed, got reason %q", d.Reason)
	}
}

func TestEngine_Evaluate_firstFailAborts(t *testing.T) {
	t.Parallel()
	engine := policy.NewEngine(nil, zerolog.Nop())
	policies := []policy.Policy{
		{ID: uuid.New(), PolicyType: policy.TypeHeuristic, PolicyContent: `{"maxLength":5}`, Priority: 100, Enabled: true},
		heuristicPolicy(`{"blockedPatterns":["never seen"]}`, 1),
	}

	d := engine.Evaluate(context.Background(), policies, policy.EvaluationContext{Payload: "this payload is too long"})
	if d.Allowed {
		t.Error("expected the send to be blocked by the higher-priority policy")
	}
}

func TestEngine_Evaluate_trustedRecipientsAllowlist(t *testing.T) {
	t.Parallel()
	engine := policy.NewEngine(nil, zerolog.Nop())
	policies := []policy.Policy{heuristicPolicy(`{"trustedRecipients":["bob"]}`, 1)}

	d := engine.Evaluate(context.Background(), policies, policy.EvaluationContext{Payload: "hi", RecipientUsername: "bob"})
	if !d.Allowed {
		t.Errorf("expected bob to be allowed via the trusted allowlist, reason %q", d.Reason)
	}

	d = engine.Evaluate(context.Background(), policies, policy.EvaluationContext{Payload: "hi", RecipientUsername: "carol"})
	if d.Allowed {
		t.Error("expected carol to be rejected for not being on the trusted allowlist")
	}
}

type alwaysFailLLM struct{}

func (alwaysFailLLM) Evaluate(ctx context.Context, prompt string, evalCtx policy.EvaluationContext) (bool, string, error) {
	return false, "llm rejected the message", nil
}

func TestEngine_Evaluate_llmPolicyHonorsConfiguredEvaluator(t *testing.T) {
	t.Parallel()
	engine := policy.NewEngine(alwaysFailLLM{}, zerolog.Nop())
	policies := []policy.Policy{{ID: uuid.New(), PolicyType: policy.TypeLLM, PolicyContent: "reject spam", Priority: 1, Enabled: true}}

	d := engine.Evaluate(context.Background(), policies, policy.EvaluationContext{Payload: "hi"})
	if d.Allowed {
		t.Error("expected the configured llm evaluator's FAIL to be honored")
	}
}

func TestEngine_Evaluate_noopLLMEvaluatorAlwaysPasses(t *testing.T) {
	t.Parallel()
	engine := policy.NewEngine(nil, zerolog.Nop())
	policies := []policy.Policy{{ID: uuid.New(), PolicyType: policy.TypeLLM, PolicyContent: "reject spam", Priority: 1, Enabled: true}}

	d := engine.Evaluate(context.Background(), policies, policy.EvaluationContext{Payload: "hi"})
	if !d.Allowed {
		t.Errorf("expected the default noop evaluator to pass, got reason %q", d.Reason)
	}
}
