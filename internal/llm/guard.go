package llm

import (
	"context"

	"github.com/mdombrov-33/go-promptguard/detector"
)

// Guard screens untrusted text before it is placed into a prompt
type Guard interface {
	Screen(ctx context.Context, text string) (flagged bool, risk float64)
}

// PromptGuard flags prompt injection attempts in lead messages
type PromptGuard struct {
	detect func(ctx context.Context, text string) (bool, float64)
}

func NewPromptGuard() *PromptGuard {
	d := detector.New()
	return &PromptGuard{detect: func(ctx context.Context, text string) (bool, float64) {
		res := d.Detect(ctx, text)
		return !res.Safe, res.RiskScore
	}}
}

func (g *PromptGuard) Screen(ctx context.Context, text string) (bool, float64) {
	if text == "" {
		return false, 0
	}
	return g.detect(ctx, text)
}
