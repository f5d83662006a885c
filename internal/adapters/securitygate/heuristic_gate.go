package securitygate

import (
	"context"
	"net"
	"strings"

	"github.com/viralforge/ppv-access-service/internal/ports"
)

const DefaultBlockThreshold = 0.7

var automationAgents = []string{"headless", "phantomjs", "selenium", "puppeteer", "playwright", "curl/", "wget/", "python-requests", "go-http-client"}

// HeuristicGate scores request metadata locally. It stands in for the
// external gate in single-node deployments.
type HeuristicGate struct {
	threshold float64
}

func NewHeuristicGate(threshold float64) *HeuristicGate {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultBlockThreshold
	}
	return &HeuristicGate{threshold: threshold}
}

func (g *HeuristicGate) Evaluate(_ context.Context, sc ports.SecurityContext) (ports.SecurityDecision, error) {
	if strings.TrimSpace(sc.Honeypot) != "" {
		return ports.SecurityDecision{Allowed: false, Score: 1, Reason: "honeypot field populated", Code: "BOT_DETECTED"}, nil
	}
	score, flags := Score(sc)
	if score >= g.threshold {
		return ports.SecurityDecision{Allowed: false, Score: score, Reason: strings.Join(flags, ","), Code: "RISK_TOO_HIGH"}, nil
	}
	return ports.SecurityDecision{Allowed: true, Score: score, Reason: strings.Join(flags, ",")}, nil
}

// Score is additive and clamped to [0,1].
func Score(sc ports.SecurityContext) (float64, []string) {
	score := 0.05
	flags := make([]string, 0, 4)
	ua := strings.ToLower(strings.TrimSpace(sc.UserAgent))
	if ua == "" {
		score += 0.35
		flags = append(flags, "missing_user_agent")
	}
	for _, marker := range automationAgents {
		if strings.Contains(ua, marker) {
			score += 0.70
			flags = append(flags, "automation_agent")
			break
		}
	}
	if sc.FormFillMillis > 0 && sc.FormFillMillis < 1500 {
		score += 0.30
		flags = append(flags, "fast_form_fill")
	}
	if strings.TrimSpace(sc.Fingerprint) == "" {
		score += 0.10
		flags = append(flags, "missing_fingerprint")
	}
	if ip := net.ParseIP(strings.TrimSpace(sc.IPAddress)); ip == nil && sc.IPAddress != "" {
		score += 0.20
		flags = append(flags, "malformed_ip")
	}
	return clamp(score), flags
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
