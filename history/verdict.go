// Package history derives a verdict for each lookup and keeps a searchable
// record of past lookups in SQLite.
package history

import (
	"github.com/teranos/cyberlens/internal/util"
	"github.com/teranos/cyberlens/orchestrator"
	"github.com/teranos/cyberlens/provider"
)

// Verdict labels
const (
	VerdictMalicious  = "malicious"
	VerdictSuspicious = "suspicious"
	VerdictBenign     = "benign"
	VerdictUnknown    = "unknown"
)

// Score thresholds, inclusive
const (
	MaliciousThreshold  = 70
	SuspiciousThreshold = 30
)

// Verdict is the overall judgement for one lookup
type Verdict struct {
	Verdict string `json:"verdict"`
	// Score is the highest provider score, nil when no provider had an opinion
	Score *int `json:"score"`
}

// DeriveVerdict takes the highest threat score among successful provider
// payloads. Payloads without an opinion are ignored; if none remain the
// verdict is unknown.
func DeriveVerdict(resp *orchestrator.Response) Verdict {
	if resp == nil {
		return Verdict{Verdict: VerdictUnknown}
	}

	best := -1
	for _, r := range resp.Providers {
		if r.Status != provider.StatusSuccess {
			continue
		}
		scored, ok := r.Data.(provider.Scored)
		if !ok {
			continue
		}
		score, ok := scored.ThreatScore()
		if !ok {
			continue
		}
		if score > best {
			best = score
		}
	}

	if best < 0 {
		return Verdict{Verdict: VerdictUnknown}
	}
	return Verdict{Verdict: VerdictForScore(best), Score: util.Ptr(best)}
}

// VerdictForScore maps a 0..100 score to a label
func VerdictForScore(score int) string {
	switch {
	case score >= MaliciousThreshold:
		return VerdictMalicious
	case score >= SuspiciousThreshold:
		return VerdictSuspicious
	default:
		return VerdictBenign
	}
}
