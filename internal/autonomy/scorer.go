package autonomy

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Per-signal score weights and caps.
const (
	decisionWeight = 0.3
	decisionCap    = 0.8
	topicWeight    = 0.2
	topicCap       = 0.6
	hesitationUnit = 0.1
	hesitationCap  = 0.4
	repetitionBump = 0.3
	recencyBump    = 0.2

	// recencyWindow within which input still counts as fresh.
	recencyWindow = 30 * time.Second

	// repetitionSpan of trailing inputs checked for duplicates.
	repetitionSpan = 3
)

// ScorerConfig lists the phrase signals. Empty slices disable that signal.
type ScorerConfig struct {
	DecisionKeywords   []string
	HighValueTopics    []string
	HesitationPatterns []string // regular expressions
}

// Analysis is the scorer's verdict on the latest input.
type Analysis struct {
	Confidence float64
	Trigger    TriggerType
	Topic      string
}

// Scorer is a pure classifier over recent user input. It holds no mutable
// state and is safe for concurrent use.
type Scorer struct {
	decisionKeywords []string
	topics           []string
	hesitation       []*regexp.Regexp
}

// NewScorer compiles the hesitation patterns.
func NewScorer(cfg ScorerConfig) (*Scorer, error) {
	s := &Scorer{
		decisionKeywords: lowerAll(cfg.DecisionKeywords),
		topics:           lowerAll(cfg.HighValueTopics),
	}
	for _, pattern := range cfg.HesitationPatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid hesitation pattern %q: %w", pattern, err)
		}
		s.hesitation = append(s.hesitation, re)
	}
	return s, nil
}

// Analyze scores the latest input. history is the recent inputs including
// the latest; sinceActivity is the time since the user last spoke. Trigger
// precedence follows signal strength: decision keywords beat topics beat
// hesitation beats repetition; only an otherwise-unmarked input stays
// periodic.
func (s *Scorer) Analyze(latest string, history []string, sinceActivity time.Duration) Analysis {
	text := strings.ToLower(latest)
	confidence := 0.0
	trigger := TriggerPeriodic
	topic := ""

	decisionScore := 0.0
	for _, keyword := range s.decisionKeywords {
		if strings.Contains(text, keyword) {
			decisionScore += decisionWeight
		}
	}
	if decisionScore > 0 {
		confidence += min(decisionScore, decisionCap)
		trigger = TriggerDecisionKeyword
	}

	topicScore := 0.0
	for _, t := range s.topics {
		if strings.Contains(text, t) {
			topicScore += topicWeight
			if topic == "" {
				topic = t
			}
		}
	}
	if topicScore > 0 {
		confidence += min(topicScore, topicCap)
		if trigger == TriggerPeriodic {
			trigger = TriggerHighValueTopic
		}
	}

	hesitations := 0
	for _, re := range s.hesitation {
		hesitations += len(re.FindAllStringIndex(text, -1))
	}
	if hesitations > 0 {
		confidence += min(float64(hesitations)*hesitationUnit, hesitationCap)
		if trigger == TriggerPeriodic {
			trigger = TriggerHesitation
		}
	}

	if hasRecentDuplicate(history) {
		confidence += repetitionBump
		if trigger == TriggerPeriodic {
			trigger = TriggerRepetition
		}
	}

	if sinceActivity < recencyWindow {
		confidence += recencyBump
	}

	return Analysis{
		Confidence: min(confidence, 1.0),
		Trigger:    trigger,
		Topic:      topic,
	}
}

// hasRecentDuplicate reports an exact (case-insensitive) duplicate among
// the last repetitionSpan inputs. Fewer inputs than the span never match.
func hasRecentDuplicate(history []string) bool {
	if len(history) < repetitionSpan {
		return false
	}
	recent := history[len(history)-repetitionSpan:]
	seen := make(map[string]struct{}, len(recent))
	for _, t := range recent {
		key := strings.ToLower(t)
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
	}
	return false
}

func lowerAll(items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = strings.ToLower(s)
	}
	return out
}
