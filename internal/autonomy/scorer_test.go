package autonomy

import (
	"math"
	"testing"
	"time"
)

func defaultScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(ScorerConfig{
		DecisionKeywords: []string{
			"should i", "what if", "maybe", "i think", "i'm not sure", "help me decide",
			"i need to", "i want to", "i have to", "i should", "i could", "i might",
			"what do you think", "any suggestions", "any ideas", "what would you do",
		},
		HighValueTopics: []string{
			"work", "project", "meeting", "deadline", "plan", "schedule", "task",
			"problem", "issue", "decision", "choice", "option", "strategy",
		},
		HesitationPatterns: []string{
			`\b(um|uh|er|ah|hmm|well|so|like|you know)\b`,
			`\b(i mean|i guess|i suppose|sort of|kind of)\b`,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

const stale = 10 * time.Minute

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestAnalyzeDecisionKeyword(t *testing.T) {
	s := defaultScorer(t)
	a := s.Analyze("should i take the new job", nil, stale)
	if a.Trigger != TriggerDecisionKeyword {
		t.Errorf("trigger = %s", a.Trigger)
	}
	if !approx(a.Confidence, 0.3) {
		t.Errorf("confidence = %f, want 0.3", a.Confidence)
	}
}

func TestAnalyzeDecisionScoreCapped(t *testing.T) {
	s := defaultScorer(t)
	// Four keywords at 0.3 each would be 1.2; the cap holds it to 0.8.
	a := s.Analyze("should i do it, maybe i think i need to decide, what do you think", nil, stale)
	if a.Trigger != TriggerDecisionKeyword {
		t.Errorf("trigger = %s", a.Trigger)
	}
	if a.Confidence > 0.8+1e-9 {
		t.Errorf("confidence = %f, want at most 0.8 without recency", a.Confidence)
	}
}

func TestAnalyzeTopicDoesNotOverrideDecision(t *testing.T) {
	s := defaultScorer(t)
	a := s.Analyze("should i skip the meeting", nil, stale)
	if a.Trigger != TriggerDecisionKeyword {
		t.Errorf("trigger = %s, decision keyword must win", a.Trigger)
	}
	if a.Topic != "meeting" {
		t.Errorf("topic = %q, topic still extracted", a.Topic)
	}
	// 0.3 decision + 0.2 topic.
	if !approx(a.Confidence, 0.5) {
		t.Errorf("confidence = %f, want 0.5", a.Confidence)
	}
}

func TestAnalyzeHighValueTopic(t *testing.T) {
	s := defaultScorer(t)
	a := s.Analyze("the project deadline moved again", nil, stale)
	if a.Trigger != TriggerHighValueTopic {
		t.Errorf("trigger = %s", a.Trigger)
	}
	// Two topics at 0.2 each.
	if !approx(a.Confidence, 0.4) {
		t.Errorf("confidence = %f, want 0.4", a.Confidence)
	}
	// The first match in configured order wins.
	if a.Topic != "project" {
		t.Errorf("topic = %q, want project", a.Topic)
	}
}

func TestAnalyzeHesitation(t *testing.T) {
	s := defaultScorer(t)
	a := s.Analyze("um well i guess that could be fine", nil, stale)
	if a.Trigger != TriggerHesitation {
		t.Errorf("trigger = %s", a.Trigger)
	}
	// "um", "well", "i guess": three matches at 0.1 each.
	if !approx(a.Confidence, 0.3) {
		t.Errorf("confidence = %f, want 0.3", a.Confidence)
	}
}

func TestAnalyzeHesitationCapped(t *testing.T) {
	s := defaultScorer(t)
	a := s.Analyze("um uh er ah hmm well so like you know", nil, stale)
	if !approx(a.Confidence, 0.4) {
		t.Errorf("confidence = %f, want 0.4 cap", a.Confidence)
	}
}

func TestAnalyzeRepetition(t *testing.T) {
	s := defaultScorer(t)
	history := []string{"check the oven", "anything new", "check the oven", "Check the oven"}
	a := s.Analyze("something bland", history, stale)
	if a.Trigger != TriggerRepetition {
		t.Errorf("trigger = %s", a.Trigger)
	}
	if !approx(a.Confidence, 0.3) {
		t.Errorf("confidence = %f, want 0.3", a.Confidence)
	}
}

func TestAnalyzeNoRepetitionWithShortHistory(t *testing.T) {
	s := defaultScorer(t)
	a := s.Analyze("hello", []string{"hello", "hello"}, stale)
	if a.Trigger != TriggerPeriodic {
		t.Errorf("trigger = %s, two inputs must not count as repetition", a.Trigger)
	}
}

func TestAnalyzeRecencyBump(t *testing.T) {
	s := defaultScorer(t)
	aged := s.Analyze("the meeting ran long", nil, stale)
	fresh := s.Analyze("the meeting ran long", nil, 5*time.Second)
	if !approx(fresh.Confidence-aged.Confidence, 0.2) {
		t.Errorf("recency bump = %f, want 0.2", fresh.Confidence-aged.Confidence)
	}
}

func TestAnalyzeRecencyAloneStaysPeriodic(t *testing.T) {
	s := defaultScorer(t)
	a := s.Analyze("nothing interesting here", nil, time.Second)
	if a.Trigger != TriggerPeriodic {
		t.Errorf("trigger = %s, want periodic", a.Trigger)
	}
	if !approx(a.Confidence, 0.2) {
		t.Errorf("confidence = %f, want 0.2", a.Confidence)
	}
}

func TestAnalyzeClampedToOne(t *testing.T) {
	s := defaultScorer(t)
	history := []string{"x", "x", "x"}
	a := s.Analyze(
		"should i, what if, maybe, i think about the work project meeting deadline, um well you know",
		history, time.Second)
	if a.Confidence > 1.0 {
		t.Errorf("confidence = %f, exceeds 1.0", a.Confidence)
	}
	if !approx(a.Confidence, 1.0) {
		t.Errorf("confidence = %f, want clamp at 1.0", a.Confidence)
	}
}

func TestAnalyzeCaseInsensitive(t *testing.T) {
	s := defaultScorer(t)
	a := s.Analyze("SHOULD I Worry About The DEADLINE", nil, stale)
	if a.Trigger != TriggerDecisionKeyword {
		t.Errorf("trigger = %s", a.Trigger)
	}
	if a.Topic != "deadline" {
		t.Errorf("topic = %q", a.Topic)
	}
}

func TestNewScorerRejectsBadPattern(t *testing.T) {
	_, err := NewScorer(ScorerConfig{HesitationPatterns: []string{"[unclosed"}})
	if err == nil {
		t.Error("expected error for invalid pattern")
	}
}
