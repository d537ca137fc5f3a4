package chat

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/lexcodex/mindwell/llm"
	"github.com/lexcodex/mindwell/persistence"
)

// UnknownEmotionalState is recorded when the completion carries no
// parsable emotional state.
const UnknownEmotionalState = "Could not determine"

var (
	emotionalStateRe  = regexp.MustCompile(`(?i)Emotional State:\s*\n?\s*\*\s*(.*)`)
	keyTopicsRe       = regexp.MustCompile(`(?is)Key Topics:\s*\n(.*?)\n*Notable Patterns:`)
	notablePatternsRe = regexp.MustCompile(`(?is)Notable Patterns:\s*\n(.*)$`)
)

// Analyzer runs the conversation sentiment analysis and records at most
// one result per user per calendar day.
type Analyzer struct {
	model  llm.Provider
	store  persistence.AnalysisStore
	Logger *log.Logger
	Now    func() time.Time
}

func NewAnalyzer(model llm.Provider, store persistence.AnalysisStore, logger *log.Logger) *Analyzer {
	return &Analyzer{model: model, store: store, Logger: logger, Now: time.Now}
}

// DoneToday reports whether an analysis was already recorded for the
// owner today.
func (a *Analyzer) DoneToday(ctx context.Context, ownerID string) (bool, error) {
	return a.store.AnalysisExistsOn(ctx, ownerID, a.Now())
}

// Analyze runs the sentiment analysis over the conversation and
// persists the result. When today's analysis already exists it returns
// ran=false and leaves the store untouched.
func (a *Analyzer) Analyze(ctx context.Context, ownerID string, messages []llm.Message) (result persistence.Analysis, ran bool, err error) {
	exists, err := a.store.AnalysisExistsOn(ctx, ownerID, a.Now())
	if err != nil {
		return persistence.Analysis{}, false, fmt.Errorf("checking today's analysis: %w", err)
	}
	if exists {
		a.logf("analysis for owner %s already recorded today, skipping", ownerID)
		return persistence.Analysis{}, false, nil
	}

	resp, err := a.model.Generate(ctx, llm.BuildAnalysisPrompt(messages), nil)
	if err != nil {
		return persistence.Analysis{}, false, fmt.Errorf("analysis completion: %w", err)
	}

	extracted := ExtractAnalysis(resp.Text)
	record := persistence.Analysis{
		OwnerID:         ownerID,
		EmotionalState:  extracted.EmotionalState,
		KeyTopics:       extracted.KeyTopics,
		NotablePatterns: extracted.NotablePatterns,
		CreatedAt:       a.Now(),
	}
	id, err := a.store.CreateAnalysis(ctx, record)
	if err != nil {
		return persistence.Analysis{}, false, fmt.Errorf("storing analysis: %w", err)
	}
	record.ID = id
	a.logf("recorded analysis %s for owner %s: %s", id, ownerID, record.EmotionalState)
	return record, true, nil
}

// AnalysisData is the parsed shape of an analysis completion.
type AnalysisData struct {
	EmotionalState  string
	KeyTopics       []string
	NotablePatterns []string
}

// ExtractAnalysis pulls the three report sections out of the raw
// completion text. Missing sections degrade to defaults rather than
// failing; the model does not always follow the format exactly.
func ExtractAnalysis(text string) AnalysisData {
	out := AnalysisData{
		EmotionalState:  UnknownEmotionalState,
		KeyTopics:       []string{},
		NotablePatterns: []string{},
	}
	if text == "" {
		return out
	}
	if m := emotionalStateRe.FindStringSubmatch(text); len(m) > 1 {
		if state := strings.TrimSpace(m[1]); state != "" {
			out.EmotionalState = state
		}
	}
	if m := keyTopicsRe.FindStringSubmatch(text); len(m) > 1 {
		out.KeyTopics = splitBullets(m[1])
	}
	if m := notablePatternsRe.FindStringSubmatch(text); len(m) > 1 {
		out.NotablePatterns = splitBullets(m[1])
	}
	return out
}

func splitBullets(section string) []string {
	parts := strings.Split(section, "*")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (a *Analyzer) logf(format string, args ...interface{}) {
	if a.Logger == nil {
		return
	}
	a.Logger.Printf("[analyzer] "+format, args...)
}
