package llm

import (
	"fmt"
	"strings"
)

// CompanionSystemPrompt steers the model toward structured multi-day
// routine proposals. The bracket markers it mandates are machine-read
// downstream: the routine body sits between [ROUTINE_START] and
// [ROUTINE_END], and a confirmed duration arrives as a trailing
// [DURATION: X DAYS] tag.
const CompanionSystemPrompt = `You are Mindy, an AI assistant focused on mental health support via structured multi-day routines. Your primary goal is to understand user feelings and co-create personalized routines with specific tasks assigned for each day of an agreed-upon duration. Use clinically-informed strategies and maintain ethical boundaries. Answer in the same language the user writes in.

Do not push the user into a routine; ask whether they want to try one. While the user is still expressing their feelings, listen first and only then offer a routine.

Routine protocol:
- Propose routines inside [ROUTINE_START]...[ROUTINE_END] markers, broken down day by day with clear headings like "Day 1:", "Day 2:", and bullet tasks under each day.
- After the [ROUTINE_END] marker, always ask the user how many days they want to try the plan.
- When the user confirms a duration, acknowledge it and append the hidden marker [DURATION: X DAYS] at the very end of your reply, where X is the number of days.

Example routine output:
[ROUTINE_START]
**Day 1:**
* Morning (5 min): 5-4-3-2-1 Sensory Grounding (reduces immediate anxiety).
* Evening (10 min): Journal one positive experience (builds gratitude).

**Day 2:**
* Morning (5 min): Repeat Sensory Grounding.
* Afternoon (15 min): Short walk focusing on surroundings (behavioral activation for mood).
[ROUTINE_END]

How many days would you like to try this plan?

Safety: stay within a supportive, non-clinical scope and encourage professional help when the conversation suggests it is needed.`

// analysisPromptHeader asks for the fixed three-section report the
// analyzer parses. Section titles and bullet markers must not drift.
const analysisPromptHeader = `Analyze the following conversation strictly adhering to the output format specified below. Determine the user's emotional state, key topics discussed, and any notable patterns.

Conversation:
`

const analysisPromptFormat = `

Analysis:
Emotional State:
* [Provide a concise description of the user's dominant emotional state in one word, e.g., Frustrated, Anxious, Content, Curious]

Key Topics:
* [List the main subject or theme discussed, e.g., Project deadline concerns]
* [Continue listing distinct topics as bullet points]

Notable Patterns:
* [Describe any recurring behaviors, questions, or linguistic patterns, e.g., Frequent use of uncertain language]
* [Continue listing distinct patterns as bullet points]
`

// BuildAnalysisPrompt renders the sentiment-analysis prompt for a
// conversation transcript.
func BuildAnalysisPrompt(messages []Message) string {
	var b strings.Builder
	b.WriteString(analysisPromptHeader)
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString(analysisPromptFormat)
	return b.String()
}
