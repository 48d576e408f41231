package summarizer

import (
	"fmt"
	"strings"

	"mm-summarizer/internal/domain"
)

const summarySystemPrompt = `You are an expert conversation summariser.
All messages are unread posts from a Mattermost group that the user belongs to.
Use only the provided conversation content. Ignore greetings or small talk and
focus on decisions, blockers, actions, and unresolved questions.`

const summaryUserTemplate = `Follow these rules:
- Provide up to three bullet points in the Summary section.
- Use a leading hyphen ("-") for each bullet point in any list section.
- If a section has no relevant information, write "None" on its own line.
- Keep the tone professional and neutral.
- Output must match the template exactly without extra commentary.

Conversation:
%s

Respond using this exact template:

Chat Group Analysis Template:

Group Name: %s
Date Range: %s – %s

Summary:

Key Decisions / Actions:

Tone / Sentiment:

Notable Questions / Issues:`

const segmentSystemPrompt = `You are preparing notes for a portion of an unread
Mattermost conversation. Capture critical information only.`

const segmentUserTemplate = `Conversation Segment:
%s

Segment Notes:
- Provide up to 5 succinct bullet points focused on decisions, blockers,
  actions, or important context.
- Ignore greetings or small talk.`

const batchSystemPrompt = `You are an expert conversation summariser. You will receive several unread
Mattermost conversations, each labelled with a group id. Use only the provided
conversation content. Ignore greetings or small talk and focus on decisions,
blockers, actions, and unresolved questions.`

const batchUserTemplate = `Summarise every conversation below. Respond with a strict JSON object and
nothing else: each key is a group id from the input, each value is an array of
3-10 short bullet strings.

%s`

func renderSummaryPrompt(conversation string, context domain.SummaryContext) (string, string) {
	user := fmt.Sprintf(summaryUserTemplate, conversation, context.GroupName, context.StartDate, context.EndDate)
	return summarySystemPrompt, user
}

func renderSegmentPrompt(segment string) (string, string) {
	return segmentSystemPrompt, fmt.Sprintf(segmentUserTemplate, segment)
}

func renderBatchPrompt(groups []domain.ConversationGroup) (string, string) {
	var b strings.Builder
	for i, group := range groups {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Group ID: %s\nGroup Name: %s\nDate Range: %s – %s\nConversation:\n%s",
			group.ID, group.Context.GroupName, group.Context.StartDate, group.Context.EndDate,
			strings.Join(group.Messages, "\n"))
	}
	return batchSystemPrompt, fmt.Sprintf(batchUserTemplate, b.String())
}

// summaryPromptOverhead — токены фиксированного текста финального шаблона
// вместе с системной инструкцией и контекстом.
func summaryPromptOverhead(context domain.SummaryContext) int {
	system, user := renderSummaryPrompt("", context)
	return tokenEstimate(system) + tokenEstimate(user)
}

// segmentPromptOverhead — токены фиксированного текста шаблона заметок.
func segmentPromptOverhead() int {
	system, user := renderSegmentPrompt("")
	return tokenEstimate(system) + tokenEstimate(user)
}
