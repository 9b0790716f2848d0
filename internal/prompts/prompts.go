package prompts

import (
	"strconv"
	"strings"

	"github.com/malikkhubiev/qdrant/internal/session"
)

const (
	DefaultSystem   = "Ты вежливый робот-менеджер по продажам хостинга. Отвечай кратко, по делу и только на русском языке. Опирайся на контекст."
	DefaultGreeting = "Здравствуйте! Вас приветствует робот-менеджер по продажам. Чем могу помочь?"
	DefaultApology  = "Извините, произошла ошибка."
)

// ForSession resolves the final system prompt for a call session.
func ForSession(systemPrompt string) string {
	if systemPrompt != "" {
		return systemPrompt
	}
	return DefaultSystem
}

// Builder assembles the user turn sent to the completion backend: recent
// dialog, the caller's question and the retrieved knowledge.
type Builder struct {
	counter  Counter
	maxTurns int
	budget   int
}

// NewBuilder creates a builder that includes at most maxTurns history
// utterances, dropping the oldest ones while the prompt exceeds budget tokens.
// A zero budget disables token trimming.
func NewBuilder(counter Counter, maxTurns, budget int) *Builder {
	if counter == nil {
		counter = RuneCounter{}
	}
	return &Builder{counter: counter, maxTurns: maxTurns, budget: budget}
}

// Build renders the prompt. history must not contain the current question.
func (b *Builder) Build(question string, snippets []string, history []session.Utterance) string {
	core := renderCore(question, snippets)

	if b.maxTurns >= 0 && len(history) > b.maxTurns {
		history = history[len(history)-b.maxTurns:]
	}

	lines := make([]string, 0, len(history))
	used := b.counter.Count(core)
	for i := len(history) - 1; i >= 0; i-- {
		line := speakerLabel(history[i].Speaker) + ": " + history[i].Text
		cost := b.counter.Count(line)
		if b.budget > 0 && used+cost > b.budget {
			break
		}
		used += cost
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return core
	}

	var sb strings.Builder
	sb.WriteString("История диалога:\n")
	for i := len(lines) - 1; i >= 0; i-- {
		sb.WriteString(lines[i])
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	sb.WriteString(core)
	return sb.String()
}

func renderCore(question string, snippets []string) string {
	var sb strings.Builder
	sb.WriteString("Клиент: ")
	sb.WriteString(question)
	sb.WriteByte('\n')
	if len(snippets) > 0 {
		sb.WriteString("Контекст:\n")
		for i, s := range snippets {
			sb.WriteString(strconv.Itoa(i + 1))
			sb.WriteString(". ")
			sb.WriteString(s)
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("Ответ:")
	return sb.String()
}

func speakerLabel(s session.Speaker) string {
	if s == session.SpeakerAgent {
		return "Менеджер"
	}
	return "Клиент"
}
