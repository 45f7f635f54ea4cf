package extraction

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/voice-ledger/internal/domain"
)

// buildPrompt constructs the instruction sent to the model for one
// utterance. Only active entities are offered.
func buildPrompt(utterance string, entities []domain.Entity, categories []domain.Category, today civil.Date) string {
	var b strings.Builder

	b.WriteString("You extract one financial transaction from a short spoken sentence (usually Brazilian Portuguese).\n\n")

	b.WriteString("Today is " + today.String() + " (" + today.In(time.UTC).Weekday().String() + ").\n")
	b.WriteString("Resolve relative dates such as \"hoje\", \"ontem\", \"anteontem\" or weekday names against today.\n\n")

	b.WriteString("Known companies (use these exact names when one is mentioned):\n")
	active := domain.ActiveEntities(entities)
	if len(active) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, e := range active {
		b.WriteString("  - " + e.Name + "\n")
	}
	b.WriteString("\n")

	b.WriteString("Known categories (name: kind):\n")
	if len(categories) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, c := range categories {
		b.WriteString("  - " + c.Name + ": " + string(c.Kind) + "\n")
	}
	b.WriteString("\n")

	b.WriteString("Return a single JSON object with these fields:\n" +
		"- \"type\": \"income\" or \"expense\"\n" +
		"- \"amount\": number, positive, no currency symbol\n" +
		"- \"description\": string, short summary\n" +
		"- \"origin_name\": string or null (the company paying)\n" +
		"- \"destination_name\": string or null (the company receiving)\n" +
		"- \"suggested_category\": string or null (one of the known categories compatible with the type)\n" +
		"- \"date\": string, ISO format \"YYYY-MM-DD\"\n" +
		"- \"confidence\": number between 0 and 1\n\n")

	b.WriteString("Rules:\n" +
		"1. One company and an income: set only destination_name.\n" +
		"2. One company and an expense: set only origin_name.\n" +
		"3. Two companies: it is a transfer; set origin_name and destination_name.\n" +
		"4. If no amount is said, set amount to 0. Never invent an amount.\n" +
		"5. If no date is said, use today.\n" +
		"6. confidence is 0.9 or more only when type, amount and companies are all explicit; lower it for every guess.\n\n")

	b.WriteString("Sentence: " + quote(utterance) + "\n\n")

	b.WriteString("Return ONLY valid raw JSON.\n" +
		"Do NOT wrap the response in code fences.\n" +
		"Output must begin with \"{\" and end with \"}\".\n")

	return b.String()
}

func quote(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "'") + "\""
}
