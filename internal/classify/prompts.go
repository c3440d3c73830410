package classify

import (
	"fmt"
	"strings"

	"github.com/dvalenz/finledger/internal/domain"
)

// categoriesPrompt lists the fixed category vocabulary and constrains what
// the model may output.
func categoriesPrompt() string {
	var b strings.Builder
	b.WriteString("Use ONLY the following categories:\n\n")
	for _, c := range domain.Categories {
		b.WriteString("  - " + c + "\n")
	}
	b.WriteString("\nCATEGORY RULES:\n")
	b.WriteString("1. \"category\" must be EXACTLY one of the names above.\n")
	b.WriteString("2. If you are unsure, use \"Other\".\n")
	return b.String()
}

func classifyPrompt(req Request) string {
	base :=
		"You are a personal-finance movement classifier.\n\n" +
			"Task:\n" +
			"- Categorize the movement below and decide whether it must be split.\n" +
			"- A movement needs a DEBIT split when part of it was paid on behalf of\n" +
			"  someone else (shared dinner, group purchase); \"split_amount\" is then\n" +
			"  the user's personal portion and \"split_category\" its category.\n" +
			"- A movement needs an EXPENSE split when one payment spans two expense\n" +
			"  categories; \"split_amount\" is then the portion to carve off.\n" +
			"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n\n" +
			"Output a single JSON object with these fields:\n" +
			"- \"category\": string or null\n" +
			"- \"needs_split\": boolean\n" +
			"- \"split_type\": \"DEBIT\", \"EXPENSE\" or null\n" +
			"- \"split_amount\": number or null\n" +
			"- \"split_description\": string or null\n" +
			"- \"split_category\": string or null\n" +
			"- \"clean_description\": string (a tidy human-readable description)\n\n"

	movement := fmt.Sprintf(
		"Movement:\n"+
			"- description: %s\n"+
			"- amount: %s\n"+
			"- currency: %s\n"+
			"- source_description: %s\n"+
			"- type: %s\n"+
			"- direction: %s\n\n",
		req.Description, req.Amount, req.Currency, req.SourceDescription, req.Type, req.Direction)

	rules :=
		"Return ONLY valid raw JSON.\n" +
			"Do NOT wrap the response in code fences.\n" +
			"Output must begin with \"{\" and end with \"}\".\n"

	return base + categoriesPrompt() + "\n\n" + movement + rules
}

func emailPrompt(body string) string {
	return "You are a parser for bank transaction notification emails.\n\n" +
		"Task:\n" +
		"- Extract the transaction from the email body below.\n" +
		"- Output STRICT JSON only, a single object with these fields:\n" +
		"- \"amount\": number (always positive)\n" +
		"- \"currency\": string (ISO code, e.g. \"CLP\")\n" +
		"- \"source_description\": string (merchant or counterparty as written)\n" +
		"- \"timestamp\": string, format \"YYYY-MM-DD HH:MM:SS\"\n" +
		"- \"transaction_type\": one of \"expense\", \"cash\", \"debit\", \"credit\", \"debit_repayment\"\n\n" +
		"Email body:\n---\n" + body + "\n---\n\n" +
		"Return ONLY valid raw JSON, beginning with \"{\" and ending with \"}\".\n"
}

func matchPrompt(repayment *domain.Movement, candidates []*domain.Movement) string {
	var b strings.Builder
	b.WriteString("You match an incoming repayment against outstanding debts.\n\n")
	b.WriteString(fmt.Sprintf(
		"Repayment:\n- amount: %s %s\n- description: %s\n- date: %s\n\n",
		repayment.Amount, repayment.Currency, repayment.UserDescription, repayment.Timestamp.Format("2006-01-02")))
	b.WriteString("Outstanding debts:\n")
	for _, c := range candidates {
		b.WriteString(fmt.Sprintf("- id %d: %s %s, %q, %s\n",
			c.ID, c.Amount, c.Currency, c.UserDescription, c.Timestamp.Format("2006-01-02")))
	}
	b.WriteString("\nPick AT MOST ONE debt the repayment most plausibly settles,\n")
	b.WriteString("judging by amount similarity, description and time proximity.\n")
	b.WriteString("Output STRICT JSON: {\"movement_id\": <id>} or {\"movement_id\": null}.\n")
	b.WriteString("Return ONLY valid raw JSON, no code fences.\n")
	return b.String()
}
