package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mlozhkin/docledger/internal/record"
)

// maxDocumentChars bounds the document text embedded in a prompt. Receipts
// and statements fit comfortably; anything longer is clipped with a marker
// so the model knows text is missing.
const maxDocumentChars = 12000

const responseShape = `{
  "merchant": {"value": "<merchant name>", "confidence": <0.0-1.0>},
  "description": {"value": "<short summary>", "confidence": <0.0-1.0>},
  "amount": {"value": <total as a number, negative for refunds>, "confidence": <0.0-1.0>},
  "currency": {"value": "<ISO 4217 code>", "confidence": <0.0-1.0>},
  "date": {"value": "<YYYY-MM-DD>", "confidence": <0.0-1.0>},
  "category": {"value": "<one category from the list>", "confidence": <0.0-1.0>},
  "line_items": [{"description": "<item>", "amount": <number>}]
}`

// buildCategoriesSection lists the allowed categories the way the response
// must name them.
func buildCategoriesSection() string {
	var sb strings.Builder
	sb.WriteString("Use ONLY the following categories:\n")
	for i, c := range record.Taxonomy() {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, c))
	}
	return sb.String()
}

// buildPrompt assembles the extraction prompt for one document.
func buildPrompt(text string) string {
	var sb strings.Builder

	sb.WriteString("You are a financial document parser. Extract structured fields from the document text below.\n\n")
	sb.WriteString(buildCategoriesSection())
	sb.WriteString("\nReturn a single JSON object with exactly this shape:\n")
	sb.WriteString(responseShape)
	sb.WriteString("\n\nEXTRACTION RULES:\n")
	sb.WriteString("1. \"amount\" is the grand total of the document as a plain number. Use a negative number for refunds and credits.\n")
	sb.WriteString("2. \"date\" is the transaction date in YYYY-MM-DD format.\n")
	sb.WriteString("3. \"merchant\" is the business name as printed, without address or phone number.\n")
	sb.WriteString("4. Every \"confidence\" reflects how certain you are about that field, between 0.0 and 1.0.\n")
	sb.WriteString("5. If a field is unreadable, use an empty string value and a confidence of 0.0.\n")
	sb.WriteString("6. \"line_items\" may be an empty list when the document has no itemization.\n")
	sb.WriteString("7. Return ONLY valid raw JSON.\n")
	sb.WriteString("8. Do NOT wrap the response in code fences.\n")
	sb.WriteString("\nDOCUMENT TEXT:\n")
	sb.WriteString(clipPrompt(text))

	return sb.String()
}

// buildCorrectivePrompt is the stricter second attempt after a response
// failed to parse. It names the failure and restates the shape.
func buildCorrectivePrompt(text, cause string) string {
	var sb strings.Builder

	sb.WriteString("Your previous response could not be parsed: ")
	sb.WriteString(cause)
	sb.WriteString("\n\nRespond again. Return ONLY a single valid JSON object matching exactly this shape, with no prose before or after it and no code fences:\n")
	sb.WriteString(responseShape)
	sb.WriteString("\n\n")
	sb.WriteString(buildCategoriesSection())
	sb.WriteString("\nDOCUMENT TEXT:\n")
	sb.WriteString(clipPrompt(text))

	return sb.String()
}

func clipPrompt(text string) string {
	if len(text) <= maxDocumentChars {
		return text
	}
	cut := maxDocumentChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "\n[truncated]"
}
