package notionexport

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"

	"github.com/mlozhkin/docledger/internal/record"
)

// RecordToProperties maps a ledger record onto the review database columns.
// "Record ID" is the title property and the sync key; the rest mirror the
// export field set plus the review metadata.
func RecordToProperties(rec record.DocumentRecord) notionapi.Properties {
	props := notionapi.Properties{
		"Record ID": notionapi.TitleProperty{
			Title: richText(rec.ID),
		},
		"Date": notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: notionDate(rec.Date)},
		},
		"Amount": notionapi.NumberProperty{
			Number: amountFloat(rec),
		},
		"Currency": notionapi.SelectProperty{
			Select: notionapi.Option{Name: rec.Amount.Currency()},
		},
		"Category": notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(rec.Category)},
		},
		"Status": notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(rec.Status)},
		},
		"Confidence": notionapi.NumberProperty{
			Number: rec.Confidence,
		},
		"Source Kind": notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(rec.SourceKind)},
		},
	}

	if rec.Merchant != "" {
		props["Merchant"] = notionapi.RichTextProperty{RichText: richText(rec.Merchant)}
	}
	if rec.Description != "" {
		props["Description"] = notionapi.RichTextProperty{RichText: richText(rec.Description)}
	}
	if rec.ReviewReason != "" {
		props["Review Reason"] = notionapi.RichTextProperty{RichText: richText(rec.ReviewReason)}
	}
	if rec.Supersedes != "" {
		props["Supersedes"] = notionapi.RichTextProperty{RichText: richText(rec.Supersedes)}
	}

	return props
}

// RecordIDFromPage reads the sync key back from a page. Empty when the page
// was not created by this sync.
func RecordIDFromPage(page notionapi.Page) string {
	prop, ok := page.Properties["Record ID"]
	if !ok {
		return ""
	}
	title, ok := prop.(*notionapi.TitleProperty)
	if !ok || len(title.Title) == 0 {
		return ""
	}
	return title.Title[0].PlainText
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: content},
		},
	}
}

func notionDate(d civil.Date) *notionapi.Date {
	nd := notionapi.Date(time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC))
	return &nd
}

func amountFloat(rec record.DocumentRecord) float64 {
	f, _ := rec.Amount.Amount().Float64()
	return f
}
