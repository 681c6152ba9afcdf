package notionexport

import (
	"testing"

	"github.com/jomei/notionapi"

	"github.com/mlozhkin/docledger/internal/record"
)

func TestRecordToProperties(t *testing.T) {
	rec := testRecord("text:abc")
	rec.ReviewReason = "extraction degraded"
	rec.Status = record.StatusNeedsReview

	props := RecordToProperties(rec)

	title, ok := props["Record ID"].(notionapi.TitleProperty)
	if !ok || title.Title[0].Text.Content != "text:abc" {
		t.Errorf("Record ID = %+v, want title text:abc", props["Record ID"])
	}

	amount, ok := props["Amount"].(notionapi.NumberProperty)
	if !ok || amount.Number != 4.5 {
		t.Errorf("Amount = %+v, want 4.5", props["Amount"])
	}

	category, ok := props["Category"].(notionapi.SelectProperty)
	if !ok || category.Select.Name != "Meals" {
		t.Errorf("Category = %+v, want Meals", props["Category"])
	}

	status, ok := props["Status"].(notionapi.SelectProperty)
	if !ok || status.Select.Name != "needs_review" {
		t.Errorf("Status = %+v, want needs_review", props["Status"])
	}

	reason, ok := props["Review Reason"].(notionapi.RichTextProperty)
	if !ok || reason.RichText[0].Text.Content != "extraction degraded" {
		t.Errorf("Review Reason = %+v", props["Review Reason"])
	}
}

func TestRecordToPropertiesOmitsEmptyFields(t *testing.T) {
	rec := testRecord("text:abc")
	rec.Merchant = ""

	props := RecordToProperties(rec)

	if _, ok := props["Merchant"]; ok {
		t.Error("empty merchant should not produce a property")
	}
	if _, ok := props["Supersedes"]; ok {
		t.Error("records without a supersedes link should not produce the property")
	}
}

func TestRecordIDFromPage(t *testing.T) {
	tests := []struct {
		name string
		page notionapi.Page
		want string
	}{
		{"keyed page", pageFor("p1", "text:abc"), "text:abc"},
		{"no properties", notionapi.Page{ID: "p2", Properties: notionapi.Properties{}}, ""},
		{
			"wrong property type",
			notionapi.Page{ID: "p3", Properties: notionapi.Properties{
				"Record ID": &notionapi.RichTextProperty{},
			}},
			"",
		},
		{
			"empty title",
			notionapi.Page{ID: "p4", Properties: notionapi.Properties{
				"Record ID": &notionapi.TitleProperty{},
			}},
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RecordIDFromPage(tt.page); got != tt.want {
				t.Errorf("RecordIDFromPage = %q, want %q", got, tt.want)
			}
		})
	}
}
