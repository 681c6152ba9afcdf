package categorize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mlozhkin/docledger/internal/record"
)

func testTable() map[string]record.Category {
	return map[string]record.Category{
		"COFFEE HOUSE":         record.CategoryMeals,
		"COFFEE HOUSE AIRPORT": record.CategoryTravel,
		"acme software":        record.CategorySoftware,
	}
}

func TestCategorize(t *testing.T) {
	c := New(testTable(), 0.6)

	tests := []struct {
		name           string
		merchant       string
		suggested      string
		suggestedConf  float64
		wantCategory   record.Category
		wantConfidence float64
		wantSource     Source
		wantReview     bool
	}{
		{
			name:           "exact table match",
			merchant:       "COFFEE HOUSE",
			suggested:      "Office", // table wins over the model
			suggestedConf:  0.95,
			wantCategory:   record.CategoryMeals,
			wantConfidence: 1.0,
			wantSource:     SourceMerchantTable,
		},
		{
			name:           "case and spacing insensitive",
			merchant:       "  coffee   house ",
			suggested:      "",
			wantCategory:   record.CategoryMeals,
			wantConfidence: 1.0,
			wantSource:     SourceMerchantTable,
		},
		{
			name:           "longest substring wins",
			merchant:       "COFFEE HOUSE AIRPORT T5",
			suggested:      "",
			wantCategory:   record.CategoryTravel,
			wantConfidence: 1.0,
			wantSource:     SourceMerchantTable,
		},
		{
			name:           "substring match",
			merchant:       "ACME SOFTWARE SUBSCRIPTION",
			suggested:      "",
			wantCategory:   record.CategorySoftware,
			wantConfidence: 1.0,
			wantSource:     SourceMerchantTable,
		},
		{
			name:           "model suggestion above threshold",
			merchant:       "UNKNOWN DINER",
			suggested:      "Meals",
			suggestedConf:  0.8,
			wantCategory:   record.CategoryMeals,
			wantConfidence: 0.8,
			wantSource:     SourceModel,
		},
		{
			name:           "model suggestion at threshold",
			merchant:       "UNKNOWN DINER",
			suggested:      "meals",
			suggestedConf:  0.6,
			wantCategory:   record.CategoryMeals,
			wantConfidence: 0.6,
			wantSource:     SourceModel,
		},
		{
			name:           "model suggestion below threshold",
			merchant:       "UNKNOWN DINER",
			suggested:      "Meals",
			suggestedConf:  0.59,
			wantCategory:   record.CategoryUncategorized,
			wantConfidence: 0.59,
			wantSource:     SourceNone,
			wantReview:     true,
		},
		{
			name:          "model invented a category",
			merchant:      "UNKNOWN DINER",
			suggested:     "Groceries",
			suggestedConf: 0.9,
			wantCategory:  record.CategoryUncategorized,
			wantSource:    SourceNone,
			wantReview:    true,
		},
		{
			name:         "nothing to go on",
			merchant:     "",
			suggested:    "",
			wantCategory: record.CategoryUncategorized,
			wantSource:   SourceNone,
			wantReview:   true,
		},
		{
			name:          "model says uncategorized",
			merchant:      "MYSTERY VENDOR",
			suggested:     "Uncategorized",
			suggestedConf: 0.9,
			wantCategory:  record.CategoryUncategorized,
			wantSource:    SourceNone,
			wantReview:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Categorize(tt.merchant, tt.suggested, tt.suggestedConf)
			if got.Category != tt.wantCategory {
				t.Errorf("Category = %s, want %s", got.Category, tt.wantCategory)
			}
			if got.Source != tt.wantSource {
				t.Errorf("Source = %s, want %s", got.Source, tt.wantSource)
			}
			if got.NeedsReview != tt.wantReview {
				t.Errorf("NeedsReview = %v, want %v", got.NeedsReview, tt.wantReview)
			}
			if tt.wantSource != SourceNone && got.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %g, want %g", got.Confidence, tt.wantConfidence)
			}
			if tt.wantReview && got.Reason == "" {
				t.Error("review decisions must carry a reason")
			}
		})
	}
}

func TestLoadMerchantMap(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid table", func(t *testing.T) {
		path := filepath.Join(dir, "merchants.json")
		content := `{"COFFEE HOUSE": "Meals", "CITY CABS": "travel"}`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}

		table, err := LoadMerchantMap(path)
		if err != nil {
			t.Fatalf("LoadMerchantMap: %v", err)
		}
		if table["COFFEE HOUSE"] != record.CategoryMeals {
			t.Errorf("COFFEE HOUSE = %s", table["COFFEE HOUSE"])
		}
		if table["CITY CABS"] != record.CategoryTravel {
			t.Errorf("CITY CABS = %s", table["CITY CABS"])
		}
	})

	t.Run("unknown category fails load", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		if err := os.WriteFile(path, []byte(`{"SHOP": "Groceries"}`), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadMerchantMap(path); err == nil {
			t.Fatal("expected error for unknown category")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadMerchantMap(filepath.Join(dir, "nope.json")); err == nil {
			t.Fatal("expected error for missing file")
		}
	})
}
