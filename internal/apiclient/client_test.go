package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRecordsSendsFiltersAndDecodes(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/records" {
			t.Errorf("path = %s, want /api/records", r.URL.Path)
		}
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"records":[{"id":"text:abc","merchant":"COFFEE HOUSE","amount":{"value":"4.50","currency":"USD"},"date":"2024-03-01","category":"Meals","status":"accepted"}],"count":1}`))
	}))
	defer srv.Close()

	records, err := New(srv.URL).Records(context.Background(), RecordsQuery{
		Category: "Meals",
		Status:   "accepted",
		From:     "2024-01-01",
		To:       "2024-03-31",
	})
	if err != nil {
		t.Fatalf("Records: %v", err)
	}

	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Merchant != "COFFEE HOUSE" {
		t.Errorf("Merchant = %q", records[0].Merchant)
	}
	if records[0].Amount.String() != "4.50 USD" {
		t.Errorf("Amount = %s, want 4.50 USD", records[0].Amount.String())
	}

	for key, want := range map[string]string{
		"category": "Meals",
		"status":   "accepted",
		"from":     "2024-01-01",
		"to":       "2024-03-31",
	} {
		if got := gotQuery[key]; len(got) != 1 || got[0] != want {
			t.Errorf("query %s = %v, want %q", key, got, want)
		}
	}
	if _, ok := gotQuery["merchant"]; ok {
		t.Error("empty merchant filter should not be sent")
	}
}

func TestServerErrorSurfacesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Record not found"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Record(context.Background(), "text:missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Record not found") || !strings.Contains(err.Error(), "404") {
		t.Errorf("error should carry server message and status, got: %v", err)
	}
}

func TestRecategorizePostsBody(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"text:abc","category":"Office","amount":{"value":"4.50","currency":"USD"},"date":"2024-03-01","status":"accepted"}`))
	}))
	defer srv.Close()

	rec, err := New(srv.URL).Recategorize(context.Background(), "text:abc", "Office", "reviewer", "obvious supplies")
	if err != nil {
		t.Fatalf("Recategorize: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotPath != "/api/records/text:abc/recategorize" {
		t.Errorf("path = %s", gotPath)
	}
	if gotBody["category"] != "Office" || gotBody["actor"] != "reviewer" {
		t.Errorf("body = %v", gotBody)
	}
	if string(rec.Category) != "Office" {
		t.Errorf("Category = %s, want Office", rec.Category)
	}
}

func TestEstimateDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("period") != "2024-Q1" || q.Get("gross_income") != "10000" {
			t.Errorf("query = %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"period":"2024-Q1",
			"gross_income":{"value":"10000","currency":"USD"},
			"withheld":{"value":"0","currency":"USD"},
			"total_deductions":{"value":"2.25","currency":"USD"},
			"taxable_income":{"value":"9997.75","currency":"USD"},
			"estimated_tax":{"value":"999.78","currency":"USD"},
			"estimated_liability":{"value":"999.78","currency":"USD"},
			"deductible_candidates":[],
			"partial":true,
			"pending_record_ids":["text:pending"],
			"warning":"1 record awaiting review",
			"computed_at":"2024-04-01T10:00:00Z"
		}`))
	}))
	defer srv.Close()

	est, err := New(srv.URL).Estimate(context.Background(), "2024-Q1", "10000", "", "")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	if est.Period.String() != "2024-Q1" {
		t.Errorf("Period = %s", est.Period)
	}
	if !est.Partial || len(est.PendingRecordIDs) != 1 {
		t.Errorf("Partial = %v, pending = %v", est.Partial, est.PendingRecordIDs)
	}
	if est.TotalDeductions.String() != "2.25 USD" {
		t.Errorf("TotalDeductions = %s", est.TotalDeductions)
	}
}

func TestExportStreamsBody(t *testing.T) {
	const csv = "id,date,merchant,amount,category,confidence,status\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "csv" {
			t.Errorf("format = %s", r.URL.Query().Get("format"))
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Write([]byte(csv))
	}))
	defer srv.Close()

	var buf strings.Builder
	if err := New(srv.URL).Export(context.Background(), "csv", RecordsQuery{}, &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if buf.String() != csv {
		t.Errorf("body = %q, want %q", buf.String(), csv)
	}
}
