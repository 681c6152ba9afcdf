package notionexport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"

	"github.com/mlozhkin/docledger/internal/record"
)

type mockNotion struct {
	mu      sync.Mutex
	pages   []notionapi.Page
	created []notionapi.Properties
	updated map[string]notionapi.Properties
	deleted []string

	queryCalls int
	paginate   bool
	createErr  error
}

var _ NotionService = (*mockNotion)(nil)

func (m *mockNotion) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, properties)
	return &notionapi.Page{ID: notionapi.ObjectID(fmt.Sprintf("page-%d", len(m.created)))}, nil
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updated == nil {
		m.updated = make(map[string]notionapi.Properties)
	}
	m.updated[pageID] = properties
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

func (m *mockNotion) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++

	// Two-response pagination: first half then second half.
	if m.paginate {
		half := len(m.pages) / 2
		if req.StartCursor == "" {
			return &notionapi.DatabaseQueryResponse{
				Results:    m.pages[:half],
				HasMore:    true,
				NextCursor: notionapi.Cursor("cursor-1"),
			}, nil
		}
		return &notionapi.DatabaseQueryResponse{Results: m.pages[half:]}, nil
	}

	return &notionapi.DatabaseQueryResponse{Results: m.pages}, nil
}

func (m *mockNotion) DeletePage(ctx context.Context, pageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, pageID)
	return nil
}

func testRecord(id string) record.DocumentRecord {
	amount, _ := decimal.NewFromString("4.50")
	return record.DocumentRecord{
		ID:         id,
		Merchant:   "COFFEE HOUSE",
		Amount:     record.NewMoney(amount, "USD"),
		Date:       civil.Date{Year: 2024, Month: time.March, Day: 1},
		Category:   record.CategoryMeals,
		Confidence: 0.9,
		SourceKind: record.SourceText,
		Status:     record.StatusAccepted,
	}
}

func pageFor(pageID, recordID string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(pageID),
		Properties: notionapi.Properties{
			"Record ID": &notionapi.TitleProperty{
				Title: []notionapi.RichText{{PlainText: recordID}},
			},
		},
	}
}

func TestSyncCreatesMissingPages(t *testing.T) {
	mock := &mockNotion{}

	report, err := Sync(context.Background(), mock, "db-1", []record.DocumentRecord{
		testRecord("text:aaa"),
		testRecord("text:bbb"),
	}, false)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if report.Created != 2 || report.Updated != 0 || report.Deleted != 0 {
		t.Errorf("report = %+v, want 2 created only", report)
	}
	if len(mock.created) != 2 {
		t.Fatalf("CreatePage called %d times, want 2", len(mock.created))
	}
	title, ok := mock.created[0]["Record ID"].(notionapi.TitleProperty)
	if !ok || len(title.Title) == 0 || title.Title[0].Text.Content != "text:aaa" {
		t.Errorf("first created page should carry Record ID title, got %+v", mock.created[0]["Record ID"])
	}
}

func TestSyncUpdatesExistingPages(t *testing.T) {
	mock := &mockNotion{pages: []notionapi.Page{pageFor("page-existing", "text:aaa")}}

	report, err := Sync(context.Background(), mock, "db-1", []record.DocumentRecord{testRecord("text:aaa")}, false)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if report.Updated != 1 || report.Created != 0 || report.Deleted != 0 {
		t.Errorf("report = %+v, want 1 updated only", report)
	}
	if _, ok := mock.updated["page-existing"]; !ok {
		t.Errorf("expected update of page-existing, got %v", mock.updated)
	}
}

func TestSyncArchivesStalePages(t *testing.T) {
	mock := &mockNotion{pages: []notionapi.Page{
		pageFor("page-stale", "text:gone"),
		{ID: "page-unkeyed", Properties: notionapi.Properties{}},
	}}

	report, err := Sync(context.Background(), mock, "db-1", nil, false)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if report.Deleted != 2 {
		t.Errorf("Deleted = %d, want 2", report.Deleted)
	}
	if len(mock.deleted) != 2 {
		t.Errorf("DeletePage calls = %v, want both stale pages", mock.deleted)
	}
}

func TestSyncDryRunTouchesNothing(t *testing.T) {
	mock := &mockNotion{pages: []notionapi.Page{
		pageFor("page-existing", "text:aaa"),
		pageFor("page-stale", "text:gone"),
	}}

	report, err := Sync(context.Background(), mock, "db-1", []record.DocumentRecord{
		testRecord("text:aaa"),
		testRecord("text:new"),
	}, true)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if report.Created != 1 || report.Updated != 1 || report.Deleted != 1 {
		t.Errorf("report = %+v, want 1/1/1", report)
	}
	if len(mock.created) != 0 || len(mock.updated) != 0 || len(mock.deleted) != 0 {
		t.Errorf("dry run must not call the API: created %d, updated %d, deleted %d",
			len(mock.created), len(mock.updated), len(mock.deleted))
	}
}

func TestSyncContinuesPastCreateFailure(t *testing.T) {
	mock := &mockNotion{createErr: errors.New("rate limited")}

	report, err := Sync(context.Background(), mock, "db-1", []record.DocumentRecord{testRecord("text:aaa")}, false)
	if err != nil {
		t.Fatalf("Sync should not fail on per-page errors: %v", err)
	}
	if report.Created != 0 {
		t.Errorf("Created = %d, want 0 after create failure", report.Created)
	}
}

func TestSyncPaginatesDatabaseQuery(t *testing.T) {
	mock := &mockNotion{
		paginate: true,
		pages: []notionapi.Page{
			pageFor("page-1", "text:aaa"),
			pageFor("page-2", "text:bbb"),
		},
	}

	report, err := Sync(context.Background(), mock, "db-1", []record.DocumentRecord{
		testRecord("text:aaa"),
		testRecord("text:bbb"),
	}, false)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if mock.queryCalls != 2 {
		t.Errorf("QueryDatabase calls = %d, want 2 (paginated)", mock.queryCalls)
	}
	if report.Updated != 2 {
		t.Errorf("Updated = %d, want 2", report.Updated)
	}
}
