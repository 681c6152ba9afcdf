package normalize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mlozhkin/docledger/internal/record"
)

// mockRunner is a test double for CommandRunner.
type mockRunner struct {
	output []byte
	err    error
	calls  int
}

func (m *mockRunner) Run(_ context.Context, _ []byte, _ string, _ ...string) ([]byte, error) {
	m.calls++
	return m.output, m.err
}

var _ CommandRunner = (*mockRunner)(nil)

func TestNormalizeText(t *testing.T) {
	n := New(500)

	raw := "COFFEE HOUSE\r\n  123   Main St\t\tSuite 4\r\n\r\n\r\n\r\nTotal:   $4.50\r\nDate: 2024-03-01  \r\n"
	doc, err := n.Normalize(context.Background(), []byte(raw), record.SourceText)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	want := "COFFEE HOUSE\n123 Main St Suite 4\n\nTotal: $4.50\nDate: 2024-03-01"
	if doc.Text != want {
		t.Errorf("Text = %q, want %q", doc.Text, want)
	}
	if doc.Kind != record.SourceText {
		t.Errorf("Kind = %q", doc.Kind)
	}
	if doc.LineCount != 5 {
		t.Errorf("LineCount = %d, want 5", doc.LineCount)
	}
	if len(doc.Hash) != 64 {
		t.Errorf("Hash = %q, want 64 hex chars", doc.Hash)
	}
	if doc.Excerpt != want {
		t.Errorf("Excerpt = %q", doc.Excerpt)
	}
}

func TestNormalizeExcerptBounded(t *testing.T) {
	n := New(10)

	doc, err := n.Normalize(context.Background(), []byte(strings.Repeat("receipt ", 50)), record.SourceText)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got := len([]rune(doc.Excerpt)); got != 10 {
		t.Errorf("Excerpt length = %d, want 10", got)
	}
}

func TestNormalizeFailures(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		kind    record.SourceKind
		wantErr error
	}{
		{name: "empty content", content: nil, kind: record.SourceText, wantErr: ErrEmptyDocument},
		{name: "whitespace only", content: []byte("  \n\t \n"), kind: record.SourceText, wantErr: ErrEmptyDocument},
		{name: "unknown kind", content: []byte("hello"), kind: record.SourceKind("docx"), wantErr: ErrUnsupportedFormat},
		{name: "garbage pdf", content: []byte("not a pdf at all"), kind: record.SourcePDF, wantErr: ErrUnsupportedFormat},
		{name: "image without magic bytes", content: []byte("plain bytes"), kind: record.SourceImage, wantErr: ErrUnsupportedFormat},
	}

	n := New(500)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(context.Background(), tt.content, tt.kind)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Normalize error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeImage(t *testing.T) {
	png := append([]byte{0x89, 0x50, 0x4E, 0x47}, []byte("fakeimagedata")...)

	t.Run("ocr output", func(t *testing.T) {
		runner := &mockRunner{output: []byte("COFFEE HOUSE\nTotal $4.50\n")}
		n := NewWithRunner(runner, 500)

		doc, err := n.Normalize(context.Background(), png, record.SourceImage)
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if doc.Text != "COFFEE HOUSE\nTotal $4.50" {
			t.Errorf("Text = %q", doc.Text)
		}
		if runner.calls != 1 {
			t.Errorf("runner calls = %d, want 1", runner.calls)
		}
	})

	t.Run("ocr binary missing", func(t *testing.T) {
		runner := &mockRunner{err: errors.New(`run tesseract: exec: "tesseract": executable file not found`)}
		n := NewWithRunner(runner, 500)

		_, err := n.Normalize(context.Background(), png, record.SourceImage)
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("error = %v, want ErrUnsupportedFormat", err)
		}
	})

	t.Run("ocr produced nothing", func(t *testing.T) {
		runner := &mockRunner{output: []byte("   \n")}
		n := NewWithRunner(runner, 500)

		_, err := n.Normalize(context.Background(), png, record.SourceImage)
		if !errors.Is(err, ErrEmptyDocument) {
			t.Errorf("error = %v, want ErrEmptyDocument", err)
		}
	})
}

func TestContentHashStable(t *testing.T) {
	a := ContentHash(record.SourceText, "COFFEE HOUSE $4.50 2024-03-01")
	b := ContentHash(record.SourceText, "COFFEE HOUSE $4.50 2024-03-01")
	if a != b {
		t.Errorf("same input hashed differently: %s vs %s", a, b)
	}

	c := ContentHash(record.SourcePDF, "COFFEE HOUSE $4.50 2024-03-01")
	if a == c {
		t.Error("different source kinds should not collide")
	}

	d := ContentHash(record.SourceText, "COFFEE HOUSE $4.51 2024-03-01")
	if a == d {
		t.Error("different text should not collide")
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "collapses spaces", in: "a   b\t\tc", want: "a b c"},
		{name: "keeps line breaks", in: "line one\nline two", want: "line one\nline two"},
		{name: "normalizes CRLF", in: "a\r\nb\rc", want: "a\nb\nc"},
		{name: "collapses blank runs", in: "a\n\n\n\n\nb", want: "a\n\nb"},
		{name: "strips trailing space", in: "a   \nb", want: "a\nb"},
		{name: "replaces invalid utf8", in: "caf\xff late", want: "caf� late"},
		{name: "trims", in: "\n\n  body  \n\n", want: "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanText(tt.in); got != tt.want {
				t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExpandCSV(t *testing.T) {
	t.Run("splits rows on text column", func(t *testing.T) {
		in := []byte("id,text,notes\n1,COFFEE HOUSE $4.50,first\n2,TAXI RIDE $23.00,second\n3,  ,blank\n")
		docs, err := ExpandCSV(in)
		if err != nil {
			t.Fatalf("ExpandCSV: %v", err)
		}
		if len(docs) != 2 {
			t.Fatalf("got %d documents, want 2", len(docs))
		}
		if string(docs[0]) != "COFFEE HOUSE $4.50" {
			t.Errorf("docs[0] = %q", docs[0])
		}
	})

	t.Run("falls back to content column", func(t *testing.T) {
		in := []byte("content\nreceipt body\n")
		docs, err := ExpandCSV(in)
		if err != nil {
			t.Fatalf("ExpandCSV: %v", err)
		}
		if len(docs) != 1 || string(docs[0]) != "receipt body" {
			t.Errorf("docs = %q", docs)
		}
	})

	t.Run("rejects missing text column", func(t *testing.T) {
		in := []byte("id,amount\n1,4.50\n")
		if _, err := ExpandCSV(in); err == nil {
			t.Fatal("expected error for missing text column")
		}
	})

	t.Run("rejects header-only file", func(t *testing.T) {
		in := []byte("text\n")
		if _, err := ExpandCSV(in); err == nil {
			t.Fatal("expected error for header-only file")
		}
	})
}
