package query

import "testing"

func TestEncodeDecodeCursor(t *testing.T) {
	token := EncodeCursor(9001)
	got, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if got != 9001 {
		t.Fatalf("got %d, want 9001", got)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	if _, err := DecodeCursor("not-base64!!!"); err == nil {
		t.Fatalf("expected error for malformed cursor")
	}
}

func TestPaginatorFirstPage(t *testing.T) {
	p := NewPaginator("events", "id", 50)
	b, err := p.Page("")
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	sql, args := b.Build()
	want := "SELECT * FROM events ORDER BY id ASC LIMIT 50"
	if sql != want {
		t.Fatalf("got %q, want %q", sql, want)
	}
	if len(args) != 0 {
		t.Fatalf("expected no args on first page, got %v", args)
	}
}

func TestPaginatorSubsequentPage(t *testing.T) {
	p := NewPaginator("events", "id", 50)
	cursor := EncodeCursor(100)
	b, err := p.Page(cursor)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	sql, args := b.Build()
	want := "SELECT * FROM events WHERE id > ? ORDER BY id ASC LIMIT 50"
	if sql != want {
		t.Fatalf("got %q, want %q", sql, want)
	}
	if len(args) != 1 || args[0] != int64(100) {
		t.Fatalf("unexpected args: %v", args)
	}
}
