package query

import "testing"

func TestBuilderRendersWhereAndOrder(t *testing.T) {
	sql, args := Select("users", "id", "name").
		Where("age", Gte, 18).
		Where("active", Eq, true).
		OrderBy("name", Asc).
		Limit(10).
		Offset(20).
		Build()

	want := "SELECT id, name FROM users WHERE age >= ? AND active = ? ORDER BY name ASC LIMIT 10 OFFSET 20"
	if sql != want {
		t.Fatalf("got %q, want %q", sql, want)
	}
	if len(args) != 2 || args[0] != 18 || args[1] != true {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestBuilderNoConditions(t *testing.T) {
	sql, args := Select("users").Build()
	if sql != "SELECT * FROM users" {
		t.Fatalf("got %q", sql)
	}
	if len(args) != 0 {
		t.Fatalf("expected no args, got %v", args)
	}
}

func TestBuilderInClause(t *testing.T) {
	sql, args := Select("users").Where("id", In, []interface{}{1, 2, 3}).Build()
	want := "SELECT * FROM users WHERE id IN (?, ?, ?)"
	if sql != want {
		t.Fatalf("got %q, want %q", sql, want)
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(args))
	}
}

func TestCountPlaceholders(t *testing.T) {
	n := CountPlaceholders("select * from t where a = ? and b = ?")
	if n != 2 {
		t.Fatalf("got %d, want 2", n)
	}
}

func TestValidateIdentifier(t *testing.T) {
	cases := map[string]bool{
		"users":      true,
		"sys.users":  true,
		"user_name":  true,
		"":           false,
		"bad;name":   false,
		"bad name":   false,
	}
	for name, wantOK := range cases {
		err := ValidateIdentifier(name)
		if (err == nil) != wantOK {
			t.Errorf("ValidateIdentifier(%q): err=%v, wantOK=%v", name, err, wantOK)
		}
	}
}
