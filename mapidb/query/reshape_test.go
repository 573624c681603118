package query

import (
	"math/big"
	"testing"

	"github.com/dan-strohschein/mapigo/resultset"
)

func TestScanIntoStructSlice(t *testing.T) {
	result := &resultset.Result{
		Columns: []string{"id", "name"},
		Rows: [][]resultset.Value{
			{resultset.IntValue(big.NewInt(1)), resultset.StringValue("alice")},
			{resultset.IntValue(big.NewInt(2)), resultset.StringValue("bob")},
		},
	}

	type user struct {
		ID   int64  `mapi:"id"`
		Name string `mapi:"name"`
	}

	var users []user
	if err := Scan(result, &users); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if users[0].ID != 1 || users[0].Name != "alice" {
		t.Fatalf("unexpected first row: %+v", users[0])
	}
	if users[1].ID != 2 || users[1].Name != "bob" {
		t.Fatalf("unexpected second row: %+v", users[1])
	}
}

func TestMapAndScalar(t *testing.T) {
	result := &resultset.Result{
		Columns: []string{"count"},
		Rows: [][]resultset.Value{
			{resultset.IntValue(big.NewInt(42))},
		},
	}
	m := Map(result)
	if m == nil || m["count"].Int.Int64() != 42 {
		t.Fatalf("unexpected map: %v", m)
	}
	if Scalar(result).Int.Int64() != 42 {
		t.Fatalf("unexpected scalar: %v", Scalar(result))
	}
}
