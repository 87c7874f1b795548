package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubDBStoresAndQueriesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	insert := "INSERT INTO meta (name, value) VALUES ($1, $2) ON CONFLICT (name) DO UPDATE SET value = excluded.value"
	for _, v := range []string{"1", "2"} {
		if _, err := conn.ExecContext(ctx, insert, []driver.NamedValue{{Value: "nextOid"}, {Value: v}}); err != nil {
			t.Fatalf("ExecContext insert: %v", err)
		}
	}
	if rows := conn.Rows("meta"); len(rows) != 1 || rows[0]["value"] != "2" {
		t.Fatalf("expected upsert to replace row, got %v", rows)
	}

	rows, err := conn.QueryContext(ctx, "SELECT name, value FROM meta", nil)
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != "nextOid" || dest[1] != "2" {
		t.Fatalf("unexpected row values: %v", dest)
	}
	_ = rows.Close()

	if _, err := conn.ExecContext(ctx, "DELETE FROM meta WHERE name = $1", []driver.NamedValue{{Value: "nextOid"}}); err != nil {
		t.Fatalf("ExecContext delete: %v", err)
	}
	if len(conn.Rows("meta")) != 0 {
		t.Fatalf("expected row deleted")
	}
	if !conn.Executed("delete from meta") {
		t.Fatalf("expected delete to be recorded")
	}
}

func TestStubTruncateClearsListedTables(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	conn.Tables["objects"] = []map[string]any{{"oid": int64(1)}}
	conn.Tables["meta"] = []map[string]any{{"name": "nextOid"}}
	if _, err := conn.ExecContext(ctx, "TRUNCATE TABLE objects, aggregations", nil); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if len(conn.Rows("objects")) != 0 || len(conn.Rows("meta")) != 1 {
		t.Fatalf("unexpected tables after truncate: %v", conn.Tables)
	}
}
