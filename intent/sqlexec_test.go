package intent

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/datasource"
)

func TestRenderSQLBindsInTextualOrder(t *testing.T) {
	query, args, err := RenderSQL(
		"SELECT * FROM orders WHERE customer_id = %(customer_id)s AND total > %(min_total)s",
		map[string]interface{}{"customer_id": 456, "min_total": 10.0},
	)
	if err != nil {
		t.Fatalf("RenderSQL: %v", err)
	}
	if query != "SELECT * FROM orders WHERE customer_id = ? AND total > ?" {
		t.Errorf("Unexpected query: %s", query)
	}
	if len(args) != 2 || args[0] != 456 || args[1] != 10.0 {
		t.Errorf("Args out of order: %v", args)
	}
	if strings.Contains(query, "456") {
		t.Error("Value interpolated into SQL text")
	}
}

func TestRenderSQLRepeatedPlaceholder(t *testing.T) {
	query, args, err := RenderSQL(
		"SELECT %(id)s AS a, %(id)s AS b",
		map[string]interface{}{"id": 7},
	)
	if err != nil {
		t.Fatalf("RenderSQL: %v", err)
	}
	if query != "SELECT ? AS a, ? AS b" || len(args) != 2 {
		t.Errorf("Repeated placeholder mishandled: %s %v", query, args)
	}
}

func TestRenderSQLConditionalBlocks(t *testing.T) {
	op := "SELECT * FROM orders WHERE 1=1 {% if status %}AND status = %(status)s {% endif %}{% if days %}AND age < %(days)s{% endif %}"

	query, args, err := RenderSQL(op, map[string]interface{}{"status": "shipped"})
	if err != nil {
		t.Fatalf("RenderSQL: %v", err)
	}
	if !strings.Contains(query, "status = ?") {
		t.Errorf("Resolved conditional dropped: %s", query)
	}
	if strings.Contains(query, "age") {
		t.Errorf("Unresolved conditional kept: %s", query)
	}
	if len(args) != 1 || args[0] != "shipped" {
		t.Errorf("Args: %v", args)
	}
}

func TestRenderSQLLikeWildcards(t *testing.T) {
	query, args, err := RenderSQL(
		"SELECT * FROM customers WHERE name LIKE %(name)s",
		map[string]interface{}{"name": "smith"},
	)
	if err != nil {
		t.Fatalf("RenderSQL: %v", err)
	}
	if args[0] != "%smith%" {
		t.Errorf("Expected wildcards added, got %v", args[0])
	}
	_ = query

	// Values that already carry a wildcard are left alone.
	_, args, _ = RenderSQL(
		"SELECT * FROM customers WHERE name LIKE %(name)s",
		map[string]interface{}{"name": "smi%"},
	)
	if args[0] != "smi%" {
		t.Errorf("Existing wildcard must be preserved, got %v", args[0])
	}
}

func TestRenderSQLUnboundParameter(t *testing.T) {
	_, _, err := RenderSQL("SELECT * FROM t WHERE a = %(missing)s", map[string]interface{}{})
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Errorf("Expected unbound parameter error, got %v", err)
	}
}

func TestSQLExecutorRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT \\* FROM orders WHERE customer_id = \\?").
		WithArgs(456).
		WillReturnRows(sqlmock.NewRows([]string{"id", "total"}).
			AddRow(1, 19.99).
			AddRow(2, 5.00))

	ds := datasource.NewSQLDatasource("testdb", "sqlite", sqlx.NewDb(db, "sqlmock"))
	exec := NewSQLExecutor(ds, nil)

	tpl := ordersTemplate()
	rows, err := exec.Execute(context.Background(), &tpl, map[string]interface{}{"customer_id": 456})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0]["total"] != 19.99 {
		t.Errorf("Row values not mapped: %+v", rows[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestSQLExecutorQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnError(context.DeadlineExceeded)

	ds := datasource.NewSQLDatasource("testdb", "sqlite", sqlx.NewDb(db, "sqlmock"))
	exec := NewSQLExecutor(ds, nil)

	tpl := ordersTemplate()
	_, err = exec.Execute(context.Background(), &tpl, map[string]interface{}{"customer_id": 1})
	if err == nil || !core.IsRetryable(err) {
		t.Errorf("Expected retryable backend error, got %v", err)
	}
}
