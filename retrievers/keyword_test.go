package retrievers

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/datasource"
)

func TestQueryKeywords(t *testing.T) {
	kws := queryKeywords("Show me the refund policy for returns")
	want := map[string]bool{"refund": true, "policy": true, "returns": true}
	for _, kw := range kws {
		if !want[kw] {
			t.Errorf("Unexpected keyword %q", kw)
		}
		delete(want, kw)
	}
	if len(want) != 0 {
		t.Errorf("Missing keywords: %v", want)
	}

	if kws := queryKeywords("a an it"); len(kws) != 0 {
		t.Errorf("Short tokens must be dropped: %v", kws)
	}
}

func TestKeywordRetrieverRanksByOverlap(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT id, body FROM faqs WHERE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "body"}).
			AddRow(1, "refund policy: refunds within 30 days").
			AddRow(2, "shipping policy for international orders").
			AddRow(3, "completely different topic entirely here"))

	ds := datasource.NewSQLDatasource("faqdb", "sqlite", sqlx.NewDb(db, "sqlmock"))
	r, err := NewKeywordRetriever("faq-keyword", KeywordRetrieverOptions{
		Datasource:         ds,
		Table:              "faqs",
		TextColumn:         "body",
		RelevanceThreshold: 0.05,
	})
	if err != nil {
		t.Fatal(err)
	}

	items, err := r.Retrieve(context.Background(), "refund policy", core.RetrieveOptions{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("Expected scored items")
	}
	if items[0].Metadata["id"] != "1" {
		t.Errorf("Best overlap must rank first: %v", items[0].Metadata)
	}
	for i := 1; i < len(items); i++ {
		if items[i].Confidence > items[i-1].Confidence {
			t.Error("Items must be ordered by descending confidence")
		}
	}
}

func TestKeywordRetrieverEmptyQuery(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ds := datasource.NewSQLDatasource("faqdb", "sqlite", sqlx.NewDb(db, "sqlmock"))
	r, err := NewKeywordRetriever("faq-keyword", KeywordRetrieverOptions{
		Datasource: ds,
		Table:      "faqs",
		TextColumn: "body",
	})
	if err != nil {
		t.Fatal(err)
	}

	// No searchable tokens: no query is issued at all.
	items, err := r.Retrieve(context.Background(), "a an", core.RetrieveOptions{})
	if err != nil || items != nil {
		t.Errorf("Expected nil result without keywords, got %v %v", items, err)
	}
}

func TestKeywordRetrieverQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnError(context.DeadlineExceeded)

	ds := datasource.NewSQLDatasource("faqdb", "sqlite", sqlx.NewDb(db, "sqlmock"))
	r, err := NewKeywordRetriever("faq-keyword", KeywordRetrieverOptions{
		Datasource: ds,
		Table:      "faqs",
		TextColumn: "body",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.Retrieve(context.Background(), "refund policy", core.RetrieveOptions{}); !core.IsRetryable(err) {
		t.Errorf("Expected retryable failure, got %v", err)
	}
}
