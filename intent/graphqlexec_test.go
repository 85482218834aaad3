package intent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/datasource"
	"github.com/schmitech/orbit/templates"
)

func graphqlTemplate() templates.Template {
	return templates.Template{
		ID:          "products_by_category",
		Description: "Products in a category",
		Parameters: []templates.ParameterSpec{
			{Name: "category", Type: "string", GraphQLType: "String!"},
			{Name: "limit", Type: "integer", GraphQLType: "Int"},
		},
		OperationTemplate: `query($category: String!, $limit: Int) { products(category: $category, limit: $limit) { id name } }`,
		OperationName:     "",
		ResultFormat:      templates.FormatList,
	}
}

func TestCoerceVariable(t *testing.T) {
	cases := []struct {
		value   interface{}
		gqlType string
		want    interface{}
	}{
		{"5", "Int", 5},
		{5.0, "Int!", 5},
		{"2.5", "Float", 2.5},
		{3, "Float", 3.0},
		{"true", "Boolean", true},
		{42, "ID", "42"},
		{42, "String", "42"},
		{"7", "[Int!]!", 7},
	}
	for _, tc := range cases {
		got, err := CoerceVariable(tc.value, tc.gqlType)
		if err != nil {
			t.Errorf("CoerceVariable(%v, %s): %v", tc.value, tc.gqlType, err)
			continue
		}
		if got != tc.want {
			t.Errorf("CoerceVariable(%v, %s) = %v (%T), want %v (%T)",
				tc.value, tc.gqlType, got, got, tc.want, tc.want)
		}
	}

	if _, err := CoerceVariable("abc", "Int"); !errors.Is(err, core.ErrParameterValidation) {
		t.Errorf("Expected coercion failure, got %v", err)
	}
}

func TestGraphQLExecutorSendsTypedVariables(t *testing.T) {
	var received graphqlRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.Write([]byte(`{"data": {"products": [{"id": "1", "name": "Widget"}]}}`))
	}))
	defer server.Close()

	ds := datasource.NewHTTPDatasource("gql", "graphql", server.URL, nil, server.Client())
	exec := NewGraphQLExecutor(ds, false, nil)

	tpl := graphqlTemplate()
	// The limit arrives as the string "5" from extraction; the declared
	// Int type makes it numeric on the wire.
	rows, err := exec.Execute(context.Background(), &tpl, map[string]interface{}{
		"category": "tools",
		"limit":    "5",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if received.Variables["limit"] != float64(5) {
		t.Errorf("limit must be numeric on the wire, got %v (%T)",
			received.Variables["limit"], received.Variables["limit"])
	}
	if received.Variables["category"] != "tools" {
		t.Errorf("category: %v", received.Variables["category"])
	}
	if len(rows) != 1 || rows[0]["name"] != "Widget" {
		t.Errorf("Rows: %v", rows)
	}
}

func TestGraphQLExecutorSurfacesErrorsOn200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": null, "errors": [{"message": "field products not found"}]}`))
	}))
	defer server.Close()

	ds := datasource.NewHTTPDatasource("gql", "graphql", server.URL, nil, server.Client())
	exec := NewGraphQLExecutor(ds, false, nil)

	tpl := graphqlTemplate()
	_, err := exec.Execute(context.Background(), &tpl, map[string]interface{}{"category": "tools"})
	if !errors.Is(err, core.ErrRequestFailed) {
		t.Fatalf("Expected GraphQL error surfaced, got %v", err)
	}
	if !strings.Contains(err.Error(), "field products not found") {
		t.Errorf("Error message not included: %v", err)
	}
}

func TestGraphQLExecutorAllowPartial(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"products": [{"id": "1"}]}, "errors": [{"message": "subfield timed out"}]}`))
	}))
	defer server.Close()

	ds := datasource.NewHTTPDatasource("gql", "graphql", server.URL, nil, server.Client())

	// Strict mode fails even though data is present.
	tpl := graphqlTemplate()
	if _, err := NewGraphQLExecutor(ds, false, nil).Execute(context.Background(), &tpl, map[string]interface{}{"category": "tools"}); err == nil {
		t.Error("Strict mode must fail on errors")
	}

	// Partial mode returns the data.
	rows, err := NewGraphQLExecutor(ds, true, nil).Execute(context.Background(), &tpl, map[string]interface{}{"category": "tools"})
	if err != nil {
		t.Fatalf("Partial mode: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("Rows: %v", rows)
	}
}

func TestGraphQLExecutorHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ds := datasource.NewHTTPDatasource("gql", "graphql", server.URL, nil, server.Client())
	tpl := graphqlTemplate()
	_, err := NewGraphQLExecutor(ds, false, nil).Execute(context.Background(), &tpl, map[string]interface{}{"category": "x"})
	if !errors.Is(err, core.ErrRequestFailed) {
		t.Errorf("Expected request failure, got %v", err)
	}
}

func TestGraphQLRowsShapes(t *testing.T) {
	rows := graphqlRows(map[string]interface{}{
		"products": []interface{}{
			map[string]interface{}{"id": "1"},
			map[string]interface{}{"id": "2"},
		},
	})
	if len(rows) != 2 {
		t.Errorf("List root: %v", rows)
	}

	rows = graphqlRows(map[string]interface{}{
		"product": map[string]interface{}{"id": "1"},
	})
	if len(rows) != 1 || rows[0]["id"] != "1" {
		t.Errorf("Object root: %v", rows)
	}

	if rows := graphqlRows(nil); rows != nil {
		t.Errorf("Nil data: %v", rows)
	}
}
