package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string) *Client {
	return NewClient(serverURL, "ck_test", "cs_test", 5*time.Second, nil, time.Minute)
}

func TestCredentialInjection(t *testing.T) {
	var gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.ListAssignments(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"ck_test"}, gotQuery["consumer_key"])
	assert.Equal(t, []string{"cs_test"}, gotQuery["consumer_secret"])
}

func TestListPricingRulesScopesByProduct(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pricing-rules", r.URL.Path)
		assert.Equal(t, "11", r.URL.Query().Get("product_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"rule_name":"Bulk","is_active":true}]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	rules, err := client.ListPricingRules(context.Background(), 11)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "Bulk", rules[0].RuleName)
	assert.True(t, rules[0].IsActive)
}

func TestBatchProductFieldValuesDecodesStringKeys(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string][]int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.ElementsMatch(t, []int64{1, 2}, body["product_ids"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"1": [{"field_name":"color","field_value":"red"}],
			"2": [],
			"not-a-number": []
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	values, err := client.BatchProductFieldValues(context.Background(), []int64{1, 2})
	require.NoError(t, err)

	require.Len(t, values, 2)
	require.Len(t, values[1], 1)
	assert.Equal(t, "red", values[1][0].FieldValue)
	assert.Empty(t, values[2])
}

func TestNonSuccessStatusIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.GetProductFieldValues(context.Background(), 11)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestGetProductDecodesCategoryOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/11", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":11,"name":"Widget","category_ids":[7,3,9]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	product, err := client.GetProduct(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 3, 9}, product.CategoryIDs)
}
