package internal

import "testing"

// TestFlattenNestedAndArray tests that a nested map with an array is flattened correctly.
func TestFlattenNestedAndArray(t *testing.T) {
	input := map[string]interface{}{
		"pullrequest": map[string]interface{}{
			"draft": false,
			"reviewers": []interface{}{
				map[string]interface{}{"nickname": "alice"},
				map[string]interface{}{"nickname": "bob"},
			},
		},
	}

	flat := Flatten(input)
	if flat["pullrequest.draft"] != false {
		t.Fatalf("expected pullrequest.draft to be false")
	}
	if _, ok := flat["pullrequest.reviewers[]"]; !ok {
		t.Fatalf("expected pullrequest.reviewers[] to exist")
	}
	if flat["pullrequest.reviewers[0].nickname"] != "alice" {
		t.Fatalf("expected reviewers[0].nickname to be alice")
	}
	if flat["pullrequest.reviewers[1].nickname"] != "bob" {
		t.Fatalf("expected reviewers[1].nickname to be bob")
	}
}

// TestFlattenJSONRejectsNonObjects tests that arrays and invalid JSON flatten to nothing.
func TestFlattenJSONRejectsNonObjects(t *testing.T) {
	if got := FlattenJSON([]byte(`[1,2]`)); len(got) != 0 {
		t.Fatalf("expected empty map for array payload, got %v", got)
	}
	if got := FlattenJSON([]byte(`{bad`)); len(got) != 0 {
		t.Fatalf("expected empty map for invalid payload, got %v", got)
	}
	got := FlattenJSON([]byte(`{"repository":{"name":"Repo1"}}`))
	if got["repository.name"] != "Repo1" {
		t.Fatalf("expected repository.name, got %v", got)
	}
}
