package integration

import (
	"net/http"
	"strings"
	"testing"
)

func TestProgramLifecycle(t *testing.T) {
	id := uniqueID("lifecycle")

	status, body := doJSON(t, http.MethodPost, apiURL("programs?programId="+id),
		map[string]string{"sourceContents": "1+1;", "description": "first"})
	if status != http.StatusOK {
		t.Fatalf("create: %d %v", status, body)
	}
	name, _ := body["name"].(string)
	if name != "programs/"+id {
		t.Fatalf("unexpected name %q", name)
	}
	firstRev, _ := body["revisionId"].(string)

	status, _ = doJSON(t, http.MethodPost, apiURL("programs?programId="+id),
		map[string]string{"sourceContents": "2;"})
	if status != http.StatusConflict {
		t.Errorf("duplicate create: expected 409, got %d", status)
	}

	status, body = doJSON(t, http.MethodPatch, apiURL(name), map[string]string{"sourceContents": "2+2;"})
	if status != http.StatusOK {
		t.Fatalf("update: %d %v", status, body)
	}
	if body["revisionId"] == firstRev {
		t.Error("expected a new revision after update")
	}
	if body["description"] != "first" {
		t.Errorf("description = %v", body["description"])
	}

	assertResults(t, runProgram(t, name), 4)

	status, _ = doJSON(t, http.MethodDelete, apiURL(name), nil)
	if status != http.StatusOK {
		t.Fatalf("delete: %d", status)
	}
	status, _ = doJSON(t, http.MethodGet, apiURL(name), nil)
	if status != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", status)
	}
}

func TestProgramSourceIsScanned(t *testing.T) {
	status, body := doJSON(t, http.MethodPost, apiURL("programs?programId="+uniqueID("bad")),
		map[string]string{"sourceContents": "1 + pi;"})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	errMap, _ := body["error"].(map[string]interface{})
	if errMap["kind"] != "BadToken" {
		t.Errorf("kind = %v", errMap["kind"])
	}
	if pos, _ := errMap["position"].(float64); pos != 4 {
		t.Errorf("position = %v, want 4", errMap["position"])
	}
}

func TestListProgramsIncludesCreated(t *testing.T) {
	name := createProgram(t, uniqueID("listed"), "1;")

	_, body := doJSON(t, http.MethodGet, apiURL("programs"), nil)
	programs, _ := body["programs"].([]interface{})
	for _, p := range programs {
		if m, ok := p.(map[string]interface{}); ok && m["name"] == name {
			return
		}
	}
	t.Errorf("program %s not listed in %v", name, programs)
}

func TestDirectoryPrograms(t *testing.T) {
	if programsDir == "" {
		t.Skip("external server; programs directory unknown")
	}

	rr := runProgram(t, "programs/seed")
	assertResults(t, rr, 3, 6)
	if rr.Output != "=3\n=6\n" {
		t.Errorf("output = %q", rr.Output)
	}

	// file names are lowercased into program IDs
	assertResults(t, runProgram(t, "programs/squares"), 4, 9, 16)
}

func TestEvaluateEndpoint(t *testing.T) {
	tests := []struct {
		expr    string
		display string
		kind    string
	}{
		{expr: "2+3*4", display: "14"},
		{expr: "(2+3)*4", display: "20"},
		{expr: "10/4", display: "2.5"},
		{expr: "-7%3", display: "-1"},
		{expr: "6!/4!", display: "30"},
		{expr: "1e3+.5", display: "1000.5"},
		{expr: "2/0", kind: "DivisionByZero"},
		{expr: "2%0", kind: "ModuloByZero"},
		{expr: "{1+2", kind: "MismatchedDelimiter"},
		{expr: ")", kind: "PrimaryExpected"},
		{expr: "2 # 3", kind: "BadToken"},
		{expr: strings.Repeat("(", 1001) + "1" + strings.Repeat(")", 1001), kind: "RecursionLimit"},
	}
	for _, tt := range tests {
		name := tt.expr
		if len(name) > 20 {
			name = name[:20]
		}
		t.Run(name, func(t *testing.T) {
			status, body := doJSON(t, http.MethodPost, apiURL("evaluate"), map[string]string{"expression": tt.expr})
			if tt.kind == "" {
				if status != http.StatusOK || body["display"] != tt.display {
					t.Errorf("got %d %v, want %s", status, body, tt.display)
				}
				return
			}
			errMap, _ := body["error"].(map[string]interface{})
			if status != http.StatusBadRequest || errMap["kind"] != tt.kind {
				t.Errorf("got %d %v, want kind %s", status, body, tt.kind)
			}
		})
	}
}
