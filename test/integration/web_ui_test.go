package integration

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

// uiURL builds a URL for the web UI.
func uiURL(path string) string {
	return strings.TrimRight(testServer, "/") + "/ui" + path
}

func getHTML(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("HTTP error: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); resp.StatusCode == http.StatusOK && !strings.Contains(ct, "text/html") {
		t.Errorf("expected text/html content type, got %s", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestWebUI_DashboardLoads(t *testing.T) {
	status, body := getHTML(t, uiURL(""))
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if !strings.Contains(body, "<html") || !strings.Contains(body, "Dashboard") {
		t.Error("dashboard page missing expected content")
	}
}

func TestWebUI_ProgramAndRunPages(t *testing.T) {
	id := uniqueID("ui")
	name := createProgram(t, id, "7*6;")
	rr := runProgram(t, name)
	assertResults(t, rr, 42)

	status, body := getHTML(t, uiURL("/programs/"+id))
	if status != http.StatusOK {
		t.Fatalf("program page: expected 200, got %d", status)
	}
	if !strings.Contains(body, "7*6;") {
		t.Error("program page missing source")
	}

	runID := rr.Name[strings.LastIndex(rr.Name, "/")+1:]
	if !strings.Contains(body, runID) {
		t.Error("program page missing run link")
	}

	status, body = getHTML(t, uiURL("/runs/"+id+"/"+runID))
	if status != http.StatusOK {
		t.Fatalf("run page: expected 200, got %d", status)
	}
	for _, want := range []string{"SUCCEEDED", "42", "=42"} {
		if !strings.Contains(body, want) {
			t.Errorf("run page missing %q", want)
		}
	}
}

func TestWebUI_NotFound(t *testing.T) {
	status, _ := getHTML(t, uiURL("/programs/"+uniqueID("nope")))
	if status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", status)
	}
}

func TestWebUI_RootRedirects(t *testing.T) {
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Get(strings.TrimRight(testServer, "/") + "/")
	if err != nil {
		t.Fatalf("HTTP error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/ui" {
		t.Errorf("got %d -> %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}
