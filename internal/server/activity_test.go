package server

import (
	"net/http"
	"strings"
	"testing"
)

func TestExportActivityDefaultsToNDJSON(t *testing.T) {
	audit := &fakeAuditService{exportBody: []byte(`{"action":"created"}` + "\n")}
	_, r := newTestServer(testServerOverrides{audit: audit})

	resp := doRequest(r, http.MethodGet, "/api/projects/WEB/tasks/42/activity/export", "", identityHeaders())

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get("Content-Type"); got != "application/x-ndjson" {
		t.Fatalf("expected application/x-ndjson, got %q", got)
	}
	if got := resp.Header().Get("Content-Disposition"); !strings.Contains(got, "task-42-activity.ndjson") {
		t.Fatalf("unexpected disposition %q", got)
	}
	if resp.Body.Len() == 0 {
		t.Fatal("expected streamed body")
	}
}

func TestExportActivityContentTypes(t *testing.T) {
	tests := []struct {
		format      string
		contentType string
	}{
		{format: "ndjson", contentType: "application/x-ndjson"},
		{format: "csv", contentType: "text/csv"},
		{format: "pdf", contentType: "application/pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			audit := &fakeAuditService{exportBody: []byte("x")}
			_, r := newTestServer(testServerOverrides{audit: audit})

			resp := doRequest(r, http.MethodGet, "/api/projects/WEB/tasks/42/activity/export?format="+tt.format, "", identityHeaders())

			if resp.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
			}
			if got := resp.Header().Get("Content-Type"); got != tt.contentType {
				t.Fatalf("expected %q, got %q", tt.contentType, got)
			}
		})
	}
}

func TestExportActivityUnknownFormat(t *testing.T) {
	_, r := newTestServer(testServerOverrides{})

	resp := doRequest(r, http.MethodGet, "/api/projects/WEB/tasks/42/activity/export?format=xml", "", identityHeaders())

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestListTaskActivityMalformedIDReadsAsMissing(t *testing.T) {
	_, r := newTestServer(testServerOverrides{})

	resp := doRequest(r, http.MethodGet, "/api/projects/WEB/tasks/not-an-id/activity", "", identityHeaders())

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestListTaskActivityEnvelope(t *testing.T) {
	audit := &fakeAuditService{}
	_, r := newTestServer(testServerOverrides{audit: audit})

	resp := doRequest(r, http.MethodGet, "/api/projects/WEB/tasks/42/activity?sort=desc", "", identityHeaders())

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), "page_info") {
		t.Fatalf("expected page_info in body, got %s", resp.Body.String())
	}
}
