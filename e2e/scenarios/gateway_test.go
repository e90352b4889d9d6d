//go:build e2e
// +build e2e

package scenarios

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"media-gateway/e2e"
	"media-gateway/e2e/mocks"
)

func setupHarness(t *testing.T) *e2e.TestHarness {
	t.Helper()
	harness := e2e.NewTestHarness(t)
	if err := harness.Setup(); err != nil {
		t.Fatalf("failed to setup test harness: %v", err)
	}
	t.Cleanup(harness.Teardown)
	return harness
}

func TestGateway_StaticRoutes(t *testing.T) {
	harness := setupHarness(t)

	t.Run("index page", func(t *testing.T) {
		resp := harness.DoRequest(http.MethodGet, "/", "")
		if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), e2e.IndexPageMarker) {
			t.Errorf("expected index page, got %d: %s", resp.Code, resp.Body.String())
		}
	})

	t.Run("favicon", func(t *testing.T) {
		if resp := harness.DoRequest(http.MethodGet, "/favicon.ico", ""); resp.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", resp.Code)
		}
	})

	t.Run("health", func(t *testing.T) {
		resp := harness.DoRequest(http.MethodGet, "/api/health", "")
		body := harness.DecodeJSON(resp)
		services := body["services"].(map[string]interface{})
		for _, name := range []string{"imageApi", "google", "assist"} {
			if services[name] != "configured" {
				t.Errorf("%s = %v, want configured", name, services[name])
			}
		}
		if body["status"] != "ok" {
			t.Errorf("status = %v", body["status"])
		}
	})
}

func TestGateway_TaskLifecycle(t *testing.T) {
	harness := setupHarness(t)
	mock := harness.MockServer()

	providers := []struct {
		name   string
		create string
		query  string
	}{
		{"default", "/api/create-task", "/api/query-task"},
		{"gpt4o", "/api/gpt4o-create", "/api/gpt4o-query"},
		{"flux kontext", "/api/flux-kontext-create", "/api/flux-kontext-query"},
	}

	for _, p := range providers {
		t.Run(p.name, func(t *testing.T) {
			mock.ClearRequestLog()
			payload := `{"model":"veo3_fast","prompt":"a paper boat in the rain","aspectRatio":"16:9"}`

			resp := harness.DoRequest(http.MethodPost, p.create, payload)
			if resp.Code != http.StatusOK {
				t.Fatalf("create: expected status 200, got %d: %s", resp.Code, resp.Body.String())
			}
			var created struct {
				Code int `json:"code"`
				Data struct {
					TaskID string `json:"taskId"`
				} `json:"data"`
			}
			if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil || created.Data.TaskID == "" {
				t.Fatalf("create: unexpected body %s", resp.Body.String())
			}

			sent := mock.RequestsFor(mocks.UpstreamTasks)
			if len(sent) != 1 || sent[0].Body != payload || sent[0].Authorization != "Bearer mock-api-key" {
				t.Fatalf("create: upstream saw %+v", sent)
			}

			resp = harness.DoRequest(http.MethodGet, p.query+"?taskId="+created.Data.TaskID, "")
			if resp.Code != http.StatusOK {
				t.Fatalf("query: expected status 200, got %d", resp.Code)
			}
			body := harness.DecodeJSON(resp)
			data := body["data"].(map[string]interface{})
			if data["taskId"] != created.Data.TaskID || data["state"] != "success" {
				t.Errorf("query: data = %v", data)
			}
		})
	}
}

func TestGateway_TaskUpstreamFailures(t *testing.T) {
	harness := setupHarness(t)
	mock := harness.MockServer()

	t.Run("rejected key is relayed", func(t *testing.T) {
		mock.SetAPIKey("rotated-key")
		defer mock.SetAPIKey("mock-api-key")

		resp := harness.DoRequest(http.MethodPost, "/api/create-task", `{"prompt":"x"}`)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected relayed status 200, got %d", resp.Code)
		}
		if code := harness.DecodeJSON(resp)["code"]; code != float64(401) {
			t.Errorf("code = %v, want upstream 401 envelope", code)
		}
	})

	t.Run("non-JSON upstream", func(t *testing.T) {
		mock.SetFailure(mocks.UpstreamTasks, http.StatusBadGateway, "<html>upstream down</html>")
		defer mock.ClearFailures()

		resp := harness.DoRequest(http.MethodGet, "/api/query-task?taskId=t", "")
		if resp.Code != http.StatusBadGateway {
			t.Errorf("expected status 502, got %d", resp.Code)
		}
	})
}

func TestGateway_GoogleSheetsFlow(t *testing.T) {
	harness := setupHarness(t)
	mock := harness.MockServer()

	resp := harness.DoRequest(http.MethodPost, "/api/google-auth", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("google-auth: expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	token, _ := harness.DecodeJSON(resp)["access_token"].(string)
	if token == "" {
		t.Fatalf("google-auth: no access token in %s", resp.Body.String())
	}
	auth := "Bearer " + token

	resp = harness.DoRequest(http.MethodPost, "/api/sheets/append",
		`{"values":[["a paper boat","mock-task-1","https://cdn.example.com/v.mp4"]]}`,
		"Authorization", auth)
	if resp.Code != http.StatusOK {
		t.Fatalf("append: expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	rows := mock.SheetRows("02_Video")
	if len(rows) != 2 || rows[1][0] != "a paper boat" {
		t.Errorf("02_Video rows = %v", rows)
	}

	resp = harness.DoRequest(http.MethodGet, "/api/sheets/read?range=02_Video!A1:C10", "", "Authorization", auth)
	if resp.Code != http.StatusOK {
		t.Fatalf("read: expected status 200, got %d", resp.Code)
	}
	values := harness.DecodeJSON(resp)["values"].([]interface{})
	if len(values) != 2 {
		t.Errorf("read: got %d rows, want 2", len(values))
	}

	t.Run("missing values never reaches sheets", func(t *testing.T) {
		mock.ClearRequestLog()
		resp := harness.DoRequest(http.MethodPost, "/api/sheets/append", `{"sheet":"02_Video"}`, "Authorization", auth)
		if resp.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", resp.Code)
		}
		if n := len(mock.RequestsFor(mocks.UpstreamSheets)); n != 0 {
			t.Errorf("expected no sheets calls, got %d", n)
		}
	})

	t.Run("missing caller token is relayed", func(t *testing.T) {
		resp := harness.DoRequest(http.MethodGet, "/api/sheets/read?range=02_Video", "")
		if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "UNAUTHENTICATED") {
			t.Errorf("expected relayed auth error, got %d: %s", resp.Code, resp.Body.String())
		}
	})
}

func TestGateway_AssistFlow(t *testing.T) {
	harness := setupHarness(t)
	mock := harness.MockServer()
	mock.SetAssistText("Use Reference Image as Character, a fox in a red scarf")

	resp := harness.DoRequest(http.MethodPost, "/api/enhance-prompt", `{"prompt":"fox","hasReference":true}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("enhance: expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if got := harness.DecodeJSON(resp)["enhanced"]; got != "Use Reference Image as Character, a fox in a red scarf" {
		t.Errorf("enhanced = %v", got)
	}
	sent := mock.RequestsFor(mocks.UpstreamAssist)
	if len(sent) != 1 || !strings.Contains(sent[0].Body, "Use Reference Image as Character") || sent[0].APIKey == "" {
		t.Errorf("assist upstream saw %+v", sent)
	}

	resp = harness.DoRequest(http.MethodPost, "/api/generate-video-prompt", `{"prompt":"fox"}`)
	if _, ok := harness.DecodeJSON(resp)["videoPrompt"]; !ok {
		t.Errorf("video prompt: %s", resp.Body.String())
	}

	resp = harness.DoRequest(http.MethodPost, "/api/describe-image", `{"imageData":"/9j/4AAQSkZJRgABAQ"}`)
	if _, ok := harness.DecodeJSON(resp)["description"]; !ok {
		t.Errorf("describe: %s", resp.Body.String())
	}
	last := mock.RequestsFor(mocks.UpstreamAssist)
	if body := last[len(last)-1].Body; !strings.Contains(body, `"media_type":"image/jpeg"`) {
		t.Errorf("describe request body = %s", body)
	}

	t.Run("assist upstream failure", func(t *testing.T) {
		mock.SetFailure(mocks.UpstreamAssist, http.StatusInternalServerError, `{"type":"error","error":{"type":"api_error"}}`)
		defer mock.ClearFailures()

		resp := harness.DoRequest(http.MethodPost, "/api/generate-video-prompt", `{"prompt":"fox"}`)
		if resp.Code != http.StatusBadGateway {
			t.Errorf("expected status 502, got %d", resp.Code)
		}
	})
}

func TestGateway_UploadAndServe(t *testing.T) {
	harness := setupHarness(t)

	body := `{"filename":"a.bin","fileData":"` + base64.StdEncoding.EncodeToString([]byte("hello")) + `"}`
	resp := harness.DoRequest(http.MethodPost, "/api/video/upload", body)
	if resp.Code != http.StatusOK {
		t.Fatalf("upload: expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	result := harness.DecodeJSON(resp)
	if result["success"] != true || result["url"] != "/uploads/a.bin" {
		t.Errorf("upload response = %v", result)
	}

	got, err := os.ReadFile(filepath.Join(harness.UploadsDir(), "a.bin"))
	if err != nil || string(got) != "hello" {
		t.Fatalf("file on disk = %q, %v", got, err)
	}

	resp = harness.DoRequest(http.MethodGet, "/uploads/a.bin", "")
	if resp.Code != http.StatusOK || resp.Body.String() != "hello" {
		t.Errorf("serve: %d %q", resp.Code, resp.Body.String())
	}

	resp = harness.DoRequest(http.MethodPost, "/api/video/upload", `{"filename":"../evil.bin","fileData":"aGk="}`)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("traversal upload: expected status 400, got %d", resp.Code)
	}
	if resp := harness.DoRequest(http.MethodGet, "/uploads/..%2Fstandalone.html", ""); resp.Code != http.StatusNotFound {
		t.Errorf("traversal serve: expected status 404, got %d", resp.Code)
	}
}
