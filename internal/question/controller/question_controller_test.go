package controller_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"codejudge/internal/question/controller"
	"codejudge/internal/question/model"
	"codejudge/internal/question/repository"

	"github.com/gin-gonic/gin"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	controller.NewQuestionController(repository.NewFileRepository(t.TempDir())).Register(router)
	return router
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSaveListGet(t *testing.T) {
	router := newRouter(t)

	w := do(router, http.MethodPost, "/save", `{"id":"two-sum","title":"Two Sum","description":"Add numbers","templates":{"cpp":"int main(){}"}}`)
	if w.Code != http.StatusOK || w.Body.String() != controller.SavedMessage {
		t.Fatalf("unexpected save response: %d %q", w.Code, w.Body.String())
	}
	w = do(router, http.MethodPost, "/save", `{"id":"a-plus-b","title":"A+B","description":"Sum"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("second save failed: %d %s", w.Code, w.Body.String())
	}

	w = do(router, http.MethodGet, "/api/questions", "")
	var list []model.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a-plus-b" || list[1].ID != "two-sum" {
		t.Fatalf("unexpected list: %+v", list)
	}
	if strings.Contains(w.Body.String(), "templates") {
		t.Fatalf("list should only carry summaries: %s", w.Body.String())
	}

	w = do(router, http.MethodGet, "/api/questions/two-sum", "")
	var q model.Question
	if err := json.Unmarshal(w.Body.Bytes(), &q); err != nil {
		t.Fatalf("decode question failed: %v", err)
	}
	if q.Title != "Two Sum" || q.Templates == nil || q.Templates.Cpp == nil || *q.Templates.Cpp != "int main(){}" {
		t.Fatalf("unexpected question: %+v", q)
	}
}

func TestListEmptyBank(t *testing.T) {
	w := do(newRouter(t), http.MethodGet, "/api/questions", "")
	if w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Fatalf("unexpected empty list: %d %s", w.Code, w.Body.String())
	}
}

func TestGetUnknownQuestion(t *testing.T) {
	w := do(newRouter(t), http.MethodGet, "/api/questions/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if body["error"] != "Question not found" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestSaveRejectsBadInput(t *testing.T) {
	router := newRouter(t)
	for name, body := range map[string]string{
		"malformed": `{"id":`,
		"empty id":  `{"id":"","title":"x"}`,
		"traversal": `{"id":"../etc","title":"x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/save", body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d %s", w.Code, w.Body.String())
			}
		})
	}
}
