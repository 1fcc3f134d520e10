package todoapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func newHandlerForTests() (*Handler, *fakeRepo) {
	repo := newFakeRepo()
	svc := NewService(repo)
	return NewHandler(svc, "*"), repo
}

func decodeErrorBody(t *testing.T, body []byte) string {
	t.Helper()
	var resp map[string]string
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("error body is not JSON: %v (%s)", err, body)
	}
	return resp["error"]
}

func createTodoForTests(t *testing.T, handler *Handler, title string) Todo {
	t.Helper()
	body, _ := json.Marshal(createTodoRequest{Title: title})
	req := httptest.NewRequest(http.MethodPost, "/todos", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("create failed: %d body=%s", rr.Code, rr.Body.String())
	}
	var todo Todo
	if err := json.Unmarshal(rr.Body.Bytes(), &todo); err != nil {
		t.Fatalf("invalid create response: %v", err)
	}
	return todo
}

func TestHandleCreateTodo_ReturnsTodo(t *testing.T) {
	handler, _ := newHandlerForTests()

	todo := createTodoForTests(t, handler, "Buy Milk")
	if todo.ID == (uuid.UUID{}) {
		t.Fatalf("expected generated id, got zero value")
	}
	if todo.Title != "Buy Milk" || todo.Completed {
		t.Fatalf("unexpected todo: %+v", todo)
	}
}

func TestHandleCreateTodo_InvalidJSON(t *testing.T) {
	handler, _ := newHandlerForTests()

	req := httptest.NewRequest(http.MethodPost, "/todos", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if msg := decodeErrorBody(t, rr.Body.Bytes()); msg != "invalid JSON payload" {
		t.Fatalf("unexpected error message: %q", msg)
	}
}

func TestHandleCreateTodo_MissingTitle(t *testing.T) {
	handler, _ := newHandlerForTests()

	req := httptest.NewRequest(http.MethodPost, "/todos", strings.NewReader(`{"title":"   "}`))
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if msg := decodeErrorBody(t, rr.Body.Bytes()); msg != "title is required" {
		t.Fatalf("unexpected error message: %q", msg)
	}
}

func TestHandleListTodos_EmptyArray(t *testing.T) {
	handler, _ := newHandlerForTests()

	req := httptest.NewRequest(http.MethodGet, "/todos", nil)
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Fatalf("expected empty array body, got %q", got)
	}
}

func TestHandleListTodos_ReturnsNewestFirst(t *testing.T) {
	handler, _ := newHandlerForTests()
	first := createTodoForTests(t, handler, "first")
	second := createTodoForTests(t, handler, "second")

	req := httptest.NewRequest(http.MethodGet, "/todos", nil)
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var list []Todo
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("invalid list response: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}
}

func TestHandleListTodos_StoreError(t *testing.T) {
	handler, repo := newHandlerForTests()
	repo.listErr = errors.New("connection reset")

	req := httptest.NewRequest(http.MethodGet, "/todos", nil)
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if msg := decodeErrorBody(t, rr.Body.Bytes()); msg != "database error" {
		t.Fatalf("unexpected error message: %q", msg)
	}
}

func TestHandleGetTodo_ReturnsTodo(t *testing.T) {
	handler, _ := newHandlerForTests()
	created := createTodoForTests(t, handler, "Buy Milk")

	req := httptest.NewRequest(http.MethodGet, "/todos/"+created.ID.String(), nil)
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var todo Todo
	if err := json.Unmarshal(rr.Body.Bytes(), &todo); err != nil {
		t.Fatalf("invalid get response: %v", err)
	}
	if todo.ID != created.ID || todo.Title != "Buy Milk" {
		t.Fatalf("unexpected todo: %+v", todo)
	}
}

func TestHandleGetTodo_NotFound(t *testing.T) {
	handler, _ := newHandlerForTests()

	req := httptest.NewRequest(http.MethodGet, "/todos/"+uuid.NewString(), nil)
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if msg := decodeErrorBody(t, rr.Body.Bytes()); msg != "todo not found" {
		t.Fatalf("unexpected error message: %q", msg)
	}
}

func TestMalformedID_RejectedBeforeStore(t *testing.T) {
	handler, repo := newHandlerForTests()
	storeErr := errors.New("store must not be called")
	repo.getErr = storeErr
	repo.updateErr = storeErr
	repo.deleteErr = storeErr

	requests := []struct {
		method string
		body   string
	}{
		{http.MethodGet, ""},
		{http.MethodPut, `{"title":"x"}`},
		{http.MethodDelete, ""},
	}
	for _, tc := range requests {
		req := httptest.NewRequest(tc.method, "/todos/not-a-uuid", strings.NewReader(tc.body))
		rr := httptest.NewRecorder()
		handler.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d body=%s", tc.method, rr.Code, rr.Body.String())
		}
		if msg := decodeErrorBody(t, rr.Body.Bytes()); msg != "invalid todo id" {
			t.Fatalf("%s: unexpected error message: %q", tc.method, msg)
		}
	}
}

func TestHandleUpdateTodo_MergesFields(t *testing.T) {
	handler, _ := newHandlerForTests()
	created := createTodoForTests(t, handler, "old title")

	req := httptest.NewRequest(http.MethodPut, "/todos/"+created.ID.String(), strings.NewReader(`{"completed":true}`))
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var todo Todo
	if err := json.Unmarshal(rr.Body.Bytes(), &todo); err != nil {
		t.Fatalf("invalid update response: %v", err)
	}
	if todo.Title != "old title" || !todo.Completed {
		t.Fatalf("completed-only patch must keep title: %+v", todo)
	}

	req = httptest.NewRequest(http.MethodPut, "/todos/"+created.ID.String(), strings.NewReader(`{"title":"new title"}`))
	rr = httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &todo); err != nil {
		t.Fatalf("invalid update response: %v", err)
	}
	if todo.Title != "new title" || !todo.Completed {
		t.Fatalf("title-only patch must keep completed: %+v", todo)
	}
}

func TestHandleUpdateTodo_NotFound(t *testing.T) {
	handler, _ := newHandlerForTests()

	req := httptest.NewRequest(http.MethodPut, "/todos/"+uuid.NewString(), strings.NewReader(`{"title":"x"}`))
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if msg := decodeErrorBody(t, rr.Body.Bytes()); msg != "Task not found" {
		t.Fatalf("unexpected error message: %q", msg)
	}
}

func TestHandleUpdateTodo_LoadFailure(t *testing.T) {
	handler, repo := newHandlerForTests()
	repo.getErr = errors.New("connection reset")

	req := httptest.NewRequest(http.MethodPut, "/todos/"+uuid.NewString(), strings.NewReader(`{"title":"x"}`))
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if msg := decodeErrorBody(t, rr.Body.Bytes()); msg != "database error" {
		t.Fatalf("unexpected error message: %q", msg)
	}
}

func TestHandleUpdateTodo_WriteFailure(t *testing.T) {
	handler, repo := newHandlerForTests()
	created := createTodoForTests(t, handler, "Buy Milk")
	repo.updateErr = errors.New("connection reset")

	req := httptest.NewRequest(http.MethodPut, "/todos/"+created.ID.String(), strings.NewReader(`{"completed":true}`))
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if msg := decodeErrorBody(t, rr.Body.Bytes()); msg != "Update failed" {
		t.Fatalf("unexpected error message: %q", msg)
	}
}

func TestHandleDeleteTodo_RemovesRow(t *testing.T) {
	handler, _ := newHandlerForTests()
	created := createTodoForTests(t, handler, "Buy Milk")

	req := httptest.NewRequest(http.MethodDelete, "/todos/"+created.ID.String(), nil)
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "Deleted" {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type: %q", ct)
	}

	req = httptest.NewRequest(http.MethodGet, "/todos/"+created.ID.String(), nil)
	rr = httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestHandleDeleteTodo_AcksStoreFailure(t *testing.T) {
	handler, repo := newHandlerForTests()
	repo.deleteErr = errors.New("connection reset")

	req := httptest.NewRequest(http.MethodDelete, "/todos/"+uuid.NewString(), nil)
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 despite store failure, got %d", rr.Code)
	}
	if rr.Body.String() != "Deleted" {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestHandleDeleteTodo_AbsentIDStillAcked(t *testing.T) {
	handler, _ := newHandlerForTests()

	req := httptest.NewRequest(http.MethodDelete, "/todos/"+uuid.NewString(), nil)
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || rr.Body.String() != "Deleted" {
		t.Fatalf("expected 200 Deleted, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestOptions_HasCORSHeaders(t *testing.T) {
	handler, _ := newHandlerForTests()

	req := httptest.NewRequest(http.MethodOptions, "/todos", nil)
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected CORS origin: %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PUT") {
		t.Fatalf("expected PUT in allowed methods, got %q", got)
	}
}

func TestRequestIDHeader(t *testing.T) {
	handler, _ := newHandlerForTests()

	req := httptest.NewRequest(http.MethodGet, "/todos", nil)
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected generated request id header")
	}

	req = httptest.NewRequest(http.MethodGet, "/todos", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rr = httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("expected inbound request id echoed, got %q", got)
	}
}
