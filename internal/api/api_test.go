package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/cookshelf/internal/recipeservice"
	"github.com/starford/cookshelf/internal/testutil"
)

// testEnv sets up a temp recipe dir, config dir, service, and router for testing.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (string, http.Handler) {
	t.Helper()
	root, router := testEnvWithSSE(t, authToken != "", authToken, nil)
	return root, router
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) (string, http.Handler) {
	t.Helper()
	root, store := testutil.RecipeStore(t)
	_, config := testutil.RecipeStore(t)
	svc := recipeservice.New(store, testutil.Cache(t, store),
		recipeservice.WithConfigStore(config),
		recipeservice.WithLogger(testutil.Logger()))
	return root, NewRouter(svc, authEnabled, token, sseHandler)
}

func do(t *testing.T, router http.Handler, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rdr)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func writeRecipe(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func decodeList(t *testing.T, w *httptest.ResponseRecorder) RecipeListResponse {
	t.Helper()
	var resp RecipeListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list: %v (%s)", err, w.Body.String())
	}
	return resp
}

func TestListRecipes_LazyIndex(t *testing.T) {
	root, router := testEnv(t, "")
	writeRecipe(t, root, "lunch/soup.cook", ">> title: Tomato Soup\n>> servings: 2\n")
	writeRecipe(t, root, "dinner/stew.cook", "stew")
	writeRecipe(t, root, "readme.txt", "not a recipe")

	w := do(t, router, http.MethodGet, "/recipes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeList(t, w)
	if resp.Total != 2 {
		t.Fatalf("total = %d, want 2", resp.Total)
	}
	soup := resp.Recipes["lunch:soup"]
	if soup.Title != "Tomato Soup" || soup.Dir != "lunch" || soup.Servings != 2 || soup.Name != "soup" {
		t.Errorf("soup = %+v", soup)
	}
	stew := resp.Recipes["dinner:stew"]
	if stew.Title != "stew" || stew.Servings != 1 {
		t.Errorf("stew = %+v", stew)
	}
}

func TestRebuildIndex(t *testing.T) {
	root, router := testEnv(t, "")
	writeRecipe(t, root, "soup.cook", "x")
	_ = do(t, router, http.MethodGet, "/recipes", nil)

	writeRecipe(t, root, "late.cook", "y")
	writeRecipe(t, root, "broken.cook", "---\ntitle: no end\n")

	w := do(t, router, http.MethodGet, "/recipes/rebuild-index", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp RebuildResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || resp.Skipped != 1 {
		t.Errorf("total = %d skipped = %d, want 2 and 1", resp.Total, resp.Skipped)
	}
	if _, ok := resp.Recipes["late"]; !ok {
		t.Error("late recipe missing after rebuild")
	}
}

func TestSaveAndGetRecipe(t *testing.T) {
	root, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/recipe/lunch/Soup%20(2)", map[string]string{"recipe": "  >> title: Soup\n  "})
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Error("missing ETag on save")
	}

	data, err := os.ReadFile(filepath.Join(root, "lunch", "Soup (2).cook"))
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if string(data) != ">> title: Soup" {
		t.Errorf("stored %q, want trimmed content", data)
	}

	w = do(t, router, http.MethodGet, "/recipe/lunch/Soup%20(2)", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if w.Body.String() != ">> title: Soup" {
		t.Errorf("body = %q", w.Body.String())
	}
	if w.Header().Get("ETag") != etag {
		t.Errorf("ETag = %q, want %q", w.Header().Get("ETag"), etag)
	}

	resp := decodeList(t, do(t, router, http.MethodGet, "/recipes", nil))
	if resp.Recipes["lunch:Soup (2)"].Title != "Soup" {
		t.Errorf("index not updated: %+v", resp.Recipes)
	}
}

func TestSaveRecipe_Validation(t *testing.T) {
	root, router := testEnv(t, "")

	cases := []struct {
		name   string
		target string
		body   any
	}{
		{"empty recipe", "/recipe/soup", map[string]string{"recipe": "   "}},
		{"missing recipe", "/recipe/soup", map[string]string{}},
		{"bad json", "/recipe/soup", "{"},
		{"invalid path", "/recipe/soup%3F", map[string]string{"recipe": "x"}},
		{"traversal", "/recipe/..%2Fescape", map[string]string{"recipe": "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, tc.target, tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", w.Code, w.Body.String())
			}
		})
	}

	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("rejected requests wrote %d entries", len(entries))
	}
}

func TestUpdateWithOptimisticLocking(t *testing.T) {
	root, router := testEnv(t, "")
	writeRecipe(t, root, "soup.cook", "v1")

	get := do(t, router, http.MethodGet, "/recipe/soup", nil)
	etag := get.Header().Get("ETag")

	w := do(t, router, http.MethodPut, "/recipe/soup", map[string]string{"recipe": "v2"}, "If-Match", `"stale"`)
	if w.Code != http.StatusConflict {
		t.Errorf("stale If-Match = %d, want 409", w.Code)
	}

	w = do(t, router, http.MethodPut, "/recipe/soup", map[string]string{"recipe": "v2"}, "If-Match", etag)
	if w.Code != http.StatusOK {
		t.Fatalf("matching If-Match = %d, body = %s", w.Code, w.Body.String())
	}
	data, _ := os.ReadFile(filepath.Join(root, "soup.cook"))
	if string(data) != "v2" {
		t.Errorf("content = %q, want v2", data)
	}
}

func TestUpdateWithoutIfMatch(t *testing.T) {
	root, router := testEnv(t, "")

	w := do(t, router, http.MethodPut, "/recipe/dinner/stew", map[string]string{"recipe": ">> servings: 4"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if _, err := os.Stat(filepath.Join(root, "dinner", "stew.cook")); err != nil {
		t.Errorf("stew not written: %v", err)
	}
	resp := decodeList(t, do(t, router, http.MethodGet, "/recipes", nil))
	if resp.Recipes["dinner:stew"].Servings != 4 {
		t.Errorf("index = %+v", resp.Recipes)
	}
}

func TestUpdateRecipe_NotFoundWithIfMatch(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodPut, "/recipe/ghost", map[string]string{"recipe": "x"}, "If-Match", `"abc"`)
	if w.Code != http.StatusNotFound {
		t.Errorf("update missing = %d, want 404", w.Code)
	}
}

func TestMoveRecipe(t *testing.T) {
	root, router := testEnv(t, "")
	writeRecipe(t, root, "lunch/soup.cook", ">> title: Soup\n")
	_ = do(t, router, http.MethodGet, "/recipes", nil)

	w := do(t, router, http.MethodPatch, "/recipe/lunch/soup", map[string]string{"dir": "dinner", "fileName": "soup"})
	if w.Code != http.StatusOK {
		t.Fatalf("move status = %d, body = %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(root, "lunch", "soup.cook")); !os.IsNotExist(err) {
		t.Error("old file should be gone")
	}

	resp := decodeList(t, do(t, router, http.MethodGet, "/recipes", nil))
	if resp.Total != 1 {
		t.Fatalf("total = %d, want 1", resp.Total)
	}
	if got := resp.Recipes["dinner:soup"]; got.Dir != "dinner" || got.Title != "Soup" {
		t.Errorf("moved entry = %+v", got)
	}
}

func TestMoveRecipe_Validation(t *testing.T) {
	root, router := testEnv(t, "")
	writeRecipe(t, root, "soup.cook", "a")
	writeRecipe(t, root, "stew.cook", "b")

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing dir", map[string]any{"fileName": "x"}, http.StatusBadRequest},
		{"missing fileName", map[string]any{"dir": ""}, http.StatusBadRequest},
		{"blank fileName", map[string]any{"dir": "", "fileName": "  "}, http.StatusBadRequest},
		{"slash in fileName", map[string]any{"dir": "", "fileName": "a/b"}, http.StatusBadRequest},
		{"target exists", map[string]any{"dir": "", "fileName": "stew"}, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, http.MethodPatch, "/recipe/soup", tc.body)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}

	w := do(t, router, http.MethodPatch, "/recipe/ghost", map[string]any{"dir": "", "fileName": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("move missing = %d, want 404", w.Code)
	}
}

func TestDeleteRecipe(t *testing.T) {
	root, router := testEnv(t, "")
	writeRecipe(t, root, "soup.cook", "x")
	_ = do(t, router, http.MethodGet, "/recipes", nil)

	w := do(t, router, http.MethodDelete, "/recipe/soup", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	resp := decodeList(t, do(t, router, http.MethodGet, "/recipes", nil))
	if resp.Total != 0 {
		t.Errorf("total = %d after delete", resp.Total)
	}

	w = do(t, router, http.MethodDelete, "/recipe/soup", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestGetRecipe_NotFound(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/recipe/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing recipe = %d, want 404", w.Code)
	}
	w = do(t, router, http.MethodGet, "/recipe/", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty path = %d, want 400", w.Code)
	}
}

func TestCreateRecipe_Collision(t *testing.T) {
	root, router := testEnv(t, "")
	writeRecipe(t, root, "lunch/Soup.cook", "a")
	writeRecipe(t, root, "lunch/Soup (1).cook", "b")

	w := do(t, router, http.MethodPost, "/recipes", map[string]string{"dir": "lunch", "name": "Soup", "content": "c"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res NameResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Renamed || res.Name != "Soup (2)" {
		t.Errorf("result = %+v, want renamed Soup (2)", res)
	}
	data, err := os.ReadFile(filepath.Join(root, "lunch", "Soup (2).cook"))
	if err != nil || string(data) != "c" {
		t.Errorf("Soup (2).cook = %q, %v", data, err)
	}

	w = do(t, router, http.MethodPost, "/recipes", map[string]string{"dir": "", "name": "Fresh", "content": "d"})
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Renamed || res.Name != "Fresh" {
		t.Errorf("result = %+v, want Fresh not renamed", res)
	}
}

func TestCreateRecipe_Validation(t *testing.T) {
	_, router := testEnv(t, "")
	bodies := []map[string]any{
		{"name": "Soup", "content": "x"},
		{"dir": "", "content": "x"},
		{"dir": "", "name": "  ", "content": "x"},
		{"dir": "", "name": "a/b", "content": "x"},
		{"dir": "", "name": `a\b`, "content": "x"},
		{"dir": "", "name": "Soup", "content": "   "},
		{"dir": "../up", "name": "Soup", "content": "x"},
	}
	for _, b := range bodies {
		w := do(t, router, http.MethodPost, "/recipes", b)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %v: status = %d, want 400", b, w.Code)
		}
	}
}

func TestDirectories(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/recipes/directory/subdir", map[string]string{"parentDir": "", "name": "dinner"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodPost, "/recipes/directory/subdir", map[string]string{"parentDir": "", "name": "dinner"})
	var res NameResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Renamed || res.Name != "dinner (1)" {
		t.Errorf("result = %+v", res)
	}
	_ = do(t, router, http.MethodPost, "/recipes/directory/subdir", map[string]string{"parentDir": "dinner", "name": "winter"})

	w = do(t, router, http.MethodGet, "/recipes/directory", nil)
	var dirs []string
	_ = json.Unmarshal(w.Body.Bytes(), &dirs)
	want := []string{"dinner", "dinner (1)", "dinner/winter"}
	if strings.Join(dirs, ",") != strings.Join(want, ",") {
		t.Errorf("dirs = %v, want %v", dirs, want)
	}

	w = do(t, router, http.MethodPost, "/recipes/directory/subdir", map[string]string{"name": "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing parentDir = %d, want 400", w.Code)
	}
}

func TestCatalog(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/catalog", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("fresh catalog = %q, want empty", w.Body.String())
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	w := do(t, router, http.MethodPost, "/recipe/auth", map[string]string{"recipe": "test"}, "Authorization", "Bearer secret123")
	if w.Code != http.StatusOK {
		t.Errorf("authed save = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	w := do(t, router, http.MethodGet, "/recipes", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("401 should carry WWW-Authenticate")
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	w := do(t, router, http.MethodGet, "/recipes", nil, "Authorization", "Bearer wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/recipes", nil)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

func dummySSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "secret", dummySSE())
	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", dummySSE())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestSSEEvents_QueryToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", dummySSE())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with query token = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_QueryTokenOnlyForGet(t *testing.T) {
	_, router := testEnv(t, "tok")
	w := do(t, router, http.MethodDelete, "/recipe/soup?access_token=tok", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("DELETE with query token = %d, want 401", w.Code)
	}
}

func TestRecipePath_PercentInSegment(t *testing.T) {
	root, router := testEnv(t, "")
	writeRecipe(t, root, "lunch/a%41.cook", ">> title: Percent\n")

	w := do(t, router, http.MethodGet, "/recipe/lunch/a%2541", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET = %d %s, want 200", w.Code, w.Body.String())
	}
	if w.Body.String() != ">> title: Percent\n" {
		t.Errorf("body = %q", w.Body.String())
	}

	w = do(t, router, http.MethodPost, "/recipe/lunch/b%2542", map[string]string{"recipe": "x"})
	if w.Code != http.StatusOK {
		t.Fatalf("POST = %d %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(root, "lunch", "b%42.cook")); err != nil {
		t.Errorf("POST wrote to the wrong key: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "lunch", "bB.cook")); err == nil {
		t.Error("POST decoded the segment twice")
	}

	w = do(t, router, http.MethodDelete, "/recipe/lunch/a%2541", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("DELETE = %d, want 204", w.Code)
	}
	if _, err := os.Stat(filepath.Join(root, "lunch", "a%41.cook")); !os.IsNotExist(err) {
		t.Errorf("recipe still on disk: %v", err)
	}
}

func TestRecipePath_EncodedSlash(t *testing.T) {
	root, router := testEnv(t, "")
	writeRecipe(t, root, "lunch/soup.cook", "x")

	w := do(t, router, http.MethodGet, "/recipe/lunch%2Fsoup", nil)
	if w.Code != http.StatusOK {
		t.Errorf("GET encoded slash = %d, want 200", w.Code)
	}
}
