package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/mimil/internal/gemini"
	"github.com/kalambet/mimil/internal/inventory"
	"github.com/kalambet/mimil/internal/planner"
	"github.com/kalambet/mimil/internal/recipes"
	"github.com/kalambet/mimil/internal/storage"
)

const testToken = "test-token-12345"

// fakeModel answers each structured request according to the top-level
// property its schema asks for.
type fakeModel struct {
	mu         sync.Mutex
	categories string
	plan       string
	recipe     string
	err        error
	noKey      bool
	calls      int
}

func (f *fakeModel) HasCredential() bool { return !f.noKey }

func (f *fakeModel) GenerateJSON(_ context.Context, req gemini.Request, v any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}

	var raw string
	switch {
	case req.Schema.Properties["Catégories"] != nil:
		raw = f.categories
	case req.Schema.Properties["plan_repas"] != nil:
		raw = f.plan
	default:
		raw = f.recipe
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return raw, &gemini.MalformedOutputError{Raw: raw, Err: err}
	}
	return raw, nil
}

var sampleRecipes = []recipes.Recipe{
	{Title: "Steak frites", KeyIngredients: "boeuf, pommes de terre", PrepMinutes: 10, CookMinutes: 20, ContainsMeatOrFish: recipes.MeatYes, SourceURL: "https://example.com/steak"},
	{Title: "Ratatouille", KeyIngredients: "courgette, aubergine, tomate", PrepMinutes: 20, CookMinutes: 45, ContainsMeatOrFish: recipes.MeatNo, SourceURL: "https://example.com/ratatouille"},
}

const sampleCategories = `{"Catégories":[
  {"category_name":"Viandes","ingredients":["boeuf"]},
  {"category_name":"Légumes","ingredients":["aubergine","courgette","pommes de terre","tomate"]}
]}`

const samplePlan = `{
  "plan_repas": [
    {"jour": "Lundi",
     "midi": {"titre": "Steak frites", "url": "https://example.com/steak"},
     "soir": {"titre": "Ratatouille", "url": "https://example.com/ratatouille"}}
  ],
  "liste_courses": {
    "viande_poisson": ["boeuf"],
    "laitiers_frais": [],
    "legumes_feculents": ["courgette"],
    "epicerie": []
  }
}`

type testEnv struct {
	dir     string
	model   *fakeModel
	store   *recipes.Store
	files   *inventory.Files
	history *storage.Store
	deps    AppDeps
	handler http.Handler
}

func setupApp(t *testing.T, token string) *testEnv {
	t.Helper()
	dir := t.TempDir()

	model := &fakeModel{categories: sampleCategories, plan: samplePlan}
	store := recipes.NewStore(filepath.Join(dir, "recipes.csv"))
	if err := store.Rewrite(sampleRecipes); err != nil {
		t.Fatal(err)
	}
	files := inventory.NewFiles(dir)

	history, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { history.Close() })

	deps := AppDeps{
		Recipes:     store,
		Importer:    recipes.NewImporter(model, store, recipes.NewURLLog(filepath.Join(dir, "URL_recipes.csv"))),
		Categorizer: inventory.NewCategorizer(model, filepath.Join(dir, inventory.CacheFile)),
		Inventory:   files,
		Sessions:    inventory.NewSessionManager(),
		Planner:     planner.NewService(store, files, planner.New(model), dir, history, "test-model"),
		History:     history,
		DefaultDays: 1,
		Token:       token,
	}
	return &testEnv{
		dir:     dir,
		model:   model,
		store:   store,
		files:   files,
		history: history,
		deps:    deps,
		handler: NewAppHandler(deps),
	}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func (e *testEnv) do(method, url, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, authReq(method, url, body, testToken))
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Raw     string `json:"raw"`
	} `json:"error"`
}

func TestHealth_NoAuthRequired(t *testing.T) {
	env := setupApp(t, testToken)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	env := setupApp(t, testToken)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, authReq(http.MethodGet, "/recipes", "", ""))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
		t.Errorf("WWW-Authenticate = %q", got)
	}

	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, authReq(http.MethodGet, "/recipes", "", "wrong"))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", w.Code)
	}
}

func TestAuth_DisabledWithoutToken(t *testing.T) {
	env := setupApp(t, "")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, authReq(http.MethodGet, "/recipes", "", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRecipes_ListAndAdd(t *testing.T) {
	env := setupApp(t, testToken)

	w := env.do(http.MethodPost, "/recipes", `{"title":"Salade niçoise","key_ingredients":"thon, oeufs","prep_minutes":15,"contains_meat_or_fish":"yes"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(http.MethodGet, "/recipes", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rs []recipes.Recipe
	decodeResponse(t, w, &rs)
	if len(rs) != 3 {
		t.Fatalf("expected 3 recipes, got %d", len(rs))
	}
	if rs[2].Title != "Salade niçoise" || rs[2].ContainsMeatOrFish != recipes.MeatYes {
		t.Errorf("appended recipe = %+v", rs[2])
	}
}

func TestRecipes_AddRejectsInvalid(t *testing.T) {
	env := setupApp(t, testToken)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"no title", `{"key_ingredients":"thon","contains_meat_or_fish":"Oui"}`, http.StatusUnprocessableEntity},
		{"no ingredients", `{"title":"X","contains_meat_or_fish":"Oui"}`, http.StatusUnprocessableEntity},
		{"bad flag", `{"title":"X","key_ingredients":"thon","contains_meat_or_fish":"maybe"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/recipes", tt.body)
			if w.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}

	rs, err := env.store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != len(sampleRecipes) {
		t.Errorf("invalid recipes were persisted: %d rows", len(rs))
	}
}

func TestRecipes_MissingFile(t *testing.T) {
	env := setupApp(t, testToken)
	if err := os.Remove(env.store.Path()); err != nil {
		t.Fatal(err)
	}
	w := env.do(http.MethodGet, "/recipes", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = env.do(http.MethodGet, "/ingredients", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for ingredients without recipes, got %d", w.Code)
	}
}

func TestRecipes_Import(t *testing.T) {
	env := setupApp(t, testToken)
	env.model.recipe = `{"Titre":"Gratin","Ingrédients Clés":"pommes de terre, crème","Préparation (min)":10,"Cuisson (min)":40,"Contient viande/poisson ?":"Non","URL":""}`

	w := env.do(http.MethodPost, "/recipes/import", `{"url":"https://example.com/gratin"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var rec recipes.Recipe
	decodeResponse(t, w, &rec)
	if rec.Title != "Gratin" || rec.SourceURL != "https://example.com/gratin" {
		t.Errorf("imported = %+v", rec)
	}
}

func TestRecipes_ImportMalformedOutput(t *testing.T) {
	env := setupApp(t, testToken)
	env.model.recipe = `not json`

	w := env.do(http.MethodPost, "/recipes/import", `{"url":"https://example.com/gratin"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	var env2 errorEnvelope
	decodeResponse(t, w, &env2)
	if env2.Error.Type != "malformed_output_error" || env2.Error.Raw != "not json" {
		t.Errorf("error = %+v", env2.Error)
	}

	rs, _ := env.store.Load()
	if len(rs) != len(sampleRecipes) {
		t.Errorf("malformed import was persisted")
	}
}

func TestRecipes_ImportInvalidFieldsIsBadGateway(t *testing.T) {
	env := setupApp(t, testToken)
	env.model.recipe = `{"Titre":"","Ingrédients Clés":"pommes","Préparation (min)":10,"Cuisson (min)":30,"Contient viande/poisson ?":"Non","URL":""}`

	w := env.do(http.MethodPost, "/recipes/import", `{"url":"https://example.com/tarte"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
	var body errorEnvelope
	decodeResponse(t, w, &body)
	if body.Error.Type != "malformed_output_error" || body.Error.Raw != env.model.recipe {
		t.Errorf("error = %+v", body.Error)
	}
}

func TestRecipes_ImportRequiresURL(t *testing.T) {
	env := setupApp(t, testToken)
	w := env.do(http.MethodPost, "/recipes/import", `{"url":"  "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if env.model.calls != 0 {
		t.Errorf("model called %d times", env.model.calls)
	}
}

func TestIngredients_ListAndCategories(t *testing.T) {
	env := setupApp(t, testToken)

	w := env.do(http.MethodGet, "/ingredients", "")
	var list struct {
		Ingredients []string `json:"ingredients"`
	}
	decodeResponse(t, w, &list)
	want := []string{"aubergine", "boeuf", "courgette", "pommes de terre", "tomate"}
	if strings.Join(list.Ingredients, "|") != strings.Join(want, "|") {
		t.Errorf("ingredients = %v, want %v", list.Ingredients, want)
	}

	w = env.do(http.MethodGet, "/ingredients/categories", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.HasPrefix(w.Body.String(), `{"Viandes":`) {
		t.Errorf("categories should keep model order, got %s", w.Body.String())
	}

	// Second call is served from the cache.
	env.do(http.MethodGet, "/ingredients/categories", "")
	if env.model.calls != 1 {
		t.Errorf("model calls = %d, want 1", env.model.calls)
	}

	env.do(http.MethodGet, "/ingredients/categories?refresh=true", "")
	if env.model.calls != 2 {
		t.Errorf("model calls after refresh = %d, want 2", env.model.calls)
	}
}

func TestSessions_SelectAndSave(t *testing.T) {
	env := setupApp(t, testToken)

	w := env.do(http.MethodPost, "/sessions", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var sess selectionResponse
	decodeResponse(t, w, &sess)
	if sess.ID == "" || len(sess.Selected) != 0 {
		t.Fatalf("session = %+v", sess)
	}

	base := "/sessions/" + sess.ID
	env.do(http.MethodPut, base+"/selection", `{"selected":["tomate","boeuf","tomate"]}`)
	w = env.do(http.MethodPut, base+"/selection", `{"toggle":"boeuf"}`)
	decodeResponse(t, w, &sess)
	if strings.Join(sess.Selected, ",") != "tomate" {
		t.Fatalf("selected = %v", sess.Selected)
	}

	w = env.do(http.MethodPost, base+"/save", "")
	if w.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	flat, err := env.files.LoadFlat()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(flat, ",") != "tomate" {
		t.Errorf("flat inventory = %v", flat)
	}

	w = env.do(http.MethodGet, "/inventory", "")
	var inv struct {
		Ingredients []string        `json:"ingredients"`
		Categories  json.RawMessage `json:"categories"`
	}
	decodeResponse(t, w, &inv)
	if string(inv.Categories) != `{"Légumes":["tomate"]}` {
		t.Errorf("categories = %s", inv.Categories)
	}

	// A new session starts from the saved inventory.
	w = env.do(http.MethodPost, "/sessions", "")
	decodeResponse(t, w, &sess)
	if strings.Join(sess.Selected, ",") != "tomate" {
		t.Errorf("new session selected = %v", sess.Selected)
	}
}

func TestSessions_SaveEmptySelection(t *testing.T) {
	env := setupApp(t, testToken)
	w := env.do(http.MethodPost, "/sessions", "")
	var sess selectionResponse
	decodeResponse(t, w, &sess)

	w = env.do(http.MethodPost, "/sessions/"+sess.ID+"/save", "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	if _, err := os.Stat(env.files.FlatPath()); !os.IsNotExist(err) {
		t.Error("empty selection wrote the inventory file")
	}
}

func TestSessions_Unknown(t *testing.T) {
	env := setupApp(t, testToken)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/sessions/nope/selection"},
		{http.MethodPost, "/sessions/nope/save"},
		{http.MethodDelete, "/sessions/nope"},
	} {
		w := env.do(tc.method, tc.path, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestSessions_Delete(t *testing.T) {
	env := setupApp(t, testToken)
	w := env.do(http.MethodPost, "/sessions", "")
	var sess selectionResponse
	decodeResponse(t, w, &sess)

	w = env.do(http.MethodDelete, "/sessions/"+sess.ID, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if env.deps.Sessions.Len() != 0 {
		t.Errorf("sessions left: %d", env.deps.Sessions.Len())
	}
}

func TestInventory_NotSaved(t *testing.T) {
	env := setupApp(t, testToken)
	w := env.do(http.MethodGet, "/inventory", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func saveInventory(t *testing.T, env *testEnv, items ...string) {
	t.Helper()
	if err := env.files.Save(inventory.CatchAll(items), items); err != nil {
		t.Fatal(err)
	}
}

func TestPlans_CreateListGetDelete(t *testing.T) {
	env := setupApp(t, testToken)
	saveInventory(t, env, "tomate")

	w := env.do(http.MethodPost, "/plans", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created PlanView
	decodeResponse(t, w, &created)
	if created.Days != 1 || len(created.Plan) != 1 || created.Plan[0].Dinner.Title != "Ratatouille" {
		t.Errorf("created = %+v", created)
	}
	if !strings.Contains(created.Markdown, "[Steak frites](https://example.com/steak)") {
		t.Errorf("markdown = %q", created.Markdown)
	}
	if !strings.HasPrefix(created.ShoppingText, "SHOPPING LIST\n") {
		t.Errorf("shopping text = %q", created.ShoppingText)
	}
	if _, err := os.Stat(filepath.Join(env.dir, planner.PlanMarkdownFile)); err != nil {
		t.Errorf("plan artifact not written: %v", err)
	}

	w = env.do(http.MethodGet, "/plans", "")
	var list []PlanSummary
	decodeResponse(t, w, &list)
	if len(list) != 1 || list[0].ID != created.ID || list[0].Model != "test-model" {
		t.Fatalf("list = %+v", list)
	}

	for _, id := range []string{created.ID, "latest"} {
		w = env.do(http.MethodGet, "/plans/"+id, "")
		if w.Code != http.StatusOK {
			t.Fatalf("GET /plans/%s: expected 200, got %d", id, w.Code)
		}
		var got PlanView
		decodeResponse(t, w, &got)
		if got.ID != created.ID || got.Markdown != created.Markdown || len(got.Shopping.MeatFish) != 1 {
			t.Errorf("GET /plans/%s = %+v", id, got)
		}
	}

	w = env.do(http.MethodDelete, "/plans/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = env.do(http.MethodDelete, "/plans/"+created.ID, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", w.Code)
	}
	w = env.do(http.MethodGet, "/plans/"+created.ID, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestPlans_ArchivedPlanKeepsRemarks(t *testing.T) {
	env := setupApp(t, testToken)
	env.model.plan = strings.Replace(samplePlan, "{", `{"Remarques": "Pensez au pain.",`, 1)
	saveInventory(t, env, "tomate")

	w := env.do(http.MethodPost, "/plans", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created PlanView
	decodeResponse(t, w, &created)
	if created.Remarks != "Pensez au pain." {
		t.Fatalf("created remarks = %q", created.Remarks)
	}

	w = env.do(http.MethodGet, "/plans/"+created.ID, "")
	var got PlanView
	decodeResponse(t, w, &got)
	if got.Remarks != created.Remarks {
		t.Errorf("archived remarks = %q, want %q", got.Remarks, created.Remarks)
	}
}

func TestPlans_Preconditions(t *testing.T) {
	env := setupApp(t, testToken)

	w := env.do(http.MethodPost, "/plans", `{"days":3}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("no inventory: expected 409, got %d", w.Code)
	}

	saveInventory(t, env, "tomate")
	w = env.do(http.MethodPost, "/plans", `{"days":8}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("8 days: expected 422, got %d", w.Code)
	}
	if env.model.calls != 0 {
		t.Errorf("model called %d times on failed preconditions", env.model.calls)
	}
	if _, err := os.Stat(filepath.Join(env.dir, planner.PlanMarkdownFile)); !os.IsNotExist(err) {
		t.Error("failed precondition wrote the plan artifact")
	}
}

func TestPlans_ModelFailures(t *testing.T) {
	tests := []struct {
		name string
		set  func(m *fakeModel)
		code int
		typ  string
	}{
		{"unavailable", func(m *fakeModel) { m.err = gemini.ErrUnavailable }, http.StatusBadGateway, "upstream_error"},
		{"no credential", func(m *fakeModel) { m.err = gemini.ErrNoCredential }, http.StatusServiceUnavailable, "configuration_error"},
		{"malformed", func(m *fakeModel) { m.plan = `{"plan_repas": [` }, http.StatusBadGateway, "malformed_output_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupApp(t, testToken)
			saveInventory(t, env, "tomate")
			tt.set(env.model)

			w := env.do(http.MethodPost, "/plans", `{"days":1}`)
			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
			var e errorEnvelope
			decodeResponse(t, w, &e)
			if e.Error.Type != tt.typ {
				t.Errorf("type = %q, want %q", e.Error.Type, tt.typ)
			}
			if n, _ := env.history.CountPlans(); n != 0 {
				t.Errorf("failed plan archived")
			}
		})
	}
}

func TestPlans_ListPagination(t *testing.T) {
	env := setupApp(t, testToken)
	saveInventory(t, env, "tomate")
	for range 3 {
		if w := env.do(http.MethodPost, "/plans", ""); w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", w.Code)
		}
	}

	w := env.do(http.MethodGet, "/plans?limit=2", "")
	var page []PlanSummary
	decodeResponse(t, w, &page)
	if len(page) != 2 {
		t.Fatalf("limit=2 returned %d", len(page))
	}

	w = env.do(http.MethodGet, "/plans?limit=2&offset=2", "")
	decodeResponse(t, w, &page)
	if len(page) != 1 {
		t.Fatalf("offset=2 returned %d", len(page))
	}
}
