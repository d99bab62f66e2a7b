package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/rulekeeper/internal/assistant"
	"github.com/starford/rulekeeper/internal/index"
	"github.com/starford/rulekeeper/internal/models"
	"github.com/starford/rulekeeper/internal/room"
	"github.com/starford/rulekeeper/internal/session"
	"github.com/starford/rulekeeper/internal/testutil"
	"github.com/starford/rulekeeper/internal/vaultsync"
)

type fakeLLM struct {
	reply  string
	err    error
	system string
}

func (f *fakeLLM) Complete(_ context.Context, system string, _ []assistant.Message) (string, error) {
	f.system = system
	return f.reply, f.err
}

type testEnv struct {
	router http.Handler
	gm     *room.Local
	sync   *vaultsync.Sync
	llm    *fakeLLM
	db     *index.DB
}

// newTestEnv wires a session against an in-process room with no vault
// published yet. An empty token disables auth.
func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()

	gm, player := testutil.TestTable(t, "Alice")
	vs := vaultsync.New(player, vaultsync.WithRequestTimeout(50*time.Millisecond))
	t.Cleanup(vs.Close)
	db := testutil.TestDB(t)

	llm := &fakeLLM{reply: "Roll **initiative**."}
	svc := assistant.NewService(llm, assistant.WithReferences(db, 2), assistant.WithVault(vs))
	sess := session.New(vs, svc, nil, nil)
	vs.Init(context.Background())

	return &testEnv{
		router: NewRouter(sess, token != "", token, nil),
		gm:     gm,
		sync:   vs,
		llm:    llm,
		db:     db,
	}
}

func (e *testEnv) publishVault(t *testing.T) {
	t.Helper()
	visible := false
	cfg := models.VaultConfig{Categories: []models.Category{
		{
			Name:  "NPCs",
			Pages: []models.PageEntry{{ID: "1", Title: "Sildar"}, {ID: "2", Title: "Hidden", Visible: &visible}},
			Categories: []models.Category{
				{Name: "Villains", Pages: []models.PageEntry{{ID: "3", Title: "Glasstaff"}}},
			},
		},
		{Name: "Places", Pages: []models.PageEntry{{ID: "4", Title: "Phandalin"}}},
	}}
	if err := e.gm.SetMetadata(context.Background(), map[string]any{e.sync.Keys().Config: cfg}); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if !e.sync.LoadFromSharedState(context.Background()) {
		t.Fatal("vault not loaded")
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestGetVault_Empty(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodGet, "/vault", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	st := decode[VaultStatus](t, w)
	if st.Available || st.Pages != 0 || st.Player != "Alice" {
		t.Errorf("status = %+v", st)
	}

	w = env.do(t, http.MethodGet, "/vault/summary", nil)
	sum := decode[VaultSummaryResponse](t, w)
	if sum.Available || sum.Summary != "" {
		t.Errorf("summary = %+v", sum)
	}
}

func TestGetVault_Published(t *testing.T) {
	env := newTestEnv(t, "")
	env.publishVault(t)

	st := decode[VaultStatus](t, env.do(t, http.MethodGet, "/vault", nil))
	if !st.Available || st.Pages != 3 {
		t.Errorf("status = %+v", st)
	}

	sum := decode[VaultSummaryResponse](t, env.do(t, http.MethodGet, "/vault/summary", nil))
	if !sum.Available || !strings.Contains(sum.Summary, "3 pages in 3 categories") {
		t.Errorf("summary = %q", sum.Summary)
	}
	if strings.Contains(sum.Summary, "Hidden") {
		t.Error("invisible page leaked into summary")
	}
}

func TestListPages(t *testing.T) {
	env := newTestEnv(t, "")
	env.publishVault(t)

	cases := []struct {
		target string
		want   []string
	}{
		{"/vault/pages", []string{"Sildar", "Glasstaff", "Phandalin"}},
		{"/vault/pages?category=NPCs", []string{"Sildar", "Glasstaff"}},
		{"/vault/pages?category=NPCs+%3E+Villains", []string{"Glasstaff"}},
		{"/vault/pages?q=phan", []string{"Phandalin"}},
		{"/vault/pages?category=Nowhere", []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.target, func(t *testing.T) {
			resp := decode[PageListResponse](t, env.do(t, http.MethodGet, tc.target, nil))
			got := []string{}
			for _, p := range resp.Pages {
				got = append(got, p.Title)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("titles mismatch (-want +got):\n%s", diff)
			}
			if resp.Total != len(tc.want) {
				t.Errorf("total = %d", resp.Total)
			}
		})
	}
}

func TestRefreshAndClear(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/vault/refresh", nil)
	if st := decode[VaultStatus](t, w); st.Available {
		t.Errorf("refresh without source = %+v", st)
	}

	env.publishVault(t)
	w = env.do(t, http.MethodPost, "/vault/refresh", nil)
	if st := decode[VaultStatus](t, w); !st.Available || st.Pages != 3 {
		t.Errorf("refresh = %+v", st)
	}

	// Shared state still holds the vault, so clearing reloads it.
	w = env.do(t, http.MethodDelete, "/vault/cache", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clear status = %d", w.Code)
	}
	if st := decode[VaultStatus](t, w); !st.Available {
		t.Errorf("clear = %+v", st)
	}

	if err := env.gm.SetMetadata(context.Background(), map[string]any{env.sync.Keys().Config: nil}); err != nil {
		t.Fatal(err)
	}
	w = env.do(t, http.MethodDelete, "/vault/cache", nil)
	if st := decode[VaultStatus](t, w); st.Available || st.Pages != 0 {
		t.Errorf("clear after unpublish = %+v", st)
	}
}

func TestReferences(t *testing.T) {
	env := newTestEnv(t, "")
	if err := env.db.Upsert(index.DocumentRow{
		Path:      "rules/grapple.md",
		Title:     "Grappling",
		Checksum:  "c1",
		Tags:      []string{"combat"},
		UpdatedAt: time.Now().UTC(),
	}, "Make an Athletics check contested by Athletics or Acrobatics."); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodGet, "/references/search?q=athletics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d, body = %s", w.Code, w.Body.String())
	}
	res := decode[SearchResponse](t, w)
	if len(res.Results) != 1 || res.Results[0].Path != "rules/grapple.md" {
		t.Errorf("results = %+v", res.Results)
	}

	w = env.do(t, http.MethodGet, "/references/search?q=zzzz", nil)
	if res := decode[SearchResponse](t, w); res.Results == nil || len(res.Results) != 0 {
		t.Errorf("no-hit results = %#v", res.Results)
	}

	if w := env.do(t, http.MethodGet, "/references/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing q = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodGet, "/references/rules%2Fgrapple.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("read status = %d, body = %s", w.Code, w.Body.String())
	}
	doc := decode[ReferenceDocument](t, w)
	if doc.Title != "Grappling" || !strings.HasPrefix(doc.Body, "Make an Athletics") {
		t.Errorf("doc = %+v", doc)
	}

	if w := env.do(t, http.MethodGet, "/references/rules/missing.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing doc = %d, want 404", w.Code)
	}
}

func TestChat(t *testing.T) {
	env := newTestEnv(t, "")
	env.publishVault(t)

	w := env.do(t, http.MethodPost, "/chat", ChatRequest{Messages: []assistant.Message{
		{Role: assistant.RoleUser, Content: "Who is Sildar?"},
	}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	reply := decode[ChatResponse](t, w)
	if reply.Text != "Roll **initiative**." || !strings.Contains(reply.HTML, "<strong>initiative</strong>") {
		t.Errorf("reply = %+v", reply)
	}
	if !reply.VaultIncluded {
		t.Error("vault summary not included")
	}
	if !strings.Contains(env.llm.system, "You are talking to Alice.") {
		t.Errorf("system prompt missing player:\n%s", env.llm.system)
	}
}

func TestChatErrors(t *testing.T) {
	env := newTestEnv(t, "")

	cases := []struct {
		name   string
		body   any
		llmErr error
		want   int
	}{
		{"invalid json", "{", nil, http.StatusBadRequest},
		{"unknown field", `{"messages":[{"role":"user","content":"hi"}],"stream":true}`, nil, http.StatusBadRequest},
		{"empty conversation", ChatRequest{}, nil, http.StatusBadRequest},
		{"last turn not user", ChatRequest{Messages: []assistant.Message{
			{Role: assistant.RoleUser, Content: "hi"},
			{Role: assistant.RoleAssistant, Content: "hello"},
		}}, nil, http.StatusBadRequest},
		{"rate limited", ChatRequest{Messages: []assistant.Message{{Role: assistant.RoleUser, Content: "hi"}}},
			&assistant.RetryableError{StatusCode: http.StatusTooManyRequests}, http.StatusServiceUnavailable},
		{"upstream failure", ChatRequest{Messages: []assistant.Message{{Role: assistant.RoleUser, Content: "hi"}}},
			errors.New("boom"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env.llm.err = tc.llmErr
			w := env.do(t, http.MethodPost, "/chat", tc.body)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, "secret")

	cases := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer wrong", http.StatusUnauthorized},
		{"secret", http.StatusUnauthorized},
		{"Bearer secret", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/vault", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Errorf("header %q: status = %d, want %d", tc.header, w.Code, tc.want)
		}
	}
}

func TestEventsMountedBehindAuth(t *testing.T) {
	called := false
	events := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})
	_, player := testutil.TestTable(t, "Bob")
	vs := vaultsync.New(player)
	defer vs.Close()
	router := NewRouter(session.New(vs, nil, nil, nil), true, "tok", events)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))
	if w.Code != http.StatusUnauthorized || called {
		t.Fatalf("unauthenticated events = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || !called {
		t.Errorf("events = %d, called = %v", w.Code, called)
	}
}
