package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/starford/rulekeeper/internal/apperr"
	"github.com/starford/rulekeeper/internal/models"
	"github.com/starford/rulekeeper/internal/room"
	"github.com/starford/rulekeeper/internal/sse"
	"github.com/starford/rulekeeper/internal/testutil"
	"github.com/starford/rulekeeper/internal/vaultsync"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordedEvent struct {
	Type  string
	State sse.VaultState
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) PublishVaultEvent(typ string, state sse.VaultState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: typ, State: state})
}

func (r *recorder) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func boolPtr(b bool) *bool { return &b }

var testVault = models.VaultConfig{Categories: []models.Category{
	{
		Name: "NPCs",
		Pages: []models.PageEntry{
			{ID: "1", Title: "Sildar Hallwinter"},
			{ID: "2", Title: "Secret Villain", Visible: boolPtr(false)},
		},
		Categories: []models.Category{
			{Name: "Allies", Pages: []models.PageEntry{{ID: "3", Title: "Gundren"}}},
		},
	},
	{Name: "Locations", Pages: []models.PageEntry{{ID: "4", Title: "Phandalin"}}},
}}

type fixture struct {
	gm     *room.Local
	player *room.Local
	sync   *vaultsync.Sync
	events *recorder
	sess   *Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gm, player := testutil.TestTable(t, "Alice")
	vs := vaultsync.New(player, vaultsync.WithRequestTimeout(100*time.Millisecond))
	t.Cleanup(vs.Close)
	rec := &recorder{}
	f := &fixture{
		gm:     gm,
		player: player,
		sync:   vs,
		events: rec,
		sess:   New(vs, nil, rec, nil),
	}
	return f
}

func (f *fixture) publishMetadata(t *testing.T) {
	t.Helper()
	keys := f.sync.Keys()
	if err := f.gm.SetMetadata(context.Background(), map[string]any{keys.Config: testVault}); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
}

func TestStatus_Unavailable(t *testing.T) {
	f := newFixture(t)
	f.sync.Init(context.Background())

	got := f.sess.Status()
	want := VaultStatus{Categories: []string{}, Player: "Alice"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if f.sess.Summary() != "" {
		t.Errorf("summary = %q, want empty", f.sess.Summary())
	}
	if pages := f.sess.Pages("", ""); len(pages) != 0 {
		t.Errorf("pages = %v", pages)
	}
}

func TestStatusAndPages(t *testing.T) {
	f := newFixture(t)
	f.publishMetadata(t)
	if !f.sync.Init(context.Background()) {
		t.Fatal("Init found no vault")
	}

	st := f.sess.Status()
	if !st.Available || st.Pages != 3 || st.UpdatedAt == nil {
		t.Errorf("status = %+v", st)
	}
	wantCats := []string{"NPCs", "NPCs > Allies", "Locations"}
	if diff := cmp.Diff(wantCats, st.Categories); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}

	titles := func(pages []models.Page) []string {
		out := []string{}
		for _, p := range pages {
			out = append(out, p.Title)
		}
		return out
	}
	cases := []struct {
		name     string
		category string
		query    string
		want     []string
	}{
		{"all", "", "", []string{"Sildar Hallwinter", "Gundren", "Phandalin"}},
		{"category includes subcategories", "NPCs", "", []string{"Sildar Hallwinter", "Gundren"}},
		{"subcategory", "NPCs > Allies", "", []string{"Gundren"}},
		{"prefix is not a category", "NPC", "", []string{}},
		{"title query", "", "PHAN", []string{"Phandalin"}},
		{"both filters", "NPCs", "sil", []string{"Sildar Hallwinter"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := titles(f.sess.Pages(tc.category, tc.query))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("pages mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRefreshUsesGMReply(t *testing.T) {
	f := newFixture(t)
	f.sync.Init(context.Background())

	keys := f.sync.Keys()
	unsub := f.gm.Subscribe(keys.RequestChannel, func(m room.Message) {
		var req vaultsync.VaultRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		raw, _ := json.Marshal(testVault)
		_ = f.gm.Broadcast(context.Background(), keys.ResponseChannel,
			vaultsync.VaultMessage{Config: raw, RequesterID: req.RequesterID})
	})
	defer unsub()

	st := f.sess.Refresh(context.Background())
	if !st.Available || st.Pages != 3 {
		t.Fatalf("status after refresh = %+v", st)
	}

	want := []recordedEvent{{Type: sse.EventVaultRefreshed, State: sse.VaultState{Available: true, Pages: 3}}}
	if diff := cmp.Diff(want, f.events.all()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestClearDropsCacheWithoutSource(t *testing.T) {
	f := newFixture(t)
	raw, _ := json.Marshal(testVault)
	if !f.sync.ProcessVaultConfig(raw) {
		t.Fatal("ProcessVaultConfig rejected vault")
	}
	f.sync.Init(context.Background())

	st := f.sess.Clear(context.Background())
	if st.Available || st.Pages != 0 {
		t.Errorf("status after clear = %+v", st)
	}
	events := f.events.all()
	if len(events) != 1 || events[0].Type != sse.EventVaultCleared {
		t.Errorf("events = %+v", events)
	}
}

func TestWithoutAssistant(t *testing.T) {
	f := newFixture(t)

	if _, err := f.sess.Chat(context.Background(), nil); !errors.Is(err, apperr.ErrUnavailable) {
		t.Errorf("Chat err = %v, want ErrUnavailable", err)
	}
	if _, err := f.sess.SearchReferences("grapple", 5); !errors.Is(err, apperr.ErrUnavailable) {
		t.Errorf("SearchReferences err = %v, want ErrUnavailable", err)
	}
	if _, err := f.sess.ReadReference("combat.md"); !errors.Is(err, apperr.ErrUnavailable) {
		t.Errorf("ReadReference err = %v, want ErrUnavailable", err)
	}
}

func TestNilEventsIsAllowed(t *testing.T) {
	_, player := testutil.TestTable(t, "Bob")
	vs := vaultsync.New(player, vaultsync.WithRequestTimeout(10*time.Millisecond))
	defer vs.Close()

	sess := New(vs, nil, nil, nil)
	if st := sess.Clear(context.Background()); st.Available {
		t.Errorf("status = %+v", st)
	}
}
