package feed

import (
	"context"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cinedb/cinedb/internal/model"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func mustChange(t *testing.T, table, typ string, rec any) Change {
	t.Helper()
	c, err := NewChange(table, typ, rec)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSubscriptionMatches(t *testing.T) {
	uid := uint64(7)
	comment := mustChange(t, TableMovieComments, Insert, model.Comment{ID: 1, MovieID: 42, UserID: &uid, Content: "hi"})

	tests := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"table only", Subscription{Table: TableMovieComments}, true},
		{"other table", Subscription{Table: TableMovies}, false},
		{"numeric filter", Subscription{Table: TableMovieComments, Filter: "movie_id=eq.42"}, true},
		{"numeric filter other value", Subscription{Table: TableMovieComments, Filter: "movie_id=eq.43"}, false},
		{"string filter", Subscription{Table: TableMovieComments, Filter: "content=eq.hi"}, true},
		{"missing column", Subscription{Table: TableMovieComments, Filter: "topic_id=eq.42"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.sub.Parse(); err != nil {
				t.Fatal(err)
			}
			if got := tt.sub.Matches(comment); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubscriptionParseErrors(t *testing.T) {
	for _, s := range []Subscription{
		{Table: ""},
		{Table: "movies", Filter: "id"},
		{Table: "movies", Filter: "id=gt.3"},
		{Table: "movies", Filter: "=eq.3"},
	} {
		if err := s.Parse(); err == nil {
			t.Errorf("Parse(%+v) succeeded, want error", s)
		}
	}
}

func TestRoutingKey(t *testing.T) {
	c := Change{Table: TableForumReplies, Type: Insert}
	if got := c.RoutingKey(); got != "forum_replies.insert" {
		t.Fatalf("RoutingKey = %q", got)
	}
}

func TestCommentCacheReconciles(t *testing.T) {
	now := time.Now()
	cc := NewCommentCache(42, []model.Comment{
		{ID: 1, MovieID: 42, Content: "first", CreatedAt: now.Add(-time.Hour)},
		{ID: 2, MovieID: 99, Content: "other movie"},
	})

	// optimistic insert, then the feed delivers the same row
	optimistic := model.Comment{ID: 3, MovieID: 42, Content: "mine", CreatedAt: now}
	cc.Put(optimistic)
	if err := cc.Apply(mustChange(t, TableMovieComments, Insert, optimistic)); err != nil {
		t.Fatal(err)
	}
	if got := cc.List(); len(got) != 2 || got[0].ID != 3 || got[1].ID != 1 {
		t.Fatalf("after insert: %+v", got)
	}

	edited := optimistic
	edited.Content = "edited"
	_ = cc.Apply(mustChange(t, TableMovieComments, Update, edited))
	if got := cc.List(); got[0].Content != "edited" {
		t.Fatalf("update not applied: %+v", got[0])
	}

	_ = cc.Apply(mustChange(t, TableMovieComments, Delete, model.Comment{ID: 1, MovieID: 42}))
	_ = cc.Apply(mustChange(t, TableMovieComments, Insert, model.Comment{ID: 8, MovieID: 7}))
	_ = cc.Apply(mustChange(t, TableMovies, Delete, model.Movie{ID: 42}))
	if got := cc.List(); len(got) != 1 || got[0].ID != 3 {
		t.Fatalf("after delete: %+v", got)
	}
	if sub := cc.Subscription(); sub.Filter != "movie_id=eq.42" {
		t.Fatalf("subscription filter = %q", sub.Filter)
	}
}

func TestPendingCommentCacheKeepsNewerState(t *testing.T) {
	cc := NewPendingCommentCache(42)
	// changes arriving while the initial list is being read
	cc.Put(model.Comment{ID: 5, MovieID: 42, Content: "new"})
	_ = cc.Apply(mustChange(t, TableMovieComments, Delete, model.Comment{ID: 1, MovieID: 42}))
	_ = cc.Apply(mustChange(t, TableMovieComments, Update, model.Comment{ID: 2, MovieID: 42, Content: "edited"}))

	cc.Fill([]model.Comment{
		{ID: 1, MovieID: 42, Content: "deleted meanwhile"},
		{ID: 2, MovieID: 42, Content: "original"},
		{ID: 3, MovieID: 42, Content: "untouched"},
	})
	got := map[uint64]string{}
	for _, c := range cc.List() {
		got[c.ID] = c.Content
	}
	want := map[uint64]string{2: "edited", 3: "untouched", 5: "new"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("after fill = %v, want %v", got, want)
	}

	cc.Remove(3)
	cc.Put(model.Comment{ID: 3, MovieID: 42, Content: "back"})
	if l := cc.List(); len(l) != 3 {
		t.Errorf("filled cache = %+v", l)
	}
}

func TestHubDeliversMatchingChanges(t *testing.T) {
	hub := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	seen := make(chan Change, 4)
	hub.Listen(func(c Change) { seen <- c })

	subscribed := NewClient(hub, nil, "dev-1")
	if err := subscribed.Subscribe(Subscription{Table: TableMovieComments, Filter: "movie_id=eq.42"}); err != nil {
		t.Fatal(err)
	}
	idle := NewClient(hub, nil, "dev-2")
	hub.Register <- subscribed
	hub.Register <- idle

	match := mustChange(t, TableMovieComments, Insert, model.Comment{ID: 1, MovieID: 42})
	miss := mustChange(t, TableMovieComments, Insert, model.Comment{ID: 2, MovieID: 43})
	if err := hub.Publish(ctx, miss); err != nil {
		t.Fatal(err)
	}
	if err := hub.Publish(ctx, match); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-subscribed.send:
		ch, ok := msg.Data.(Change)
		if msg.Type != MessageTypeChange || !ok || string(ch.Record) != string(match.Record) {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("subscribed client got nothing")
	}
	select {
	case msg := <-idle.send:
		t.Fatalf("client without subscriptions got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
	for i := 0; i < 2; i++ {
		select {
		case <-seen:
		case <-time.After(time.Second):
			t.Fatal("listener not called for every change")
		}
	}
}

func TestHubNotifiesOneDevice(t *testing.T) {
	hub := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	a := NewClient(hub, nil, "dev-a")
	b := NewClient(hub, nil, "dev-b")
	hub.Register <- a
	hub.Register <- b

	hub.Notify("dev-a", "error", "invalid credentials")

	select {
	case msg := <-a.send:
		n, ok := msg.Data.(Notification)
		if msg.Type != MessageTypeNotification || !ok || n.Message != "invalid credentials" {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
	select {
	case msg := <-b.send:
		t.Fatalf("other device got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	hub := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = hub.Run(ctx); close(done) }()

	c := NewClient(hub, nil, "dev")
	hub.Register <- c
	cancel()
	<-done
	if _, ok := <-c.send; ok {
		t.Fatal("send channel still open after shutdown")
	}
	if n := hub.ClientCount(); n != 0 {
		t.Fatalf("ClientCount = %d", n)
	}
}

func TestDiscard(t *testing.T) {
	if err := (Discard{}).Publish(context.Background(), Change{}); err != nil {
		t.Fatal(err)
	}
}
