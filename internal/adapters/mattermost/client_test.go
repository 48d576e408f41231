package mattermost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetPostsSubtractsMillisecond(t *testing.T) {
	var gotSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v4/channels/ch1/posts" {
			t.Fatalf("неожиданный путь: %s", r.URL.Path)
		}
		gotSince = r.URL.Query().Get("since")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"order": []string{"p2", "p1"},
			"posts": map[string]any{
				"p1": map[string]any{"id": "p1", "user_id": "u1", "message": "первое", "create_at": 1000},
				"p2": map[string]any{"id": "p2", "user_id": "u2", "message": "второе", "create_at": 2000},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token", time.Second)
	posts, err := client.GetPosts(context.Background(), "ch1", 1500, 0)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if gotSince != "1499" {
		t.Fatalf("ожидали since=1499, получили %q", gotSince)
	}
	if len(posts) != 2 {
		t.Fatalf("ожидали 2 сообщения, получили %d", len(posts))
	}
	if posts[0].ID != "p2" {
		t.Fatalf("порядок выдачи API должен сохраняться, получили %s", posts[0].ID)
	}
}

func TestGetPostsLimitWithoutSince(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("per_page"); got != "50" {
			t.Fatalf("ожидали per_page=50, получили %q", got)
		}
		if got := r.URL.Query().Get("since"); got != "" {
			t.Fatalf("since не должен передаваться: %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"order": []string{}, "posts": map[string]any{}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token", time.Second)
	if _, err := client.GetPosts(context.Background(), "ch1", 0, 50); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
}

func TestResolveDisplayNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v4/users/ids" {
			t.Fatalf("неожиданный запрос: %s %s", r.Method, r.URL.Path)
		}
		var ids []string
		if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
			t.Fatalf("тело запроса не парсится: %v", err)
		}
		if len(ids) != 3 {
			t.Fatalf("ожидали 3 идентификатора, получили %d", len(ids))
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "u1", "username": "alice", "nickname": "Алиса"},
			{"id": "u2", "username": "bob", "first_name": "Bob", "last_name": "Smith"},
			{"id": "u3", "username": "carol"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token", time.Second)
	names, err := client.ResolveDisplayNames(context.Background(), []string{"u1", "u2", "u3"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if names["u1"] != "Алиса" {
		t.Fatalf("ожидали никнейм, получили %q", names["u1"])
	}
	if names["u2"] != "Bob Smith" {
		t.Fatalf("ожидали имя и фамилию, получили %q", names["u2"])
	}
	if names["u3"] != "carol" {
		t.Fatalf("ожидали логин, получили %q", names["u3"])
	}
}

func TestListChannelsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"no access"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token", time.Second)
	if _, err := client.ListChannels(context.Background(), "team1"); err == nil {
		t.Fatalf("ожидали ошибку на статус 403")
	}
}
