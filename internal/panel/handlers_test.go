package panel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/zulandar/frameforge/internal/models"
	"github.com/zulandar/frameforge/internal/store"
	"github.com/zulandar/frameforge/internal/supervisor"
)

func TestAdminUsers_CRUD(t *testing.T) {
	h := newHarness(t)
	admin := h.login(h.user("root", models.RoleAdmin))

	w := h.do(http.MethodPost, "/admin/users", map[string]any{"username": "alice", "password": "short", "botLimit": 2}, admin)
	expectError(t, w, http.StatusBadRequest, "Password must be at least 8 characters.")

	w = h.do(http.MethodPost, "/admin/users", map[string]any{"username": "alice", "password": "longenough", "botLimit": -1}, admin)
	expectStatus(t, w, http.StatusBadRequest)

	w = h.do(http.MethodPost, "/admin/users", map[string]any{"username": "alice", "password": "longenough", "botLimit": 2}, admin)
	expectStatus(t, w, http.StatusOK)
	created := decode(t, w)["user"].(map[string]any)
	id := created["id"].(string)
	if created["botLimit"] != float64(2) || created["role"] != models.RoleUser {
		t.Errorf("created = %v", created)
	}

	w = h.do(http.MethodPost, "/admin/users", map[string]any{"username": "alice", "password": "longenough"}, admin)
	expectError(t, w, http.StatusConflict, "Username already exists.")

	var alice models.User
	if err := h.db.First(&alice, "id = ?", id).Error; err != nil {
		t.Fatalf("load alice: %v", err)
	}
	h.automaton(&alice, "bot")
	aliceCookie := h.login(&alice)

	w = h.do(http.MethodGet, "/admin/users", nil, admin)
	expectStatus(t, w, http.StatusOK)
	users := decode(t, w)["users"].([]any)
	if len(users) != 1 {
		t.Fatalf("users = %v, want only the user role", users)
	}
	if users[0].(map[string]any)["automatonCount"] != float64(1) {
		t.Errorf("automatonCount = %v", users[0])
	}

	w = h.do(http.MethodPut, "/admin/users/"+id, map[string]any{"password": "another-password", "botLimit": 5}, admin)
	expectStatus(t, w, http.StatusOK)
	if decode(t, w)["user"].(map[string]any)["botLimit"] != float64(5) {
		t.Errorf("update body = %s", w.Body.String())
	}
	// Changing the password signs the user out everywhere.
	w = h.do(http.MethodGet, "/user/automatons", nil, aliceCookie)
	expectStatus(t, w, http.StatusUnauthorized)

	w = h.do(http.MethodPut, "/admin/users/missing", map[string]any{"botLimit": 1}, admin)
	expectError(t, w, http.StatusNotFound, "User not found.")

	w = h.do(http.MethodDelete, "/admin/users/"+id, nil, admin)
	expectStatus(t, w, http.StatusOK)
	var n int64
	h.db.Model(&models.Automaton{}).Where("owner_id = ?", id).Count(&n)
	if n != 0 {
		t.Errorf("automatons left after user delete: %d", n)
	}
	if !h.hasEvent("User deleted") {
		t.Error("missing delete event")
	}
}

func TestAdminDeleteUser_RefusesAdmins(t *testing.T) {
	h := newHarness(t)
	root := h.user("root", models.RoleAdmin)
	admin := h.login(root)
	w := h.do(http.MethodDelete, "/admin/users/"+root.ID, nil, admin)
	expectError(t, w, http.StatusNotFound, "User not found.")
}

func TestAdminAutomatons(t *testing.T) {
	h := newHarness(t)
	admin := h.login(h.user("root", models.RoleAdmin))
	owner := h.user("alice", models.RoleUser)
	other := h.user("boss", models.RoleAdmin)

	tests := []struct {
		name string
		body map[string]any
		code int
		msg  string
	}{
		{"missing token", map[string]any{"ownerId": owner.ID, "name": "bot"}, http.StatusBadRequest, "Owner, name, and token are required."},
		{"unknown owner", map[string]any{"ownerId": "nobody", "name": "bot", "discordToken": "t"}, http.StatusNotFound, "Owner not found."},
		{"admin owner", map[string]any{"ownerId": other.ID, "name": "bot", "discordToken": "t"}, http.StatusNotFound, "Owner not found."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(http.MethodPost, "/admin/automatons", tt.body, admin)
			expectError(t, w, tt.code, tt.msg)
		})
	}

	w := h.do(http.MethodPost, "/admin/automatons", map[string]any{
		"ownerId": owner.ID, "name": "bot", "discordToken": " secret-token ", "guildId": "g1",
	}, admin)
	expectStatus(t, w, http.StatusOK)
	view := decode(t, w)["automaton"].(map[string]any)
	id := view["id"].(string)
	if view["owner"].(map[string]any)["username"] != "alice" {
		t.Errorf("owner = %v", view["owner"])
	}
	token, err := h.store.Token(context.Background(), id)
	if err != nil || token != "secret-token" {
		t.Errorf("Token = %q, %v", token, err)
	}

	w = h.do(http.MethodPost, "/admin/automatons/"+id+"/start", nil, admin)
	expectStatus(t, w, http.StatusOK)
	if decode(t, w)["started"] != true {
		t.Errorf("start = %s", w.Body.String())
	}

	w = h.do(http.MethodGet, "/admin/automatons", nil, admin)
	list := decode(t, w)["automatons"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["running"] != true {
		t.Errorf("list = %v", list)
	}

	w = h.do(http.MethodPost, "/admin/automatons/missing/stop", nil, admin)
	expectError(t, w, http.StatusNotFound, "Automaton not found.")

	w = h.do(http.MethodDelete, "/admin/automatons/"+id, nil, admin)
	expectStatus(t, w, http.StatusOK)
	if h.ctrl.IsRunning(id) {
		t.Error("automaton still running after delete")
	}
	var n int64
	h.db.Model(&models.Automaton{}).Count(&n)
	if n != 0 {
		t.Errorf("automatons = %d after delete", n)
	}
}

func TestAdminStart_NotFound(t *testing.T) {
	h := newHarness(t)
	admin := h.login(h.user("root", models.RoleAdmin))
	h.ctrl.startErr = errorsNotFound()
	w := h.do(http.MethodPost, "/admin/automatons/ghost/start", nil, admin)
	expectError(t, w, http.StatusNotFound, "Automaton not found.")
}

func TestAdminGears(t *testing.T) {
	h := newHarness(t)
	admin := h.login(h.user("root", models.RoleAdmin))
	h.gear("utility.ping")
	h.gear("news.news")

	w := h.do(http.MethodGet, "/admin/gears", nil, admin)
	gears := decode(t, w)["gears"].([]any)
	if len(gears) != 2 || gears[0].(map[string]any)["key"] != "news.news" {
		t.Errorf("gears not ordered by category: %v", gears)
	}

	w = h.do(http.MethodPatch, "/admin/gears/utility.ping", map[string]any{"enabled": "no"}, admin)
	expectStatus(t, w, http.StatusBadRequest)
	w = h.do(http.MethodPatch, "/admin/gears/utility.ping", map[string]any{}, admin)
	expectError(t, w, http.StatusBadRequest, "enabled must be boolean.")

	w = h.do(http.MethodPatch, "/admin/gears/utility.ping", map[string]any{"enabled": false}, admin)
	expectStatus(t, w, http.StatusOK)
	w = h.do(http.MethodGet, "/admin/gears/utility.ping", nil, admin)
	if decode(t, w)["gear"].(map[string]any)["enabled"] != false {
		t.Errorf("gear = %s", w.Body.String())
	}

	w = h.do(http.MethodGet, "/admin/gears/missing", nil, admin)
	expectError(t, w, http.StatusNotFound, "Gear not found.")

	w = h.do(http.MethodPut, "/admin/gears/news.news/config", map[string]any{"config": []int{1}}, admin)
	expectError(t, w, http.StatusBadRequest, "config must be an object.")

	for _, color := range []string{"#111111", "#222222"} {
		w = h.do(http.MethodPut, "/admin/gears/news.news/config", map[string]any{"config": map[string]any{"embedColor": color}}, admin)
		expectStatus(t, w, http.StatusOK)
	}
	w = h.do(http.MethodGet, "/admin/gears/news.news/config", nil, admin)
	cfg := decode(t, w)["config"].(map[string]any)
	if cfg["embedColor"] != "#222222" {
		t.Errorf("defaults = %v", cfg)
	}
	var setting models.SystemSetting
	if err := h.db.First(&setting, "`key` = ?", store.GearSettingPrefix+"news.news").Error; err != nil {
		t.Fatalf("setting: %v", err)
	}
}

func TestSystemSettings(t *testing.T) {
	h := newHarness(t)
	admin := h.login(h.user("root", models.RoleAdmin))

	w := h.do(http.MethodGet, "/admin/system/unknown", nil, admin)
	expectError(t, w, http.StatusNotFound, "Category not found.")

	w = h.do(http.MethodPut, "/admin/system/branding", map[string]any{
		"values": map[string]string{"siteName": "Forge", "accent": "#fff"},
	}, admin)
	expectStatus(t, w, http.StatusOK)

	w = h.do(http.MethodGet, "/admin/system/branding", nil, admin)
	values := decode(t, w)["values"].(map[string]any)
	if values["siteName"] != "Forge" || values["accent"] != "#fff" {
		t.Errorf("values = %v", values)
	}
	w = h.do(http.MethodGet, "/admin/system/limits", nil, admin)
	if len(decode(t, w)["values"].(map[string]any)) != 0 {
		t.Errorf("limits leaked branding values: %s", w.Body.String())
	}
}

func TestAdminAssignmentConfig_RestartsRunning(t *testing.T) {
	h := newHarness(t)
	admin := h.login(h.user("root", models.RoleAdmin))
	a := h.automaton(h.user("alice", models.RoleUser), "bot")
	g := h.gear("utility.presence")
	h.assign(a, g, `{"statusText":"old"}`)
	path := "/admin/automatons/" + a.ID + "/gears/utility.presence/config"

	w := h.do(http.MethodPut, path, map[string]any{"config": map[string]any{"statusText": "new"}}, admin)
	expectStatus(t, w, http.StatusOK)
	if decode(t, w)["restarted"] != false {
		t.Errorf("stopped automaton restarted: %s", w.Body.String())
	}
	if h.hasEvent("Automaton restarted after gear config update") {
		t.Error("restart logged for a stopped automaton")
	}

	h.ctrl.Start(context.Background(), a.ID)
	w = h.do(http.MethodPut, path, map[string]any{"config": map[string]any{"statusText": "newer"}}, admin)
	expectStatus(t, w, http.StatusOK)
	if decode(t, w)["restarted"] != true {
		t.Errorf("running automaton not restarted: %s", w.Body.String())
	}
	if !h.hasEvent("Automaton restarted after gear config update") || !h.hasEvent("Gear config updated by admin") {
		t.Error("missing restart events")
	}

	w = h.do(http.MethodGet, path, nil, admin)
	if decode(t, w)["config"].(map[string]any)["statusText"] != "newer" {
		t.Errorf("config = %s", w.Body.String())
	}

	h.gear("utility.ping")
	w = h.do(http.MethodGet, "/admin/automatons/"+a.ID+"/gears/utility.ping/config", nil, admin)
	expectError(t, w, http.StatusNotFound, "Gear not assigned to automaton.")
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	admin := h.login(h.user("root", models.RoleAdmin))
	alice := h.user("alice", models.RoleUser)
	a := h.automaton(alice, "bot")
	h.automaton(alice, "bot2")
	h.ctrl.Start(context.Background(), a.ID)
	h.gear("utility.ping")
	h.db.Create(&models.Ticket{Title: "t", Description: "d", CreatedByID: alice.ID})

	w := h.do(http.MethodGet, "/admin/stats", nil, admin)
	expectStatus(t, w, http.StatusOK)
	st := decode(t, w)
	want := map[string]float64{"users": 1, "automatons": 2, "running": 1, "gears": 1, "openTickets": 1}
	for k, v := range want {
		if st[k] != v {
			t.Errorf("%s = %v, want %v", k, st[k], v)
		}
	}
}

func TestUserAutomatons_BotLimit(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice", models.RoleUser)
	h.db.Model(alice).Update("bot_limit", 1)
	cookie := h.login(alice)

	w := h.do(http.MethodPost, "/user/automatons", map[string]any{"name": "bot"}, cookie)
	expectError(t, w, http.StatusBadRequest, "Name and token are required.")

	w = h.do(http.MethodPost, "/user/automatons", map[string]any{"name": "bot", "discordToken": "tok"}, cookie)
	expectStatus(t, w, http.StatusOK)

	w = h.do(http.MethodPost, "/user/automatons", map[string]any{"name": "bot2", "discordToken": "tok"}, cookie)
	expectError(t, w, http.StatusForbidden, "Bot limit reached.")

	w = h.do(http.MethodGet, "/user/automatons", nil, cookie)
	if list := decode(t, w)["automatons"].([]any); len(list) != 1 {
		t.Errorf("automatons = %v", list)
	}
}

func TestUserAutomatons_Ownership(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice", models.RoleUser)
	bob := h.user("bob", models.RoleUser)
	theirs := h.automaton(bob, "bobbot")
	mine := h.automaton(alice, "alicebot")
	cookie := h.login(alice)

	for _, req := range []struct{ method, path string }{
		{http.MethodPost, "/user/automatons/" + theirs.ID + "/start"},
		{http.MethodPost, "/user/automatons/" + theirs.ID + "/stop"},
		{http.MethodDelete, "/user/automatons/" + theirs.ID},
		{http.MethodGet, "/user/automatons/" + theirs.ID + "/gears"},
		{http.MethodGet, "/user/automatons/" + theirs.ID + "/discord/guilds"},
	} {
		w := h.do(req.method, req.path, nil, cookie)
		expectError(t, w, http.StatusNotFound, "Not found.")
	}

	w := h.do(http.MethodPost, "/user/automatons/"+mine.ID+"/start", nil, cookie)
	expectStatus(t, w, http.StatusOK)
	w = h.do(http.MethodPost, "/user/automatons/"+mine.ID+"/stop", nil, cookie)
	expectStatus(t, w, http.StatusOK)
	if decode(t, w)["stopped"] != true {
		t.Errorf("stop = %s", w.Body.String())
	}

	w = h.do(http.MethodPut, "/user/automatons/"+mine.ID+"/config", map[string]any{"guildId": "g9", "channelId": "c9"}, cookie)
	expectStatus(t, w, http.StatusOK)
	var got models.Automaton
	h.db.First(&got, "id = ?", mine.ID)
	if got.GuildID != "g9" || got.ChannelID != "c9" {
		t.Errorf("guild/channel = %q/%q", got.GuildID, got.ChannelID)
	}

	w = h.do(http.MethodDelete, "/user/automatons/"+mine.ID, nil, cookie)
	expectStatus(t, w, http.StatusOK)
	if !h.hasEvent("Automaton deleted by user") {
		t.Error("missing delete event")
	}
}

func TestUserAssignments(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice", models.RoleUser)
	cookie := h.login(alice)
	a := h.automaton(alice, "bot")
	ping := h.gear("utility.ping")
	presence := h.gear("utility.presence")
	news := h.gear("news.news")
	h.assign(a, presence, `{"statusText":"kept"}`)
	h.assign(a, news, `{}`)
	path := "/user/automatons/" + a.ID + "/gears"

	w := h.do(http.MethodPost, path, map[string]any{"gearIds": []string{ping.ID, "bogus"}}, cookie)
	expectError(t, w, http.StatusBadRequest, "Unknown gear.")

	w = h.do(http.MethodPost, path, map[string]any{"gearIds": []string{ping.ID, presence.ID, ping.ID}}, cookie)
	expectStatus(t, w, http.StatusOK)

	w = h.do(http.MethodGet, path, nil, cookie)
	list := decode(t, w)["assignments"].([]any)
	keys := map[string]bool{}
	for _, item := range list {
		keys[item.(map[string]any)["gearKey"].(string)] = true
	}
	if len(list) != 2 || !keys["utility.ping"] || !keys["utility.presence"] {
		t.Errorf("assignments = %v", list)
	}

	w = h.do(http.MethodGet, path+"/utility.presence/config", nil, cookie)
	if decode(t, w)["config"].(map[string]any)["statusText"] != "kept" {
		t.Errorf("retained assignment lost its config: %s", w.Body.String())
	}

	w = h.do(http.MethodPut, path+"/utility.presence/config", map[string]any{"config": "x"}, cookie)
	expectError(t, w, http.StatusBadRequest, "config must be an object.")

	w = h.do(http.MethodPut, path+"/utility.presence/config", map[string]any{"config": map[string]any{"statusText": "fresh"}}, cookie)
	expectStatus(t, w, http.StatusOK)
	if len(h.ctrl.Calls()) != 0 {
		t.Errorf("user config write touched the supervisor: %v", h.ctrl.Calls())
	}

	w = h.do(http.MethodGet, path+"/news.news/config", nil, cookie)
	expectError(t, w, http.StatusNotFound, "Gear not assigned to automaton.")
}

func TestWorkshop(t *testing.T) {
	h := newHarness(t)
	cookie := h.login(h.user("alice", models.RoleUser))
	h.gear("utility.ping")
	h.gear("news.news")
	w := h.do(http.MethodGet, "/user/workshop", nil, cookie)
	gears := decode(t, w)["gears"].([]any)
	if len(gears) != 2 || gears[0].(map[string]any)["category"] != "news" {
		t.Errorf("workshop = %v", gears)
	}
}

func TestDiscordHelpers(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice", models.RoleUser)
	cookie := h.login(alice)
	a := h.automaton(alice, "bot")
	base := "/user/automatons/" + a.ID + "/discord"

	w := h.do(http.MethodGet, base+"/guilds", nil, cookie)
	expectStatus(t, w, http.StatusOK)
	if len(h.discord.tokens) != 1 || h.discord.tokens[0] != "token-bot" {
		t.Errorf("tokens = %v, want decrypted token", h.discord.tokens)
	}

	w = h.do(http.MethodGet, base+"/channels", nil, cookie)
	expectError(t, w, http.StatusBadRequest, "guildId is required.")
	w = h.do(http.MethodGet, base+"/channels?guildId=g1", nil, cookie)
	expectStatus(t, w, http.StatusOK)

	w = h.do(http.MethodPatch, base+"/profile", `{"avatar":null}`, cookie)
	expectStatus(t, w, http.StatusOK)
	w = h.do(http.MethodPatch, base+"/profile", `{"username":"forge"}`, cookie)
	expectStatus(t, w, http.StatusOK)
	w = h.do(http.MethodPatch, base+"/profile", `{}`, cookie)
	expectError(t, w, http.StatusBadRequest, "Nothing to update.")

	if len(h.discord.updates) != 2 {
		t.Fatalf("updates = %+v", h.discord.updates)
	}
	if av := h.discord.updates[0].Avatar; av == nil || *av != "" {
		t.Errorf("null avatar should clear: %v", av)
	}
	if h.discord.updates[1].Avatar != nil || h.discord.updates[1].Username != "forge" {
		t.Errorf("username update = %+v", h.discord.updates[1])
	}

	h.discord.err = errors.New("discord: 401 Unauthorized")
	w = h.do(http.MethodGet, base+"/guilds", nil, cookie)
	expectError(t, w, http.StatusBadRequest, "discord: 401 Unauthorized")
}

func newsHarness(t *testing.T, cfg string) (*harness, *models.User, *models.Automaton, *models.Gear) {
	t.Helper()
	h := newHarness(t)
	alice := h.user("alice", models.RoleUser)
	a := h.automaton(alice, "bot")
	g := h.gear("news.news")
	if cfg != "" {
		h.assign(a, g, cfg)
	}
	return h, alice, a, g
}

func TestPublishNews(t *testing.T) {
	h, alice, a, g := newsHarness(t, `{"newsChannelId":"c1","embedColor":"#FF0000","footerText":"bye"}`)
	cookie := h.login(alice)
	path := "/user/automatons/" + a.ID + "/news/posts"

	w := h.do(http.MethodPost, path, map[string]any{"title": "  "}, cookie)
	expectError(t, w, http.StatusBadRequest, "Title and body are required.")

	w = h.do(http.MethodPost, path, map[string]any{"title": "Patch notes", "body": "Fixed things", "imageUrl": "https://img"}, cookie)
	expectStatus(t, w, http.StatusOK)
	post := decode(t, w)["post"].(map[string]any)
	if post["source"] != models.NewsSourcePanel || post["authorUserId"] != alice.ID || post["embedColor"] != "#ff0000" {
		t.Errorf("post = %v", post)
	}
	if post["discordMessageId"] != "msg-1" {
		t.Errorf("discordMessageId = %v", post["discordMessageId"])
	}
	sent := h.discord.posts["c1"]
	if len(sent) != 1 || sent[0].Embeds[0].Title != "Patch notes" || sent[0].Embeds[0].Footer.Text != "bye" {
		t.Fatalf("sent = %+v", sent)
	}

	w = h.do(http.MethodGet, path, nil, cookie)
	if posts := decode(t, w)["posts"].([]any); len(posts) != 1 {
		t.Errorf("posts = %v", posts)
	}

	h.discord.postErr = errors.New("missing access")
	w = h.do(http.MethodPost, path, map[string]any{"title": "t", "body": "b"}, cookie)
	expectStatus(t, w, http.StatusBadGateway)

	h.db.Model(g).Update("enabled", false)
	w = h.do(http.MethodPost, path, map[string]any{"title": "t", "body": "b"}, cookie)
	expectError(t, w, http.StatusBadRequest, "News gear not enabled.")
}

func TestPublishNews_Preconditions(t *testing.T) {
	h, alice, a, g := newsHarness(t, "")
	cookie := h.login(alice)
	path := "/user/automatons/" + a.ID + "/news/posts"
	body := map[string]any{"title": "t", "body": "b"}

	w := h.do(http.MethodPost, path, body, cookie)
	expectError(t, w, http.StatusBadRequest, "News gear not assigned.")

	h.assign(a, g, `{}`)
	w = h.do(http.MethodPost, path, body, cookie)
	expectError(t, w, http.StatusBadRequest, "newsChannelId is required.")

	// Admin defaults fill in what the assignment leaves out.
	h.db.Create(&models.SystemSetting{Key: store.GearSettingPrefix + "news.news", Value: `{"newsChannelId":"fallback"}`})
	w = h.do(http.MethodPost, path, body, cookie)
	expectStatus(t, w, http.StatusOK)
	if len(h.discord.posts["fallback"]) != 1 {
		t.Errorf("posts = %v", h.discord.posts)
	}
}

func TestNewsWebhook(t *testing.T) {
	h, _, a, _ := newsHarness(t, `{"newsChannelId":"c1","webhookToken":"s3cret"}`)
	body := map[string]any{"title": "Release", "body": "v2 is out"}

	w := h.do(http.MethodPost, "/webhooks/news/"+a.ID+"/wrong", body, nil)
	expectError(t, w, http.StatusUnauthorized, "Invalid token.")

	w = h.do(http.MethodPost, "/webhooks/news/unknown/s3cret", body, nil)
	expectError(t, w, http.StatusNotFound, "Automaton not configured for news.")

	w = h.do(http.MethodPost, "/webhooks/news/"+a.ID+"/s3cret", map[string]any{"title": "x"}, nil)
	expectError(t, w, http.StatusBadRequest, "Title and body are required.")

	w = h.do(http.MethodPost, "/webhooks/news/"+a.ID+"/s3cret", body, nil)
	expectStatus(t, w, http.StatusOK)
	post := decode(t, w)["post"].(map[string]any)
	if post["source"] != models.NewsSourceWebhook || post["authorUserId"] != nil {
		t.Errorf("post = %v", post)
	}
	if !h.hasEvent("News post published via webhook") {
		t.Error("missing webhook event")
	}
}

func TestNewsWebhook_NoTokenConfigured(t *testing.T) {
	h, _, a, _ := newsHarness(t, `{"newsChannelId":"c1"}`)
	w := h.do(http.MethodPost, "/webhooks/news/"+a.ID+"/anything", map[string]any{"title": "t", "body": "b"}, nil)
	expectError(t, w, http.StatusUnauthorized, "Invalid token.")
}

func TestTickets(t *testing.T) {
	h := newHarness(t)
	admin := h.login(h.user("root", models.RoleAdmin))
	alice := h.user("alice", models.RoleUser)
	cookie := h.login(alice)

	w := h.do(http.MethodPost, "/user/tickets", map[string]any{"title": "Help"}, cookie)
	expectError(t, w, http.StatusBadRequest, "Title and description are required.")
	w = h.do(http.MethodPost, "/user/tickets", map[string]any{"title": "Help", "description": "d", "priority": "meh"}, cookie)
	expectStatus(t, w, http.StatusBadRequest)

	w = h.do(http.MethodPost, "/user/tickets", map[string]any{"title": "Help", "description": "Bot offline"}, cookie)
	expectStatus(t, w, http.StatusOK)
	ticket := decode(t, w)["ticket"].(map[string]any)
	id := ticket["id"].(string)
	if ticket["status"] != models.TicketOpen || ticket["priority"] != models.PriorityNormal {
		t.Errorf("ticket = %v", ticket)
	}

	w = h.do(http.MethodPut, "/user/tickets/"+id, map[string]any{"title": "Help!", "priority": "high"}, cookie)
	expectStatus(t, w, http.StatusOK)
	updated := decode(t, w)["ticket"].(map[string]any)
	if updated["title"] != "Help!" || updated["description"] != "Bot offline" || updated["priority"] != "high" {
		t.Errorf("updated = %v", updated)
	}

	w = h.do(http.MethodGet, "/admin/tickets", nil, admin)
	list := decode(t, w)["tickets"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["createdBy"].(map[string]any)["username"] != "alice" {
		t.Errorf("admin tickets = %v", list)
	}

	w = h.do(http.MethodPut, "/admin/tickets/"+id, map[string]any{"status": "bogus"}, admin)
	expectStatus(t, w, http.StatusBadRequest)
	w = h.do(http.MethodPut, "/admin/tickets/"+id, map[string]any{"status": "in_progress", "adminReply": " On it "}, admin)
	expectStatus(t, w, http.StatusOK)
	if reply := decode(t, w)["ticket"].(map[string]any)["adminReply"]; reply != "On it" {
		t.Errorf("adminReply = %v", reply)
	}

	w = h.do(http.MethodPost, "/user/tickets/"+id+"/resolve", nil, cookie)
	expectStatus(t, w, http.StatusOK)
	w = h.do(http.MethodPost, "/user/tickets/"+id+"/resolve", nil, cookie)
	expectError(t, w, http.StatusForbidden, "Ticket already resolved or closed.")
	w = h.do(http.MethodPut, "/user/tickets/"+id, map[string]any{"title": "again"}, cookie)
	expectError(t, w, http.StatusForbidden, "Ticket can no longer be edited.")

	other := h.login(h.user("bob", models.RoleUser))
	w = h.do(http.MethodPost, "/user/tickets/"+id+"/resolve", nil, other)
	expectError(t, w, http.StatusNotFound, "Not found.")

	w = h.do(http.MethodPost, "/admin/tickets", map[string]any{"title": "Maintenance", "description": "Tonight", "priority": "urgent"}, admin)
	expectStatus(t, w, http.StatusOK)
	w = h.do(http.MethodGet, "/user/tickets", nil, cookie)
	if mine := decode(t, w)["tickets"].([]any); len(mine) != 1 {
		t.Errorf("user sees %d tickets, want only their own", len(mine))
	}
}

func errorsNotFound() error {
	return fmt.Errorf("store: load: %w", supervisor.ErrNotFound)
}
