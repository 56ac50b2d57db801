package panel

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/frameforge/internal/auth"
	"github.com/zulandar/frameforge/internal/models"
	"github.com/zulandar/frameforge/internal/store"
	"github.com/zulandar/frameforge/internal/supervisor"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// systemCategories are the admin-editable setting groups.
var systemCategories = map[string]bool{
	"branding": true,
	"limits":   true,
	"policies": true,
}

func (s *Server) handleStats(c *gin.Context) {
	st, err := s.stats(c.Request.Context())
	if err != nil {
		s.internalError(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleAdminListUsers(c *gin.Context) {
	ctx := c.Request.Context()
	var users []models.User
	if err := s.db.WithContext(ctx).Where("role = ?", models.RoleUser).
		Order("created_at DESC").Find(&users).Error; err != nil {
		s.internalError(c, "list users", err)
		return
	}
	counts, err := s.automatonCounts(ctx)
	if err != nil {
		s.internalError(c, "list users", err)
		return
	}
	out := make([]userView, len(users))
	for i := range users {
		out[i] = newUserView(&users[i])
		n := counts[users[i].ID]
		out[i].AutomatonCount = &n
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

type userBody struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
	BotLimit *int    `json:"botLimit"`
}

func (s *Server) handleAdminCreateUser(c *gin.Context) {
	var body userBody
	if !bind(c, &body) {
		return
	}
	ctx := c.Request.Context()
	var username, password string
	if body.Username != nil {
		username = strings.TrimSpace(*body.Username)
	}
	if body.Password != nil {
		password = *body.Password
	}
	botLimit := 0
	if body.BotLimit != nil {
		botLimit = *body.BotLimit
	}
	if err := auth.ValidateCredentials(username, password); err != nil {
		fail(c, http.StatusBadRequest, validationMessage(err))
		return
	}
	if botLimit < 0 {
		fail(c, http.StatusBadRequest, "botLimit must not be negative.")
		return
	}
	existing, err := findOne[models.User](s.db.WithContext(ctx).Where("username = ?", username))
	if err != nil {
		s.internalError(c, "create user", err)
		return
	}
	if existing != nil {
		fail(c, http.StatusConflict, "Username already exists.")
		return
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		s.internalError(c, "create user", err)
		return
	}
	u := &models.User{Username: username, PasswordHash: hash, Role: models.RoleUser, BotLimit: botLimit}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		s.internalError(c, "create user", err)
		return
	}
	s.events.Info(ctx, "User created", map[string]any{"adminId": currentUser(c).ID, "userId": u.ID})
	c.JSON(http.StatusOK, gin.H{"user": newUserView(u)})
}

func (s *Server) handleAdminUpdateUser(c *gin.Context) {
	var body userBody
	if !bind(c, &body) {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	u, err := s.findUser(ctx, id)
	if err != nil {
		s.internalError(c, "update user", err)
		return
	}
	if u == nil {
		fail(c, http.StatusNotFound, "User not found.")
		return
	}

	updates := map[string]any{}
	if body.Username != nil && strings.TrimSpace(*body.Username) != "" {
		name := strings.TrimSpace(*body.Username)
		if err := auth.ValidateCredentials(name, "placeholder"); err != nil {
			fail(c, http.StatusBadRequest, validationMessage(err))
			return
		}
		if name != u.Username {
			taken, err := findOne[models.User](s.db.WithContext(ctx).Where("username = ?", name))
			if err != nil {
				s.internalError(c, "update user", err)
				return
			}
			if taken != nil {
				fail(c, http.StatusConflict, "Username already exists.")
				return
			}
		}
		updates["username"] = name
	}
	if body.BotLimit != nil {
		if *body.BotLimit < 0 {
			fail(c, http.StatusBadRequest, "botLimit must not be negative.")
			return
		}
		updates["bot_limit"] = *body.BotLimit
	}
	passwordChanged := false
	if body.Password != nil && *body.Password != "" {
		if err := auth.ValidateCredentials(u.Username, *body.Password); err != nil {
			fail(c, http.StatusBadRequest, validationMessage(err))
			return
		}
		hash, err := auth.HashPassword(*body.Password)
		if err != nil {
			s.internalError(c, "update user", err)
			return
		}
		updates["password_hash"] = hash
		passwordChanged = true
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(u).Updates(updates).Error; err != nil {
			s.internalError(c, "update user", err)
			return
		}
	}
	if passwordChanged {
		if err := s.sessions.DeleteForUser(ctx, u.ID); err != nil {
			s.internalError(c, "update user", err)
			return
		}
	}
	if err := s.db.WithContext(ctx).First(u, "id = ?", id).Error; err != nil {
		s.internalError(c, "update user", err)
		return
	}
	s.events.Info(ctx, "User updated", map[string]any{"adminId": currentUser(c).ID, "userId": id})
	c.JSON(http.StatusOK, gin.H{"user": newUserView(u)})
}

// handleAdminDeleteUser stops and removes the user's automatons, then the
// user and their sessions.
func (s *Server) handleAdminDeleteUser(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	u, err := s.findUser(ctx, id)
	if err != nil {
		s.internalError(c, "delete user", err)
		return
	}
	if u == nil || u.Role != models.RoleUser {
		fail(c, http.StatusNotFound, "User not found.")
		return
	}
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.Automaton{}).
		Where("owner_id = ?", id).Pluck("id", &ids).Error; err != nil {
		s.internalError(c, "delete user", err)
		return
	}
	for _, aid := range ids {
		if _, err := s.sup.Stop(ctx, aid); err != nil {
			s.internalError(c, "delete user", err)
			return
		}
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, aid := range ids {
			if err := deleteAutomaton(tx, aid); err != nil {
				return err
			}
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.Session{}).Error; err != nil {
			return err
		}
		if err := tx.Where("created_by_id = ?", id).Delete(&models.Ticket{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.User{}).Error
	})
	if err != nil {
		s.internalError(c, "delete user", err)
		return
	}
	s.events.Warn(ctx, "User deleted", map[string]any{"adminId": currentUser(c).ID, "userId": id})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleAdminListAutomatons(c *gin.Context) {
	var rows []models.Automaton
	if err := s.db.WithContext(c.Request.Context()).Preload("Owner").
		Order("created_at DESC").Find(&rows).Error; err != nil {
		s.internalError(c, "list automatons", err)
		return
	}
	out := make([]automatonView, len(rows))
	for i := range rows {
		out[i] = s.newAutomatonView(&rows[i], true)
	}
	c.JSON(http.StatusOK, gin.H{"automatons": out})
}

type createAutomatonBody struct {
	OwnerID      string `json:"ownerId"`
	Name         string `json:"name"`
	DiscordToken string `json:"discordToken"`
	GuildID      string `json:"guildId"`
	ChannelID    string `json:"channelId"`
}

func (s *Server) handleAdminCreateAutomaton(c *gin.Context) {
	var body createAutomatonBody
	if !bind(c, &body) {
		return
	}
	ctx := c.Request.Context()
	name := strings.TrimSpace(body.Name)
	token := strings.TrimSpace(body.DiscordToken)
	if body.OwnerID == "" || name == "" || token == "" {
		fail(c, http.StatusBadRequest, "Owner, name, and token are required.")
		return
	}
	owner, err := s.findUser(ctx, body.OwnerID)
	if err != nil {
		s.internalError(c, "create automaton", err)
		return
	}
	if owner == nil || owner.Role != models.RoleUser {
		fail(c, http.StatusNotFound, "Owner not found.")
		return
	}
	a := &models.Automaton{
		OwnerID:   owner.ID,
		Name:      name,
		GuildID:   strings.TrimSpace(body.GuildID),
		ChannelID: strings.TrimSpace(body.ChannelID),
		Status:    models.StatusStopped,
	}
	if err := s.store.CreateAutomaton(ctx, a, token); err != nil {
		s.internalError(c, "create automaton", err)
		return
	}
	a.Owner = *owner
	s.events.Info(ctx, "Automaton created", map[string]any{"adminId": currentUser(c).ID, "automatonId": a.ID})
	c.JSON(http.StatusOK, gin.H{"automaton": s.newAutomatonView(a, true)})
}

func (s *Server) handleAdminStart(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	res, err := s.sup.Start(ctx, id)
	if errors.Is(err, supervisor.ErrNotFound) {
		fail(c, http.StatusNotFound, "Automaton not found.")
		return
	}
	if err != nil {
		s.internalError(c, "start automaton", err)
		return
	}
	s.events.Info(ctx, "Automaton start issued", map[string]any{"adminId": currentUser(c).ID, "automatonId": id})
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleAdminStop(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	a, err := s.findAutomaton(ctx, id)
	if err != nil {
		s.internalError(c, "stop automaton", err)
		return
	}
	if a == nil {
		fail(c, http.StatusNotFound, "Automaton not found.")
		return
	}
	res, err := s.sup.Stop(ctx, id)
	if err != nil {
		s.internalError(c, "stop automaton", err)
		return
	}
	s.events.Info(ctx, "Automaton stop issued", map[string]any{"adminId": currentUser(c).ID, "automatonId": id})
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleAdminDeleteAutomaton(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	a, err := s.findAutomaton(ctx, id)
	if err != nil {
		s.internalError(c, "delete automaton", err)
		return
	}
	if a == nil {
		fail(c, http.StatusNotFound, "Automaton not found.")
		return
	}
	if err := s.removeAutomaton(c, id); err != nil {
		s.internalError(c, "delete automaton", err)
		return
	}
	s.events.Warn(ctx, "Automaton deleted", map[string]any{"adminId": currentUser(c).ID, "automatonId": id})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// removeAutomaton forces a stop and then deletes the automaton's rows.
func (s *Server) removeAutomaton(c *gin.Context, id string) error {
	ctx := c.Request.Context()
	if _, err := s.sup.Stop(ctx, id); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteAutomaton(tx, id)
	})
}

func (s *Server) handleAdminListGears(c *gin.Context) {
	var rows []models.Gear
	if err := s.db.WithContext(c.Request.Context()).
		Order("category ASC, name ASC").Find(&rows).Error; err != nil {
		s.internalError(c, "list gears", err)
		return
	}
	out := make([]gearView, len(rows))
	for i := range rows {
		out[i] = newGearView(&rows[i])
	}
	c.JSON(http.StatusOK, gin.H{"gears": out})
}

func (s *Server) handleAdminGetGear(c *gin.Context) {
	g, err := s.gearByKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		s.internalError(c, "get gear", err)
		return
	}
	if g == nil {
		fail(c, http.StatusNotFound, "Gear not found.")
		return
	}
	c.JSON(http.StatusOK, gin.H{"gear": newGearView(g)})
}

func (s *Server) handleAdminToggleGear(c *gin.Context) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if !bind(c, &body) {
		return
	}
	if body.Enabled == nil {
		fail(c, http.StatusBadRequest, "enabled must be boolean.")
		return
	}
	ctx := c.Request.Context()
	g, err := s.gearByKey(ctx, c.Param("key"))
	if err != nil {
		s.internalError(c, "toggle gear", err)
		return
	}
	if g == nil {
		fail(c, http.StatusNotFound, "Gear not found.")
		return
	}
	if err := s.db.WithContext(ctx).Model(g).Update("enabled", *body.Enabled).Error; err != nil {
		s.internalError(c, "toggle gear", err)
		return
	}
	g.Enabled = *body.Enabled
	s.events.Info(ctx, "Gear toggled", map[string]any{
		"adminId": currentUser(c).ID,
		"gearKey": g.Key,
		"enabled": g.Enabled,
	})
	c.JSON(http.StatusOK, gin.H{"gear": newGearView(g)})
}

func (s *Server) handleAdminGetGearDefaults(c *gin.Context) {
	ctx := c.Request.Context()
	g, err := s.gearByKey(ctx, c.Param("key"))
	if err != nil {
		s.internalError(c, "gear defaults", err)
		return
	}
	if g == nil {
		fail(c, http.StatusNotFound, "Gear not found.")
		return
	}
	setting, err := findOne[models.SystemSetting](s.db.WithContext(ctx).Where("`key` = ?", store.GearSettingPrefix+g.Key))
	if err != nil {
		s.internalError(c, "gear defaults", err)
		return
	}
	cfg := map[string]any{}
	if setting != nil {
		cfg = decodeObject(setting.Value)
	}
	c.JSON(http.StatusOK, gin.H{"gear": newGearView(g), "config": cfg})
}

func (s *Server) handleAdminPutGearDefaults(c *gin.Context) {
	var body configBody
	if !bind(c, &body) {
		return
	}
	value, ok := objectJSON(body.Config)
	if !ok {
		fail(c, http.StatusBadRequest, "config must be an object.")
		return
	}
	ctx := c.Request.Context()
	g, err := s.gearByKey(ctx, c.Param("key"))
	if err != nil {
		s.internalError(c, "gear defaults", err)
		return
	}
	if g == nil {
		fail(c, http.StatusNotFound, "Gear not found.")
		return
	}
	if err := s.upsertSetting(c, store.GearSettingPrefix+g.Key, value); err != nil {
		s.internalError(c, "gear defaults", err)
		return
	}
	s.events.Info(ctx, "Gear defaults updated", map[string]any{"adminId": currentUser(c).ID, "gearKey": g.Key})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) upsertSetting(c *gin.Context, key, value string) error {
	return s.db.WithContext(c.Request.Context()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&models.SystemSetting{Key: key, Value: value}).Error
}

func (s *Server) handleGetSystem(c *gin.Context) {
	category := c.Param("category")
	if !systemCategories[category] {
		fail(c, http.StatusNotFound, "Category not found.")
		return
	}
	var rows []models.SystemSetting
	if err := s.db.WithContext(c.Request.Context()).
		Where("`key` LIKE ?", category+".%").Find(&rows).Error; err != nil {
		s.internalError(c, "system settings", err)
		return
	}
	values := make(map[string]string, len(rows))
	for _, r := range rows {
		values[strings.TrimPrefix(r.Key, category+".")] = r.Value
	}
	c.JSON(http.StatusOK, gin.H{"category": category, "values": values})
}

func (s *Server) handlePutSystem(c *gin.Context) {
	category := c.Param("category")
	if !systemCategories[category] {
		fail(c, http.StatusNotFound, "Category not found.")
		return
	}
	var body struct {
		Values map[string]string `json:"values"`
	}
	if !bind(c, &body) {
		return
	}
	keys := make([]string, 0, len(body.Values))
	for name := range body.Values {
		if strings.TrimSpace(name) == "" {
			fail(c, http.StatusBadRequest, "Setting names must not be empty.")
			return
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	for _, name := range keys {
		if err := s.upsertSetting(c, category+"."+name, body.Values[name]); err != nil {
			s.internalError(c, "system settings", err)
			return
		}
	}
	s.events.Info(c.Request.Context(), "System settings updated", map[string]any{
		"adminId":  currentUser(c).ID,
		"category": category,
		"keys":     keys,
	})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
