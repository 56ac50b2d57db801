package panel

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/frameforge/internal/models"
	"gorm.io/gorm"
)

type configBody struct {
	Config json.RawMessage `json:"config"`
}

// assignmentTarget resolves the gear and assignment named by the
// :gearKey parameter for automaton a, answering 404 when either is missing.
func (s *Server) assignmentTarget(c *gin.Context, a *models.Automaton) (*models.Gear, *models.GearAssignment, bool) {
	ctx := c.Request.Context()
	g, err := s.gearByKey(ctx, c.Param("gearKey"))
	if err != nil {
		s.internalError(c, "gear config", err)
		return nil, nil, false
	}
	if g == nil {
		fail(c, http.StatusNotFound, "Gear not found.")
		return nil, nil, false
	}
	asg, err := s.assignmentFor(ctx, a.ID, g.ID)
	if err != nil {
		s.internalError(c, "gear config", err)
		return nil, nil, false
	}
	if asg == nil {
		fail(c, http.StatusNotFound, "Gear not assigned to automaton.")
		return nil, nil, false
	}
	return g, asg, true
}

func (s *Server) writeAssignmentConfig(c *gin.Context, a *models.Automaton) (*models.Gear, bool) {
	var body configBody
	if !bind(c, &body) {
		return nil, false
	}
	value, ok := objectJSON(body.Config)
	if !ok {
		fail(c, http.StatusBadRequest, "config must be an object.")
		return nil, false
	}
	g, asg, ok := s.assignmentTarget(c, a)
	if !ok {
		return nil, false
	}
	if err := s.db.WithContext(c.Request.Context()).Model(asg).
		Update("config_json", value).Error; err != nil {
		s.internalError(c, "gear config", err)
		return nil, false
	}
	return g, true
}

func assignmentConfigJSON(g *models.Gear, asg *models.GearAssignment) gin.H {
	return gin.H{
		"config":  decodeObject(asg.ConfigJSON),
		"enabled": asg.Enabled,
		"gear":    gin.H{"id": g.ID, "name": g.Name, "enabled": g.Enabled},
	}
}

func (s *Server) adminAutomaton(c *gin.Context) (*models.Automaton, bool) {
	a, err := s.findAutomaton(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internalError(c, "find automaton", err)
		return nil, false
	}
	if a == nil {
		fail(c, http.StatusNotFound, "Automaton not found.")
		return nil, false
	}
	return a, true
}

func (s *Server) userAutomaton(c *gin.Context) (*models.Automaton, bool) {
	a, err := s.ownedAutomaton(c.Request.Context(), c.Param("id"), currentUser(c).ID)
	if err != nil {
		s.internalError(c, "find automaton", err)
		return nil, false
	}
	if a == nil {
		fail(c, http.StatusNotFound, "Not found.")
		return nil, false
	}
	return a, true
}

func (s *Server) handleAdminGetAssignmentConfig(c *gin.Context) {
	a, ok := s.adminAutomaton(c)
	if !ok {
		return
	}
	g, asg, ok := s.assignmentTarget(c, a)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, assignmentConfigJSON(g, asg))
}

// handleAdminPutAssignmentConfig stores the config and respawns a running
// automaton so its gears pick the change up.
func (s *Server) handleAdminPutAssignmentConfig(c *gin.Context) {
	a, ok := s.adminAutomaton(c)
	if !ok {
		return
	}
	g, ok := s.writeAssignmentConfig(c, a)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	res, err := s.sup.Restart(ctx, a.ID)
	if err != nil {
		s.internalError(c, "restart automaton", err)
		return
	}
	if !res.Skipped {
		s.events.Info(ctx, "Automaton restarted after gear config update", map[string]any{
			"automatonId": a.ID,
			"gearKey":     g.Key,
		})
	}
	s.events.Info(ctx, "Gear config updated by admin", map[string]any{
		"adminId":     currentUser(c).ID,
		"automatonId": a.ID,
		"gearKey":     g.Key,
	})
	c.JSON(http.StatusOK, gin.H{"ok": true, "restarted": !res.Skipped})
}

func (s *Server) handleUserGetAssignmentConfig(c *gin.Context) {
	a, ok := s.userAutomaton(c)
	if !ok {
		return
	}
	g, asg, ok := s.assignmentTarget(c, a)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, assignmentConfigJSON(g, asg))
}

func (s *Server) handleUserPutAssignmentConfig(c *gin.Context) {
	a, ok := s.userAutomaton(c)
	if !ok {
		return
	}
	g, ok := s.writeAssignmentConfig(c, a)
	if !ok {
		return
	}
	s.events.Info(c.Request.Context(), "Gear config updated by user", map[string]any{
		"userId":      currentUser(c).ID,
		"automatonId": a.ID,
		"gearKey":     g.Key,
	})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleUserListAssignments(c *gin.Context) {
	a, ok := s.userAutomaton(c)
	if !ok {
		return
	}
	var rows []models.GearAssignment
	if err := s.db.WithContext(c.Request.Context()).Preload("Gear").
		Where("automaton_id = ?", a.ID).Order("created_at ASC").Find(&rows).Error; err != nil {
		s.internalError(c, "list assignments", err)
		return
	}
	out := make([]assignmentView, len(rows))
	for i, r := range rows {
		out[i] = assignmentView{GearID: r.GearID, GearKey: r.Gear.Key, Enabled: r.Enabled}
	}
	c.JSON(http.StatusOK, gin.H{"assignments": out})
}

// handleUserSetAssignments replaces the automaton's gear set. Gears that
// stay assigned keep their config.
func (s *Server) handleUserSetAssignments(c *gin.Context) {
	var body struct {
		GearIDs []string `json:"gearIds"`
	}
	if !bind(c, &body) {
		return
	}
	a, ok := s.userAutomaton(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	seen := make(map[string]bool, len(body.GearIDs))
	ids := make([]string, 0, len(body.GearIDs))
	for _, id := range body.GearIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		var n int64
		if err := s.db.WithContext(ctx).Model(&models.Gear{}).Where("id IN ?", ids).Count(&n).Error; err != nil {
			s.internalError(c, "set assignments", err)
			return
		}
		if int(n) != len(ids) {
			fail(c, http.StatusBadRequest, "Unknown gear.")
			return
		}
	}

	var existing []models.GearAssignment
	if err := s.db.WithContext(ctx).Where("automaton_id = ?", a.ID).Find(&existing).Error; err != nil {
		s.internalError(c, "set assignments", err)
		return
	}
	have := make(map[string]bool, len(existing))
	var drop []string
	for _, e := range existing {
		have[e.GearID] = true
		if !seen[e.GearID] {
			drop = append(drop, e.ID)
		}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(drop) > 0 {
			if err := tx.Where("id IN ?", drop).Delete(&models.GearAssignment{}).Error; err != nil {
				return err
			}
		}
		for _, id := range ids {
			if have[id] {
				continue
			}
			if err := tx.Create(&models.GearAssignment{AutomatonID: a.ID, GearID: id, ConfigJSON: "{}"}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.internalError(c, "set assignments", err)
		return
	}
	s.events.Info(ctx, "Gears updated by user", map[string]any{
		"userId":      currentUser(c).ID,
		"automatonId": a.ID,
		"gearIds":     ids,
	})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
