package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/strategy"
)

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// statusFor maps an engine error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrMalformedProfile):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidSignal):
		return http.StatusConflict
	case errors.Is(err, models.ErrBrokerUnavailable), errors.Is(err, models.ErrDataUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"running":    s.engine.IsRunning(),
		"ws_clients": s.hub.GetClientCount(),
	})
}

func (s *Server) handleAssets(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Assets())
}

// assetParam resolves :id or writes a 404
func (s *Server) assetParam(c *gin.Context) (models.Asset, bool) {
	asset, ok := s.engine.Asset(c.Param("id"))
	if !ok {
		errorResponse(c, http.StatusNotFound, "unknown asset "+c.Param("id"))
	}
	return asset, ok
}

func (s *Server) handleConfidence(c *gin.Context) {
	asset, ok := s.assetParam(c)
	if !ok {
		return
	}
	score, ok := s.engine.CurrentConfidence(asset.ID)
	if !ok {
		errorResponse(c, http.StatusNotFound, "no confidence score yet for "+asset.ID)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"score":      score,
		"normalized": score.Normalized(),
	})
}

func (s *Server) handleRegime(c *gin.Context) {
	asset, ok := s.assetParam(c)
	if !ok {
		return
	}
	view, ok := s.engine.CurrentRegime(asset.ID)
	if !ok {
		errorResponse(c, http.StatusNotFound, "no market snapshot yet for "+asset.ID)
		return
	}
	c.JSON(http.StatusOK, view)
}

// handleWeights returns the weight history; ?strategy= narrows it and adds
// the weights currently in force.
func (s *Server) handleWeights(c *gin.Context) {
	asset, ok := s.assetParam(c)
	if !ok {
		return
	}
	name := strategy.Name(c.Query("strategy"))
	resp := gin.H{
		"asset_id": asset.ID,
		"history":  s.engine.WeightSeries(asset.ID, name),
	}
	if name != "" {
		current, err := s.engine.CurrentWeights(asset.ID, name)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		resp["current"] = current
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAudit(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.engine.RecentVetoes(c.Request.Context(), c.Query("asset"), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleRisk(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"brokers":      s.engine.RiskSummary(c.Request.Context()),
		"loss_breaker": s.engine.BreakerStats(),
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	openOnly := c.DefaultQuery("status", "open") == "open"
	c.JSON(http.StatusOK, s.engine.Positions(openOnly))
}

func (s *Server) handleClosePosition(c *gin.Context) {
	id := c.Param("id")
	known := false
	for _, p := range s.engine.Positions(false) {
		if p.ID == id {
			known = true
			break
		}
	}
	if !known {
		errorResponse(c, http.StatusNotFound, "unknown position "+id)
		return
	}

	pos, err := s.engine.ClosePosition(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, statusFor(err), err.Error())
		return
	}
	s.logger.Info("Position closed via API", "position", id, "pnl", pos.PnL)
	c.JSON(http.StatusOK, pos)
}

func (s *Server) handleSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Settings())
}

// handleUpdateStrategy replaces one strategy profile. The path name wins
// over any name in the body.
func (s *Server) handleUpdateStrategy(c *gin.Context) {
	name, err := strategy.ParseName(c.Param("name"))
	if err != nil {
		errorResponse(c, http.StatusNotFound, err.Error())
		return
	}

	var profile strategy.Profile
	if err := c.ShouldBindJSON(&profile); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	profile.Name = name

	reports, err := s.engine.UpdateProfile(profile)
	if err != nil {
		errorResponse(c, statusFor(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version":   s.engine.Settings().Version,
		"refreshed": reports,
	})
}

type tierRequest struct {
	Tier strategy.TierName `json:"tier" binding:"required"`
}

func (s *Server) handleSetTier(c *gin.Context) {
	var req tierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	reports, err := s.engine.SetActiveTier(req.Tier)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version":   s.engine.Settings().Version,
		"tier":      req.Tier,
		"refreshed": reports,
	})
}
