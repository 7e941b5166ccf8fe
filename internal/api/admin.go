package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pixelgrid/pkg/interfaces"
	"pixelgrid/pkg/types"
)

// AdminTokenHeader carries the shared admin secret.
const AdminTokenHeader = "X-Admin-Token"

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

func adminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			sendError(c, http.StatusForbidden, "admin API disabled")
			return
		}
		given := c.GetHeader(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			logrus.WithField("client_ip", c.ClientIP()).Warn("Rejected admin request")
			sendError(c, http.StatusUnauthorized, "invalid admin token")
			return
		}
		c.Next()
	}
}

func userParam(c *gin.Context) (string, bool) {
	userID := c.Param("userId")
	if !types.IsValidUserID(userID) {
		sendError(c, http.StatusBadRequest, types.ErrInvalidUserID.Error())
		return "", false
	}
	return userID, true
}

type balanceResponse struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
}

// GET /api/admin/users/:userId/balance
func (s *Server) balance(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	balance, err := s.deps.Accounts.Balance(c.Request.Context(), userID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("Failed to read balance")
		sendError(c, http.StatusServiceUnavailable, "account store unavailable")
		return
	}
	c.JSON(http.StatusOK, balanceResponse{UserID: userID, Balance: balance})
}

type creditRequest struct {
	Amount int64 `json:"amount"`
}

// POST /api/admin/users/:userId/credits
func (s *Server) credit(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid JSON")
		return
	}

	balance, err := s.deps.Accounts.TopUp(c.Request.Context(), userID, req.Amount)
	if err != nil {
		if errors.Is(err, interfaces.ErrInvalidAmount) {
			sendError(c, http.StatusBadRequest, err.Error())
			return
		}
		s.log.WithError(err).WithField("user_id", userID).Error("Failed to credit account")
		sendError(c, http.StatusServiceUnavailable, "account store unavailable")
		return
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "amount": req.Amount, "balance": balance}).Info("Credits added")
	c.JSON(http.StatusOK, balanceResponse{UserID: userID, Balance: balance})
}

type banRequest struct {
	UntilMs *int64 `json:"untilMs"`
	Reason  string `json:"reason"`
}

// GET /api/admin/users/:userId/ban
func (s *Server) getBan(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	ban, err := s.deps.Bans.GetBan(c.Request.Context(), userID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("Failed to read ban")
		sendError(c, http.StatusServiceUnavailable, "ban store unavailable")
		return
	}
	if ban == nil {
		sendError(c, http.StatusNotFound, "no ban for user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ban": ban, "active": ban.ActiveAt(s.deps.Clock.Now())})
}

// PUT /api/admin/users/:userId/ban
func (s *Server) setBan(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	var req banRequest
	// an empty body is a permanent ban without reason
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			sendError(c, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	ban := &types.Ban{
		UserID:    userID,
		Reason:    req.Reason,
		CreatedAt: s.deps.Clock.Now().UTC(),
	}
	if req.UntilMs != nil {
		until := time.UnixMilli(*req.UntilMs).UTC()
		ban.Until = &until
	}

	if err := s.deps.Bans.SetBan(c.Request.Context(), ban); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("Failed to store ban")
		sendError(c, http.StatusServiceUnavailable, "ban store unavailable")
		return
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "permanent": ban.Until == nil}).Info("User banned")
	c.JSON(http.StatusOK, gin.H{"ban": ban})
}

// DELETE /api/admin/users/:userId/ban
func (s *Server) liftBan(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	if err := s.deps.Bans.LiftBan(c.Request.Context(), userID); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("Failed to lift ban")
		sendError(c, http.StatusServiceUnavailable, "ban store unavailable")
		return
	}
	s.log.WithField("user_id", userID).Info("Ban lifted")
	c.Status(http.StatusNoContent)
}

type placementsResponse struct {
	Placements []*types.Placement `json:"placements"`
	NextAfter  int64              `json:"nextAfter"`
}

// GET /api/admin/placements?after=&limit=
func (s *Server) placements(c *gin.Context) {
	after, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil || after < 0 {
		sendError(c, http.StatusBadRequest, "after must be a non-negative integer")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 {
		sendError(c, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	records, err := s.deps.Log.ListPlacementsAfter(c.Request.Context(), after, limit)
	if err != nil {
		s.log.WithError(err).Error("Failed to page placement log")
		sendError(c, http.StatusServiceUnavailable, "placement log unavailable")
		return
	}
	if records == nil {
		records = []*types.Placement{}
	}

	next := after
	if n := len(records); n > 0 {
		next = records[n-1].Seq
	}
	c.JSON(http.StatusOK, placementsResponse{Placements: records, NextAfter: next})
}
