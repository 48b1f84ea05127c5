package server

import (
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/moradacoop/morada/internal/auth"
	paymentdomain "github.com/moradacoop/morada/internal/payment/domain"
	"go.uber.org/zap"
)

type ensureChargeRequest struct {
	PaymentID string `json:"payment_id"`
}

// HandleEnsureCharge returns the caller's charge for their next billing
// cycle, creating it on demand. Repeated calls return the same payment. The
// optional payment_id targets an existing payment whose provider charge is
// still missing.
func (s *Server) HandleEnsureCharge(c *gin.Context) {
	memberID, ok := auth.MemberIDFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	// redis being down must not take charge creation with it
	if res, err := s.limiter.AllowMember(c.Request.Context(), memberID); err != nil {
		s.log.Warn("charge rate limit check failed", zap.Error(err))
	} else if !res.Allowed {
		c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many charge requests"})
		return
	}

	var req ensureChargeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, paymentdomain.ErrInvalidPayload)
			return
		}
	}

	var paymentID snowflake.ID
	if req.PaymentID != "" {
		parsed, err := snowflake.ParseString(req.PaymentID)
		if err != nil {
			AbortWithError(c, paymentdomain.ErrPaymentNotFound)
			return
		}
		paymentID = parsed
	}

	payment, err := s.paymentSvc.EnsureCharge(c.Request.Context(), memberID, paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) HandleGetPayment(c *gin.Context) {
	memberID, ok := auth.MemberIDFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	paymentID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, paymentdomain.ErrPaymentNotFound)
		return
	}

	payment, err := s.paymentSvc.GetForMember(c.Request.Context(), memberID, paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) HandleListPayments(c *gin.Context) {
	memberID, ok := auth.MemberIDFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	payments, err := s.paymentSvc.ListForMember(c.Request.Context(), memberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (s *Server) HandleGetProfile(c *gin.Context) {
	memberID, ok := auth.MemberIDFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	member, err := s.memberRepo.FindByID(c.Request.Context(), s.db, memberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}
