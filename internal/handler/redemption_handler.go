// internal/handler/redemption_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ticket-service/internal/model"
	"ticket-service/internal/scanner"
	"ticket-service/internal/service"
	"ticket-service/internal/utils"
)

// RedeemRequest is the body of a manual redemption
type RedeemRequest struct {
	Code string `json:"code" binding:"required"`
}

// RedemptionHandler redeems codes typed in by staff when the scanner is unavailable
type RedemptionHandler struct {
	classifier *scanner.Classifier
	redeemer   scanner.Redeemer
	timeout    time.Duration
	logger     *utils.ServiceLogger
}

// NewRedemptionHandler creates a new redemption handler
func NewRedemptionHandler(classifier *scanner.Classifier, redeemer scanner.Redeemer, timeout time.Duration, logger *zap.Logger) *RedemptionHandler {
	return &RedemptionHandler{
		classifier: classifier,
		redeemer:   redeemer,
		timeout:    timeout,
		logger:     utils.NewServiceLogger(logger, "redemption-handler"),
	}
}

// RegisterRoutes registers redemption routes
func (h *RedemptionHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/redemptions", h.Redeem)
}

// Redeem runs a code through the classifier and the redemption worker
// @Summary Redeem a code
// @Description Classify and redeem a ticket code. Business outcomes are returned with 200;
// @Description a rejected code returns 422 and an unreachable store returns 503.
// @Tags Redemptions
// @Accept json
// @Produce json
// @Param request body RedeemRequest true "Code to redeem"
// @Success 200 {object} utils.APIResponse{data=model.RedemptionResult} "Redemption outcome"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 422 {object} utils.APIResponse{data=model.RedemptionResult} "Code rejected"
// @Failure 503 {object} utils.APIResponse{data=model.RedemptionResult} "Ticket store unavailable"
// @Router /redemptions [post]
func (h *RedemptionHandler) Redeem(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "Code is empty", nil)
		return
	}

	if !h.classifier.Classify(code) {
		result := h.redeemer.Reject(code, model.SourceHTTP)
		utils.ErrorResponseWithData(c, http.StatusUnprocessableEntity, "Code rejected", result, scanner.ErrCodeRejected)
		return
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := h.redeemer.Redeem(ctx, code, model.SourceHTTP)
	if err != nil {
		if errors.Is(err, service.ErrStorePersistence) {
			utils.ErrorResponseWithData(c, http.StatusServiceUnavailable, "Ticket store unavailable", result, err)
			return
		}
		h.logger.Error("Redemption failed", zap.String("code", code), zap.Error(err))
		utils.ErrorResponseWithData(c, http.StatusInternalServerError, "Redemption failed", result, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, outcomeMessage(result.Outcome), result)
}

func outcomeMessage(outcome model.RedemptionOutcome) string {
	switch outcome {
	case model.OutcomeRedeemed:
		return "Ticket redeemed"
	case model.OutcomeAlreadyUsed:
		return "Ticket already used"
	case model.OutcomeNotFound:
		return "Ticket not found"
	default:
		return string(outcome)
	}
}
