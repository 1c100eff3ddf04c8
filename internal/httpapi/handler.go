package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"loyaltyplane/pkg/clock"
	"loyaltyplane/pkg/db/pagination"
	"loyaltyplane/pkg/errutil"
	"loyaltyplane/services/cashback"
	"loyaltyplane/services/client"
	"loyaltyplane/services/grant"
	"loyaltyplane/services/ledger"
	"loyaltyplane/services/payment"
	"loyaltyplane/services/program"
)

type Handler struct {
	programs  *program.Service
	clients   *client.Service
	grants    *grant.Service
	payments  *payment.Service
	ledger    *ledger.Service
	evaluator *cashback.Evaluator
	clock     clock.Clock
}

type HandlerParams struct {
	fx.In

	Programs  *program.Service
	Clients   *client.Service
	Grants    *grant.Service
	Payments  *payment.Service
	Ledger    *ledger.Service
	Evaluator *cashback.Evaluator
	Clock     clock.Clock
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		programs:  p.Programs,
		clients:   p.Clients,
		grants:    p.Grants,
		payments:  p.Payments,
		ledger:    p.Ledger,
		evaluator: p.Evaluator,
		clock:     p.Clock,
	}
}

// ProvideRouter builds the gin engine with every route of the service.
func ProvideRouter(h *Handler) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), errorHandler())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	programs := r.Group("/programs")
	{
		programs.GET("", h.listPrograms)
		programs.POST("/draft", h.createDraft)
		programs.GET("/check-overlap", h.checkOverlap)
		programs.GET("/:id", h.getProgram)
		programs.PUT("/:id/cashback", h.updateCashback)
		programs.PUT("/:id/welcome", h.updateWelcome)
		programs.POST("/:id/launch", h.launch)
		programs.POST("/:id/deactivate", h.deactivate)
		programs.POST("/:id/archive", h.archive)
		programs.DELETE("/:id", h.deleteProgram)
	}

	clients := r.Group("/clients")
	{
		clients.POST("", h.registerClient)
		clients.GET("/:id", h.getClient)
		clients.GET("/:id/cashback-context", h.cashbackContext)
		clients.GET("/:id/balance", h.balance)
		clients.GET("/:id/ledger", h.ledgerEntries)
		clients.GET("/:id/ledger/verify", h.verifyLedger)
	}

	payments := r.Group("/payments")
	{
		payments.POST("/draft", h.draftPayment)
		payments.GET("/:txId", h.getPayment)
		payments.POST("/:txId/complete", h.completePayment)
		payments.DELETE("/:txId", h.deletePayment)
	}

	return r
}

func (h *Handler) createDraft(c *gin.Context) {
	var req createDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	p, err := h.programs.CreateDraft(c.Request.Context(), program.ProgramType(req.Type), req.Name, req.Description)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, toProgramResponse(p))
}

func (h *Handler) updateCashback(c *gin.Context) {
	var req updateCashbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	rule := &program.CashbackRule{
		Kind:                 program.CashbackKind(req.Rule.Kind),
		Value:                req.Rule.Value,
		MinSpendAmount:       req.Rule.MinSpendAmount,
		EligibilityKind:      req.Rule.EligibilityKind,
		RedeemLimitPercent:   req.Rule.RedeemLimitPercent,
		BonusLifespanDays:    req.Rule.BonusLifespanDays,
		PointsSpendThreshold: req.Rule.PointsSpendThreshold,
	}
	tiers := make([]program.CashbackTier, 0, len(req.Tiers))
	for _, t := range req.Tiers {
		tiers = append(tiers, program.CashbackTier{
			Name:      t.Name,
			MinAmount: t.MinAmount,
			MaxAmount: t.MaxAmount,
			ExtraRate: t.ExtraRate,
		})
	}
	schedule := make([]program.WeeklyScheduleEntry, 0, len(req.Schedule))
	for _, e := range req.Schedule {
		schedule = append(schedule, program.WeeklyScheduleEntry{
			Weekday:   e.Weekday,
			Enabled:   e.Enabled,
			StartTime: e.StartTime,
			EndTime:   e.EndTime,
		})
	}

	p, err := h.programs.UpdateCashback(c.Request.Context(), c.Param("id"), rule, tiers, schedule)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toProgramResponse(p))
}

func (h *Handler) updateWelcome(c *gin.Context) {
	var req updateWelcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	var mode *program.FirstPayMode
	if req.Rule.FirstPayMode != nil {
		m := program.FirstPayMode(*req.Rule.FirstPayMode)
		mode = &m
	}
	rule := &program.WelcomeRule{
		GrantKind:         program.GrantKind(req.Rule.GrantKind),
		GrantValue:        req.Rule.GrantValue,
		GrantTrigger:      program.GrantTrigger(req.Rule.GrantTrigger),
		FirstPayMode:      mode,
		BonusLifespanDays: req.Rule.BonusLifespanDays,
	}

	p, err := h.programs.UpdateWelcome(c.Request.Context(), c.Param("id"), rule)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toProgramResponse(p))
}

func (h *Handler) launch(c *gin.Context) {
	var req launchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	window := program.Window{End: req.EndDate}
	if req.StartDate != nil {
		window.Start = *req.StartDate
	}
	if !req.Immediate && req.StartDate == nil {
		c.Error(errutil.ValidationFailed("start_date is required for a scheduled launch", nil))
		return
	}

	p, err := h.programs.Launch(c.Request.Context(), c.Param("id"), req.Immediate, window)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toProgramResponse(p))
}

func (h *Handler) deactivate(c *gin.Context) {
	p, err := h.programs.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toProgramResponse(p))
}

func (h *Handler) archive(c *gin.Context) {
	p, err := h.programs.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toProgramResponse(p))
}

func (h *Handler) deleteProgram(c *gin.Context) {
	if err := h.programs.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getProgram(c *gin.Context) {
	p, err := h.programs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toProgramResponse(p))
}

func (h *Handler) listPrograms(c *gin.Context) {
	params := program.ListParams{
		Type: program.ProgramType(c.Query("type")),
	}
	if status := c.Query("status"); status != "" {
		params.Statuses = []program.ProgramStatus{program.ProgramStatus(status)}
	}
	if limit := c.Query("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			params.Limit = n
		}
	}

	programs, err := h.programs.List(c.Request.Context(), params)
	if err != nil {
		c.Error(err)
		return
	}

	out := make([]programResponse, 0, len(programs))
	for i := range programs {
		out = append(out, toProgramResponse(&programs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *Handler) checkOverlap(c *gin.Context) {
	typ := program.ProgramType(c.Query("type"))

	var window program.Window
	if start := c.Query("start"); start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			c.Error(errutil.BadRequest("invalid start time", err))
			return
		}
		window.Start = t
	}
	if end := c.Query("end"); end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			c.Error(errutil.BadRequest("invalid end time", err))
			return
		}
		window.End = &t
	}

	result, err := h.programs.CheckOverlap(c.Request.Context(), typ, window, c.Query("exclude_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) registerClient(c *gin.Context) {
	var req registerClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	cl, err := h.clients.Register(c.Request.Context(), client.RegisterParams{
		Name:      req.Name,
		Phone:     req.Phone,
		BirthDate: req.BirthDate,
	})
	if err != nil {
		c.Error(err)
		return
	}

	if err := h.grants.OnClientJoined(c.Request.Context(), cl.ID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, toClientResponse(cl))
}

func (h *Handler) getClient(c *gin.Context) {
	cl, err := h.clients.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toClientResponse(cl))
}

func (h *Handler) cashbackContext(c *gin.Context) {
	at := h.clock.Now()
	if q := c.Query("at"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			c.Error(errutil.BadRequest("invalid at time", err))
			return
		}
		at = t
	}

	var amount int64
	if q := c.Query("amount"); q != "" {
		n, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			c.Error(errutil.BadRequest("invalid amount", err))
			return
		}
		amount = n
	}

	eval, err := h.evaluator.Evaluate(c.Request.Context(), c.Param("id"), amount, at)
	if err != nil {
		c.Error(err)
		return
	}

	resp := cashbackContextResponse{
		Applies:            eval.Applies,
		ProgramID:          eval.ProgramID,
		ProgramName:        eval.ProgramName,
		EffectiveRate:      eval.EffectiveRate,
		MinSpendAmount:     eval.MinSpendAmount,
		RedeemLimitPercent: eval.RedeemLimitPercent,
		BonusLifespanDays:  eval.BonusLifespanDays,
	}
	if eval.Tier != nil {
		resp.Tier = &tierDTO{
			Name:      eval.Tier.Name,
			MinAmount: eval.Tier.MinAmount,
			MaxAmount: eval.Tier.MaxAmount,
			ExtraRate: eval.Tier.ExtraRate,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) balance(c *gin.Context) {
	clientID := c.Param("id")
	at := h.clock.Now()

	redeemable, err := h.ledger.RedeemableBalance(c.Request.Context(), clientID, at)
	if err != nil {
		c.Error(err)
		return
	}
	total, err := h.ledger.TotalBalance(c.Request.Context(), clientID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, balanceResponse{
		ClientID:   clientID,
		Redeemable: redeemable,
		Total:      total,
		At:         at,
	})
}

func (h *Handler) ledgerEntries(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	entries, info, err := h.ledger.EntriesPage(c.Request.Context(), c.Param("id"), page.Cursor, page.Limit)
	if err != nil {
		c.Error(err)
		return
	}

	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toLedgerEntryResponse(entry))
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "page_info": info})
}

func (h *Handler) verifyLedger(c *gin.Context) {
	valid, err := h.ledger.VerifyChain(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

func (h *Handler) draftPayment(c *gin.Context) {
	var req draftPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	tx, err := h.payments.Draft(c.Request.Context(), req.ClientID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, toPaymentResponse(tx))
}

func (h *Handler) getPayment(c *gin.Context) {
	tx, err := h.payments.Get(c.Request.Context(), c.Param("txId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(tx))
}

func (h *Handler) completePayment(c *gin.Context) {
	var req completePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	tx, err := h.payments.Complete(c.Request.Context(), c.Param("txId"), payment.CompleteParams{
		OriginalAmount: req.OriginalAmount,
		BonusUsed:      req.BonusUsed,
		PaymentMethod:  req.PaymentMethod,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(tx))
}

func (h *Handler) deletePayment(c *gin.Context) {
	if err := h.payments.Delete(c.Request.Context(), c.Param("txId")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

var Module = fx.Module("httpapi",
	fx.Provide(
		NewHandler,
		ProvideRouter,
	),
)
