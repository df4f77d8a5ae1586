package api

import (
	"net/http"
	"time"

	"github.com/Domenick1991/farmrent/internal/domain"
	"github.com/Domenick1991/farmrent/internal/otp"
	"github.com/Domenick1991/farmrent/internal/service/booking"
	"github.com/gin-gonic/gin"
)

type BookingHandler struct {
	service booking.BookingUseCase
}

type createBookingRequest struct {
	MachineID      string    `json:"machine_id"`
	RequestedStart time.Time `json:"requested_start"`
	Area           *float64  `json:"area"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// codeRequest accepts the code as a string or a number.
type codeRequest struct {
	Code any `json:"code"`
}

type disputeRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type resolveRequest struct {
	Resolution   string `json:"resolution"`
	RefundAmount int64  `json:"refund_amount"`
}

type confirmPaymentRequest struct {
	OrderRef string `json:"order_ref"`
}

type billingResponse struct {
	Scheme           string   `json:"scheme"`
	Rate             int64    `json:"rate"`
	Unit             string   `json:"unit"`
	Area             *float64 `json:"area,omitempty"`
	CalculatedAmount *int64   `json:"calculated_amount,omitempty"`
	PaidAmount       *int64   `json:"paid_amount,omitempty"`
}

type paymentResponse struct {
	OrderRef       string  `json:"order_ref,omitempty"`
	TransactionRef string  `json:"transaction_ref,omitempty"`
	Status         string  `json:"status,omitempty"`
	PaidAt         *string `json:"paid_at,omitempty"`
}

type disputeResponse struct {
	Code         string  `json:"code"`
	Description  string  `json:"description"`
	RaisedBy     string  `json:"raised_by"`
	RaisedAt     string  `json:"raised_at"`
	Resolution   string  `json:"resolution,omitempty"`
	RefundAmount int64   `json:"refund_amount,omitempty"`
	ResolvedAt   *string `json:"resolved_at,omitempty"`
}

type transactionResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	Reference string `json:"reference,omitempty"`
	CreatedAt string `json:"created_at"`
}

type bookingResponse struct {
	ID                  string           `json:"id"`
	FarmerID            string           `json:"farmer_id"`
	OwnerID             string           `json:"owner_id"`
	MachineID           string           `json:"machine_id"`
	Status              string           `json:"status"`
	RequestedStart      string           `json:"requested_start"`
	ArrivalDeadline     *string          `json:"arrival_deadline,omitempty"`
	ArrivalOTPExpiresAt *string          `json:"arrival_otp_expires_at,omitempty"`
	CompletionOTPExpiry *string          `json:"completion_otp_expires_at,omitempty"`
	TimerStartedAt      *string          `json:"timer_started_at,omitempty"`
	TimerStoppedAt      *string          `json:"timer_stopped_at,omitempty"`
	DurationMinutes     int64            `json:"duration_minutes"`
	Billing             billingResponse  `json:"billing"`
	Payment             paymentResponse  `json:"payment"`
	Dispute             *disputeResponse `json:"dispute,omitempty"`
	CancelReason        string           `json:"cancel_reason,omitempty"`
	CancelledAt         *string          `json:"cancelled_at,omitempty"`
	CreatedAt           string           `json:"created_at"`
	UpdatedAt           string           `json:"updated_at"`
}

func NewBookingHandler(service booking.BookingUseCase) *BookingHandler {
	return &BookingHandler{service: service}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("", h.list)
	router.GET("/:id", h.get)
	router.POST("/:id/confirm", h.confirm)
	router.POST("/:id/reject", h.reject)
	router.POST("/:id/arrival", h.verifyArrival)
	router.POST("/:id/start", h.start)
	router.POST("/:id/completion", h.verifyCompletion)
	router.POST("/:id/cancel", h.cancel)
	router.POST("/:id/dispute", h.dispute)
	router.POST("/:id/resolve", h.resolve)
	router.POST("/:id/otp", h.reissueOTP)
	router.POST("/:id/payment", h.initiatePayment)
	router.POST("/:id/payment/confirm", h.confirmPayment)
	router.GET("/:id/transactions", h.transactions)
}

func (h *BookingHandler) create(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": domain.CodeBadRequest})
		return
	}

	b, err := h.service.CreateBooking(c.Request.Context(), actorFrom(c), booking.CreateBookingInput{
		MachineID:      req.MachineID,
		RequestedStart: req.RequestedStart,
		Area:           req.Area,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toBookingResponse(*b))
}

func (h *BookingHandler) list(c *gin.Context) {
	list, err := h.service.ListBookings(c.Request.Context(), actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]bookingResponse, 0, len(list))
	for _, b := range list {
		out = append(out, toBookingResponse(b))
	}
	c.JSON(http.StatusOK, out)
}

func (h *BookingHandler) get(c *gin.Context) {
	b, err := h.service.GetBooking(c.Request.Context(), actorFrom(c), c.Param("id"))
	respond(c, b, err)
}

func (h *BookingHandler) confirm(c *gin.Context) {
	b, err := h.service.ConfirmBooking(c.Request.Context(), actorFrom(c), c.Param("id"))
	respond(c, b, err)
}

func (h *BookingHandler) reject(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	b, err := h.service.RejectBooking(c.Request.Context(), actorFrom(c), c.Param("id"), req.Reason)
	respond(c, b, err)
}

func (h *BookingHandler) verifyArrival(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": domain.CodeBadRequest})
		return
	}
	b, err := h.service.VerifyArrival(c.Request.Context(), actorFrom(c), c.Param("id"), otp.NormalizeCandidate(req.Code))
	respond(c, b, err)
}

func (h *BookingHandler) start(c *gin.Context) {
	b, err := h.service.StartWork(c.Request.Context(), actorFrom(c), c.Param("id"))
	respond(c, b, err)
}

func (h *BookingHandler) verifyCompletion(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": domain.CodeBadRequest})
		return
	}
	b, err := h.service.VerifyCompletion(c.Request.Context(), actorFrom(c), c.Param("id"), otp.NormalizeCandidate(req.Code))
	respond(c, b, err)
}

func (h *BookingHandler) cancel(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	b, err := h.service.CancelBooking(c.Request.Context(), actorFrom(c), c.Param("id"), req.Reason)
	respond(c, b, err)
}

func (h *BookingHandler) dispute(c *gin.Context) {
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": domain.CodeBadRequest})
		return
	}
	b, err := h.service.RaiseDispute(c.Request.Context(), actorFrom(c), c.Param("id"), booking.DisputeInput{
		Code:        req.Code,
		Description: req.Description,
	})
	respond(c, b, err)
}

func (h *BookingHandler) resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": domain.CodeBadRequest})
		return
	}
	b, err := h.service.ResolveDispute(c.Request.Context(), actorFrom(c), c.Param("id"), booking.ResolutionInput{
		Resolution:   req.Resolution,
		RefundAmount: req.RefundAmount,
	})
	respond(c, b, err)
}

func (h *BookingHandler) reissueOTP(c *gin.Context) {
	b, err := h.service.ReissueOTP(c.Request.Context(), actorFrom(c), c.Param("id"))
	respond(c, b, err)
}

func (h *BookingHandler) initiatePayment(c *gin.Context) {
	b, err := h.service.InitiatePayment(c.Request.Context(), actorFrom(c), c.Param("id"))
	respond(c, b, err)
}

func (h *BookingHandler) confirmPayment(c *gin.Context) {
	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": domain.CodeBadRequest})
		return
	}
	b, err := h.service.ConfirmPayment(c.Request.Context(), actorFrom(c), c.Param("id"), req.OrderRef)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, toBookingResponse(*b))
	case isPaymentPending(err):
		c.JSON(http.StatusAccepted, gin.H{"status": string(domain.PaymentStatusPending)})
	case b != nil:
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   err.Error(),
			"code":    domain.CodeOf(err),
			"booking": toBookingResponse(*b),
		})
	default:
		writeError(c, err)
	}
}

func (h *BookingHandler) transactions(c *gin.Context) {
	list, err := h.service.ListTransactions(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]transactionResponse, 0, len(list))
	for _, t := range list {
		out = append(out, transactionResponse{
			ID:        t.ID,
			Type:      string(t.Type),
			Amount:    t.Amount,
			Status:    string(t.Status),
			Reference: t.Reference,
			CreatedAt: t.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, out)
}

func respond(c *gin.Context, b *domain.Booking, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(*b))
}

// bindOptional binds a JSON body when one was sent.
func bindOptional(c *gin.Context, req any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": domain.CodeBadRequest})
		return false
	}
	return true
}

func toBookingResponse(b domain.Booking) bookingResponse {
	resp := bookingResponse{
		ID:                  b.ID,
		FarmerID:            b.FarmerID,
		OwnerID:             b.OwnerID,
		MachineID:           b.MachineID,
		Status:              string(b.Status),
		RequestedStart:      b.Schedule.RequestedStart.Format(time.RFC3339),
		ArrivalDeadline:     formatTime(b.Schedule.ArrivalDeadline),
		ArrivalOTPExpiresAt: formatTime(b.OTP.ArrivalExpiresAt),
		CompletionOTPExpiry: formatTime(b.OTP.CompletionExpiresAt),
		TimerStartedAt:      formatTime(b.Timer.StartedAt),
		TimerStoppedAt:      formatTime(b.Timer.StoppedAt),
		DurationMinutes:     b.Timer.DurationMinutes,
		Billing: billingResponse{
			Scheme:           string(b.Billing.Scheme),
			Rate:             b.Billing.Rate,
			Unit:             b.Billing.Unit,
			Area:             b.Billing.Area,
			CalculatedAmount: b.Billing.CalculatedAmount,
			PaidAmount:       b.Billing.PaidAmount,
		},
		Payment: paymentResponse{
			OrderRef:       b.Payment.OrderRef,
			TransactionRef: b.Payment.TransactionRef,
			Status:         string(b.Payment.Status),
			PaidAt:         formatTime(b.Payment.PaidAt),
		},
		CancelReason: b.CancelReason,
		CancelledAt:  formatTime(b.CancelledAt),
		CreatedAt:    b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    b.UpdatedAt.Format(time.RFC3339),
	}
	if d := b.Dispute; d != nil {
		resp.Dispute = &disputeResponse{
			Code:         d.Code,
			Description:  d.Description,
			RaisedBy:     d.RaisedBy,
			RaisedAt:     d.RaisedAt.Format(time.RFC3339),
			Resolution:   d.Resolution,
			RefundAmount: d.RefundAmount,
			ResolvedAt:   formatTime(d.ResolvedAt),
		}
	}
	return resp
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
