package api

import (
	"net/http"
	"time"

	"github.com/Domenick1991/farmrent/internal/domain"
	"github.com/Domenick1991/farmrent/internal/service/review"
	"github.com/gin-gonic/gin"
)

type ReviewHandler struct {
	service review.ReviewUseCase
}

type reviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type reviewResponse struct {
	ID        string `json:"id"`
	BookingID string `json:"booking_id"`
	FarmerID  string `json:"farmer_id"`
	OwnerID   string `json:"owner_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment,omitempty"`
	CreatedAt string `json:"created_at"`
}

func NewReviewHandler(service review.ReviewUseCase) *ReviewHandler {
	return &ReviewHandler{service: service}
}

// Register mounts on the bookings group.
func (h *ReviewHandler) Register(router *gin.RouterGroup) {
	router.POST("/:id/review", h.submit)
	router.GET("/:id/review", h.get)
}

func (h *ReviewHandler) submit(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": domain.CodeBadRequest})
		return
	}
	rv, err := h.service.Submit(c.Request.Context(), actorFrom(c), c.Param("id"), req.Rating, req.Comment)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toReviewResponse(*rv))
}

func (h *ReviewHandler) get(c *gin.Context) {
	rv, err := h.service.Get(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReviewResponse(*rv))
}

func toReviewResponse(r domain.Review) reviewResponse {
	return reviewResponse{
		ID:        r.ID,
		BookingID: r.BookingID,
		FarmerID:  r.FarmerID,
		OwnerID:   r.OwnerID,
		Rating:    r.Rating,
		Comment:   r.Comment,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
	}
}
