package api

import (
	"net/http"
	"time"

	"github.com/Domenick1991/farmrent/internal/domain"
	"github.com/Domenick1991/farmrent/internal/service/machines"
	"github.com/gin-gonic/gin"
)

type MachineHandler struct {
	service machines.MachineUseCase
}

type machineResponse struct {
	ID            string `json:"id"`
	OwnerID       string `json:"owner_id"`
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	BillingScheme string `json:"billing_scheme"`
	Rate          int64  `json:"rate"`
	Unit          string `json:"unit"`
	Available     bool   `json:"available"`
	CreatedAt     string `json:"created_at"`
}

func NewMachineHandler(service machines.MachineUseCase) *MachineHandler {
	return &MachineHandler{service: service}
}

func (h *MachineHandler) Register(router *gin.RouterGroup) {
	router.GET("", h.list)
	router.GET("/:id", h.get)
}

func (h *MachineHandler) list(c *gin.Context) {
	list, err := h.service.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]machineResponse, 0, len(list))
	for _, m := range list {
		out = append(out, toMachineResponse(m))
	}
	c.JSON(http.StatusOK, out)
}

func (h *MachineHandler) get(c *gin.Context) {
	m, err := h.service.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toMachineResponse(*m))
}

func toMachineResponse(m domain.Machine) machineResponse {
	return machineResponse{
		ID:            m.ID,
		OwnerID:       m.OwnerID,
		Name:          m.Name,
		Kind:          m.Kind,
		BillingScheme: string(m.BillingScheme),
		Rate:          m.Rate,
		Unit:          m.Unit,
		Available:     m.Available,
		CreatedAt:     m.CreatedAt.Format(time.RFC3339),
	}
}
