package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/engagehub/backend/internal/orders"
)

type OrderIntake interface {
	HandleOrderPaid(ctx context.Context, raw []byte) (*orders.Result, error)
}

type OrderHandler struct {
	Intake OrderIntake
	Logger *slog.Logger
}

// OrderPaid handles POST /internal/orders/paid. Re-delivery answers 200 with
// created=false.
func (h *OrderHandler) OrderPaid(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "body too large")
		return
	}
	res, err := h.Intake.HandleOrderPaid(r.Context(), raw)
	if err != nil {
		writeDomainError(w, h.Logger, err)
		return
	}
	status := http.StatusCreated
	if !res.Created {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}
