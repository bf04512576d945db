package handler

import (
	"log/slog"
	"net/http"

	"gridbot/internal/domain"
	"gridbot/internal/orderbook"
)

// OrderHandler serves the order book snapshot.
type OrderHandler struct {
	book   *orderbook.Book
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler over the in-memory book.
func NewOrderHandler(book *orderbook.Book, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		book:   book,
		logger: logHandler(logger, "orders"),
	}
}

// listOrdersResponse wraps the list orders response.
type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
	Count  int            `json:"count"`
}

// ListOrders returns the tracked orders. The optional status query parameter
// filters to open or completed orders; the default is everything the book
// still indexes.
// GET /api/orders?status=open|completed
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var orders []domain.Order

	switch status := r.URL.Query().Get("status"); status {
	case "", "all":
		orders = h.book.Snapshot()
	case "open":
		for _, o := range h.book.OpenOrders() {
			orders = append(orders, *o)
		}
	case "completed":
		for _, o := range h.book.CompletedOrders() {
			orders = append(orders, *o)
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown status filter: "+status)
		return
	}

	if orders == nil {
		orders = []domain.Order{}
	}

	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders, Count: len(orders)})
}

// GetOrder returns one tracked order by its ID.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, ok := h.book.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, *order)
}
