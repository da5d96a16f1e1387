package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stonemart/api/internal/platform/httpx"
	"github.com/stonemart/api/internal/services"
)

const maxWebhookBodySize = 32 * 1024

// PaymentWebhookHandlers receives signed provider callbacks. Signature
// verification happens in the webhook middleware group; by the time a request
// reaches these handlers it is trusted.
type PaymentWebhookHandlers struct {
	orders services.OrderService
}

// NewPaymentWebhookHandlers constructs a new PaymentWebhookHandlers instance.
func NewPaymentWebhookHandlers(orders services.OrderService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{orders: orders}
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment", h.paymentCompleted)
}

type paymentWebhookRequest struct {
	OrderID       string         `json:"order_id"`
	PaymentResult map[string]any `json:"payment_result,omitempty"`
}

func (h *PaymentWebhookHandlers) paymentCompleted(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req paymentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id is required", http.StatusBadRequest))
		return
	}

	// The provider callback acts with staff authority: payment confirmation
	// is not tied to the buyer's identity.
	order, err := h.orders.MarkPaid(ctx, services.MarkPaidCommand{
		OrderID:       orderID,
		PaymentResult: req.PaymentResult,
		Requester: services.Requester{
			UserID: "payment-webhook",
			Staff:  true,
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
