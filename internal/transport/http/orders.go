package http

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garvit124/AutoPO/internal/app"
	"github.com/garvit124/AutoPO/internal/domain"
	"github.com/garvit124/AutoPO/internal/outbox"
)

// OrderSubmitter is the minimal interface needed to accept purchase orders.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, in app.SubmitOrderInput) (app.SubmitOrderResult, error)
}

// OrderService is what the order endpoints need from fulfillment.
type OrderService interface {
	GetOrder(ctx context.Context, ref string) (domain.Order, error)
	ListOrders(ctx context.Context, filter app.OrderFilter) ([]domain.Order, error)
	Summary(ctx context.Context) (app.StatusSummary, error)
	Process(ctx context.Context, orderID string) (domain.Order, error)
	HandleReply(ctx context.Context, ref string, decision domain.ReplyDecision) (domain.Order, error)
	Notifications(ctx context.Context, ref string) ([]outbox.Task, error)
}

// HandleOrders serves POST /orders (intake) and GET /orders (list with summary).
func HandleOrders(intake OrderSubmitter, svc OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req submitOrderRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
				return
			}

			res, err := intake.SubmitOrder(r.Context(), req.input())
			if err != nil {
				writeServiceError(w, err)
				return
			}
			status := http.StatusOK
			if res.Created {
				status = http.StatusCreated
			}
			writeJSON(w, status, newOrderResponse(res.Order))
		case http.MethodGet:
			filter, ok := parseOrderFilter(w, r.URL.Query())
			if !ok {
				return
			}
			orders, err := svc.ListOrders(r.Context(), filter)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			summary, err := svc.Summary(r.Context())
			if err != nil {
				writeServiceError(w, err)
				return
			}

			resp := listOrdersResponse{
				Orders:  make([]orderResponse, 0, len(orders)),
				Summary: summaryResponse{Counts: make(map[string]int, len(summary.Counts)), Total: summary.Total},
			}
			for _, order := range orders {
				resp.Orders = append(resp.Orders, newOrderResponse(order))
			}
			for status, n := range summary.Counts {
				resp.Summary.Counts[string(status)] = n
			}
			writeJSON(w, http.StatusOK, resp)
		default:
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		}
	}
}

// HandleOrderRoutes serves /orders/{ref}[/process|/reply|/notifications].
// ref is an order id or a PO number.
func HandleOrderRoutes(svc OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, action, ok := parseOrderPath(r.URL.EscapedPath())
		if !ok {
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
			return
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			order, err := svc.GetOrder(r.Context(), ref)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, newOrderResponse(order))
		case action == "process" && r.Method == http.MethodPost:
			order, err := svc.GetOrder(r.Context(), ref)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			order, err = svc.Process(r.Context(), order.ID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, newOrderResponse(order))
		case action == "reply" && r.Method == http.MethodPost:
			var req replyRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
				return
			}
			decision, err := domain.ParseReplyDecision(req.Decision)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			order, err := svc.HandleReply(r.Context(), ref, decision)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, newOrderResponse(order))
		case action == "notifications" && r.Method == http.MethodGet:
			tasks, err := svc.Notifications(r.Context(), ref)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			resp := make([]notificationResponse, 0, len(tasks))
			for _, task := range tasks {
				resp = append(resp, newNotificationResponse(task))
			}
			writeJSON(w, http.StatusOK, resp)
		case action == "" || action == "process" || action == "reply" || action == "notifications":
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		default:
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
		}
	}
}

func parseOrderPath(path string) (ref, action string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] != "orders" {
		return "", "", false
	}
	ref, err := url.PathUnescape(parts[1])
	if err != nil || strings.TrimSpace(ref) == "" {
		return "", "", false
	}
	if len(parts) == 3 {
		action = parts[2]
	}
	return ref, action, true
}

func parseOrderFilter(w http.ResponseWriter, q url.Values) (app.OrderFilter, bool) {
	var filter app.OrderFilter
	if raw := q.Get("status"); raw != "" {
		status, err := domain.ParseOrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidStatus, "invalid status")
			return app.OrderFilter{}, false
		}
		filter.Status = &status
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid limit")
			return app.OrderFilter{}, false
		}
		filter.Limit = limit
	}
	return filter, true
}

type submitOrderRequest struct {
	PONumber     string            `json:"po_number"`
	Buyer        string            `json:"buyer"`
	BuyerEmail   string            `json:"buyer_email"`
	BuyerAddress string            `json:"buyer_address"`
	Supplier     string            `json:"supplier"`
	Items        []lineItemPayload `json:"items"`
}

type lineItemPayload struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (r submitOrderRequest) input() app.SubmitOrderInput {
	items := make([]app.LineItemInput, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, app.LineItemInput(item))
	}
	return app.SubmitOrderInput{
		PONumber:     r.PONumber,
		Buyer:        r.Buyer,
		BuyerEmail:   r.BuyerEmail,
		BuyerAddress: r.BuyerAddress,
		Supplier:     r.Supplier,
		Items:        items,
	}
}

type replyRequest struct {
	Decision string `json:"decision"`
}

type allocationPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type orderResponse struct {
	ID           string              `json:"id"`
	PONumber     string              `json:"po_number"`
	Buyer        string              `json:"buyer"`
	BuyerEmail   string              `json:"buyer_email"`
	BuyerAddress string              `json:"buyer_address,omitempty"`
	Supplier     string              `json:"supplier,omitempty"`
	Status       string              `json:"status"`
	Items        []lineItemPayload   `json:"items"`
	Offered      []allocationPayload `json:"offered"`
	Reserved     []allocationPayload `json:"reserved"`
	Total        decimal.Decimal     `json:"total"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func newOrderResponse(o domain.Order) orderResponse {
	resp := orderResponse{
		ID:           o.ID,
		PONumber:     o.PONumber,
		Buyer:        o.Buyer,
		BuyerEmail:   o.BuyerEmail,
		BuyerAddress: o.BuyerAddress,
		Supplier:     o.Supplier,
		Status:       string(o.Status),
		Items:        make([]lineItemPayload, 0, len(o.Items)),
		Offered:      allocations(o.Offered),
		Reserved:     allocations(o.Reserved),
		Total:        o.Total(),
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, lineItemPayload(item))
	}
	return resp
}

func allocations(in []domain.Allocation) []allocationPayload {
	out := make([]allocationPayload, 0, len(in))
	for _, a := range in {
		out = append(out, allocationPayload(a))
	}
	return out
}

type summaryResponse struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

type listOrdersResponse struct {
	Orders  []orderResponse `json:"orders"`
	Summary summaryResponse `json:"summary"`
}

type notificationResponse struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	CreatedAt     time.Time `json:"created_at"`
}

func newNotificationResponse(t outbox.Task) notificationResponse {
	return notificationResponse{
		ID:            t.ID,
		Kind:          string(t.Kind),
		Status:        string(t.Status),
		Attempts:      t.Attempts,
		LastError:     t.LastError,
		NextAttemptAt: t.NextAttemptAt,
		CreatedAt:     t.CreatedAt,
	}
}
