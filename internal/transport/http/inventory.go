package http

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/garvit124/AutoPO/internal/app"
	"github.com/garvit124/AutoPO/internal/domain"
)

// InventoryService is the minimal interface needed for inventory endpoints.
type InventoryService interface {
	UpsertProduct(ctx context.Context, in app.UpsertProductInput) (domain.Product, error)
	Restock(ctx context.Context, productID string, delta int) (domain.Product, error)
	ListInventory(ctx context.Context) ([]domain.Product, error)
}

// HandleInventory lists every product with its stock.
func HandleInventory(svc InventoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
		products, err := svc.ListInventory(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := make([]productResponse, 0, len(products))
		for _, p := range products {
			resp = append(resp, productResponse(p))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleInventoryItem serves PUT /inventory/{id} and POST /inventory/{id}/restock.
func HandleInventoryItem(svc InventoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, action, ok := parseInventoryPath(r.URL.EscapedPath())
		if !ok {
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
			return
		}

		switch action {
		case "":
			if r.Method != http.MethodPut {
				writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
				return
			}
			var req upsertProductRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
				return
			}
			product, err := svc.UpsertProduct(r.Context(), app.UpsertProductInput{
				ProductID: productID,
				Name:      req.Name,
				Available: req.Available,
			})
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, productResponse(product))
		case "restock":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
				return
			}
			var req restockRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
				return
			}
			product, err := svc.Restock(r.Context(), productID, req.Quantity)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, productResponse(product))
		default:
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
		}
	}
}

func parseInventoryPath(path string) (productID, action string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] != "inventory" {
		return "", "", false
	}
	productID, err := url.PathUnescape(parts[1])
	if err != nil || strings.TrimSpace(productID) == "" {
		return "", "", false
	}
	if len(parts) == 3 {
		action = parts[2]
	}
	return productID, action, true
}

type upsertProductRequest struct {
	Name      string `json:"name"`
	Available int    `json:"available"`
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

type productResponse struct {
	ID        string `json:"product_id"`
	Name      string `json:"name"`
	Available int    `json:"available"`
	UnitsSold int    `json:"units_sold"`
}
