package http

import (
	"net/http"

	"go.uber.org/zap"
)

type Services struct {
	Intake      OrderSubmitter
	Orders      OrderService
	Inventory   InventoryService
	Ready       map[string]Pinger
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewHandler wires every route behind CORS and request logging.
func NewHandler(s Services) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.Handle("/ready", HandleReady(s.Ready))
	mux.Handle("/orders", HandleOrders(s.Intake, s.Orders))
	mux.Handle("/orders/", HandleOrderRoutes(s.Orders))
	mux.Handle("/inventory", HandleInventory(s.Inventory))
	mux.Handle("/inventory/", HandleInventoryItem(s.Inventory))
	mux.Handle("/", NotFoundHandler())

	return RequestLogger(CORS(s.CORSOrigins, mux), s.Logger)
}
