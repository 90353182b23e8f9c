package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rl1809/stock-orders/internal/core/cart"
	"github.com/rl1809/stock-orders/internal/core/domain"
	"github.com/rl1809/stock-orders/internal/core/service"
)

// UserHeader carries the caller's user id. Authentication happens upstream.
const UserHeader = "X-User-ID"

var errMissingUser = errors.New("missing " + UserHeader + " header")

type HTTPHandler struct {
	catalog *service.CatalogService
	orders  *service.OrderService
	picking *service.PickingService
	carts   *service.CartSessions
	metrics http.Handler
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Warning string `json:"warning,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type CartView struct {
	OrderID       string      `json:"orderId,omitempty"`
	Items         []cart.Line `json:"items"`
	TotalQuantity int         `json:"totalQuantity"`
	ItemCount     int         `json:"itemCount"`
	BrandFilter   string      `json:"brandFilter,omitempty"`
}

// NewHTTPHandler builds the handler. metrics may be nil.
func NewHTTPHandler(catalog *service.CatalogService, orders *service.OrderService, picking *service.PickingService, carts *service.CartSessions, metrics http.Handler) *HTTPHandler {
	return &HTTPHandler{catalog: catalog, orders: orders, picking: picking, carts: carts, metrics: metrics}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
			r.Get("/brands", h.ListBrands)
			r.Get("/{productID}", h.GetProduct)
			r.Patch("/{productID}", h.UpdateProduct)
		})

		r.Route("/cart", func(r chi.Router) {
			h.cartRoutes(r, h.createCart)
			r.Post("/submit", h.SubmitOrder)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Get("/mine", h.ListMyOrders)
			r.Get("/{orderID}", h.GetOrder)
			r.Route("/{orderID}/edit", func(r chi.Router) {
				r.Post("/", h.BeginEdit)
				r.Put("/", h.SaveEdit)
				r.Delete("/", h.AbandonEdit)
				r.Route("/cart", func(r chi.Router) {
					h.cartRoutes(r, h.editCart)
				})
			})
		})

		r.Route("/picking", func(r chi.Router) {
			r.Get("/progress", h.ActiveProgress)
			r.Post("/{orderID}/open", h.OpenPicking)
			r.Get("/{orderID}", h.GetPicking)
			r.Delete("/{orderID}", h.ClosePicking)
			r.Post("/{orderID}/items/{docID}/confirm", h.ConfirmItem)
			r.Post("/{orderID}/items/{docID}/edit", h.EditItem)
			r.Put("/{orderID}/notes", h.SetPickingNotes)
			r.Post("/{orderID}/complete", h.CompletePicking)
		})
	})
	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Products

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context(), r.URL.Query().Get("brand"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, products)
}

func (h *HTTPHandler) ListBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := h.catalog.Brands(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, brands)
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var p domain.Product
	if !decodeBody(w, r, &p) {
		return
	}
	created, err := h.catalog.CreateProduct(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, created)
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var u service.ProductUpdate
	if !decodeBody(w, r, &u) {
		return
	}
	p, err := h.catalog.UpdateProduct(r.Context(), chi.URLParam(r, "productID"), u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

// Carts

type cartResolver func(r *http.Request) (*cart.Cart, error)

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Delta     int    `json:"delta"`
	Quantity  int    `json:"quantity"`
}

type brandRequest struct {
	Brand string `json:"brand"`
}

func (h *HTTPHandler) cartRoutes(r chi.Router, resolve cartResolver) {
	r.Get("/", h.withCart(resolve, h.showCart))
	r.Delete("/", h.withCart(resolve, h.clearCart))
	r.Post("/items", h.withCart(resolve, h.addToCart))
	r.Put("/items/{productID}", h.withCart(resolve, h.setCartQuantity))
	r.Delete("/items/{productID}", h.withCart(resolve, h.removeFromCart))
	r.Post("/items/{productID}/toggle", h.withCart(resolve, h.togglePackageMode))
	r.Put("/brand", h.withCart(resolve, h.setBrandFilter))
}

func (h *HTTPHandler) withCart(resolve cartResolver, next func(http.ResponseWriter, *http.Request, *cart.Cart)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := resolve(r)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, c)
	}
}

func (h *HTTPHandler) createCart(r *http.Request) (*cart.Cart, error) {
	userID, err := userFrom(r)
	if err != nil {
		return nil, err
	}
	return h.carts.Cart(userID), nil
}

func (h *HTTPHandler) editCart(r *http.Request) (*cart.Cart, error) {
	userID, err := userFrom(r)
	if err != nil {
		return nil, err
	}
	return h.carts.EditCart(userID, chi.URLParam(r, "orderID")), nil
}

func (h *HTTPHandler) showCart(w http.ResponseWriter, r *http.Request, c *cart.Cart) {
	writeData(w, http.StatusOK, cartView(c))
}

func (h *HTTPHandler) clearCart(w http.ResponseWriter, r *http.Request, c *cart.Cart) {
	c.Clear()
	writeData(w, http.StatusOK, cartView(c))
}

func (h *HTTPHandler) addToCart(w http.ResponseWriter, r *http.Request, c *cart.Cart) {
	var req cartItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Delta == 0 {
		req.Delta = 1
	}
	p, err := h.catalog.GetProduct(r.Context(), req.ProductID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := Response{Success: true}
	var warn *domain.StockWarning
	if err := c.AddChecked(p, req.Delta); errors.As(err, &warn) {
		resp.Warning = warn.Error()
	}
	resp.Data = cartView(c)
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) setCartQuantity(w http.ResponseWriter, r *http.Request, c *cart.Cart) {
	var req cartItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c.SetQuantity(chi.URLParam(r, "productID"), req.Quantity)
	writeData(w, http.StatusOK, cartView(c))
}

func (h *HTTPHandler) removeFromCart(w http.ResponseWriter, r *http.Request, c *cart.Cart) {
	delta := 1
	if v := r.URL.Query().Get("delta"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, Response{Message: "delta must be a positive integer"})
			return
		}
		delta = n
	}
	c.Remove(chi.URLParam(r, "productID"), delta)
	writeData(w, http.StatusOK, cartView(c))
}

func (h *HTTPHandler) togglePackageMode(w http.ResponseWriter, r *http.Request, c *cart.Cart) {
	c.TogglePackageMode(chi.URLParam(r, "productID"))
	writeData(w, http.StatusOK, cartView(c))
}

func (h *HTTPHandler) setBrandFilter(w http.ResponseWriter, r *http.Request, c *cart.Cart) {
	var req brandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c.SetBrandFilter(req.Brand)
	writeData(w, http.StatusOK, cartView(c))
}

func cartView(c *cart.Cart) CartView {
	return CartView{
		OrderID:       c.OrderID(),
		Items:         c.Items(),
		TotalQuantity: c.TotalQuantity(),
		ItemCount:     c.ItemCount(),
		BrandFilter:   c.BrandFilter(),
	}
}

// Orders

type notesRequest struct {
	Notes string `json:"notes"`
}

func (h *HTTPHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := userFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req notesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	products, err := h.catalog.ListProducts(r.Context(), "")
	if err != nil {
		writeError(w, err)
		return
	}

	order, err := h.orders.Submit(r.Context(), service.SubmitRequest{
		UserID:   userID,
		Notes:    req.Notes,
		Cart:     h.carts.Cart(userID),
		Products: products,
		Draft:    h.carts.Draft(userID),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Message: "order " + order.DisplayID + " created", Data: order})
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	status := domain.OrderStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.OrderStatusPending
	}
	orders, err := h.orders.ListOrders(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, ordersWithProgress(orders, h.picking.ActiveProgress()))
}

func (h *HTTPHandler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := userFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	orders, err := h.orders.ListUserOrders(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, orders)
}

type orderDetail struct {
	domain.Order
	ID    string             `json:"id"`
	Items []domain.OrderItem `json:"items"`
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, items, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, orderDetail{Order: order, ID: order.ID, Items: items})
}

type orderSummary struct {
	domain.Order
	ID            string `json:"id"`
	ProgressSaved bool   `json:"progressSaved"`
}

func ordersWithProgress(orders []domain.Order, active []domain.ProgressSummary) []orderSummary {
	saved := make(map[string]bool, len(active))
	for _, s := range active {
		saved[s.OrderID] = true
	}
	out := make([]orderSummary, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderSummary{Order: o, ID: o.ID, ProgressSaved: saved[o.ID]})
	}
	return out
}

func (h *HTTPHandler) BeginEdit(w http.ResponseWriter, r *http.Request) {
	userID, err := userFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	orderID := chi.URLParam(r, "orderID")
	c := h.carts.EditCart(userID, orderID)
	order, err := h.orders.BeginEdit(r.Context(), orderID, userID, c)
	if err != nil {
		h.carts.ReleaseEdit(userID, orderID)
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"order": order, "cart": cartView(c)})
}

func (h *HTTPHandler) SaveEdit(w http.ResponseWriter, r *http.Request) {
	userID, err := userFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req notesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	products, err := h.catalog.ListProducts(r.Context(), "")
	if err != nil {
		writeError(w, err)
		return
	}

	orderID := chi.URLParam(r, "orderID")
	err = h.orders.SaveEdit(r.Context(), service.SaveEditRequest{
		OrderID:  orderID,
		UserID:   userID,
		Notes:    req.Notes,
		Cart:     h.carts.EditCart(userID, orderID),
		Products: products,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.carts.ReleaseEdit(userID, orderID)
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "order updated"})
}

func (h *HTTPHandler) AbandonEdit(w http.ResponseWriter, r *http.Request) {
	userID, err := userFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	orderID := chi.URLParam(r, "orderID")
	h.carts.EditCart(userID, orderID).Clear()
	h.carts.ReleaseEdit(userID, orderID)
	writeJSON(w, http.StatusOK, Response{Success: true})
}

// Picking

type confirmRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *HTTPHandler) ActiveProgress(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.picking.ActiveProgress())
}

func (h *HTTPHandler) OpenPicking(w http.ResponseWriter, r *http.Request) {
	readOnly, _ := strconv.ParseBool(r.URL.Query().Get("readOnly"))
	sess, err := h.picking.Open(r.Context(), chi.URLParam(r, "orderID"), readOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, sess.View())
}

func (h *HTTPHandler) GetPicking(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(sess *service.PickSession) error { return nil })
}

// ClosePicking drops the open session. Saved progress is kept and restored
// by the next open.
func (h *HTTPHandler) ClosePicking(w http.ResponseWriter, r *http.Request) {
	h.picking.Close(chi.URLParam(r, "orderID"))
	writeJSON(w, http.StatusOK, Response{Success: true})
}

func (h *HTTPHandler) ConfirmItem(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	docID := chi.URLParam(r, "docID")
	h.withSession(w, r, func(sess *service.PickSession) error {
		qty, ok := defaultQuantity(sess, docID)
		if !ok {
			return domain.ErrItemNotFound
		}
		if req.Quantity != nil {
			qty = *req.Quantity
		}
		return sess.Confirm(docID, qty)
	})
}

func (h *HTTPHandler) EditItem(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	h.withSession(w, r, func(sess *service.PickSession) error { return sess.Edit(docID) })
}

func (h *HTTPHandler) SetPickingNotes(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.withSession(w, r, func(sess *service.PickSession) error { return sess.SetNotes(req.Notes) })
}

func (h *HTTPHandler) CompletePicking(w http.ResponseWriter, r *http.Request) {
	result, err := h.picking.Complete(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeJSON(w, statusFor(err), Response{Success: false, Message: result.Message, Data: result})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: result.Message, Data: result})
}

func (h *HTTPHandler) withSession(w http.ResponseWriter, r *http.Request, fn func(*service.PickSession) error) {
	sess, err := h.picking.Session(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := fn(sess); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, sess.View())
}

func defaultQuantity(sess *service.PickSession, docID string) (int, bool) {
	for _, item := range sess.View().Items {
		if item.DocID == docID {
			return item.QuantityPicked, true
		}
	}
	return 0, false
}

// Helpers

func userFrom(r *http.Request) (string, error) {
	if id := r.Header.Get(UserHeader); id != "" {
		return id, nil
	}
	return "", errMissingUser
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "invalid request body"})
		return false
	}
	return true
}

func statusFor(err error) int {
	var remote *domain.RemoteError
	switch {
	case errors.Is(err, errMissingUser):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidProduct):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotEditable),
		errors.Is(err, domain.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNotCompletable),
		errors.Is(err, domain.ErrCompletionInProgress),
		errors.Is(err, domain.ErrSessionCompleted),
		errors.Is(err, domain.ErrProductExists):
		return http.StatusConflict
	case errors.As(err, &remote):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), Response{Success: false, Message: err.Error()})
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Success: true, Data: data})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
