// Package httpapi exposes the order query endpoint over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/nsridhar76/go-orderms/internal/domain"
	"github.com/nsridhar76/go-orderms/internal/service"
)

// OrderLister is the query side of the order service.
type OrderLister interface {
	ListOrders(ctx context.Context, customerID int64, page domain.PageRequest) (service.OrdersResult, error)
}

// Options tunes paging and request handling.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	RequestTimeout  time.Duration
}

// Handler serves the order API.
type Handler struct {
	orders OrderLister
	opts   Options
	logger *slog.Logger
}

// NewHandler builds the handler. Zero options fall back to a page size of
// 10, no page size cap and no request timeout.
func NewHandler(orders OrderLister, opts Options, logger *slog.Logger) *Handler {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 10
	}
	return &Handler{orders: orders, opts: opts, logger: logger}
}

// Routes returns the chi router with middleware attached.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/customers/{customerId}/orders", h.listOrders)
	return r
}

// money renders an amount as a JSON string with at least two decimal places.
// Amounts with more places keep all of them; nothing is rounded.
type money decimal.Decimal

func (m money) MarshalJSON() ([]byte, error) {
	d := decimal.Decimal(m)
	s := d.String()
	if d.Equal(d.Truncate(2)) {
		s = d.StringFixed(2)
	}
	return json.Marshal(s)
}

type orderItemResponse struct {
	Product   string `json:"product"`
	Quantity  int    `json:"quantity"`
	UnitPrice money  `json:"price"`
}

type orderResponse struct {
	OrderID    int64               `json:"orderId"`
	CustomerID int64               `json:"customerId"`
	Total      money               `json:"total"`
	Items      []orderItemResponse `json:"items"`
}

type paginationResponse struct {
	Page          int   `json:"page"`
	PageSize      int   `json:"pageSize"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
}

type summaryResponse struct {
	TotalOnOrders money `json:"totalOnOrders"`
}

type listOrdersResponse struct {
	Data       []orderResponse    `json:"data"`
	Pagination paginationResponse `json:"pagination"`
	Summary    summaryResponse    `json:"summary"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func newListOrdersResponse(res service.OrdersResult) listOrdersResponse {
	data := make([]orderResponse, 0, len(res.Page.Content))
	for _, o := range res.Page.Content {
		items := make([]orderItemResponse, 0, len(o.Items))
		for _, it := range o.Items {
			items = append(items, orderItemResponse{Product: it.Product, Quantity: it.Quantity, UnitPrice: money(it.UnitPrice)})
		}
		data = append(data, orderResponse{
			OrderID:    o.OrderID,
			CustomerID: o.CustomerID,
			Total:      money(o.Total),
			Items:      items,
		})
	}
	return listOrdersResponse{
		Data: data,
		Pagination: paginationResponse{
			Page:          res.Page.Number,
			PageSize:      res.Page.Size,
			TotalElements: res.Page.TotalElements,
			TotalPages:    res.Page.TotalPages,
		},
		Summary: summaryResponse{TotalOnOrders: money(res.Summary.TotalOnOrders)},
	}
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(chi.URLParam(r, "customerId"), 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_customer_id", "customerId must be an integer")
		return
	}

	page, err := h.pageRequest(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_page", err.Error())
		return
	}

	ctx := r.Context()
	if h.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.RequestTimeout)
		defer cancel()
	}

	res, err := h.orders.ListOrders(ctx, customerID, page)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, newListOrdersResponse(res))
	case errors.Is(err, domain.ErrInvalidPage):
		h.writeError(w, r, http.StatusBadRequest, "invalid_page", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "list orders failed",
			slog.Int64("customer_id", customerID),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err),
		)
		h.writeError(w, r, http.StatusInternalServerError, "store_unavailable", "orders could not be loaded")
	}
}

func (h *Handler) pageRequest(r *http.Request) (domain.PageRequest, error) {
	page := domain.PageRequest{Number: 0, Size: h.opts.DefaultPageSize}
	q := r.URL.Query()

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page, errors.New("page must be an integer")
		}
		page.Number = n
	}
	if v := q.Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page, errors.New("pageSize must be an integer")
		}
		page.Size = n
	}
	if h.opts.MaxPageSize > 0 && page.Size > h.opts.MaxPageSize {
		page.Size = h.opts.MaxPageSize
	}
	return page, page.Validate()
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	h.writeJSON(w, status, errorResponse{Error: errorBody{
		Code:      code,
		Message:   msg,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write response", slog.Any("error", err))
	}
}
