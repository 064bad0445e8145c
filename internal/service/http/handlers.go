package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
)

const placeOrderRoute = "POST /v1/orders"

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	if h.placer == nil {
		h.respondError(w, domain.ErrStorageUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body."})
		return
	}

	clientKey := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if h.idemRepo == nil || clientKey == "" {
		status, payload, _ := h.executePlaceOrder(r.Context(), body)
		writeRaw(w, status, payload)
		return
	}

	key := domain.ScopedIdempotencyKey(domain.IdempotencyScopeHTTP, clientKey)
	hash := domain.HashRequest(append([]byte(placeOrderRoute+":"), body...))
	record, err := h.idemRepo.CreateProcessing(r.Context(), key, hash, time.Now().UTC().Add(idempotencyTTL))
	if err != nil {
		h.replayIdempotency(w, key, record, err)
		return
	}

	status, payload, placeErr := h.executePlaceOrder(r.Context(), body)
	switch {
	case status < http.StatusBadRequest:
		err = h.idemRepo.MarkDone(r.Context(), key, payload, status)
	case status >= http.StatusInternalServerError, placeErr != nil && !domain.IsReplayableFailure(placeErr):
		// временный сбой: ключ снимается, повтор выполнится заново
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), idempotencyReleaseTimeout)
		err = h.idemRepo.Release(releaseCtx, key)
		cancel()
	default:
		err = h.idemRepo.MarkFailed(r.Context(), key, payload, status)
	}
	if err != nil {
		h.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
	writeRaw(w, status, payload)
}

// executePlaceOrder возвращает код и готовое тело ответа, чтобы его можно было сохранить
// по ключу, и ошибку оформления, если она была. Ошибка разбора тела детерминирована
// и ошибкой оформления не считается.
func (h *Handler) executePlaceOrder(ctx context.Context, body []byte) (int, []byte, error) {
	var req placeOrderRequest
	if err := decodeStrict(bytes.NewReader(body), &req); err != nil {
		status, payload := marshalPayload(http.StatusBadRequest, errorResponse{Error: "Invalid request body."})
		return status, payload, nil
	}

	orderID, err := h.placer.PlaceOrder(ctx, req.toDomain())
	if err != nil {
		status, payload := marshalPayload(httpStatusFromError(err), errorResponse{Error: domain.UserMessage(err)})
		return status, payload, err
	}
	status, payload := marshalPayload(http.StatusCreated, placeOrderResponse{OrderID: orderID})
	return status, payload, nil
}

func (h *Handler) replayIdempotency(w http.ResponseWriter, key string, record domain.IdempotencyRecord, createErr error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		respondJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "Idempotency key is already used with a different request."})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Status.Completed() && record.HTTPStatus > 0 && len(record.ResponseBody) > 0 {
			w.Header().Set("Idempotent-Replayed", "true")
			writeRaw(w, record.HTTPStatus, record.ResponseBody)
			return
		}
		respondJSON(w, http.StatusConflict, errorResponse{Error: "A request with the same idempotency key is already processing."})
	default:
		h.logger.WithError(createErr).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		h.respondError(w, domain.ErrStorageUnavailable)
	}
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	if h.workflow == nil {
		h.respondError(w, domain.ErrStorageUnavailable)
		return
	}
	order, err := h.workflow.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(order))
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if h.workflow == nil {
		h.respondError(w, domain.ErrStorageUnavailable)
		return
	}
	order, err := h.workflow.UpdateStatus(r.Context(), chi.URLParam(r, "orderID"), domain.OrderStatus(strings.TrimSpace(req.Status)))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(order))
}

func (h *Handler) assignDeliveryPerson(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if h.workflow == nil {
		h.respondError(w, domain.ErrStorageUnavailable)
		return
	}
	order, err := h.workflow.AssignDeliveryPerson(r.Context(), chi.URLParam(r, "orderID"), domain.DeliveryPerson{
		ID:   req.DeliveryPersonID,
		Name: req.DeliveryPersonName,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(order))
}

func (h *Handler) verifyDelivery(w http.ResponseWriter, r *http.Request) {
	var req deliveryRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if h.workflow == nil {
		h.respondError(w, domain.ErrStorageUnavailable)
		return
	}
	order, err := h.workflow.VerifyOtpAndComplete(r.Context(), chi.URLParam(r, "orderID"), req.OTP)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(order))
}

func (h *Handler) listStoreOrders(w http.ResponseWriter, r *http.Request) {
	if h.workflow == nil {
		h.respondError(w, domain.ErrStorageUnavailable)
		return
	}
	orders, err := h.workflow.ListStoreOrders(r.Context(), chi.URLParam(r, "storeID"), limitParam(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTOs(orders))
}

func (h *Handler) listUserOrders(w http.ResponseWriter, r *http.Request) {
	if h.workflow == nil {
		h.respondError(w, domain.ErrStorageUnavailable)
		return
	}
	orders, err := h.workflow.ListUserOrders(r.Context(), chi.URLParam(r, "userID"), limitParam(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTOs(orders))
}

func (h *Handler) listDeliveryOrders(w http.ResponseWriter, r *http.Request) {
	if h.workflow == nil {
		h.respondError(w, domain.ErrStorageUnavailable)
		return
	}
	orders, err := h.workflow.ListDeliveryOrders(r.Context(), chi.URLParam(r, "personID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTOs(orders))
}

func (h *Handler) deliveryEarnings(w http.ResponseWriter, r *http.Request) {
	if h.workflow == nil {
		h.respondError(w, domain.ErrStorageUnavailable)
		return
	}
	earnings, err := h.workflow.DeliveryEarnings(r.Context(), chi.URLParam(r, "personID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toEarningsDTO(earnings))
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if h.catalog == nil {
		h.respondError(w, domain.ErrStorageUnavailable)
		return
	}
	item, err := h.catalog.AddItem(r.Context(), req.toAddInput())
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toItemDTO(item))
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if h.catalog == nil {
		h.respondError(w, domain.ErrStorageUnavailable)
		return
	}
	item, err := h.catalog.UpdateItem(r.Context(), req.toUpdateInput(chi.URLParam(r, "itemID")))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toItemDTO(item))
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		h.respondError(w, domain.ErrStorageUnavailable)
		return
	}
	item, err := h.catalog.GetItem(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toItemDTO(item))
}

func (h *Handler) searchItems(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		h.respondError(w, domain.ErrStorageUnavailable)
		return
	}
	items, err := h.catalog.SearchItems(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toItemDTOs(items))
}

func (h *Handler) listStoreItems(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		h.respondError(w, domain.ErrStorageUnavailable)
		return
	}
	items, err := h.catalog.ListStoreItems(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toItemDTOs(items))
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeStrict(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes), dst); err != nil {
		h.logger.WithError(err).WithField("path", r.URL.Path).Debug("invalid request body")
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body."})
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := httpStatusFromError(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("request failed")
	}
	respondJSON(w, status, errorResponse{Error: domain.UserMessage(err)})
}

// httpStatusFromError переводит доменную таксономию в HTTP-коды.
func httpStatusFromError(err error) int {
	switch {
	case domain.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrItemNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidOTP):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case domain.IsVersionConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeStrict(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func limitParam(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func marshalPayload(status int, v any) (int, []byte) {
	data, err := json.Marshal(v)
	if err != nil {
		return http.StatusInternalServerError, []byte(`{"error":"Failed to place order due to an unexpected error."}`)
	}
	return status, data
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	status, data := marshalPayload(status, v)
	writeRaw(w, status, data)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
