package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
)

const (
	idempotencyKeyHeader = "idempotency-key"
	idempotencyTTL       = 24 * time.Hour

	idempotencyReleaseTimeout = 2 * time.Second
)

type idempotencyErrorPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

func withIdempotency[T any](
	s *StorefrontService,
	ctx context.Context,
	method string,
	req any,
	newResp func() *T,
	handler func(context.Context) (*T, error),
) (*T, error) {
	if s.idemRepo == nil {
		return handler(ctx)
	}

	clientKey, err := readIdempotencyKey(ctx)
	if err != nil {
		return nil, err
	}
	idemKey := domain.ScopedIdempotencyKey(domain.IdempotencyScopeGRPC, clientKey)

	reqHash, err := buildIdempotencyRequestHash(method, req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.CreateProcessing(ctx, idemKey, reqHash, time.Now().UTC().Add(idempotencyTTL))
	if err != nil {
		return replayIdempotency(s, err, record, newResp)
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		if replayableCode(status.Code(runErr)) {
			s.cacheIdempotencyFailure(ctx, idemKey, runErr)
		} else {
			s.releaseIdempotencyKey(ctx, idemKey, runErr)
		}
		return resp, runErr
	}

	if cacheErr := s.cacheIdempotencySuccess(ctx, idemKey, resp); cacheErr != nil {
		s.logger.WithError(cacheErr).WithField("idempotency_key", idemKey).Warn("failed to store idempotent success response")
	}

	return resp, nil
}

func replayIdempotency[T any](
	s *StorefrontService,
	createErr error,
	record domain.IdempotencyRecord,
	newResp func() *T,
) (*T, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			if len(record.ResponseBody) == 0 {
				return nil, status.Error(codes.Internal, "idempotency cache is empty")
			}
			resp := newResp()
			if err := json.Unmarshal(record.ResponseBody, resp); err != nil {
				s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached idempotency response")
				return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
			}
			return resp, nil
		case domain.IdempotencyStatusProcessing:
			return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		case domain.IdempotencyStatusFailed:
			return nil, decodeIdempotencyFailure(record)
		default:
			// ключ истёк между вставкой и чтением
			return nil, status.Error(codes.Aborted, "idempotency key state changed, retry the request")
		}
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		return nil, toStatusError(fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, createErr))
	}
}

func (s *StorefrontService) cacheIdempotencySuccess(ctx context.Context, key string, resp any) error {
	if resp == nil {
		return s.idemRepo.MarkDone(ctx, key, nil, int(codes.OK))
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.idemRepo.MarkDone(ctx, key, data, int(codes.OK))
}

func (s *StorefrontService) cacheIdempotencyFailure(ctx context.Context, key string, runErr error) {
	st := status.Convert(runErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}

	payload, err := json.Marshal(idempotencyErrorPayload{
		Code:    int32(code), //nolint:gosec // codes.Code is a bounded enum value.
		Message: st.Message(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotency failure payload")
		payload = nil
	}

	if err := s.idemRepo.MarkFailed(ctx, key, payload, int(code)); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
	}
}

// releaseIdempotencyKey снимает ключ после временного сбоя, чтобы клиент мог
// повторить запрос с тем же ключом.
func (s *StorefrontService) releaseIdempotencyKey(ctx context.Context, key string, runErr error) {
	// исходный ctx может быть уже отменён
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencyReleaseTimeout)
	defer cancel()

	entry := s.logger.WithField("idempotency_key", key).WithField("code", status.Code(runErr).String())
	if err := s.idemRepo.Release(releaseCtx, key); err != nil {
		entry.WithError(err).Warn("failed to release idempotency key, retries wait for its ttl")
		return
	}
	entry.Debug("idempotency key released after transient failure")
}

// replayableCode отбирает детерминированные отказы: повтор того же запроса
// получит тот же ответ, поэтому его можно отдавать из кэша.
func replayableCode(code codes.Code) bool {
	switch code {
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition, codes.PermissionDenied:
		return true
	default:
		return false
	}
}

func decodeIdempotencyFailure(record domain.IdempotencyRecord) error {
	if len(record.ResponseBody) > 0 {
		var payload idempotencyErrorPayload
		if err := json.Unmarshal(record.ResponseBody, &payload); err == nil {
			if code, ok := grpcCodeFromInt32(payload.Code); ok {
				if code == codes.OK {
					code = codes.Internal
				}
				if payload.Message == "" {
					payload.Message = "previous request with the same idempotency key failed"
				}
				return status.Error(code, payload.Message)
			}
		}
	}

	if record.HTTPStatus > 0 {
		if code, ok := grpcCodeFromInt(record.HTTPStatus); ok && code != codes.OK {
			return status.Error(code, "previous request with the same idempotency key failed")
		}
	}

	return status.Error(codes.Internal, "previous request with the same idempotency key failed")
}

func grpcCodeFromInt32(value int32) (codes.Code, bool) {
	if value < int32(codes.OK) || value > int32(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func grpcCodeFromInt(value int) (codes.Code, bool) {
	if value < int(codes.OK) || value > int(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func readIdempotencyKey(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}

	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}

	return "", status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
}

func buildIdempotencyRequestHash(method string, req any) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	return domain.HashRequest(payload), nil
}
