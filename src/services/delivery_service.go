package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/flurs/keyserver/src/assembler"
	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories"
)

// DeliveryService turns validation outcomes into the Lua artifacts the
// loader endpoint serves. Rejections become short error chunks so the
// consumer sees a reason instead of a silent failure.
type DeliveryService struct {
	assembler *assembler.Assembler
	validator *ValidationService
	payloads  *PayloadService
	logger    zerolog.Logger
}

func NewDeliveryService(asm *assembler.Assembler, validator *ValidationService, payloads *PayloadService, logger zerolog.Logger) *DeliveryService {
	return &DeliveryService{
		assembler: asm,
		validator: validator,
		payloads:  payloads,
		logger:    logger.With().Str("component", "delivery").Logger(),
	}
}

// Stub returns the public loader for the payload, or a payload-not-found
// chunk when the hash is unknown. No key is required at this stage.
func (s *DeliveryService) Stub(ctx context.Context, hash string) (string, models.Verdict, error) {
	if _, err := s.payloads.Get(ctx, hash); err != nil {
		if errors.Is(err, repositories.ErrPayloadNotFound) {
			v := models.VerdictPayloadNotFound
			return s.assembler.Denied(v.Message()), v, nil
		}
		return "", models.VerdictOK, err
	}
	return s.assembler.Stub(hash), models.VerdictOK, nil
}

// Deliver validates the request and, on a pass, assembles the protected
// wrapper. A denial yields the matching error chunk and verdict.
func (s *DeliveryService) Deliver(ctx context.Context, req ValidationRequest) (string, models.Verdict, error) {
	result, err := s.validator.Validate(ctx, req)
	if err != nil {
		return "", models.VerdictOK, err
	}
	if result.Verdict != models.VerdictOK {
		return s.assembler.Denied(result.Verdict.Message()), result.Verdict, nil
	}

	out, err := s.assembler.Wrapper(result.Payload)
	if err != nil {
		return "", models.VerdictOK, err
	}
	return out, models.VerdictOK, nil
}
