package readings

import (
	"context"
	"strings"

	mqtmodels "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Repository/Interfaces"
	validation "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Validation"
)

// ReadingService validates and stores readings and answers latest-reading lookups
type ReadingService struct {
	readingRepo interfaces.ReadingRepository
	validator   *validation.Validator
}

// NewReadingService creates a new reading service
func NewReadingService(readingRepo interfaces.ReadingRepository, validator *validation.Validator) *ReadingService {
	return &ReadingService{
		readingRepo: readingRepo,
		validator:   validator,
	}
}

// Ingest strictly validates a candidate and stores it. Nothing is stored when
// validation fails.
func (s *ReadingService) Ingest(ctx context.Context, c validation.Candidate) (mqtmodels.Reading, error) {
	nr, err := s.validator.Validate(c)
	if err != nil {
		return mqtmodels.Reading{}, err
	}
	return s.readingRepo.Insert(ctx, nr)
}

// Latest returns the newest reading for deviceID
func (s *ReadingService) Latest(ctx context.Context, deviceID string) (mqtmodels.Reading, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return mqtmodels.Reading{}, &validation.ValidationError{Fields: []validation.FieldError{{
			Field:   validation.FieldDeviceID,
			Kind:    validation.KindMissingField,
			Message: validation.MsgDeviceIDRequired,
		}}}
	}
	return s.readingRepo.FetchLatest(ctx, deviceID)
}
