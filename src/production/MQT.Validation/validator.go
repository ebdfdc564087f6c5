package validation

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	mqtmodels "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Models"
)

// Rule tags checked after a field has been coerced to its Go type
const (
	deviceIDRule    = "required"
	temperatureRule = "finite"
	timestampRule   = "gte=0,lte=9007199254740991,integral"
)

// Candidate is a raw, untrusted reading. A nil field is treated as absent.
// Numbers are expected as json.Number, float64 or numeric strings.
type Candidate struct {
	DeviceID    interface{}
	Temperature interface{}
	Timestamp   interface{}
}

// DecodeCandidate decodes a JSON object into a Candidate, keeping numbers exact
func DecodeCandidate(data []byte) (Candidate, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var body map[string]interface{}
	if err := dec.Decode(&body); err != nil || body == nil {
		return Candidate{}, ErrMalformedBody
	}
	// Only whitespace may follow the object
	if _, err := dec.Token(); err != io.EOF {
		return Candidate{}, ErrMalformedBody
	}

	return Candidate{
		DeviceID:    body[FieldDeviceID],
		Temperature: body[FieldTemperature],
		Timestamp:   body[FieldTimestamp],
	}, nil
}

// Validator normalizes candidate readings. It is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
	now      func() time.Time
}

// New creates a validator that defaults missing timestamps to the wall clock
func New() *Validator {
	return NewWithClock(time.Now)
}

// NewWithClock creates a validator with an injectable clock
func NewWithClock(now func() time.Time) *Validator {
	v := validator.New()
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	_ = v.RegisterValidation("integral", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return f == math.Trunc(f)
	})
	return &Validator{validate: v, now: now}
}

// Validate applies every rule and reports the first violation of each field
func (v *Validator) Validate(c Candidate) (mqtmodels.NewReading, error) {
	return v.run(c, false)
}

// ValidateRelaxed stops at the first violated rule. Used where a rejected
// candidate is dropped rather than reported back.
func (v *Validator) ValidateRelaxed(c Candidate) (mqtmodels.NewReading, error) {
	return v.run(c, true)
}

func (v *Validator) run(c Candidate, failFast bool) (mqtmodels.NewReading, error) {
	var out mqtmodels.NewReading
	var fields []FieldError

	steps := []func() *FieldError{
		func() *FieldError {
			id, ferr := v.deviceID(c.DeviceID)
			out.DeviceID = id
			return ferr
		},
		func() *FieldError {
			temp, ferr := v.temperature(c.Temperature)
			out.Temperature = temp
			return ferr
		},
		func() *FieldError {
			ts, ferr := v.timestamp(c.Timestamp)
			out.Timestamp = ts
			return ferr
		},
	}

	for _, step := range steps {
		if ferr := step(); ferr != nil {
			fields = append(fields, *ferr)
			if failFast {
				break
			}
		}
	}

	if len(fields) > 0 {
		return mqtmodels.NewReading{}, &ValidationError{Fields: fields}
	}
	return out, nil
}

func (v *Validator) deviceID(raw interface{}) (string, *FieldError) {
	if raw == nil {
		return "", &FieldError{Field: FieldDeviceID, Kind: KindMissingField, Message: MsgDeviceIDRequired}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &FieldError{Field: FieldDeviceID, Kind: KindWrongType, Message: MsgDeviceIDString}
	}
	s = strings.TrimSpace(s)
	if err := v.validate.Var(s, deviceIDRule); err != nil {
		return "", &FieldError{Field: FieldDeviceID, Kind: KindMissingField, Message: MsgDeviceIDRequired}
	}
	return s, nil
}

func (v *Validator) temperature(raw interface{}) (float64, *FieldError) {
	if raw == nil {
		return 0, &FieldError{Field: FieldTemperature, Kind: KindMissingField, Message: MsgTemperatureMissing}
	}
	if s, ok := raw.(string); ok && strings.TrimSpace(s) == "" {
		return 0, &FieldError{Field: FieldTemperature, Kind: KindMissingField, Message: MsgTemperatureMissing}
	}
	f, ok := toFloat(raw)
	if !ok {
		return 0, &FieldError{Field: FieldTemperature, Kind: KindInvalidNumber, Message: MsgTemperatureNumber}
	}
	if err := v.validate.Var(f, temperatureRule); err != nil {
		return 0, &FieldError{Field: FieldTemperature, Kind: KindInvalidNumber, Message: MsgTemperatureNumber}
	}
	return f, nil
}

func (v *Validator) timestamp(raw interface{}) (int64, *FieldError) {
	if raw == nil {
		return v.now().UnixMilli(), nil
	}
	f, ok := toFloat(raw)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &FieldError{Field: FieldTimestamp, Kind: KindInvalidNumber, Message: MsgTimestampNumber}
	}
	if err := v.validate.Var(f, timestampRule); err != nil {
		return 0, &FieldError{Field: FieldTimestamp, Kind: KindInvalidRange, Message: MsgTimestampRange}
	}
	return int64(f), nil
}

// toFloat coerces JSON numbers and numeric strings. Overflowing values are
// rejected here so they never reach the rule pass as infinities.
func toFloat(raw interface{}) (float64, bool) {
	switch n := raw.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
