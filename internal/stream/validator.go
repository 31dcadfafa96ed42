package stream

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Validator structurally checks inbound update frames before dispatch.
// A frame that is not an object-of-objects is rejected as a whole; an
// individual entry failing range checks is dropped while its siblings
// still pass (partial acceptance).
type Validator struct {
	maxPrice         decimal.Decimal
	maxChangePercent decimal.Decimal
	logger           *zap.Logger
	metrics          Metrics
}

func NewValidator(maxPrice decimal.Decimal, logger *zap.Logger, metrics Metrics) *Validator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Validator{
		maxPrice:         maxPrice,
		maxChangePercent: decimal.NewFromInt(100),
		logger:           logger,
		metrics:          metrics,
	}
}

// Validate parses the raw payload of an update frame. The payload must be
// an object carrying a "data" object of per-key quotes. The returned
// Update contains only in-range entries; it may be empty.
func (v *Validator) Validate(raw []byte) (Update, error) {
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, &ValidationError{Reason: "frame payload is not an object"}
	}

	body := root.Get("data")
	if !body.IsObject() {
		return nil, &ValidationError{Field: "data", Reason: "missing or not an object"}
	}

	update := make(Update)
	body.ForEach(func(key, value gjson.Result) bool {
		quote, err := v.parseQuote(value)
		if err != nil {
			v.logger.Debug("dropping payload entry",
				zap.String("key", key.String()),
				zap.Error(err))
			v.metrics.FieldDropped()
			return true
		}
		update[key.String()] = quote
		return true
	})

	return update, nil
}

func (v *Validator) parseQuote(value gjson.Result) (Quote, error) {
	if !value.IsObject() {
		return Quote{}, &ValidationError{Reason: "entry is not an object"}
	}

	price, err := v.parseNumber(value.Get("price"), "price")
	if err != nil {
		return Quote{}, err
	}
	if price.Sign() <= 0 || price.GreaterThanOrEqual(v.maxPrice) {
		return Quote{}, &ValidationError{Field: "price", Reason: "out of range"}
	}

	change, err := v.parseNumber(value.Get("changePercent"), "changePercent")
	if err != nil {
		return Quote{}, err
	}
	if change.Abs().GreaterThan(v.maxChangePercent) {
		return Quote{}, &ValidationError{Field: "changePercent", Reason: "out of range"}
	}

	quote := Quote{Price: price, ChangePercent: change}

	if prev := value.Get("previousPrice"); prev.Exists() {
		p, err := v.parseNumber(prev, "previousPrice")
		if err != nil {
			return Quote{}, err
		}
		if p.Sign() < 0 {
			return Quote{}, &ValidationError{Field: "previousPrice", Reason: "negative"}
		}
		quote.PreviousPrice = &p
	}

	return quote, nil
}

// parseNumber accepts only JSON numbers, which rules out NaN and
// infinities at the syntax level.
func (v *Validator) parseNumber(res gjson.Result, field string) (decimal.Decimal, error) {
	if res.Type != gjson.Number {
		return decimal.Decimal{}, &ValidationError{Field: field, Reason: "not a number"}
	}
	d, err := decimal.NewFromString(res.Raw)
	if err != nil {
		return decimal.Decimal{}, &ValidationError{Field: field, Reason: "unparseable number"}
	}
	return d, nil
}
