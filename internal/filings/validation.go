package filings

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/filingdesk/filingdesk/internal/shared"
)

const (
	// maxAmountLength bounds the raw text of an amount before it is parsed.
	maxAmountLength = 40
	// maxFractionDigits bounds the exponent of fractional amounts so that
	// trailing-zero checks stay cheap.
	maxFractionDigits = 32
)

var filingMessages = map[string]string{
	"positive":   "must be a positive number",
	"filingdate": "must be a date in YYYY-MM-DD format",
}

// Validator turns raw payloads into drafts. It never touches storage.
type Validator struct {
	validate *validator.Validate
}

// NewValidator registers the filing-specific tags on a shared validator.
func NewValidator() *Validator {
	v := shared.NewValidator()
	_ = v.RegisterValidation("positive", func(fl validator.FieldLevel) bool {
		raw := strings.TrimSpace(fl.Field().String())
		if len(raw) > maxAmountLength {
			return false
		}
		d, err := decimal.NewFromString(raw)
		return err == nil && d.IsPositive()
	})
	_ = v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
		return fitsNumeric(fl.Field().String(), fl.Param())
	})
	_ = v.RegisterValidation("filingdate", func(fl validator.FieldLevel) bool {
		_, err := parseDate(fl.Field().String())
		return err == nil
	})
	return &Validator{validate: v}
}

// Validate normalises p and checks every rule, reporting all violations at
// once as a *shared.ValidationError.
func (v *Validator) Validate(p Payload) (Draft, error) {
	p = normalizePayload(p)

	verr := shared.NewValidationError()
	if err := shared.CollectValidation(v.validate.Struct(p), verr, filingMessages); err != nil {
		return Draft{}, err
	}
	if err := verr.OrNil(); err != nil {
		return Draft{}, err
	}

	date, _ := parseDate(p.InvoiceDate)
	draft := Draft{
		ShipmentID:        p.ShipmentID,
		InvoiceNo:         p.InvoiceNo,
		InvoiceDate:       date,
		PortCode:          p.PortCode,
		ExporterGSTIN:     p.ExporterGSTIN,
		ImportExportFlag:  p.ImportExportFlag,
		TotalInvoiceValue: mustDecimal(p.TotalInvoiceValue),
		CurrencyCode:      p.CurrencyCode,
		Status:            p.Status,
		Items:             make([]Item, 0, len(p.Items)),
	}
	for i, ip := range p.Items {
		draft.Items = append(draft.Items, Item{
			ItemRef:           ip.ItemID,
			CommodityDesc:     ip.CommodityDesc,
			HSCode:            ip.HSCode,
			Quantity:          mustDecimal(ip.Quantity),
			UnitCode:          ip.UnitCode,
			UnitPrice:         mustDecimal(ip.UnitPrice),
			LineItemValue:     mustDecimal(ip.LineItemValue),
			OriginCountryCode: ip.OriginCountryCode,
			NetMass:           optionalDecimal(ip.NetMass),
			GrossMass:         optionalDecimal(ip.GrossMass),
			LineOrder:         i,
		})
	}
	return draft, nil
}

// fitsNumeric reports whether raw is storable in a NUMERIC(precision, scale)
// column without rounding. param is "precision scale". Exponents are checked
// before any arithmetic so inputs like 1e50000000 never expand.
func fitsNumeric(raw, param string) bool {
	precision, scale, ok := numericParams(param)
	if !ok {
		return false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxAmountLength {
		return false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return false
	}
	integerDigits := int32(precision - scale)
	exp := d.Exponent()
	if exp > integerDigits || exp < -maxFractionDigits {
		return false
	}
	if !d.Equal(d.Truncate(int32(scale))) {
		return false
	}
	return d.Abs().LessThan(decimal.New(1, integerDigits))
}

func numericParams(param string) (int, int, bool) {
	fields := strings.Fields(param)
	if len(fields) != 2 {
		return 0, 0, false
	}
	precision, err1 := strconv.Atoi(fields[0])
	scale, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil || scale < 0 || precision <= scale {
		return 0, 0, false
	}
	return precision, scale, true
}

func normalizePayload(p Payload) Payload {
	p.ShipmentID = strings.TrimSpace(p.ShipmentID)
	p.InvoiceNo = strings.TrimSpace(p.InvoiceNo)
	p.InvoiceDate = strings.TrimSpace(p.InvoiceDate)
	p.PortCode = strings.ToUpper(strings.TrimSpace(p.PortCode))
	p.ExporterGSTIN = strings.ToUpper(strings.TrimSpace(p.ExporterGSTIN))
	p.ImportExportFlag = strings.ToUpper(strings.TrimSpace(p.ImportExportFlag))
	p.TotalInvoiceValue = Amount(strings.TrimSpace(string(p.TotalInvoiceValue)))
	p.CurrencyCode = strings.ToUpper(strings.TrimSpace(p.CurrencyCode))
	p.Status = strings.ToLower(strings.TrimSpace(p.Status))
	items := make([]ItemPayload, len(p.Items))
	for i, ip := range p.Items {
		items[i] = ItemPayload{
			ItemID:            strings.TrimSpace(ip.ItemID),
			CommodityDesc:     strings.TrimSpace(ip.CommodityDesc),
			HSCode:            strings.TrimSpace(ip.HSCode),
			Quantity:          Amount(strings.TrimSpace(string(ip.Quantity))),
			UnitCode:          strings.ToUpper(strings.TrimSpace(ip.UnitCode)),
			UnitPrice:         Amount(strings.TrimSpace(string(ip.UnitPrice))),
			LineItemValue:     Amount(strings.TrimSpace(string(ip.LineItemValue))),
			OriginCountryCode: strings.ToUpper(strings.TrimSpace(ip.OriginCountryCode)),
			NetMass:           Amount(strings.TrimSpace(string(ip.NetMass))),
			GrossMass:         Amount(strings.TrimSpace(string(ip.GrossMass))),
		}
	}
	if p.Items != nil {
		p.Items = items
	}
	return p
}

// parseDate accepts YYYY-MM-DD or an RFC 3339 timestamp and keeps the
// calendar date.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

func mustDecimal(a Amount) decimal.Decimal {
	d, err := decimal.NewFromString(string(a))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func optionalDecimal(a Amount) *decimal.Decimal {
	if a == "" {
		return nil
	}
	d := mustDecimal(a)
	return &d
}
