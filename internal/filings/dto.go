package filings

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/filingdesk/filingdesk/internal/shared"
)

// Amount is a decimal as submitted by a client. JSON numbers and numeric
// strings are both accepted; parsing happens during validation.
type Amount string

// UnmarshalJSON accepts 12.5, "12.5" and null.
func (a *Amount) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("amount must be a number or numeric string")
	}
	*a = Amount(n.String())
	return nil
}

// Payload is the raw create/update request.
type Payload struct {
	ShipmentID        string        `json:"shipment_id" validate:"required"`
	InvoiceNo         string        `json:"invoice_no" validate:"required"`
	InvoiceDate       string        `json:"invoice_date" validate:"required,filingdate"`
	PortCode          string        `json:"port_code" validate:"required"`
	ExporterGSTIN     string        `json:"exporter_gstin" validate:"omitempty,gstin"`
	ImportExportFlag  string        `json:"import_export_flag" validate:"required,oneof=I E"`
	TotalInvoiceValue Amount        `json:"total_invoice_value" validate:"required,positive,decimal=18 2"`
	CurrencyCode      string        `json:"currency_code" validate:"required,len=3"`
	Status            string        `json:"status" validate:"omitempty,oneof=draft submitted error"`
	Items             []ItemPayload `json:"items" validate:"required,min=1,dive"`
}

// ItemPayload is one raw line of a Payload.
type ItemPayload struct {
	ItemID            string `json:"item_id"`
	CommodityDesc     string `json:"commodity_desc" validate:"required"`
	HSCode            string `json:"hs_code" validate:"required"`
	Quantity          Amount `json:"quantity" validate:"required,positive,decimal=18 3"`
	UnitCode          string `json:"unit_code" validate:"required"`
	UnitPrice         Amount `json:"unit_price" validate:"required,positive,decimal=18 4"`
	LineItemValue     Amount `json:"line_item_value" validate:"required,positive,decimal=18 2"`
	OriginCountryCode string `json:"origin_country_code" validate:"required,len=2"`
	NetMass           Amount `json:"net_mass" validate:"omitempty,positive,decimal=18 3"`
	GrossMass         Amount `json:"gross_mass" validate:"omitempty,positive,decimal=18 3"`
}

// Draft is a validated, normalised Payload.
type Draft struct {
	ShipmentID        string
	InvoiceNo         string
	InvoiceDate       time.Time
	PortCode          string
	ExporterGSTIN     string
	ImportExportFlag  string
	TotalInvoiceValue decimal.Decimal
	CurrencyCode      string
	Status            string
	Items             []Item
}

// FilingView is the JSON representation of a filing.
type FilingView struct {
	ID                uuid.UUID       `json:"id"`
	ShipmentID        string          `json:"shipment_id"`
	InvoiceNo         string          `json:"invoice_no"`
	InvoiceDate       string          `json:"invoice_date"`
	PortCode          string          `json:"port_code"`
	ExporterGSTIN     string          `json:"exporter_gstin,omitempty"`
	ImportExportFlag  string          `json:"import_export_flag"`
	TotalInvoiceValue decimal.Decimal `json:"total_invoice_value"`
	CurrencyCode      string          `json:"currency_code"`
	Status            Status          `json:"status"`
	CreatedBy         uuid.UUID       `json:"created_by"`
	CreatedByName     string          `json:"created_by_name,omitempty"`
	CreatedByEmail    string          `json:"created_by_email,omitempty"`
	ItemCount         int             `json:"item_count"`
	ItemsTotal        decimal.Decimal `json:"items_total"`
	TotalMatchesItems bool            `json:"total_matches_items"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Items             []ItemView      `json:"items,omitempty"`
}

// ItemView is the JSON representation of a filing line.
type ItemView struct {
	ID                uuid.UUID        `json:"id"`
	ItemID            string           `json:"item_id,omitempty"`
	CommodityDesc     string           `json:"commodity_desc"`
	HSCode            string           `json:"hs_code"`
	Quantity          decimal.Decimal  `json:"quantity"`
	UnitCode          string           `json:"unit_code"`
	UnitPrice         decimal.Decimal  `json:"unit_price"`
	LineItemValue     decimal.Decimal  `json:"line_item_value"`
	OriginCountryCode string           `json:"origin_country_code"`
	NetMass           *decimal.Decimal `json:"net_mass,omitempty"`
	GrossMass         *decimal.Decimal `json:"gross_mass,omitempty"`
}

// ListResponse is the JSON body of a listing.
type ListResponse struct {
	Filings    []FilingView      `json:"filings"`
	Pagination shared.Pagination `json:"pagination"`
}

// NewFilingView maps a filing to its JSON representation.
func NewFilingView(f *Filing) FilingView {
	count := f.ItemCount
	if len(f.Items) > 0 {
		count = len(f.Items)
	}
	view := FilingView{
		ID:                f.ID,
		ShipmentID:        f.ShipmentID,
		InvoiceNo:         f.InvoiceNo,
		InvoiceDate:       f.InvoiceDate.Format(time.DateOnly),
		PortCode:          f.PortCode,
		ExporterGSTIN:     f.ExporterGSTIN,
		ImportExportFlag:  f.ImportExportFlag,
		TotalInvoiceValue: f.TotalInvoiceValue,
		CurrencyCode:      f.CurrencyCode,
		Status:            f.Status,
		CreatedBy:         f.CreatedBy,
		CreatedByName:     f.CreatedByName,
		CreatedByEmail:    f.CreatedByEmail,
		ItemCount:         count,
		ItemsTotal:        f.ItemsTotal(),
		TotalMatchesItems: f.TotalMatchesItems(),
		CreatedAt:         f.CreatedAt,
		UpdatedAt:         f.UpdatedAt,
	}
	for _, item := range f.Items {
		view.Items = append(view.Items, ItemView{
			ID:                item.ID,
			ItemID:            item.ItemRef,
			CommodityDesc:     item.CommodityDesc,
			HSCode:            item.HSCode,
			Quantity:          item.Quantity,
			UnitCode:          item.UnitCode,
			UnitPrice:         item.UnitPrice,
			LineItemValue:     item.LineItemValue,
			OriginCountryCode: item.OriginCountryCode,
			NetMass:           item.NetMass,
			GrossMass:         item.GrossMass,
		})
	}
	return view
}

// NewListResponse maps a listing to its JSON representation.
func NewListResponse(result ListResult) ListResponse {
	resp := ListResponse{Filings: make([]FilingView, 0, len(result.Filings)), Pagination: result.Pagination}
	for i := range result.Filings {
		resp.Filings = append(resp.Filings, NewFilingView(&result.Filings[i]))
	}
	return resp
}

// PayloadFromFiling converts a stored filing back into an editable payload.
func PayloadFromFiling(f *Filing) Payload {
	p := Payload{
		ShipmentID:        f.ShipmentID,
		InvoiceNo:         f.InvoiceNo,
		InvoiceDate:       f.InvoiceDate.Format(time.DateOnly),
		PortCode:          f.PortCode,
		ExporterGSTIN:     f.ExporterGSTIN,
		ImportExportFlag:  f.ImportExportFlag,
		TotalInvoiceValue: Amount(f.TotalInvoiceValue.String()),
		CurrencyCode:      f.CurrencyCode,
		Status:            string(f.Status),
	}
	for _, item := range f.Items {
		ip := ItemPayload{
			ItemID:            item.ItemRef,
			CommodityDesc:     item.CommodityDesc,
			HSCode:            item.HSCode,
			Quantity:          Amount(item.Quantity.String()),
			UnitCode:          item.UnitCode,
			UnitPrice:         Amount(item.UnitPrice.String()),
			LineItemValue:     Amount(item.LineItemValue.String()),
			OriginCountryCode: item.OriginCountryCode,
		}
		if item.NetMass != nil {
			ip.NetMass = Amount(item.NetMass.String())
		}
		if item.GrossMass != nil {
			ip.GrossMass = Amount(item.GrossMass.String())
		}
		p.Items = append(p.Items, ip)
	}
	return p
}
