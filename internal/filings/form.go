package filings

import (
	"net/http"
	"strings"
)

// Form item rows are submitted as parallel arrays, one entry per row.
var itemFields = []string{
	"item_item_id[]",
	"item_commodity_desc[]",
	"item_hs_code[]",
	"item_quantity[]",
	"item_unit_code[]",
	"item_unit_price[]",
	"item_line_item_value[]",
	"item_origin_country_code[]",
	"item_net_mass[]",
	"item_gross_mass[]",
}

// PayloadFromForm reads a filing from an HTML form post. Rows left entirely
// blank are skipped so the form can always offer an empty row.
func PayloadFromForm(r *http.Request) (Payload, error) {
	if err := r.ParseForm(); err != nil {
		return Payload{}, err
	}
	form := r.PostForm
	p := Payload{
		ShipmentID:        form.Get("shipment_id"),
		InvoiceNo:         form.Get("invoice_no"),
		InvoiceDate:       form.Get("invoice_date"),
		PortCode:          form.Get("port_code"),
		ExporterGSTIN:     form.Get("exporter_gstin"),
		ImportExportFlag:  form.Get("import_export_flag"),
		TotalInvoiceValue: Amount(form.Get("total_invoice_value")),
		CurrencyCode:      form.Get("currency_code"),
		Status:            form.Get("status"),
		Items:             []ItemPayload{},
	}

	rows := 0
	for _, field := range itemFields {
		if n := len(form[field]); n > rows {
			rows = n
		}
	}
	at := func(field string, i int) string {
		values := form[field]
		if i < len(values) {
			return values[i]
		}
		return ""
	}
	for i := 0; i < rows; i++ {
		blank := true
		for _, field := range itemFields {
			if strings.TrimSpace(at(field, i)) != "" {
				blank = false
				break
			}
		}
		if blank {
			continue
		}
		p.Items = append(p.Items, ItemPayload{
			ItemID:            at("item_item_id[]", i),
			CommodityDesc:     at("item_commodity_desc[]", i),
			HSCode:            at("item_hs_code[]", i),
			Quantity:          Amount(at("item_quantity[]", i)),
			UnitCode:          at("item_unit_code[]", i),
			UnitPrice:         Amount(at("item_unit_price[]", i)),
			LineItemValue:     Amount(at("item_line_item_value[]", i)),
			OriginCountryCode: at("item_origin_country_code[]", i),
			NetMass:           Amount(at("item_net_mass[]", i)),
			GrossMass:         Amount(at("item_gross_mass[]", i)),
		})
	}
	return p, nil
}
