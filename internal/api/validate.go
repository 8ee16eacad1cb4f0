package api

import (
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/bitvalo34/ccvi-visa-emisor/internal/domain"
)

const maxIdempotencyKeyLen = 255

var (
	amountPattern   = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
	expiryYYYYMM    = regexp.MustCompile(`^\d{6}$`)
	expiryMMYY      = regexp.MustCompile(`^\d{4}$`)
	expiryMMSlashYY = regexp.MustCompile(`^\d{2}/\d{2}$`)
)

// cleanDigits strips everything but ASCII digits.
func cleanDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeName decomposes accents, drops separators and punctuation and
// uppercases, so "José Pérez-O'Neil" and "JOSEPEREZONEIL" compare equal.
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// normalizeMerchant collapses a merchant label to uppercase alphanumerics
// and underscores.
func normalizeMerchant(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// normalizeExpiry accepts YYYYMM, MMYY and MM/YY and returns YYYYMM.
// Two-digit years up to 79 map to 20xx, the rest to 19xx.
func normalizeExpiry(raw string) string {
	s := strings.TrimSpace(raw)
	switch {
	case expiryYYYYMM.MatchString(s):
		return s
	case expiryMMYY.MatchString(s):
		mm, yy := s[:2], s[2:]
		return expandYear(yy) + mm
	case expiryMMSlashYY.MatchString(s):
		mm, yy := s[:2], s[3:]
		return expandYear(yy) + mm
	}
	return s
}

func expandYear(yy string) string {
	if yy <= "79" {
		return "20" + yy
	}
	return "19" + yy
}

func validExpiry(yyyymm string) bool {
	if len(yyyymm) != 6 || cleanDigits(yyyymm) != yyyymm {
		return false
	}
	month := yyyymm[4:]
	return month >= "01" && month <= "12"
}

// authInput is a normalized authorization attempt, ready for the engine.
type authInput struct {
	Card           string
	Name           string
	CVV            string
	Expiry         string
	AmountRaw      string
	Amount         decimal.Decimal
	Merchant       string
	IdempotencyKey string
}

// bodyValues is a flattened scalar view of the request payload, keyed by
// lowercase field name. JSON, XML and query-string inputs all normalize to
// the same shape, so every surface sees identical semantics.
type bodyValues map[string]string

func (v bodyValues) pick(keys ...string) string {
	for _, k := range keys {
		if s, ok := v[k]; ok && s != "" {
			return s
		}
	}
	return ""
}

// xmlScalar collects child elements of any root into bodyValues.
type xmlScalar struct {
	values bodyValues
}

func (x *xmlScalar) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			var text string
			if err := d.DecodeElement(&text, &el); err != nil {
				return err
			}
			x.values[strings.ToLower(el.Name.Local)] = strings.TrimSpace(text)
		case xml.EndElement:
			if el.Name == start.Name {
				return nil
			}
		}
	}
}

// extractValues parses the request payload into bodyValues. GET reads the
// query string; POST reads JSON or XML depending on Content-Type.
func extractValues(r *http.Request) (bodyValues, error) {
	values := bodyValues{}

	if r.Method == http.MethodGet {
		for k, vs := range r.URL.Query() {
			if len(vs) > 0 {
				values[strings.ToLower(k)] = strings.TrimSpace(vs[0])
			}
		}
		return values, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return values, nil
	}

	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if strings.Contains(ct, "xml") {
		scalar := xmlScalar{values: values}
		if err := xml.Unmarshal(body, &scalar); err != nil {
			return nil, err
		}
		return values, nil
	}

	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	raw := map[string]any{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			values[strings.ToLower(k)] = strings.TrimSpace(val)
		case json.Number:
			values[strings.ToLower(k)] = val.String()
		case bool:
			if val {
				values[strings.ToLower(k)] = "true"
			} else {
				values[strings.ToLower(k)] = "false"
			}
		}
	}
	return values, nil
}

// normalizeAuthInput maps the multi-aliased payload to one canonical shape,
// so JSON, XML and the legacy query string all reach the engine identically.
func normalizeAuthInput(r *http.Request, values bodyValues) *authInput {
	in := &authInput{
		Card:      cleanDigits(values.pick("tarjeta", "card")),
		Name:      normalizeName(values.pick("nombre", "name")),
		CVV:       cleanDigits(values.pick("num_seguridad", "cvv")),
		Expiry:    normalizeExpiry(values.pick("fecha_venc", "vencimiento", "exp")),
		AmountRaw: values.pick("monto", "amount"),
		Merchant:  normalizeMerchant(values.pick("tienda", "merchant")),
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		key = strings.TrimSpace(values.pick("idempotencykey", "idempotency_key"))
	}
	if len(key) > maxIdempotencyKeyLen {
		key = key[:maxIdempotencyKeyLen]
	}
	in.IdempotencyKey = key
	return in
}

// validateAuthInput rejects malformed attempts before the engine runs.
func validateAuthInput(in *authInput) []fieldError {
	var errs []fieldError

	if len(in.Card) != 16 || !domain.LuhnValid(in.Card) {
		errs = append(errs, fieldError{Field: "tarjeta", Reason: "INVALID_FORMAT_OR_LUHN"})
	}
	if len(in.Name) < 2 {
		errs = append(errs, fieldError{Field: "nombre", Reason: "EMPTY_AFTER_NORMALIZATION"})
	}
	if !validExpiry(in.Expiry) {
		errs = append(errs, fieldError{Field: "fecha_venc", Reason: "INVALID_FORMAT"})
	}
	if len(in.CVV) != 3 {
		errs = append(errs, fieldError{Field: "cvv", Reason: "INVALID_FORMAT"})
	}
	amount, ok := parseAmount(in.AmountRaw)
	if !ok {
		errs = append(errs, fieldError{Field: "monto", Reason: "INVALID_AMOUNT"})
	} else {
		in.Amount = amount
	}
	return errs
}

// parseAmount accepts a strictly positive decimal with at most two
// fractional digits.
func parseAmount(raw string) (decimal.Decimal, bool) {
	if !amountPattern.MatchString(raw) {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}
