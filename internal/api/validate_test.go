package api

import "testing"

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Juan Pérez":         "JUANPEREZ",
		"José O'Neil-García": "JOSEONEILGARCIA",
		"  maría  ":          "MARIA",
		"ÁÉÍÓÚÑ":             "AEIOUN",
		"---":                "",
	}
	for in, want := range cases {
		if got := normalizeName(in); got != want {
			t.Errorf("normalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeExpiry(t *testing.T) {
	cases := map[string]string{
		"203112": "203112",
		"1231":   "203112",
		"12/31":  "203112",
		"12/85":  "198512",
		"0180":   "198001",
	}
	for in, want := range cases {
		if got := normalizeExpiry(in); got != want {
			t.Errorf("normalizeExpiry(%q) = %q, want %q", in, got, want)
		}
	}
	if validExpiry(normalizeExpiry("13/31")) {
		t.Error("month 13 accepted")
	}
}

func TestNormalizeMerchant(t *testing.T) {
	if got := normalizeMerchant("Mi Tienda #1"); got != "MITIENDA1" {
		t.Errorf("normalizeMerchant = %q", got)
	}
	if got := normalizeMerchant("web_store"); got != "WEB_STORE" {
		t.Errorf("normalizeMerchant = %q", got)
	}
}

func TestParseAmount(t *testing.T) {
	valid := []string{"1", "0.01", "100.00", "99999.99"}
	for _, raw := range valid {
		if _, ok := parseAmount(raw); !ok {
			t.Errorf("parseAmount(%q) rejected", raw)
		}
	}
	invalid := []string{"", "0", "0.00", "-1", "1.234", "1,00", "abc", "1e3"}
	for _, raw := range invalid {
		if _, ok := parseAmount(raw); ok {
			t.Errorf("parseAmount(%q) accepted", raw)
		}
	}
}
