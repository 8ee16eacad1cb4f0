package domain

import "testing"

func TestLuhnValid(t *testing.T) {
	valid := []string{
		"4111111111111111",
		"4012888888881881",
		"5555555555554444",
	}
	for _, pan := range valid {
		if !LuhnValid(pan) {
			t.Errorf("LuhnValid(%s) = false, want true", pan)
		}
	}

	invalid := []string{
		"4111111111111112",
		"1234567890123456",
		"",
		"411111111111111a",
	}
	for _, pan := range invalid {
		if LuhnValid(pan) {
			t.Errorf("LuhnValid(%s) = true, want false", pan)
		}
	}
}

func TestLuhnCheckDigit(t *testing.T) {
	cases := map[string]byte{
		"411111111111111": '1',
		"401288888888188": '1',
	}
	for prefix, want := range cases {
		if got := LuhnCheckDigit(prefix); got != want {
			t.Errorf("LuhnCheckDigit(%s) = %c, want %c", prefix, got, want)
		}
		if !LuhnValid(prefix + string(LuhnCheckDigit(prefix))) {
			t.Errorf("prefix %s with its check digit fails validation", prefix)
		}
	}
}

func TestMaskPAN(t *testing.T) {
	if got := MaskPAN("4111111111111111"); got != "****-****-****-1111" {
		t.Errorf("MaskPAN = %q", got)
	}
	if got := MaskPAN("1881"); got != "****-****-****-1881" {
		t.Errorf("MaskPAN short = %q", got)
	}
}
