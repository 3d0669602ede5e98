package paygate

import (
	"strings"

	"github.com/ttacon/libphonenumber"

	"github.com/hotspotpay/hotspot/internal/pkg/apperror"
)

// NormalizePhone parses raw in the context of region (ISO 3166 alpha-2) and
// returns it in E.164. Numbers that are not valid mobile-capable numbers
// are rejected locally with invalid_phone_number.
func NormalizePhone(raw, region string) (string, error) {
	num, err := parsePhone(raw, region)
	if err != nil {
		return "", err
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

func parsePhone(raw, region string) (*libphonenumber.PhoneNumber, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apperror.Validation(apperror.CodeInvalidPhoneNumber, "phone number is required")
	}
	num, err := libphonenumber.Parse(raw, strings.ToUpper(region))
	if err != nil || !libphonenumber.IsValidNumber(num) {
		return nil, apperror.Validation(apperror.CodeInvalidPhoneNumber, "phone number is not valid")
	}
	switch libphonenumber.GetNumberType(num) {
	case libphonenumber.MOBILE, libphonenumber.FIXED_LINE_OR_MOBILE:
	default:
		return nil, apperror.Validation(apperror.CodeInvalidPhoneNumber, "phone number is not a mobile number")
	}
	return num, nil
}

// msisdn is the international number without the leading "+".
func msisdn(e164, region string) (string, error) {
	normalized, err := NormalizePhone(e164, region)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(normalized, "+"), nil
}

// nationalNumber drops the country code, as Airtel expects.
func nationalNumber(e164, region string) (string, error) {
	num, err := parsePhone(e164, region)
	if err != nil {
		return "", err
	}
	return libphonenumber.GetNationalSignificantNumber(num), nil
}
