package checkout

import (
	"regexp"
	"strings"

	"github.com/fjod/storefront/internal/domain"
)

var (
	postalCodeRe = regexp.MustCompile(`^[0-9]{6}$`)
	phoneRe      = regexp.MustCompile(`^[0-9]{10}$`)
	upiRe        = regexp.MustCompile(`^[A-Za-z0-9._-]{2,256}@[A-Za-z][A-Za-z0-9]{1,63}$`)
	cardRe       = regexp.MustCompile(`^[0-9]{16}$`)
	expiryRe     = regexp.MustCompile(`^(0[1-9]|1[0-2])/[0-9]{2}$`)
	cvcRe        = regexp.MustCompile(`^[0-9]{3}$`)
)

// validateAddress records every violation in v. Checks are syntactic only.
func validateAddress(a domain.Address, v *domain.ValidationError) {
	required := []struct{ field, value string }{
		{"address.full_name", a.FullName},
		{"address.line1", a.Line1},
		{"address.city", a.City},
		{"address.state", a.State},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			v.Add(r.field, "is required")
		}
	}
	if !postalCodeRe.MatchString(strings.TrimSpace(a.PostalCode)) {
		v.Add("address.postal_code", "must be 6 digits")
	}
	if !phoneRe.MatchString(strings.TrimSpace(a.Phone)) {
		v.Add("address.phone", "must be 10 digits")
	}
}

func validatePayment(p domain.PaymentInput, v *domain.ValidationError) {
	switch p.Kind {
	case domain.PaymentCOD:
	case domain.PaymentUPI:
		if !upiRe.MatchString(strings.TrimSpace(p.UPIID)) {
			v.Add("payment.upi_id", "must look like name@handle")
		}
	case domain.PaymentCard:
		if !cardRe.MatchString(normalizeCardNumber(p.CardNumber)) {
			v.Add("payment.card_number", "must be 16 digits")
		}
		if !expiryRe.MatchString(strings.TrimSpace(p.CardExpiry)) {
			v.Add("payment.card_expiry", "must be MM/YY")
		}
		if !cvcRe.MatchString(strings.TrimSpace(p.CardCVC)) {
			v.Add("payment.card_cvc", "must be 3 digits")
		}
	default:
		v.Add("payment.kind", "must be one of COD, UPI, CARD")
	}
}

func normalizeCardNumber(n string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(n)
}

// maskPayment reduces validated input to what an order may keep.
func maskPayment(p domain.PaymentInput) domain.PaymentMethod {
	m := domain.PaymentMethod{Kind: p.Kind}
	switch p.Kind {
	case domain.PaymentUPI:
		m.UPIID = strings.TrimSpace(p.UPIID)
	case domain.PaymentCard:
		n := normalizeCardNumber(p.CardNumber)
		m.CardLast4 = n[len(n)-4:]
		m.CardExpiry = strings.TrimSpace(p.CardExpiry)
		m.CardHolder = strings.TrimSpace(p.CardHolder)
	}
	return m
}
