// File: internal/infra/payment/paypal_webhook.go
package payment

import "net/http"

// PayPal sends these five signature headers with every webhook delivery.
var signatureHeaders = []string{
	"Paypal-Transmission-Id",
	"Paypal-Transmission-Time",
	"Paypal-Transmission-Sig",
	"Paypal-Cert-Url",
	"Paypal-Auth-Algo",
}

// CheckWebhookSignatureHeaders verifies that all provider signature headers
// are present, returning the names of any that are missing. This is a
// presence check only; a missing header is logged as a warning and processing
// continues, because webhooks are the fallback confirmation channel behind
// the synchronous capture path and dropping them outright would create gaps.
func CheckWebhookSignatureHeaders(h http.Header) (missing []string) {
	for _, name := range signatureHeaders {
		if h.Get(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
