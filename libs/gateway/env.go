package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ItsMoloy/Android-250/libs/config"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// FromEnv builds the client selected by GATEWAY_PROVIDER: bkash or stripe
// call the provider directly, proxy goes through a payment-proxy.
// Credentials are read once; rotating them requires a restart.
func FromEnv() (Client, error) {
	timeout, err := config.Duration("GATEWAY_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}

	switch provider := strings.ToLower(config.String("GATEWAY_PROVIDER", "bkash")); provider {
	case "bkash":
		return NewCheckoutClient(CheckoutConfig{
			BaseURL: config.String("GATEWAY_BASE_URL", ""),
			Credentials: Credentials{
				Username:  config.String("GATEWAY_USERNAME", ""),
				Password:  config.String("GATEWAY_PASSWORD", ""),
				AppKey:    config.String("GATEWAY_APP_KEY", ""),
				AppSecret: config.String("GATEWAY_APP_SECRET", ""),
			},
			Currency:   config.String("GATEWAY_CURRENCY", "BDT"),
			HTTPClient: hc,
		})
	case "stripe":
		return NewStripeClient(StripeConfig{
			SecretKey:  config.String("STRIPE_SECRET_KEY", ""),
			APIURL:     config.String("STRIPE_API_URL", ""),
			Currency:   config.String("GATEWAY_CURRENCY", "bdt"),
			HTTPClient: hc,
		})
	case "proxy":
		return NewProxyClient(ProxyConfig{
			BaseURL:    config.String("PAYMENT_PROXY_URL", ""),
			HTTPClient: hc,
		})
	default:
		return nil, fmt.Errorf("unknown GATEWAY_PROVIDER %q", provider)
	}
}
