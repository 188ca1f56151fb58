// Package payple is the client of the Payple partner API used for seller
// account verification and settlement payouts.
package payple

import "time"

// Result codes reported by Payple on success.
const (
	CodeAuthOK = "T0000"
	CodeOK     = "A0000"
)

// Config holds Payple partner credentials and HTTP timeouts.
type Config struct {
	BaseURL        string        `default:"https://demo-api.payple.kr" usage:"Payple partner API base URL" flag:"payple-base-url"`
	CustID         string        `usage:"Payple partner id (cst_id)" flag:"payple-cust-id"`
	CustKey        string        `usage:"Payple partner key (custKey)" flag:"payple-cust-key"`
	WebhookURL     string        `usage:"Callback URL for asynchronous transfer results" flag:"payple-webhook-url"`
	WebhookToken   string        `usage:"Shared secret expected in transfer result callbacks" flag:"payple-webhook-token"`
	ConnectTimeout time.Duration `default:"5s"  usage:"TCP connect timeout"`
	ReadTimeout    time.Duration `default:"10s" usage:"Response timeout of a single request"`
	// TransferReadTimeout overrides ReadTimeout for transfer execution, which
	// waits on the bank.
	TransferReadTimeout time.Duration `default:"30s" usage:"Response timeout of transfer execution"`
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.TransferReadTimeout <= 0 {
		c.TransferReadTimeout = c.ReadTimeout
	}
	return c
}
