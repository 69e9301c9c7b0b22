// Package dispatch implements the credit-gated bulk send engine: batch
// admission against the system pool and the sender's balance, wave-bounded
// fan-out to the gateway, and per-recipient outcome bookkeeping.
package dispatch

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/kilicc/kentsms-sub000/internal/cepsms"
)

var (
	// ErrInsufficientCredit rejects a batch that cannot be fully funded at
	// admission time, by either the sender's balance or the system pool.
	ErrInsufficientCredit = errors.New("insufficient credit for batch")

	// ErrNoValidRecipients rejects a batch in which every recipient failed
	// phone normalization.
	ErrNoValidRecipients = errors.New("no valid recipients")

	// ErrNoGatewayAccount mirrors the gateway directory sentinel for
	// unmapped ordinary senders.
	ErrNoGatewayAccount = cepsms.ErrNoGatewayAccount
)

// charsPerUnit is the message length covered by one credit unit.
const charsPerUnit = 180

// UnitCost returns the credit units charged per recipient for body.
// One unit per 180 characters, minimum one.
func UnitCost(body string) int64 {
	n := utf8.RuneCountInString(body)
	units := (n + charsPerUnit - 1) / charsPerUnit
	if units < 1 {
		units = 1
	}
	return int64(units)
}

// Outcome is the per-recipient result of a dispatch call.
type Outcome struct {
	Phone      string `json:"phone"`
	Normalized string `json:"normalized,omitempty"`
	Success    bool   `json:"success"`
	MessageID  string `json:"messageId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Result aggregates a dispatch call.
type Result struct {
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	TotalCost int64     `json:"totalCost"`
	Results   []Outcome `json:"results"`
}

// Gateway is the slice of the CepSMS client the dispatcher needs.
type Gateway interface {
	Send(ctx context.Context, acct cepsms.Account, numbers []string, message string) (string, error)
}

// Config bounds the fan-out.
type Config struct {
	// ConcurrentLimit caps in-flight sends per wave.
	ConcurrentLimit int
	// WaveDelay is the pause between waves.
	WaveDelay time.Duration
	// SendTimeout bounds each recipient's gateway call.
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConcurrentLimit <= 0 {
		c.ConcurrentLimit = 500
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	return c
}
