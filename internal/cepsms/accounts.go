package cepsms

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoGatewayAccount is returned when a sender has no gateway account
// mapping and no fallback applies.
var ErrNoGatewayAccount = errors.New("no gateway account for user")

// defaultFromLabel is the gateway's own placeholder sender name. Accounts
// carrying it have no registered sender ID, so From is omitted on the wire.
const defaultFromLabel = "CepSMS"

// Account holds one set of gateway credentials.
type Account struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// Phone is the account owner's number, used to tie users to accounts.
	Phone string `json:"phone"`
	From  string `json:"from,omitempty"`
}

// WireFrom returns the From value to put on the wire, or empty when the
// account has no registered sender name.
func (a Account) WireFrom() string {
	from := strings.TrimSpace(a.From)
	if from == "" || from == defaultFromLabel {
		return ""
	}
	return from
}

// Directory is a read-only set of gateway accounts keyed by username.
type Directory struct {
	accounts   map[string]Account // lowercase username -> account
	defaultAcc *Account
}

// NewDirectory builds a directory from a static account list plus an
// optional default credential used as the privileged-sender fallback.
func NewDirectory(accounts []Account, defaultAcc *Account) *Directory {
	d := &Directory{accounts: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		if a.Username == "" {
			continue
		}
		d.accounts[strings.ToLower(a.Username)] = a
	}
	if defaultAcc != nil && defaultAcc.Username != "" {
		cp := *defaultAcc
		d.defaultAcc = &cp
	}
	return d
}

// ParseDirectory builds a directory from a JSON array of accounts, the
// CEPSMS_ACCOUNTS env format.
func ParseDirectory(raw string, defaultAcc *Account) (*Directory, error) {
	var accounts []Account
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
			return nil, fmt.Errorf("parse gateway accounts: %w", err)
		}
	}
	return NewDirectory(accounts, defaultAcc), nil
}

// ByUsername finds an account by username, case-insensitive.
func (d *Directory) ByUsername(username string) (Account, bool) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Account{}, false
	}
	a, ok := d.accounts[strings.ToLower(username)]
	return a, ok
}

// Default returns the fallback credential, if configured.
func (d *Directory) Default() (Account, bool) {
	if d.defaultAcc == nil {
		return Account{}, false
	}
	return *d.defaultAcc, true
}

// Len returns the number of mapped accounts, excluding the default.
func (d *Directory) Len() int {
	return len(d.accounts)
}
