package types

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Price is the listed price of a result.
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// String returns "amount currency", or "" when no currency is set.
func (p Price) String() string {
	if p.Currency == "" {
		return ""
	}
	return strconv.FormatFloat(p.Amount, 'f', -1, 64) + " " + p.Currency
}

// ResultRecord is a validated fetch result waiting to be claimed.
// Records are values: refreshing a token produces a new record.
type ResultRecord struct {
	// ID is the stable item identifier issued by the trade service.
	ID string `json:"id"`
	// Listener is the search that produced the record.
	Listener ListenerKey `json:"listener"`

	ItemName string `json:"item_name,omitempty"`
	TypeLine string `json:"type_line,omitempty"`
	Price    Price  `json:"price"`
	Seller   string `json:"seller,omitempty"`

	// Token is the opaque bearer credential required by the claim action.
	Token string `json:"-"`
	// TokenIssuedAt is nil when the token carried no issue time.
	TokenIssuedAt *time.Time `json:"token_issued_at,omitempty"`
	// TokenExpiresAt is nil when the token carried no expiry.
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`

	ArrivedAt time.Time `json:"arrived_at"`
}

// DisplayName returns the best available human label.
func (r ResultRecord) DisplayName() string {
	switch {
	case r.ItemName != "" && r.TypeLine != "":
		return r.ItemName + " " + r.TypeLine
	case r.ItemName != "":
		return r.ItemName
	default:
		return r.TypeLine
	}
}

// Expired reports whether the token is past its expiry minus buffer.
// A record whose expiry was never parsed is not considered expired.
func (r ResultRecord) Expired(now time.Time, buffer time.Duration) bool {
	if r.TokenExpiresAt == nil {
		return false
	}
	return !now.Before(r.TokenExpiresAt.Add(-buffer))
}

// WithToken returns a copy of r carrying token and the times decoded from it.
func (r ResultRecord) WithToken(token string) ResultRecord {
	claims := DecodeTokenClaims(token)
	r.Token = token
	r.TokenIssuedAt = claims.IssuedTime()
	r.TokenExpiresAt = claims.ExpiryTime()
	return r
}

// TokenClaims holds the optional time claims of a result token.
type TokenClaims struct {
	IssuedAt  *int64 `json:"iat,omitempty"`
	ExpiresAt *int64 `json:"exp,omitempty"`
}

// DecodeTokenClaims reads the payload segment of a dot-separated token.
// Tokens that are not in that shape, or whose payload is not JSON, yield
// empty claims rather than an error.
func DecodeTokenClaims(token string) TokenClaims {
	var claims TokenClaims

	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return claims
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return claims
	}

	if err := json.Unmarshal(payload, &claims); err != nil {
		return TokenClaims{}
	}
	return claims
}

// IssuedTime returns the issue time, or nil when absent.
func (c TokenClaims) IssuedTime() *time.Time {
	return unixPtr(c.IssuedAt)
}

// ExpiryTime returns the expiry time, or nil when absent.
func (c TokenClaims) ExpiryTime() *time.Time {
	return unixPtr(c.ExpiresAt)
}

func unixPtr(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(*v, 0)
	return &t
}
