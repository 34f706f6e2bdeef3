// Package sink delivers acquired tokens to their destinations.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/acquire"
)

// Format selects how records are rendered.
type Format string

const (
	// FormatRaw writes the bare access token, one per line.
	FormatRaw Format = "raw"
	// FormatJSON writes one JSON object per line.
	FormatJSON Format = "json"
)

// Record is the delivered view of a token.
type Record struct {
	Tenant      string     `json:"tenant"`
	Platform    string     `json:"platform"`
	ClientID    string     `json:"client_id"`
	TokenType   string     `json:"token_type"`
	AccessToken string     `json:"access_token"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Sink writes a batch of records. Implementations must be safe to call once per run.
type Sink interface {
	Name() string
	Write(ctx context.Context, records []Record) error
}

// Records converts successful outcomes, keeping input order.
func Records(outcomes []acquire.Outcome) []Record {
	var out []Record
	for _, o := range outcomes {
		if !o.OK() {
			continue
		}
		r := Record{
			Tenant:      o.Token.Key.Tenant,
			Platform:    o.Token.Key.Platform,
			ClientID:    o.Token.Key.ClientID,
			TokenType:   o.Token.TokenType,
			AccessToken: o.Token.AccessToken,
		}
		if !o.Token.ExpiresAt.IsZero() {
			exp := o.Token.ExpiresAt.UTC()
			r.ExpiresAt = &exp
		}
		out = append(out, r)
	}
	return out
}

// Encode renders records in format.
func Encode(records []Record, format Format) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatRaw, "":
		for _, r := range records {
			buf.WriteString(r.AccessToken)
			buf.WriteByte('\n')
		}
	case FormatJSON:
		enc := json.NewEncoder(&buf)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	return buf.Bytes(), nil
}
