// Package confirm implements the two-phase confirmation protocol for
// destructive operations.
//
// A ticket is issued for (tenant, conversation, user, operation, target
// parameters), lives for a fixed TTL, and can be consumed exactly once. Tickets move from
// Issued to Consumed or Expired; both are terminal. Expiry is passive: a
// ticket past its deadline is never consumable, whether or not a sweep has
// removed it yet.
package confirm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/gowebpki/jcs"
)

// DefaultTTL is how long a ticket stays consumable.
const DefaultTTL = 5 * time.Minute

var (
	ErrNotFound        = errors.New("confirmation ticket not found")
	ErrExpired         = errors.New("confirmation ticket expired")
	ErrAlreadyConsumed = errors.New("confirmation ticket already consumed")
)

// Ticket is a snapshot of a confirmation ticket. The store owns the live
// record; callers always receive copies.
type Ticket struct {
	TicketID         string            `json:"ticketId"`
	TenantID         string            `json:"tenantId"`
	ConversationID   string            `json:"conversationId"`
	UserID           string            `json:"userId"`
	OperationName    string            `json:"operationName"`
	TargetParameters map[string]string `json:"targetParameters"`
	IssuedAt         time.Time         `json:"issuedAt"`
	ExpiresAt        time.Time         `json:"expiresAt"`
	Consumed         bool              `json:"consumed"`
}

// Expired reports whether the ticket is past its deadline at now.
func (t Ticket) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t Ticket) clone() Ticket {
	t.TargetParameters = maps.Clone(t.TargetParameters)
	if t.TargetParameters == nil {
		t.TargetParameters = map[string]string{}
	}
	return t
}

// Store issues and consumes tickets. Implementations must make Consume an
// atomic check-and-set: of N concurrent consumes of one live ticket exactly
// one succeeds and the rest get ErrAlreadyConsumed.
type Store interface {
	// RequestConfirmation returns the live ticket for the same
	// (tenant, conversation, user, operation, params) if one exists,
	// otherwise issues a new one.
	RequestConfirmation(ctx context.Context, tenantID, conversationID, userID, operationName string, params map[string]string) (Ticket, error)

	// Consume marks a ticket consumed and returns it.
	Consume(ctx context.Context, ticketID string) (Ticket, error)
}

// ticketKey identifies the request a ticket confirms. Parameters are
// canonicalized with RFC 8785 so map ordering never yields a second ticket.
func ticketKey(tenantID, conversationID, userID, operationName string, params map[string]string) (string, error) {
	if params == nil {
		params = map[string]string{}
	}
	raw, err := json.Marshal(struct {
		Tenant       string            `json:"tenant"`
		Conversation string            `json:"conversation"`
		User         string            `json:"user"`
		Operation    string            `json:"operation"`
		Params       map[string]string `json:"params"`
	}{tenantID, conversationID, userID, operationName, params})
	if err != nil {
		return "", fmt.Errorf("ticket key: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("ticket key canonicalization: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
