package inventory

import (
	"fmt"
	"time"
)

type Kind string

const (
	KindReserve Kind = "reserve"
	KindRelease Kind = "release"
	KindDebit   Kind = "debit"
	KindCredit  Kind = "credit"
)

// Operation is one requested ledger change.
type Operation struct {
	Kind       Kind
	ArticleRef string
	Quantity   int
	Reason     string
	OrderID    string
	// IdempotencyKey, when set, makes a repeated operation return the
	// movement recorded the first time instead of applying again.
	IdempotencyKey string
}

// Movement is an append-only ledger record. Delta is the signed change of
// Available; ReservedDelta the signed change of Reserved.
type Movement struct {
	ID                 string    `json:"id"`
	ArticleRef         string    `json:"article_ref"`
	Kind               Kind      `json:"kind"`
	Quantity           int       `json:"quantity"`
	Delta              int       `json:"delta"`
	ReservedDelta      int       `json:"reserved_delta"`
	ResultingAvailable int       `json:"resulting_available"`
	ResultingReserved  int       `json:"resulting_reserved"`
	Reason             string    `json:"reason,omitempty"`
	OrderID            string    `json:"order_id,omitempty"`
	IdempotencyKey     string    `json:"idempotency_key,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// DriftError reports an entry whose quantities disagree with its movement log.
type DriftError struct {
	ArticleRef                 string
	Available, FoldedAvailable int
	Reserved, FoldedReserved   int
	MovementID                 string
}

func (e *DriftError) Error() string {
	if e.MovementID != "" {
		return fmt.Sprintf("inventory: movement %s of %s has a snapshot that disagrees with the fold", e.MovementID, e.ArticleRef)
	}
	return fmt.Sprintf("inventory: drift on %s: available %d vs folded %d, reserved %d vs folded %d",
		e.ArticleRef, e.Available, e.FoldedAvailable, e.Reserved, e.FoldedReserved)
}

// Fold replays movements from zero and checks every snapshot on the way.
// It returns the folded available and reserved quantities.
func Fold(articleRef string, movements []Movement) (available, reserved int, err error) {
	for _, m := range movements {
		available += m.Delta
		reserved += m.ReservedDelta
		if m.ResultingAvailable != available || m.ResultingReserved != reserved {
			return available, reserved, &DriftError{ArticleRef: articleRef, MovementID: m.ID}
		}
	}
	return available, reserved, nil
}

// Verify checks that entry equals the fold of its movements.
func Verify(entry *Entry, movements []Movement) error {
	available, reserved, err := Fold(entry.ArticleRef, movements)
	if err != nil {
		return err
	}
	if available != entry.Available || reserved != entry.Reserved {
		return &DriftError{
			ArticleRef:      entry.ArticleRef,
			Available:       entry.Available,
			FoldedAvailable: available,
			Reserved:        entry.Reserved,
			FoldedReserved:  reserved,
		}
	}
	return nil
}

// Outstanding returns, per order, the quantity still held in reservation:
// reserved minus released minus debited.
func Outstanding(movements []Movement) map[string]map[string]int {
	out := make(map[string]map[string]int)
	for _, m := range movements {
		if m.OrderID == "" {
			continue
		}
		var q int
		switch m.Kind {
		case KindReserve:
			q = m.Quantity
		case KindRelease, KindDebit:
			q = -m.Quantity
		default:
			continue
		}
		byArticle, ok := out[m.OrderID]
		if !ok {
			byArticle = make(map[string]int)
			out[m.OrderID] = byArticle
		}
		byArticle[m.ArticleRef] += q
	}
	for orderID, byArticle := range out {
		for ref, q := range byArticle {
			if q == 0 {
				delete(byArticle, ref)
			}
		}
		if len(byArticle) == 0 {
			delete(out, orderID)
		}
	}
	return out
}
