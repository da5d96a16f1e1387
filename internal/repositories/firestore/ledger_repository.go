package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/stonemart/api/internal/domain"
	pfirestore "github.com/stonemart/api/internal/platform/firestore"
)

const ledgerCollection = "inventoryLedger"

// LedgerRepository stores the append-only stock movement history. Entries for
// order placement and cancellation are created inside the order transaction;
// this repository only ever creates, never updates or deletes.
type LedgerRepository struct {
	provider *pfirestore.Provider
	entries  *pfirestore.BaseRepository[ledgerDocument]
}

// NewLedgerRepository constructs a Firestore-backed ledger repository.
func NewLedgerRepository(provider *pfirestore.Provider) (*LedgerRepository, error) {
	if provider == nil {
		return nil, errors.New("ledger repository requires firestore provider")
	}
	entries := pfirestore.NewBaseRepository[ledgerDocument](provider, ledgerCollection, nil, nil)
	return &LedgerRepository{provider: provider, entries: entries}, nil
}

// Append writes a new ledger entry. The write fails when the entry ID already
// exists, which keeps replays from duplicating history.
func (r *LedgerRepository) Append(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	if r == nil || r.entries == nil {
		return domain.LedgerEntry{}, errors.New("ledger repository not initialised")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return domain.LedgerEntry{}, errors.New("ledger append: entry id is required")
	}
	if strings.TrimSpace(entry.ProductRef) == "" {
		return domain.LedgerEntry{}, errors.New("ledger append: product ref is required")
	}

	ref, err := r.entries.DocumentRef(ctx, entry.ID)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	doc := newLedgerDocument(entry)
	if _, err := ref.Create(ctx, doc); err != nil {
		return domain.LedgerEntry{}, pfirestore.WrapError("ledger.append", err)
	}
	return doc.toDomain(entry.ID), nil
}

// ListByProduct returns the movement history for a product, newest first.
func (r *LedgerRepository) ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.LedgerEntry], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.LedgerEntry]{}, errors.New("ledger repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[domain.LedgerEntry]{}, errors.New("ledger list: product id is required")
	}

	pageSize := clampPageSize(pager.PageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.LedgerEntry]{}, pfirestore.WrapError("ledger.list", err)
	}

	query := client.Collection(ledgerCollection).Query.
		Where("productRef", "==", productID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		cursor, err := decodeLedgerPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.LedgerEntry]{}, pfirestore.WrapError("ledger.list", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var entries []domain.LedgerEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.LedgerEntry]{}, pfirestore.WrapError("ledger.list", err)
		}
		var doc ledgerDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.LedgerEntry]{}, fmt.Errorf("decode ledger entry %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(entries) > pageSize
	if hasMore {
		entries = entries[:pageSize]
	}
	var nextToken string
	if hasMore && len(entries) > 0 {
		last := entries[len(entries)-1]
		encoded, err := encodeLedgerPageToken(ledgerPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.LedgerEntry]{}, pfirestore.WrapError("ledger.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.LedgerEntry]{
		Items:         entries,
		NextPageToken: nextToken,
	}, nil
}

// Helper structures ---------------------------------------------------------

type variantSnapshotDocument struct {
	ID    string `firestore:"id"`
	Size  string `firestore:"size,omitempty"`
	Color string `firestore:"color,omitempty"`
	Price int64  `firestore:"price"`
}

func newVariantSnapshotDocument(snapshot *domain.VariantSnapshot) *variantSnapshotDocument {
	if snapshot == nil {
		return nil
	}
	return &variantSnapshotDocument{
		ID:    snapshot.ID,
		Size:  snapshot.Size,
		Color: snapshot.Color,
		Price: snapshot.Price,
	}
}

func (d *variantSnapshotDocument) toDomain() *domain.VariantSnapshot {
	if d == nil {
		return nil
	}
	return &domain.VariantSnapshot{
		ID:    d.ID,
		Size:  d.Size,
		Color: d.Color,
		Price: d.Price,
	}
}

type ledgerDocument struct {
	ProductRef string                   `firestore:"productRef"`
	Variant    *variantSnapshotDocument `firestore:"variant,omitempty"`
	Movement   string                   `firestore:"movement"`
	Quantity   int                      `firestore:"qty"`
	Note       string                   `firestore:"note,omitempty"`
	OrderRef   *string                  `firestore:"orderRef,omitempty"`
	StockAfter int                      `firestore:"stockAfter"`
	CreatedAt  time.Time                `firestore:"createdAt"`
}

func newLedgerDocument(entry domain.LedgerEntry) ledgerDocument {
	return ledgerDocument{
		ProductRef: strings.TrimSpace(entry.ProductRef),
		Variant:    newVariantSnapshotDocument(entry.Variant),
		Movement:   string(entry.Movement),
		Quantity:   entry.Quantity,
		Note:       strings.TrimSpace(entry.Note),
		OrderRef:   entry.OrderRef,
		StockAfter: entry.StockAfter,
		CreatedAt:  entry.CreatedAt.UTC(),
	}
}

func (d ledgerDocument) toDomain(id string) domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:         id,
		ProductRef: d.ProductRef,
		Variant:    d.Variant.toDomain(),
		Movement:   domain.MovementType(d.Movement),
		Quantity:   d.Quantity,
		Note:       d.Note,
		OrderRef:   d.OrderRef,
		StockAfter: d.StockAfter,
		CreatedAt:  d.CreatedAt,
	}
}

type ledgerPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeLedgerPageToken(token ledgerPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode ledger page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeLedgerPageToken(encoded string) (ledgerPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return ledgerPageToken{}, fmt.Errorf("decode ledger page token: %w", err)
	}
	var token ledgerPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return ledgerPageToken{}, fmt.Errorf("decode ledger page token json: %w", err)
	}
	return token, nil
}

func clampPageSize(size int) int {
	if size <= 0 {
		return 50
	}
	if size > 200 {
		return 200
	}
	return size
}
