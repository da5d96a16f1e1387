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

const reviewsCollection = "reviews"

// ReviewRepository stores product reviews. Documents are keyed by the
// (product, user) pair, so the one-review-per-user invariant holds without a
// separate uniqueness check: a duplicate insert fails with a conflict.
type ReviewRepository struct {
	provider *pfirestore.Provider
	reviews  *pfirestore.BaseRepository[reviewDocument]
}

// NewReviewRepository constructs a Firestore-backed review repository.
func NewReviewRepository(provider *pfirestore.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository requires firestore provider")
	}
	return &ReviewRepository{
		provider: provider,
		reviews:  pfirestore.NewBaseRepository[reviewDocument](provider, reviewsCollection, nil, nil),
	}, nil
}

// ReviewDocID derives the storage key for a (product, user) pair.
func ReviewDocID(productID string, userID string) string {
	return fmt.Sprintf("%s__%s", strings.TrimSpace(productID), strings.TrimSpace(userID))
}

// Insert creates the review. A second review by the same user for the same
// product collides on the document key and returns a conflict error.
func (r *ReviewRepository) Insert(ctx context.Context, review domain.Review) (domain.Review, error) {
	if r == nil || r.reviews == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	if strings.TrimSpace(review.ProductRef) == "" || strings.TrimSpace(review.UserRef) == "" {
		return domain.Review{}, pfirestore.WrapError("reviews.insert", errors.New("product ref and user ref are required"))
	}

	docID := ReviewDocID(review.ProductRef, review.UserRef)
	ref, err := r.reviews.DocumentRef(ctx, docID)
	if err != nil {
		return domain.Review{}, err
	}
	doc := newReviewDocument(review)
	if _, err := ref.Create(ctx, doc); err != nil {
		return domain.Review{}, pfirestore.WrapError("reviews.insert", err)
	}
	return doc.toDomain(docID), nil
}

// Update overwrites an existing review. IsVerified and CreatedAt are carried
// over by the caller; the precondition guards against resurrecting a deleted
// document.
func (r *ReviewRepository) Update(ctx context.Context, review domain.Review) (domain.Review, error) {
	if r == nil || r.reviews == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	docID := strings.TrimSpace(review.ID)
	if docID == "" {
		docID = ReviewDocID(review.ProductRef, review.UserRef)
	}

	ref, err := r.reviews.DocumentRef(ctx, docID)
	if err != nil {
		return domain.Review{}, err
	}
	doc := newReviewDocument(review)
	if _, err := ref.Set(ctx, doc, firestore.Merge()); err != nil {
		return domain.Review{}, pfirestore.WrapError("reviews.update", err)
	}
	return doc.toDomain(docID), nil
}

// Delete removes a review. Deleting a missing review surfaces not found.
func (r *ReviewRepository) Delete(ctx context.Context, reviewID string) error {
	if r == nil || r.reviews == nil {
		return errors.New("review repository not initialised")
	}
	reviewID = strings.TrimSpace(reviewID)
	if reviewID == "" {
		return pfirestore.WrapError("reviews.delete", errors.New("review id is required"))
	}

	ref, err := r.reviews.DocumentRef(ctx, reviewID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("reviews.delete", err)
	}
	return nil
}

// FindByID fetches a review by its document ID.
func (r *ReviewRepository) FindByID(ctx context.Context, reviewID string) (domain.Review, error) {
	if r == nil || r.reviews == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	reviewID = strings.TrimSpace(reviewID)
	if reviewID == "" {
		return domain.Review{}, pfirestore.WrapError("reviews.find", errors.New("review id is required"))
	}

	doc, err := r.reviews.Get(ctx, reviewID)
	if err != nil {
		return domain.Review{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByProductAndUser fetches the single review a user wrote for a product.
func (r *ReviewRepository) FindByProductAndUser(ctx context.Context, productID string, userID string) (domain.Review, error) {
	return r.FindByID(ctx, ReviewDocID(productID, userID))
}

// ListByProduct returns reviews for a product, newest first.
func (r *ReviewRepository) ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Review]{}, errors.New("review repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[domain.Review]{}, pfirestore.WrapError("reviews.list", errors.New("product id is required"))
	}

	pageSize := clampPageSize(pager.PageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Review]{}, pfirestore.WrapError("reviews.list", err)
	}

	query := client.Collection(reviewsCollection).Query.
		Where("productRef", "==", productID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		cursor, err := decodeReviewPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Review]{}, pfirestore.WrapError("reviews.list", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var reviews []domain.Review
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Review]{}, pfirestore.WrapError("reviews.list", err)
		}
		var doc reviewDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Review]{}, fmt.Errorf("decode review %s: %w", snap.Ref.ID, err)
		}
		reviews = append(reviews, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(reviews) > pageSize
	if hasMore {
		reviews = reviews[:pageSize]
	}
	var nextToken string
	if hasMore && len(reviews) > 0 {
		last := reviews[len(reviews)-1]
		encoded, err := encodeReviewPageToken(reviewPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Review]{}, pfirestore.WrapError("reviews.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Review]{
		Items:         reviews,
		NextPageToken: nextToken,
	}, nil
}

// AllRatingsForProduct streams every rating for the product. The aggregator
// recomputes from the full set, so no pagination applies here.
func (r *ReviewRepository) AllRatingsForProduct(ctx context.Context, productID string) ([]int, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("review repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, pfirestore.WrapError("reviews.ratings", errors.New("product id is required"))
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("reviews.ratings", err)
	}

	iter := client.Collection(reviewsCollection).Query.
		Where("productRef", "==", productID).
		Select("rating").
		Documents(ctx)
	defer iter.Stop()

	ratings := make([]int, 0, 16)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("reviews.ratings", err)
		}
		var doc struct {
			Rating int `firestore:"rating"`
		}
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode rating %s: %w", snap.Ref.ID, err)
		}
		ratings = append(ratings, doc.Rating)
	}
	return ratings, nil
}

type reviewDocument struct {
	ProductRef string    `firestore:"productRef"`
	UserRef    string    `firestore:"userRef"`
	UserName   string    `firestore:"userName"`
	Rating     int       `firestore:"rating"`
	Comment    string    `firestore:"comment"`
	Images     []string  `firestore:"images,omitempty"`
	IsVerified bool      `firestore:"isVerified"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func newReviewDocument(review domain.Review) reviewDocument {
	return reviewDocument{
		ProductRef: strings.TrimSpace(review.ProductRef),
		UserRef:    strings.TrimSpace(review.UserRef),
		UserName:   strings.TrimSpace(review.UserName),
		Rating:     review.Rating,
		Comment:    review.Comment,
		Images:     review.Images,
		IsVerified: review.IsVerified,
		CreatedAt:  review.CreatedAt.UTC(),
		UpdatedAt:  review.UpdatedAt.UTC(),
	}
}

func (d reviewDocument) toDomain(id string) domain.Review {
	return domain.Review{
		ID:         id,
		ProductRef: d.ProductRef,
		UserRef:    d.UserRef,
		UserName:   d.UserName,
		Rating:     d.Rating,
		Comment:    d.Comment,
		Images:     d.Images,
		IsVerified: d.IsVerified,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

type reviewPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeReviewPageToken(token reviewPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode review page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeReviewPageToken(encoded string) (reviewPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return reviewPageToken{}, fmt.Errorf("decode review page token: %w", err)
	}
	var token reviewPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return reviewPageToken{}, fmt.Errorf("decode review page token json: %w", err)
	}
	return token, nil
}
