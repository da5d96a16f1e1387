package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/stonemart/api/internal/domain"
)

func newTestReviewService(t *testing.T, reviews *stubReviewRepo, orders *stubOrderRepo, products *stubProductRepo, events EventPublisher, now time.Time) ReviewService {
	t.Helper()
	svc, err := NewReviewService(ReviewServiceDeps{
		Reviews:  reviews,
		Orders:   orders,
		Products: products,
		Policy:   ReviewPolicy{MaxImages: 3, MaxCommentRunes: 100},
		Clock:    func() time.Time { return now },
		Events:   events,
	})
	if err != nil {
		t.Fatalf("new review service: %v", err)
	}
	return svc
}

func activeProductRepo() *stubProductRepo {
	return &stubProductRepo{
		findFn: func(_ context.Context, _ string) (domain.Product, error) {
			return graniteSlab(), nil
		},
	}
}

func TestReviewServiceCreateRequiresDeliveredPurchase(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepo{
		hasDeliveredFn: func(_ context.Context, userID string, productID string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestReviewService(t, &stubReviewRepo{}, orders, activeProductRepo(), nil, time.Now())

	_, err := svc.Create(ctx, CreateReviewCommand{
		ProductID: "prd-granite",
		Rating:    5,
		Comment:   "solid",
		Requester: Requester{UserID: "user-1"},
	})
	if !errors.Is(err, ErrReviewNotEligible) {
		t.Fatalf("expected purchase gate rejection, got %v", err)
	}
}

func TestReviewServiceCreateSanitizesAndAggregates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 20, 16, 0, 0, 0, time.UTC)
	events := &captureEvents{}

	var inserted domain.Review
	reviews := &stubReviewRepo{
		insertFn: func(_ context.Context, review domain.Review) (domain.Review, error) {
			inserted = review
			review.ID = "prd-granite__user-1"
			return review, nil
		},
		ratingsFn: func(_ context.Context, productID string) ([]int, error) {
			return []int{5, 4, 3}, nil
		},
	}
	orders := &stubOrderRepo{
		hasDeliveredFn: func(_ context.Context, userID string, productID string) (bool, error) {
			if userID != "user-1" || productID != "prd-granite" {
				t.Fatalf("unexpected purchase check %s/%s", userID, productID)
			}
			return true, nil
		},
	}
	var summary domain.RatingSummary
	products := activeProductRepo()
	products.updateRatingFn = func(_ context.Context, productID string, s domain.RatingSummary, updatedAt time.Time) error {
		if productID != "prd-granite" {
			t.Fatalf("unexpected product %s", productID)
		}
		if !updatedAt.Equal(now) {
			t.Fatalf("expected fixed clock, got %v", updatedAt)
		}
		summary = s
		return nil
	}

	svc := newTestReviewService(t, reviews, orders, products, events, now)

	review, err := svc.Create(ctx, CreateReviewCommand{
		ProductID: "prd-granite",
		Rating:    5,
		Comment:   `Great slab <script>alert("x")</script> would buy again`,
		Requester: Requester{UserID: "user-1", Name: "Dana Mason"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if strings.Contains(inserted.Comment, "<script>") || strings.Contains(inserted.Comment, "alert") {
		t.Fatalf("comment not sanitized: %q", inserted.Comment)
	}
	if !strings.Contains(inserted.Comment, "Great slab") {
		t.Fatalf("sanitizer stripped legitimate text: %q", inserted.Comment)
	}
	if inserted.IsVerified {
		t.Fatal("new reviews start unverified until staff flip the badge")
	}
	if inserted.UserName != "Dana Mason" {
		t.Fatalf("user name not snapshotted: %q", inserted.UserName)
	}
	if review.ID != "prd-granite__user-1" {
		t.Fatalf("unexpected review id %s", review.ID)
	}

	if summary.NumReviews != 3 || summary.Rating != 4 {
		t.Fatalf("aggregate not recomputed from all ratings: %+v", summary)
	}

	if len(events.catalog) != 1 || events.catalog[0].Type != "review.created" {
		t.Fatalf("expected review.created event, got %+v", events.catalog)
	}
}

func TestReviewServiceCreateDuplicateConflicts(t *testing.T) {
	ctx := context.Background()
	reviews := &stubReviewRepo{
		insertFn: func(_ context.Context, _ domain.Review) (domain.Review, error) {
			return domain.Review{}, &fakeRepoError{conflict: true}
		},
	}
	orders := &stubOrderRepo{
		hasDeliveredFn: func(_ context.Context, _, _ string) (bool, error) { return true, nil },
	}
	svc := newTestReviewService(t, reviews, orders, activeProductRepo(), nil, time.Now())

	_, err := svc.Create(ctx, CreateReviewCommand{
		ProductID: "prd-granite",
		Rating:    4,
		Comment:   "second attempt",
		Requester: Requester{UserID: "user-1"},
	})
	if !errors.Is(err, ErrReviewConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestReviewServiceCreateValidatesContent(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepo{
		hasDeliveredFn: func(_ context.Context, _, _ string) (bool, error) { return true, nil },
	}
	svc := newTestReviewService(t, &stubReviewRepo{}, orders, activeProductRepo(), nil, time.Now())

	if _, err := svc.Create(ctx, CreateReviewCommand{
		ProductID: "prd-granite",
		Rating:    0,
		Requester: Requester{UserID: "user-1"},
	}); !errors.Is(err, ErrReviewInvalidInput) {
		t.Fatalf("expected rating bound rejection, got %v", err)
	}

	if _, err := svc.Create(ctx, CreateReviewCommand{
		ProductID: "prd-granite",
		Rating:    6,
		Requester: Requester{UserID: "user-1"},
	}); !errors.Is(err, ErrReviewInvalidInput) {
		t.Fatalf("expected rating bound rejection, got %v", err)
	}

	if _, err := svc.Create(ctx, CreateReviewCommand{
		ProductID: "prd-granite",
		Rating:    4,
		Comment:   strings.Repeat("x", 101),
		Requester: Requester{UserID: "user-1"},
	}); !errors.Is(err, ErrReviewInvalidInput) {
		t.Fatalf("expected comment length rejection, got %v", err)
	}

	if _, err := svc.Create(ctx, CreateReviewCommand{
		ProductID: "prd-granite",
		Rating:    4,
		Images:    []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"},
		Requester: Requester{UserID: "user-1"},
	}); !errors.Is(err, ErrReviewInvalidInput) {
		t.Fatalf("expected image count rejection, got %v", err)
	}

	if _, err := svc.Create(ctx, CreateReviewCommand{
		ProductID: "prd-granite",
		Rating:    4,
		Comment:   "   ",
		Requester: Requester{UserID: "user-1"},
	}); !errors.Is(err, ErrReviewInvalidInput) {
		t.Fatalf("expected blank comment rejection, got %v", err)
	}

	// HTML-only comments sanitize down to nothing and count as missing.
	if _, err := svc.Create(ctx, CreateReviewCommand{
		ProductID: "prd-granite",
		Rating:    4,
		Comment:   "<b></b>",
		Requester: Requester{UserID: "user-1"},
	}); !errors.Is(err, ErrReviewInvalidInput) {
		t.Fatalf("expected empty-after-sanitize rejection, got %v", err)
	}

	if _, err := svc.Create(ctx, CreateReviewCommand{
		ProductID: "prd-granite",
		Rating:    1,
		Comment:   "this damn slab cracked",
		Requester: Requester{UserID: "user-1"},
	}); !errors.Is(err, ErrReviewInvalidInput) {
		t.Fatalf("expected profanity rejection, got %v", err)
	}

	// Whole-word matching: words that merely contain a blocked term pass.
	orders2 := &stubOrderRepo{
		hasDeliveredFn: func(_ context.Context, _, _ string) (bool, error) { return true, nil },
	}
	clean := newTestReviewService(t, &stubReviewRepo{}, orders2, activeProductRepo(), nil, time.Now())
	if _, err := clean.Create(ctx, CreateReviewCommand{
		ProductID: "prd-granite",
		Rating:    5,
		Comment:   "first class assessment of the stone",
		Requester: Requester{UserID: "user-1"},
	}); err != nil {
		t.Fatalf("clean comment rejected: %v", err)
	}
}

func TestReviewServiceUpdateRecomputesRating(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 21, 10, 0, 0, 0, time.UTC)

	existing := domain.Review{
		ID:         "prd-granite__user-1",
		ProductRef: "prd-granite",
		UserRef:    "user-1",
		Rating:     2,
		Comment:    "cracked on arrival",
		IsVerified: true,
		CreatedAt:  now.Add(-48 * time.Hour),
		UpdatedAt:  now.Add(-48 * time.Hour),
	}

	var updated domain.Review
	reviews := &stubReviewRepo{
		findByPairFn: func(_ context.Context, productID string, userID string) (domain.Review, error) {
			return existing, nil
		},
		updateFn: func(_ context.Context, review domain.Review) (domain.Review, error) {
			updated = review
			return review, nil
		},
		ratingsFn: func(_ context.Context, _ string) ([]int, error) {
			return []int{5}, nil
		},
	}
	recomputed := false
	products := activeProductRepo()
	products.updateRatingFn = func(_ context.Context, _ string, s domain.RatingSummary, _ time.Time) error {
		recomputed = true
		if s.Rating != 5 || s.NumReviews != 1 {
			t.Fatalf("unexpected summary %+v", s)
		}
		return nil
	}

	svc := newTestReviewService(t, reviews, &stubOrderRepo{}, products, nil, now)

	rating := 5
	comment := "replacement was flawless"
	review, err := svc.Update(ctx, UpdateReviewCommand{
		ProductID: "prd-granite",
		Rating:    &rating,
		Comment:   &comment,
		Requester: Requester{UserID: "user-1"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if review.Rating != 5 || review.Comment != "replacement was flawless" {
		t.Fatalf("fields not applied: %+v", review)
	}
	if !updated.CreatedAt.Equal(existing.CreatedAt) {
		t.Fatal("update must preserve the original creation time")
	}
	if !updated.UpdatedAt.Equal(now) {
		t.Fatalf("expected updated timestamp %v, got %v", now, updated.UpdatedAt)
	}
	if !recomputed {
		t.Fatal("rating aggregate must be recomputed after update")
	}
}

func TestReviewServiceUpdateMissingReview(t *testing.T) {
	ctx := context.Background()
	reviews := &stubReviewRepo{
		findByPairFn: func(_ context.Context, _, _ string) (domain.Review, error) {
			return domain.Review{}, &fakeRepoError{notFound: true}
		},
	}
	svc := newTestReviewService(t, reviews, &stubOrderRepo{}, activeProductRepo(), nil, time.Now())

	rating := 4
	_, err := svc.Update(ctx, UpdateReviewCommand{
		ProductID: "prd-granite",
		Rating:    &rating,
		Requester: Requester{UserID: "user-1"},
	})
	if !errors.Is(err, ErrReviewNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReviewServiceDeleteOwnershipRules(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 22, 9, 0, 0, 0, time.UTC)

	newRepo := func(deleted *string) *stubReviewRepo {
		return &stubReviewRepo{
			findByPairFn: func(_ context.Context, productID string, userID string) (domain.Review, error) {
				return domain.Review{ID: productID + "__" + userID, ProductRef: productID, UserRef: userID}, nil
			},
			deleteFn: func(_ context.Context, reviewID string) error {
				*deleted = reviewID
				return nil
			},
			ratingsFn: func(_ context.Context, _ string) ([]int, error) { return nil, nil },
		}
	}

	t.Run("author deletes own review", func(t *testing.T) {
		var deleted string
		var summary domain.RatingSummary
		products := activeProductRepo()
		products.updateRatingFn = func(_ context.Context, _ string, s domain.RatingSummary, _ time.Time) error {
			summary = s
			return nil
		}
		svc := newTestReviewService(t, newRepo(&deleted), &stubOrderRepo{}, products, nil, now)

		if err := svc.Delete(ctx, DeleteReviewCommand{
			ProductID: "prd-granite",
			Requester: Requester{UserID: "user-1"},
		}); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if deleted != "prd-granite__user-1" {
			t.Fatalf("unexpected deleted id %s", deleted)
		}
		if summary.NumReviews != 0 || summary.Rating != 0 {
			t.Fatalf("aggregate must reset when no reviews remain: %+v", summary)
		}
	})

	t.Run("staff deletes another user's review", func(t *testing.T) {
		var deleted string
		svc := newTestReviewService(t, newRepo(&deleted), &stubOrderRepo{}, activeProductRepo(), nil, now)

		if err := svc.Delete(ctx, DeleteReviewCommand{
			ProductID: "prd-granite",
			UserID:    "user-1",
			Requester: Requester{UserID: "staff-1", Staff: true},
		}); err != nil {
			t.Fatalf("staff delete: %v", err)
		}
		if deleted != "prd-granite__user-1" {
			t.Fatalf("unexpected deleted id %s", deleted)
		}
	})

	t.Run("non-staff cannot delete another user's review", func(t *testing.T) {
		var deleted string
		svc := newTestReviewService(t, newRepo(&deleted), &stubOrderRepo{}, activeProductRepo(), nil, now)

		err := svc.Delete(ctx, DeleteReviewCommand{
			ProductID: "prd-granite",
			UserID:    "user-1",
			Requester: Requester{UserID: "user-2"},
		})
		if !errors.Is(err, ErrReviewForbidden) {
			t.Fatalf("expected forbidden, got %v", err)
		}
		if deleted != "" {
			t.Fatal("review must not be deleted")
		}
	})
}

func TestReviewServiceListByProduct(t *testing.T) {
	ctx := context.Background()
	reviews := &stubReviewRepo{
		listFn: func(_ context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
			if productID != "prd-granite" {
				t.Fatalf("unexpected product %s", productID)
			}
			return domain.CursorPage[domain.Review]{
				Items: []domain.Review{{ID: "prd-granite__user-1", Rating: 5}},
			}, nil
		},
	}
	svc := newTestReviewService(t, reviews, &stubOrderRepo{}, activeProductRepo(), nil, time.Now())

	page, err := svc.ListByProduct(ctx, "prd-granite", Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestReviewServiceSetVerified(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 23, 11, 0, 0, 0, time.UTC)

	newRepo := func(verified bool, updated *domain.Review) *stubReviewRepo {
		return &stubReviewRepo{
			findByPairFn: func(_ context.Context, productID string, userID string) (domain.Review, error) {
				return domain.Review{
					ID:         productID + "__" + userID,
					ProductRef: productID,
					UserRef:    userID,
					Rating:     4,
					IsVerified: verified,
					UpdatedAt:  now.Add(-24 * time.Hour),
				}, nil
			},
			updateFn: func(_ context.Context, review domain.Review) (domain.Review, error) {
				if updated != nil {
					*updated = review
				}
				return review, nil
			},
		}
	}

	t.Run("staff flips the badge", func(t *testing.T) {
		var updated domain.Review
		events := &captureEvents{}
		svc := newTestReviewService(t, newRepo(false, &updated), &stubOrderRepo{}, activeProductRepo(), events, now)

		review, err := svc.SetVerified(ctx, SetReviewVerifiedCommand{
			ProductID: "prd-granite",
			UserID:    "user-1",
			Verified:  true,
			Requester: Requester{UserID: "staff-1", Staff: true},
		})
		if err != nil {
			t.Fatalf("set verified: %v", err)
		}
		if !review.IsVerified {
			t.Fatal("badge not set on returned review")
		}
		if !updated.IsVerified || !updated.UpdatedAt.Equal(now) {
			t.Fatalf("persisted review not stamped: %+v", updated)
		}
		if len(events.catalog) != 1 || events.catalog[0].Type != "review.verified" {
			t.Fatalf("expected review.verified event, got %+v", events.catalog)
		}
	})

	t.Run("non-staff is rejected", func(t *testing.T) {
		svc := newTestReviewService(t, newRepo(false, nil), &stubOrderRepo{}, activeProductRepo(), nil, now)

		_, err := svc.SetVerified(ctx, SetReviewVerifiedCommand{
			ProductID: "prd-granite",
			UserID:    "user-1",
			Verified:  true,
			Requester: Requester{UserID: "user-2"},
		})
		if !errors.Is(err, ErrReviewForbidden) {
			t.Fatalf("expected forbidden, got %v", err)
		}
	})

	t.Run("matching flag is a no-op", func(t *testing.T) {
		events := &captureEvents{}
		reviews := newRepo(true, nil)
		reviews.updateFn = func(_ context.Context, _ domain.Review) (domain.Review, error) {
			t.Fatal("update must not run when the badge already matches")
			return domain.Review{}, nil
		}
		svc := newTestReviewService(t, reviews, &stubOrderRepo{}, activeProductRepo(), events, now)

		review, err := svc.SetVerified(ctx, SetReviewVerifiedCommand{
			ProductID: "prd-granite",
			UserID:    "user-1",
			Verified:  true,
			Requester: Requester{UserID: "staff-1", Staff: true},
		})
		if err != nil {
			t.Fatalf("set verified: %v", err)
		}
		if !review.IsVerified {
			t.Fatalf("unexpected review %+v", review)
		}
		if len(events.catalog) != 0 {
			t.Fatalf("no event expected for a no-op, got %+v", events.catalog)
		}
	})
}
