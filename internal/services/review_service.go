package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/stonemart/api/internal/domain"
	"github.com/stonemart/api/internal/repositories"
)

const (
	catalogEventReviewCreated  = "review.created"
	catalogEventReviewUpdated  = "review.updated"
	catalogEventReviewDeleted  = "review.deleted"
	catalogEventReviewVerified = "review.verified"

	reviewMinRating = 1
	reviewMaxRating = 5

	defaultReviewMaxImages       = 6
	defaultReviewMaxCommentRunes = 2000
)

var (
	// ErrReviewInvalidInput signals the caller provided invalid data.
	ErrReviewInvalidInput = errors.New("review: invalid input")
	// ErrReviewNotFound indicates the review could not be located.
	ErrReviewNotFound = errors.New("review: not found")
	// ErrReviewConflict indicates the user already reviewed the product.
	ErrReviewConflict = errors.New("review: already reviewed")
	// ErrReviewNotEligible indicates the requester has no delivered order containing the product.
	ErrReviewNotEligible = errors.New("review: purchase required")
	// ErrReviewForbidden indicates the requester owns neither the review nor the staff role.
	ErrReviewForbidden = errors.New("review: forbidden")
)

// ReviewPolicy bounds review content.
type ReviewPolicy struct {
	MaxImages       int
	MaxCommentRunes int
}

// ReviewServiceDeps bundles collaborators required to construct the review service.
type ReviewServiceDeps struct {
	Reviews          repositories.ReviewRepository
	Orders           repositories.OrderRepository
	Products         repositories.ProductRepository
	Policy           ReviewPolicy
	ProfanityChecker func(string) bool
	Clock            func() time.Time
	Events           EventPublisher
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type reviewService struct {
	reviews   repositories.ReviewRepository
	orders    repositories.OrderRepository
	products  repositories.ProductRepository
	policy    ReviewPolicy
	sanitizer *bluemonday.Policy
	isProfane func(string) bool
	clock     func() time.Time
	events    EventPublisher
	logger    func(context.Context, string, map[string]any)
}

// NewReviewService wires dependencies into a concrete ReviewService implementation.
func NewReviewService(deps ReviewServiceDeps) (ReviewService, error) {
	if deps.Reviews == nil {
		return nil, errors.New("review service: review repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("review service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("review service: product repository is required")
	}

	policy := deps.Policy
	if policy.MaxImages <= 0 {
		policy.MaxImages = defaultReviewMaxImages
	}
	if policy.MaxCommentRunes <= 0 {
		policy.MaxCommentRunes = defaultReviewMaxCommentRunes
	}

	profanity := deps.ProfanityChecker
	if profanity == nil {
		profanity = basicProfanityChecker
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reviewService{
		reviews:   deps.Reviews,
		orders:    deps.Orders,
		products:  deps.Products,
		policy:    policy,
		sanitizer: bluemonday.StrictPolicy(),
		isProfane: profanity,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *reviewService) Create(ctx context.Context, cmd CreateReviewCommand) (Review, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	userID := strings.TrimSpace(cmd.Requester.UserID)
	if productID == "" {
		return Review{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}
	if userID == "" {
		return Review{}, fmt.Errorf("%w: requester is required", ErrReviewInvalidInput)
	}

	comment, err := s.validateContent(cmd.Rating, &cmd.Comment, cmd.Images)
	if err != nil {
		return Review{}, err
	}

	if _, err := s.products.FindByID(ctx, productID); err != nil {
		return Review{}, s.mapRepositoryError(err)
	}

	purchased, err := s.orders.HasDeliveredOrderWithProduct(ctx, userID, productID)
	if err != nil {
		return Review{}, s.mapRepositoryError(err)
	}
	if !purchased {
		return Review{}, fmt.Errorf("%w: no delivered order contains product %s", ErrReviewNotEligible, productID)
	}

	now := s.now()
	// IsVerified starts false; staff flip it through SetVerified.
	review := Review{
		ProductRef: productID,
		UserRef:    userID,
		UserName:   strings.TrimSpace(cmd.Requester.Name),
		Rating:     cmd.Rating,
		Comment:    comment,
		Images:     cmd.Images,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	stored, err := s.reviews.Insert(ctx, review)
	if err != nil {
		return Review{}, s.mapRepositoryError(err)
	}

	if err := s.recomputeRating(ctx, productID, now); err != nil {
		return Review{}, err
	}

	s.publishEvent(ctx, EventMessage{
		Type:       catalogEventReviewCreated,
		ProductID:  productID,
		UserID:     userID,
		OccurredAt: now,
		Payload:    map[string]any{"rating": stored.Rating},
	})

	return stored, nil
}

func (s *reviewService) Update(ctx context.Context, cmd UpdateReviewCommand) (Review, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	userID := strings.TrimSpace(cmd.Requester.UserID)
	if productID == "" {
		return Review{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}
	if userID == "" {
		return Review{}, fmt.Errorf("%w: requester is required", ErrReviewInvalidInput)
	}

	review, err := s.reviews.FindByProductAndUser(ctx, productID, userID)
	if err != nil {
		return Review{}, s.mapRepositoryError(err)
	}

	if cmd.Rating != nil {
		if _, err := s.validateContent(*cmd.Rating, nil, nil); err != nil {
			return Review{}, err
		}
		review.Rating = *cmd.Rating
	}
	if cmd.Comment != nil {
		comment, err := s.validateContent(review.Rating, cmd.Comment, nil)
		if err != nil {
			return Review{}, err
		}
		review.Comment = comment
	}
	if cmd.Images != nil {
		if _, err := s.validateContent(review.Rating, nil, cmd.Images); err != nil {
			return Review{}, err
		}
		review.Images = cmd.Images
	}

	now := s.now()
	review.UpdatedAt = now

	stored, err := s.reviews.Update(ctx, review)
	if err != nil {
		return Review{}, s.mapRepositoryError(err)
	}

	if err := s.recomputeRating(ctx, productID, now); err != nil {
		return Review{}, err
	}

	s.publishEvent(ctx, EventMessage{
		Type:       catalogEventReviewUpdated,
		ProductID:  productID,
		UserID:     userID,
		OccurredAt: now,
		Payload:    map[string]any{"rating": stored.Rating},
	})

	return stored, nil
}

func (s *reviewService) Delete(ctx context.Context, cmd DeleteReviewCommand) error {
	productID := strings.TrimSpace(cmd.ProductID)
	targetUser := strings.TrimSpace(cmd.UserID)
	if targetUser == "" {
		targetUser = strings.TrimSpace(cmd.Requester.UserID)
	}
	if productID == "" || targetUser == "" {
		return fmt.Errorf("%w: product id and user id are required", ErrReviewInvalidInput)
	}
	if !cmd.Requester.Staff && targetUser != strings.TrimSpace(cmd.Requester.UserID) {
		return fmt.Errorf("%w: only the author or staff may delete a review", ErrReviewForbidden)
	}

	review, err := s.reviews.FindByProductAndUser(ctx, productID, targetUser)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	if err := s.reviews.Delete(ctx, review.ID); err != nil {
		return s.mapRepositoryError(err)
	}

	now := s.now()
	if err := s.recomputeRating(ctx, productID, now); err != nil {
		return err
	}

	s.publishEvent(ctx, EventMessage{
		Type:       catalogEventReviewDeleted,
		ProductID:  productID,
		UserID:     targetUser,
		OccurredAt: now,
		Payload:    map[string]any{"actor": strings.TrimSpace(cmd.Requester.UserID)},
	})

	return nil
}

// SetVerified flips the staff-managed verification badge. Rating and count
// are untouched, so no recomputation pass runs.
func (s *reviewService) SetVerified(ctx context.Context, cmd SetReviewVerifiedCommand) (Review, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	targetUser := strings.TrimSpace(cmd.UserID)
	if productID == "" || targetUser == "" {
		return Review{}, fmt.Errorf("%w: product id and user id are required", ErrReviewInvalidInput)
	}
	if !cmd.Requester.Staff {
		return Review{}, fmt.Errorf("%w: verification requires staff", ErrReviewForbidden)
	}

	review, err := s.reviews.FindByProductAndUser(ctx, productID, targetUser)
	if err != nil {
		return Review{}, s.mapRepositoryError(err)
	}
	if review.IsVerified == cmd.Verified {
		return review, nil
	}

	now := s.now()
	review.IsVerified = cmd.Verified
	review.UpdatedAt = now

	stored, err := s.reviews.Update(ctx, review)
	if err != nil {
		return Review{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, EventMessage{
		Type:       catalogEventReviewVerified,
		ProductID:  productID,
		UserID:     targetUser,
		OccurredAt: now,
		Payload: map[string]any{
			"verified": stored.IsVerified,
			"actor":    strings.TrimSpace(cmd.Requester.UserID),
		},
	})

	return stored, nil
}

func (s *reviewService) ListByProduct(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[Review], error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[Review]{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}

	page, err := s.reviews.ListByProduct(ctx, productID, pager)
	if err != nil {
		return domain.CursorPage[Review]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// recomputeRating rebuilds the aggregate from every stored rating rather
// than adjusting incrementally, so a lost update cannot skew the average.
func (s *reviewService) recomputeRating(ctx context.Context, productID string, now time.Time) error {
	ratings, err := s.reviews.AllRatingsForProduct(ctx, productID)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	summary := RatingSummary{NumReviews: len(ratings)}
	if len(ratings) > 0 {
		var sum int
		for _, rating := range ratings {
			sum += rating
		}
		summary.Rating = float64(sum) / float64(len(ratings))
	}

	if err := s.products.UpdateRating(ctx, productID, summary, now); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

// validateContent checks the pieces it is given: comment and images may be
// nil when the caller is not changing them. A provided comment must survive
// sanitization non-empty, so "<b></b>" and whitespace both fail. The returned
// comment has HTML stripped.
func (s *reviewService) validateContent(rating int, comment *string, images []string) (string, error) {
	if rating < reviewMinRating || rating > reviewMaxRating {
		return "", fmt.Errorf("%w: rating must be between %d and %d", ErrReviewInvalidInput, reviewMinRating, reviewMaxRating)
	}
	if len(images) > s.policy.MaxImages {
		return "", fmt.Errorf("%w: at most %d images are allowed", ErrReviewInvalidInput, s.policy.MaxImages)
	}

	var sanitized string
	if comment != nil {
		sanitized = strings.TrimSpace(s.sanitizer.Sanitize(*comment))
		if sanitized == "" {
			return "", fmt.Errorf("%w: comment is required", ErrReviewInvalidInput)
		}
		if utf8.RuneCountInString(sanitized) > s.policy.MaxCommentRunes {
			return "", fmt.Errorf("%w: comment exceeds %d characters", ErrReviewInvalidInput, s.policy.MaxCommentRunes)
		}
		if s.isProfane(sanitized) {
			return "", fmt.Errorf("%w: comment contains profanity", ErrReviewInvalidInput)
		}
	}
	return sanitized, nil
}

func (s *reviewService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrReviewNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrReviewConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("review: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *reviewService) now() time.Time {
	return s.clock()
}

func (s *reviewService) publishEvent(ctx context.Context, event EventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishCatalogEvent(ctx, event); err != nil {
		s.logger(ctx, "review.event.publish.failed", map[string]any{
			"type":    event.Type,
			"product": event.ProductID,
			"error":   err.Error(),
		})
	}
}

var blockedCommentTerms = map[string]struct{}{
	"ass":     {},
	"asshole": {},
	"bastard": {},
	"bitch":   {},
	"bloody":  {},
	"damn":    {},
	"fuck":    {},
	"fucker":  {},
	"fucking": {},
	"shit":    {},
	"shitty":  {},
	"slut":    {},
	"whore":   {},
}

// basicProfanityChecker splits on non-alphanumeric runes and matches whole
// words against the blocklist, so "class" and "assessment" pass.
func basicProfanityChecker(input string) bool {
	if input == "" {
		return false
	}

	normalized := strings.ToLower(input)
	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r))
	})

	for _, word := range words {
		if _, ok := blockedCommentTerms[word]; ok {
			return true
		}
	}
	return false
}
