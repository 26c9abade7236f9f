// Package workflow holds the status rules of annotations, elements and reviews,
// including the gate that closes a project for new annotations.
package workflow

import (
	"errors"
	"fmt"

	"github.com/anonto42/proofing/backend/internal/models"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// AnnotationTransition validates an annotation status change.
// COMPLETED and REJECTED are terminal. Re-applying the current status is allowed.
func AnnotationTransition(from, to models.AnnotationStatus) error {
	if from == to || !IsTerminal(from) && IsTerminal(to) {
		return nil
	}
	return fmt.Errorf("%w: annotation %s -> %s", ErrInvalidTransition, from, to)
}

// ElementTransition validates an element status change. PENDING fans out to every
// decision and every decision may go back to PENDING for a re-review.
func ElementTransition(from, to models.ElementStatus) error {
	if from == to || to == models.ElementPending {
		return nil
	}
	if from == models.ElementPending {
		switch to {
		case models.ElementApproved, models.ElementRejected, models.ElementNeedsRevision:
			return nil
		}
	}
	return fmt.Errorf("%w: element %s -> %s", ErrInvalidTransition, from, to)
}

// ReviewTransition validates a review status change along
// PENDING -> IN_PROGRESS -> {APPROVED, REJECTED}.
func ReviewTransition(from, to models.ReviewStatus) error {
	if from == to {
		return nil
	}
	switch from {
	case models.ReviewPending:
		if to == models.ReviewInProgress {
			return nil
		}
	case models.ReviewInProgress:
		switch to {
		case models.ReviewApproved, models.ReviewRejected:
			return nil
		}
	}
	return fmt.Errorf("%w: review %s -> %s", ErrInvalidTransition, from, to)
}

// AnnotationsDisabled is the review gate: once a review is decided no new
// annotations may be added to its project.
func AnnotationsDisabled(status models.ReviewStatus) bool {
	return status == models.ReviewApproved || status == models.ReviewRejected
}

// IsResolved derives the isResolved flag from an annotation status
func IsResolved(status models.AnnotationStatus) bool {
	return status == models.AnnotationCompleted
}

// IsTerminal reports whether an annotation can no longer change status
func IsTerminal(status models.AnnotationStatus) bool {
	return status == models.AnnotationCompleted || status == models.AnnotationRejected
}
