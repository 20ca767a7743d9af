package models

import "errors"

var (
	ErrNotFound                  = errors.New("not found")
	ErrPreconditionFailed        = errors.New("precondition failed")
	ErrOwnershipMismatch         = errors.New("ownership mismatch")
	ErrDuplicateActiveAssignment = errors.New("duplicate active assignment for order")
	ErrAlreadyClaimed            = errors.New("pool entry already claimed")
	ErrExpired                   = errors.New("pool entry expired")
	ErrNotAssignable             = errors.New("assignment is not in assigned state")
	ErrNotEligible               = errors.New("not eligible")
	ErrExternalAnalysisFailure   = errors.New("external analysis failure")
	ErrInvalidOrder              = errors.New("invalid order")
	ErrInvalidProof              = errors.New("invalid proof")
)
