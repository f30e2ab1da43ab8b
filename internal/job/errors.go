package job

import (
	"errors"
	"fmt"
)

var (
	ErrTransport  = errors.New("transport error")
	ErrValidation = errors.New("validation error")
	ErrState      = errors.New("state error")
	ErrProcessing = errors.New("processing error")
)

// TransportError reports a connection or protocol failure talking to the backend.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// ValidationError reports input the client or the backend refused.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// StateError reports an operation against an unknown or already-terminal job.
type StateError struct {
	ID     string
	Status Status
	Reason string
}

func (e *StateError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("job %s: %s", e.ID, e.Reason)
	}
	return fmt.Sprintf("job %s (%s): %s", e.ID, e.Status, e.Reason)
}

func (e *StateError) Is(target error) bool { return target == ErrState }

// ProcessingError is a conversion failure reported by the backend for one job.
type ProcessingError struct {
	ID      string
	Message string
}

func (e *ProcessingError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s: conversion failed", e.ID)
	}
	return fmt.Sprintf("job %s: %s", e.ID, e.Message)
}

func (e *ProcessingError) Is(target error) bool { return target == ErrProcessing }

// Unknown builds the StateError returned for ids the registry has never seen.
func Unknown(id string) error {
	return &StateError{ID: id, Reason: "unknown job"}
}

// AlreadyTerminal builds the StateError returned for jobs in an absorbing state.
func AlreadyTerminal(d Descriptor) error {
	return &StateError{ID: d.ID, Status: d.Status, Reason: "job already finished"}
}
