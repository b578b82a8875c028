package notifications

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation           = errors.New("invalid notification request")
	ErrNoChannelsAllowed    = errors.New("no delivery channels allowed by preferences")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrPreferencesNotFound  = errors.New("notification preferences not found")
	ErrTemplateNotFound     = errors.New("notification template not found")
	ErrTemplateInactive     = errors.New("notification template is inactive")
	ErrNoRecipients         = errors.New("no recipients")
	ErrSenderNotConfigured  = errors.New("channel sender not configured")
	ErrRecipientMissing     = errors.New("recipient address missing for channel")
	ErrSchedulerStopped     = errors.New("scheduler is stopped")
	ErrAlreadyDispatched    = errors.New("notification already dispatched")
	ErrNotificationExpired  = errors.New("notification expired")
)

// ValidationError names the first field of a request that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NoChannelsAllowedError is returned when preference filtering removes every
// requested channel and in-app cannot substitute.
type NoChannelsAllowedError struct {
	UserID    string
	Requested []Channel
}

func (e *NoChannelsAllowedError) Error() string {
	names := make([]string, len(e.Requested))
	for i, c := range e.Requested {
		names[i] = string(c)
	}
	return fmt.Sprintf("no channels allowed for user %s (requested %s)", e.UserID, strings.Join(names, ","))
}

func (e *NoChannelsAllowedError) Unwrap() error {
	return ErrNoChannelsAllowed
}

// ChannelDeliveryError is a failed attempt on one channel.
type ChannelDeliveryError struct {
	Channel Channel
	Attempt int
	Err     error
}

func (e *ChannelDeliveryError) Error() string {
	return fmt.Sprintf("%s delivery attempt %d failed: %v", e.Channel, e.Attempt, e.Err)
}

func (e *ChannelDeliveryError) Unwrap() error {
	return e.Err
}

// TerminalChannelFailure is recorded when a channel exhausted its attempts.
// It is published with EventFailed and never returned to callers of Send.
type TerminalChannelFailure struct {
	NotificationID string
	Channel        Channel
	Attempts       int
	Err            error
}

func (e *TerminalChannelFailure) Error() string {
	return fmt.Sprintf("notification %s: %s failed after %d attempts: %v", e.NotificationID, e.Channel, e.Attempts, e.Err)
}

func (e *TerminalChannelFailure) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is a request validation failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound reports whether err means a notification, template or preference record is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotificationNotFound) ||
		errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrPreferencesNotFound)
}
