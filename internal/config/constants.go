package config

import "time"

const (
	// Pool defaults
	DefaultPoolEntryTTL = 7 * 24 * time.Hour
	DefaultPayoutRatio  = 0.5

	// Verification windows
	DefaultManualReviewWindow = 48 * time.Hour
	DefaultReverifyDelay      = 24 * time.Hour

	// AI retry policy
	DefaultAIMaxAttempts  = 3
	DefaultAIRetryBackoff = 15 * time.Minute
	DefaultAIRetryMax     = 6 * time.Hour

	// Fraud
	DefaultFraudSuspendThreshold = 5
	// FraudWarningMargin is how many flags before the threshold the provider
	// starts getting the escalated warning.
	FraudWarningMargin = 2

	// External calls
	VisionRequestTimeout     = 60 * time.Second
	SuspensionRequestTimeout = 10 * time.Second
	NotificationTimeout      = 10 * time.Second

	// Upload limits
	MaxProofBytes = 10 << 20

	// Telegram limits
	MaxTelegramMessageLen = 4096
)
