package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonMalformedFrame ReasonCode = "malformed_frame"

	ReasonMissingCredentials  ReasonCode = "missing_credentials"
	ReasonUnsupportedProvider ReasonCode = "unsupported_provider"
	ReasonProviderOpen        ReasonCode = "provider_open"
	ReasonProviderTransport   ReasonCode = "provider_transport"
	ReasonProviderSend        ReasonCode = "provider_send"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonEventsPublish             ReasonCode = "events_publish"
)
