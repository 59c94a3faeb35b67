package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	// General validation
	CodeRequiredField   Code = "REQUIRED_FIELD"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidFormat   Code = "INVALID_FORMAT"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeValidationError Code = "VALIDATION_ERROR"

	// Configuration
	CodeConfigurationError Code = "CONFIGURATION_ERROR"

	// External service errors
	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeServiceTimeout       Code = "SERVICE_TIMEOUT"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"

	// System errors
	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnknownError  Code = "UNKNOWN_ERROR"
)

// Aggregator-specific error codes
const (
	// WebSocket errors
	CodeWebSocketConnectionError Code = "WEBSOCKET_CONNECTION_ERROR"
	CodeWebSocketReconnecting    Code = "WEBSOCKET_RECONNECTING"
	CodeWebSocketClosed          Code = "WEBSOCKET_CLOSED"
	CodeWebSocketSendError       Code = "WEBSOCKET_SEND_ERROR"

	// Hyperliquid errors
	CodeHyperliquidConnectionFailed Code = "HYPERLIQUID_CONNECTION_FAILED"
	CodeHyperliquidSubscribeFailed  Code = "HYPERLIQUID_SUBSCRIBE_FAILED"
	CodeInvalidLevelCount           Code = "INVALID_LEVEL_COUNT"

	// Lighter errors
	CodeLighterConnectionFailed Code = "LIGHTER_CONNECTION_FAILED"
	CodeLighterSubscribeFailed  Code = "LIGHTER_SUBSCRIBE_FAILED"
	CodeLighterAPIError         Code = "LIGHTER_API_ERROR"
	CodeSnapshotFetchFailed     Code = "SNAPSHOT_FETCH_FAILED"

	// Order book errors
	CodeInvalidOrderbook   Code = "INVALID_ORDERBOOK"
	CodeOrderbookNotFound  Code = "ORDERBOOK_NOT_FOUND"
	CodeUnknownMarket      Code = "UNKNOWN_MARKET"
	CodeCrossedBook        Code = "CROSSED_BOOK"
	CodeMetricsUnavailable Code = "METRICS_UNAVAILABLE"

	// Client stream errors
	CodeClientSendFailed    Code = "CLIENT_SEND_FAILED"
	CodeClientBufferFull    Code = "CLIENT_BUFFER_FULL"
	CodeInvalidClientAction Code = "INVALID_CLIENT_ACTION"

	// Circuit breaker errors
	CodeCircuitOpen     Code = "CIRCUIT_OPEN"
	CodeCircuitHalfOpen Code = "CIRCUIT_HALF_OPEN"
)
