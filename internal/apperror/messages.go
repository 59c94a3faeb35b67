package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	// General validation
	CodeRequiredField:   "Required field is missing",
	CodeInvalidInput:    "Invalid input provided",
	CodeInvalidFormat:   "Invalid data format",
	CodeInvalidState:    "Invalid state for this operation",
	CodeNotFound:        "Resource not found",
	CodeValidationError: "Validation error",

	// Configuration
	CodeConfigurationError: "Configuration error",

	// External service errors
	CodeExternalServiceError: "External service error",
	CodeServiceTimeout:       "Service request timeout",
	CodeServiceUnavailable:   "Service temporarily unavailable",
	CodeRateLimitExceeded:    "Rate limit exceeded",

	// System errors
	CodeInternalError: "Internal server error",
	CodeUnknownError:  "An unknown error occurred",

	// WebSocket errors
	CodeWebSocketConnectionError: "WebSocket connection error",
	CodeWebSocketReconnecting:    "WebSocket reconnecting",
	CodeWebSocketClosed:          "WebSocket connection closed",
	CodeWebSocketSendError:       "Failed to send WebSocket message",

	// Hyperliquid errors
	CodeHyperliquidConnectionFailed: "Failed to connect to Hyperliquid",
	CodeHyperliquidSubscribeFailed:  "Failed to subscribe to Hyperliquid channel",
	CodeInvalidLevelCount:           "Requested level count is out of range",

	// Lighter errors
	CodeLighterConnectionFailed: "Failed to connect to Lighter",
	CodeLighterSubscribeFailed:  "Failed to subscribe to Lighter channel",
	CodeLighterAPIError:         "Lighter API error",
	CodeSnapshotFetchFailed:     "Failed to fetch order book snapshot",

	// Order book errors
	CodeInvalidOrderbook:   "Invalid orderbook data",
	CodeOrderbookNotFound:  "Orderbook not found",
	CodeUnknownMarket:      "Market is not configured",
	CodeCrossedBook:        "Order book is crossed",
	CodeMetricsUnavailable: "Liquidity metrics not available",

	// Client stream errors
	CodeClientSendFailed:    "Failed to send message to client",
	CodeClientBufferFull:    "Client send buffer is full",
	CodeInvalidClientAction: "Unknown client action",

	// Circuit breaker errors
	CodeCircuitOpen:     "Circuit breaker is open",
	CodeCircuitHalfOpen: "Circuit breaker is half-open",
}
