package middleware

import "log/slog"

// WarnWildcardCORS logs once for every wildcard entry in the allowed origins.
func WarnWildcardCORS(origins []string, log *slog.Logger) {
	for _, origin := range origins {
		if origin == "*" || origin == ".*" {
			log.Warn("CORS wildcard detected",
				"origin", origin,
				"risk", "Allows any origin to access API",
				"recommendation", "Use specific origins for production",
			)
		}
	}
}
