package handler

import (
	"golang.org/x/text/language"

	"github.com/clockdesk/clockdesk/internal/reconcile"
)

// Message codes handled by localize besides the reconcile validation codes.
const (
	msgInvalidRequest = "invalid_request"
	msgRateLimited    = "rate_limited"
	msgSyncFailed     = "sync_failed"
	msgForbidden      = "forbidden_tenant"
)

var supportedLanguages = []language.Tag{
	language.English, // first entry is the fallback
	language.Spanish,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

var messages = map[string][2]string{
	reconcile.CodeMissingScope: {
		"Missing location ID or company ID",
		"Falta el ID de ubicación o el ID de empresa",
	},
	reconcile.CodePlaceholderLocation: {
		"The location ID is an unresolved placeholder and no company ID was given",
		"El ID de ubicación es un marcador sin resolver y no se indicó un ID de empresa",
	},
	reconcile.CodeMissingAPIKey: {
		"Missing API key (none provided or saved)",
		"Falta la clave de API (no se proporcionó ni hay una guardada)",
	},
	msgInvalidRequest: {
		"Invalid request body",
		"Cuerpo de la solicitud no válido",
	},
	msgRateLimited: {
		"Too many synchronizations for this tenant, try again later",
		"Demasiadas sincronizaciones para esta cuenta, inténtalo más tarde",
	},
	msgSyncFailed: {
		"Synchronization failed",
		"La sincronización falló",
	},
	msgForbidden: {
		"This API key cannot act on that tenant",
		"Esta clave de API no puede operar sobre esa cuenta",
	},
}

// localize returns the message for code in the best language for an
// Accept-Language header. Unknown codes return fallback.
func localize(acceptLanguage, code, fallback string) string {
	texts, ok := messages[code]
	if !ok {
		return fallback
	}

	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return texts[0]
	}

	_, index, confidence := languageMatcher.Match(tags...)
	if confidence == language.No || index >= len(texts) {
		return texts[0]
	}
	return texts[index]
}
