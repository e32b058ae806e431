package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-incidents/internal/geodata"
	"github.com/joeblew999/plat-incidents/internal/logger"
)

// NonceMiddleware rejects country and incident requests whose X-WP-Nonce
// header does not match nonce.
func NonceMiddleware(api huma.API, nonce string) func(huma.Context, func(huma.Context)) {
	want := []byte(nonce)
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op == nil || !guarded(op.Tags) {
			next(ctx)
			return
		}
		if subtle.ConstantTimeCompare([]byte(ctx.Header(geodata.NonceHeader)), want) != 1 {
			logger.L().Debug("nonce_rejected", "path", op.Path)
			huma.WriteErr(api, ctx, http.StatusForbidden, "invalid or missing nonce")
			return
		}
		next(ctx)
	}
}

func guarded(tags []string) bool {
	for _, t := range tags {
		if t == TagCountries || t == TagIncidents {
			return true
		}
	}
	return false
}
