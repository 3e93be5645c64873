package auth

import (
	"github.com/arung-agamani/denpa-relay/internal/apperr"
	"github.com/arung-agamani/denpa-relay/internal/model"
)

// Resolver turns an Authorization header value into a Principal, trying
// admin and internal opaque tokens first (cheap comparisons) before
// attempting JWT parsing.
type Resolver struct {
	issuer        *Issuer
	adminTokens   []string
	internalToken string
}

// NewResolver builds a Resolver from configuration.
func NewResolver(issuer *Issuer, adminTokens []string, internalToken string) *Resolver {
	return &Resolver{issuer: issuer, adminTokens: adminTokens, internalToken: internalToken}
}

// Resolve authenticates the bearer token carried in authorizationHeader and
// returns the Principal it names.
func (r *Resolver) Resolve(authorizationHeader string) (model.Principal, error) {
	token, err := ExtractBearerToken(authorizationHeader)
	if err != nil {
		return model.Principal{}, err
	}

	if IsAdminToken(token, r.adminTokens) {
		return model.Principal{ID: "admin", Kind: model.PrincipalAdmin}, nil
	}
	if IsInternalToken(token, r.internalToken) {
		return model.Principal{ID: "internal", Kind: model.PrincipalInternal}, nil
	}

	if claims, jwtErr := r.issuer.ParseUserToken(token); jwtErr == nil && claims.UserID != "" {
		return model.Principal{
			ID:   claims.UserID,
			Kind: model.PrincipalUser,
			Quotas: model.Quotas{
				MaxQueueSongs:  claims.MaxQueueSongs,
				MaxAddRequests: claims.MaxAddRequests,
			},
		}, nil
	}

	if claims, jwtErr := r.issuer.ParseLivestreamToken(token); jwtErr == nil && claims.UserID != "" {
		return model.Principal{
			ID:     claims.UserID,
			Kind:   model.PrincipalLivestream,
			ShowID: claims.ShowName,
			Quotas: model.Quotas{
				MaxStreamingSeconds:  claims.MaxStreamingSeconds,
				MinRecordingDuration: claims.MinRecordingDuration,
			},
		}, nil
	}

	return model.Principal{}, apperr.New(apperr.KindUnauthenticated, "invalid or expired token")
}
