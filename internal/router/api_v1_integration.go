// ===============================
// FILE: internal/router/api_v1_integration.go
// ===============================

package router

import (
	"net/http"

	"forumkarma/internal/handlers/api/v1/votes"
	"forumkarma/internal/response"
	"forumkarma/internal/services"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// AddAPIv1Routes registers the vote API on the /api/v1 subrouter
func AddAPIv1Routes(
	api *mux.Router,
	serviceCollection *services.ServiceCollection,
	responseBuilder *response.Builder,
	logger *zap.Logger,
) {
	voteController := votes.NewVoteController(serviceCollection, logger.Named("votes_api"), responseBuilder)

	// ===============================
	// VOTE ENDPOINTS (acting user required)
	// ===============================

	api.HandleFunc("/votes/{collection}/{documentId}", voteController.CastVote).Methods(http.MethodPost)
	api.HandleFunc("/votes/{collection}/{documentId}", voteController.CancelVote).Methods(http.MethodDelete)

	// ===============================
	// PUBLIC USER ENDPOINTS
	// ===============================

	api.HandleFunc("/users/{userId}/voting-power", voteController.GetVotingPower).Methods(http.MethodGet)

	// ===============================
	// ADMIN ENDPOINTS
	// ===============================

	api.HandleFunc("/admin/rescore", voteController.Rescore).Methods(http.MethodPost)

	logger.Debug("API v1 routes registered")
}
