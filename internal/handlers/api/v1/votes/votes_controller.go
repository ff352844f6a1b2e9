// ===============================
// FILE: internal/handlers/api/v1/votes/votes_controller.go
// ===============================

package votes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"forumkarma/internal/middleware"
	"forumkarma/internal/models"
	"forumkarma/internal/response"
	"forumkarma/internal/services"
	"forumkarma/internal/validation"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// VoteController handles the vote mutation and voting power endpoints
type VoteController struct {
	serviceCollection *services.ServiceCollection
	logger            *zap.Logger
	responseBuilder   *response.Builder
}

// NewVoteController creates a vote controller
func NewVoteController(
	serviceCollection *services.ServiceCollection,
	logger *zap.Logger,
	responseBuilder *response.Builder,
) *VoteController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VoteController{
		serviceCollection: serviceCollection,
		logger:            logger,
		responseBuilder:   responseBuilder,
	}
}

// ===============================
// REQUEST AND RESPONSE TYPES
// ===============================

// CastVoteBody is the JSON body of a cast
type CastVoteBody struct {
	VoteType     models.VoteType     `json:"vote_type" validate:"required,max=32"`
	ExtendedVote models.ExtendedVote `json:"extended_vote,omitempty" validate:"max=8"`
}

// VoteResponse reports the document's vote fields after a mutation
type VoteResponse struct {
	DocumentID    string                `json:"document_id"`
	Collection    models.CollectionName `json:"collection"`
	BaseScore     float64               `json:"base_score"`
	Score         float64               `json:"score"`
	VoteCount     int                   `json:"vote_count"`
	ExtendedScore models.ExtendedScore  `json:"extended_score,omitempty"`
	Inactive      bool                  `json:"inactive"`
}

// VotingPowerResponse reports a single vote type's power
type VotingPowerResponse struct {
	UserID   string          `json:"user_id"`
	VoteType models.VoteType `json:"vote_type"`
	Power    float64         `json:"power"`
}

// VotingPowerPreviewResponse reports the power of every vote type
type VotingPowerPreviewResponse struct {
	UserID string                     `json:"user_id"`
	Powers map[models.VoteType]float64 `json:"powers"`
}

// RescoreResponse reports one admin-triggered pass
type RescoreResponse struct {
	Pass        string  `json:"pass"`
	Forced      bool    `json:"forced"`
	Scanned     int     `json:"scanned"`
	Rescored    int     `json:"rescored"`
	Deactivated int     `json:"deactivated"`
	Unchanged   int     `json:"unchanged"`
	DurationMs  float64 `json:"duration_ms"`
}

// ===============================
// VOTE MUTATIONS
// ===============================

// CastVote handles POST /api/v1/votes/{collection}/{documentId}
func (c *VoteController) CastVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := middleware.GetAuthContext(ctx)
	if authCtx == nil {
		c.responseBuilder.WriteUnauthorized(w, r, "Authentication required")
		return
	}

	collection, documentID, err := documentFromPath(r)
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}

	var body CastVoteBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		c.logger.Warn("Failed to decode cast vote request", zap.Error(err))
		c.responseBuilder.WriteError(w, r, services.NewValidationError("Invalid request body format", err))
		return
	}
	if err := validation.ValidateStruct(body); err != nil {
		c.responseBuilder.WriteError(w, r, validationError(err))
		return
	}

	doc, err := c.serviceCollection.VotingService.CastVote(ctx, services.CastVoteRequest{
		DocumentID:   documentID,
		Collection:   collection,
		VoteType:     body.VoteType,
		ExtendedVote: body.ExtendedVote,
		VoterID:      authCtx.UserID,
	})
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}

	middleware.GetRequestLogger(ctx).Debug("Vote cast via API",
		zap.String("document_id", documentID),
		zap.String("collection", string(collection)),
		zap.String("voter_id", authCtx.UserID),
		zap.String("vote_type", string(body.VoteType)),
	)

	c.responseBuilder.WriteSuccess(w, r, toVoteResponse(doc))
}

// CancelVote handles DELETE /api/v1/votes/{collection}/{documentId}
func (c *VoteController) CancelVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := middleware.GetAuthContext(ctx)
	if authCtx == nil {
		c.responseBuilder.WriteUnauthorized(w, r, "Authentication required")
		return
	}

	collection, documentID, err := documentFromPath(r)
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}

	doc, err := c.serviceCollection.VotingService.CancelVote(ctx, services.CancelVoteRequest{
		DocumentID: documentID,
		Collection: collection,
		VoterID:    authCtx.UserID,
	})
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}

	c.responseBuilder.WriteSuccess(w, r, toVoteResponse(doc))
}

// ===============================
// VOTING POWER
// ===============================

// GetVotingPower handles GET /api/v1/users/{userId}/voting-power[?vote_type=]
func (c *VoteController) GetVotingPower(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := mux.Vars(r)["userId"]
	voting := c.serviceCollection.VotingService

	voteType := models.VoteType(r.URL.Query().Get("vote_type"))
	if voteType == "" {
		powers, err := voting.GetVotingPowerPreview(ctx, userID)
		if err != nil {
			c.responseBuilder.WriteError(w, r, err)
			return
		}
		c.responseBuilder.WriteSuccess(w, r, VotingPowerPreviewResponse{UserID: userID, Powers: powers})
		return
	}

	power, err := voting.GetVotingPower(ctx, userID, voteType)
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}
	c.responseBuilder.WriteSuccess(w, r, VotingPowerResponse{UserID: userID, VoteType: voteType, Power: power})
}

// ===============================
// ADMIN
// ===============================

// Rescore handles POST /api/v1/admin/rescore?inactive=&force=
func (c *VoteController) Rescore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := middleware.GetAuthContext(ctx)
	if authCtx == nil {
		c.responseBuilder.WriteUnauthorized(w, r, "Authentication required")
		return
	}

	user, err := c.serviceCollection.Repositories.Users.Find(ctx, authCtx.UserID)
	if err != nil {
		c.responseBuilder.WriteError(w, r, services.NewInternalError("Failed to load user", err))
		return
	}
	if user == nil || !user.IsAdmin {
		c.responseBuilder.WriteError(w, r, services.NewForbiddenError("Admin privileges required"))
		return
	}

	inactive, err := boolParam(r, "inactive")
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}
	force, err := boolParam(r, "force")
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}

	result, err := c.serviceCollection.Rescorer.Run(ctx, services.RescoreOptions{Inactive: inactive, ForceUpdate: force})
	if err != nil {
		c.responseBuilder.WriteError(w, r, services.NewInternalError("Rescore pass failed", err))
		return
	}

	c.logger.Info("Rescore triggered via API",
		zap.String("user_id", authCtx.UserID),
		zap.String("pass", result.Pass),
		zap.Bool("forced", force),
		zap.Int("rescored", result.Rescored),
		zap.Int("deactivated", result.Deactivated),
	)

	c.responseBuilder.WriteSuccess(w, r, RescoreResponse{
		Pass:        result.Pass,
		Forced:      result.Forced,
		Scanned:     result.Scanned,
		Rescored:    result.Rescored,
		Deactivated: result.Deactivated,
		Unchanged:   result.Unchanged,
		DurationMs:  float64(result.Duration.Microseconds()) / 1000,
	})
}

// ===============================
// HELPERS
// ===============================

func documentFromPath(r *http.Request) (models.CollectionName, string, error) {
	vars := mux.Vars(r)
	collection, err := models.ParseCollectionName(vars["collection"])
	if err != nil {
		return "", "", services.InvalidInputError("collection", err.Error())
	}
	documentID := vars["documentId"]
	if documentID == "" || len(documentID) > 64 {
		return "", "", services.InvalidInputError("document_id", "must be 1 to 64 characters")
	}
	return collection, documentID, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, services.InvalidInputError(name, "must be a boolean")
	}
	return v, nil
}

func validationError(err error) error {
	serviceErr := services.NewValidationError("Invalid vote request", err)
	var fields validation.FieldErrors
	if errors.As(err, &fields) {
		serviceErr.Details = map[string]interface{}{"fields": fields}
	}
	return serviceErr
}

func toVoteResponse(doc *models.Document) VoteResponse {
	return VoteResponse{
		DocumentID:    doc.ID,
		Collection:    doc.CollectionName,
		BaseScore:     doc.BaseScore,
		Score:         doc.Score,
		VoteCount:     doc.VoteCount,
		ExtendedScore: doc.ExtendedScore,
		Inactive:      doc.Inactive,
	}
}
