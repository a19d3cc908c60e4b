package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/duskcast/streamcore/internal/apperror"
	"github.com/duskcast/streamcore/internal/grant"
	"github.com/duskcast/streamcore/internal/models"
	"github.com/duskcast/streamcore/internal/repository"
)

// GrantHandler mints the short-lived grant tokens that authorize segment
// fetches, after running the unified access evaluator against the track's
// album.
type GrantHandler struct {
	signer    *grant.Signer
	evaluator *grant.Evaluator
	tracks    repository.TrackRepository
	albums    repository.AlbumRepository
}

// NewGrantHandler creates a GrantHandler.
func NewGrantHandler(signer *grant.Signer, evaluator *grant.Evaluator, tracks repository.TrackRepository, albums repository.AlbumRepository) *GrantHandler {
	return &GrantHandler{signer: signer, evaluator: evaluator, tracks: tracks, albums: albums}
}

// Register registers the grant routes with the API.
func (h *GrantHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "issueGrant",
		Method:      "POST",
		Path:        "/tracks/{track_id}/grant",
		Summary:     "Issue a stream grant token",
		Tags:        []string{"Grant"},
	}, h.IssueGrant)
}

// IssueGrantInput is the input for issuing a grant token.
type IssueGrantInput struct {
	TrackID string `path:"track_id"`
	Body    struct {
		UserID          string          `json:"user_id"`
		VoiceID         string          `json:"voice_id,omitempty"`
		IsCreator       bool            `json:"is_creator,omitempty"`
		IsTeamMember    bool            `json:"is_team_member,omitempty"`
		TierAmountCents int64           `json:"tier_amount_cents,omitempty"`
		Donations       []grant.Donation `json:"donations,omitempty"`
	}
}

// IssueGrantOutput is the output for issuing a grant token.
type IssueGrantOutput struct {
	Body struct {
		Token          string `json:"token"`
		ContentVersion int64  `json:"content_version"`
	}
}

// IssueGrant evaluates the caller's access to the track's album and, on
// success, mints a grant token scoped to the track's current
// content_version.
func (h *GrantHandler) IssueGrant(ctx context.Context, input *IssueGrantInput) (*IssueGrantOutput, error) {
	trackID, err := models.ParseULID(input.TrackID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid track id")
	}

	track, err := h.tracks.GetByID(ctx, trackID)
	if err != nil {
		return nil, translateError(apperror.NotFound("track not found"))
	}

	album := &models.Album{}
	if track.AlbumID != nil {
		album, err = h.albums.GetByID(ctx, *track.AlbumID)
		if err != nil {
			return nil, translateError(apperror.NotFound("album not found"))
		}
	}

	account := grant.AccountContext{
		IsCreator:       input.Body.IsCreator,
		IsTeamMember:    input.Body.IsTeamMember,
		TierAmountCents: input.Body.TierAmountCents,
		Donations:       input.Body.Donations,
	}
	if err := h.evaluator.Evaluate(account, album); err != nil {
		return nil, translateError(err)
	}

	streamID := trackID.String()
	if input.Body.VoiceID != "" {
		streamID = trackID.String() + "/" + input.Body.VoiceID
	}

	token, err := h.signer.Mint(grant.Payload{
		StreamID:       streamID,
		TrackID:        trackID.String(),
		VoiceID:        input.Body.VoiceID,
		ContentVersion: track.ContentVersion,
		UserID:         input.Body.UserID,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to mint grant token")
	}

	out := &IssueGrantOutput{}
	out.Body.Token = token
	out.Body.ContentVersion = track.ContentVersion
	return out, nil
}
