package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"quorumline/internal/decision"
	"quorumline/internal/domain"
	"quorumline/internal/engine"
	"quorumline/internal/repo"
)

func registerCollaborations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-collaboration",
		Method:        http.MethodPost,
		Path:          "/collaborations",
		Summary:       "Create collaboration",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCollaborationRequest `json:"body"`
	}) (*struct {
		Body CollaborationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.CreateOptions{
			ContextRef:  input.Body.ContextRef,
			PlanRef:     input.Body.PlanRef,
			Name:        input.Body.Name,
			Mode:        input.Body.Mode,
			Metadata:    input.Body.Metadata,
			ActorID:     actorID,
			Strategy: domain.CoordinationStrategy{
				Type:          input.Body.Strategy.Type,
				CoordinatorID: input.Body.Strategy.CoordinatorID,
				DecisionMode:  input.Body.Strategy.DecisionMode,
			},
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		for _, p := range input.Body.Participants {
			opts.Participants = append(opts.Participants, participantOptions(p))
		}
		c, err := e.CreateCollaboration(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CollaborationResponse `json:"body"`
		}{Body: collaborationResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-collaborations",
		Method:      http.MethodGet,
		Path:        "/collaborations",
		Summary:     "List collaborations",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:"pending,active,inactive,completed,cancelled,failed,"`
		Mode       string `query:"mode"`
		ContextRef string `query:"context_ref"`
		CreatedBy  string `query:"created_by"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedCollaborations `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		result, err := e.QueryCollaborations(ctx, repo.Filters{
			Status:          input.Status,
			Mode:            input.Mode,
			ContextRef:      input.ContextRef,
			CreatedBy:       input.CreatedBy,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		items := result.Items
		resp := paginatedCollaborations{Items: []CollaborationResponse{}, Total: result.Total}
		if len(items) > limit {
			items = items[:limit]
			// The cursor is the key of the last returned row; the next
			// page resumes strictly after it. Same rule as the events
			// list, whose cursor is a single event id.
			resp.NextCursor = composeCursor(items[limit-1].CreatedAt, items[limit-1].ID)
		}
		resp.Items = mapCollaborations(items)
		return &struct {
			Body paginatedCollaborations `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-collaboration",
		Method:      http.MethodGet,
		Path:        "/collaborations/{id}",
		Summary:     "Get collaboration",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body CollaborationResponse `json:"body"`
	}, error) {
		c, err := e.GetCollaboration(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CollaborationResponse `json:"body"`
		}{Body: collaborationResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-collaboration",
		Method:      http.MethodPatch,
		Path:        "/collaborations/{id}",
		Summary:     "Update collaboration",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                     `path:"id"`
		Body UpdateCollaborationRequest `json:"body"`
	}) (*struct {
		Body CollaborationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateCollaboration(ctx, input.ID, engine.UpdateOptions{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Mode:        input.Body.Mode,
			Metadata:    input.Body.Metadata,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CollaborationResponse `json:"body"`
		}{Body: collaborationResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-collaboration",
		Method:      http.MethodDelete,
		Path:        "/collaborations/{id}",
		Summary:     "Delete collaboration",
		Errors: []int{
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteCollaboration(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerParticipants(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-participant",
		Method:        http.MethodPost,
		Path:          "/collaborations/{id}/participants",
		Summary:       "Add participant",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body ParticipantRequest `json:"body"`
	}) (*struct {
		Body CollaborationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddParticipant(ctx, input.ID, participantOptions(input.Body), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CollaborationResponse `json:"body"`
		}{Body: collaborationResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-participant",
		Method:      http.MethodDelete,
		Path:        "/collaborations/{id}/participants/{participant_id}",
		Summary:     "Remove participant",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID            string `path:"id"`
		ParticipantID string `path:"participant_id"`
	}) (*struct {
		Body CollaborationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.RemoveParticipant(ctx, input.ID, input.ParticipantID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CollaborationResponse `json:"body"`
		}{Body: collaborationResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-participant-status",
		Method:      http.MethodPatch,
		Path:        "/collaborations/{id}/participants/{participant_id}/status",
		Summary:     "Update participant status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID            string                      `path:"id"`
		ParticipantID string                      `path:"participant_id"`
		Body          SetParticipantStatusRequest `json:"body"`
	}) (*struct {
		Body CollaborationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateParticipantStatus(ctx, input.ID, input.ParticipantID, domain.ParticipantStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CollaborationResponse `json:"body"`
		}{Body: collaborationResponse(c)}, nil
	})
}

func registerCoordination(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "coordinate-collaboration",
		Method:      http.MethodPost,
		Path:        "/collaborations/{id}/coordinate",
		Summary:     "Run a coordination operation",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body CoordinateRequest `json:"body"`
	}) (*struct {
		Body CoordinationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Coordinate(ctx, engine.CoordinateOptions{
			CollaborationID: input.ID,
			Operation:       input.Body.Operation,
			Reason:          input.Body.Reason,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CoordinationResponse `json:"body"`
		}{Body: coordinationResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide",
		Method:      http.MethodPost,
		Path:        "/collaborations/{id}/decide",
		Summary:     "Run a decision round",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body DecideRequest `json:"body"`
	}) (*struct {
		Body DecisionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		result, err := e.Decide(ctx, engine.DecideOptions{
			CollaborationID: input.ID,
			ParticipantIDs:  input.Body.ParticipantIDs,
			Strategy:        decision.Strategy(input.Body.Strategy),
			Weights:         input.Body.Weights,
			Threshold:       input.Body.Threshold,
			Delegate:        input.Body.Delegate,
			TimeoutMS:       input.Body.TimeoutMS,
			DryRun:          input.Body.DryRun,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DecisionResponse `json:"body"`
		}{Body: decisionResponse(result)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		CollaborationID string `query:"collaboration_id"`
		Type            string `query:"type"`
		Limit           int    `query:"limit" default:"50"`
		Cursor          string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed < 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursor = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursor, input.CollaborationID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			// The cursor is the last returned event id; the next page
			// resumes strictly below it.
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
