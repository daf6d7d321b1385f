package agentapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"signalcraft-client/internal/analysis"
	"signalcraft-client/internal/diagnosis"
	"signalcraft-client/internal/shared/server/respond"
)

type commandFunc func(ctx context.Context, ctrl *diagnosis.Controller) (diagnosis.Snapshot, error)

func startCommand(ctx context.Context, ctrl *diagnosis.Controller) (diagnosis.Snapshot, error) {
	return ctrl.Start(ctx)
}

func pauseCommand(_ context.Context, ctrl *diagnosis.Controller) (diagnosis.Snapshot, error) {
	return ctrl.Pause()
}

func resumeCommand(_ context.Context, ctrl *diagnosis.Controller) (diagnosis.Snapshot, error) {
	return ctrl.Resume()
}

func stopCommand(ctx context.Context, ctrl *diagnosis.Controller) (diagnosis.Snapshot, error) {
	return ctrl.Stop(ctx)
}

func resetCommand(ctx context.Context, ctrl *diagnosis.Controller) (diagnosis.Snapshot, error) {
	if err := ctrl.Reset(ctx); err != nil {
		return ctrl.Snapshot(), err
	}
	return ctrl.Snapshot(), nil
}

func (h *Handler) command(fn commandFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctrl, ok := h.controller(c)
		if !ok {
			return
		}
		before := ctrl.Snapshot().State
		snap, err := fn(c.Request.Context(), ctrl)
		setTransition(c, before, snap.State)
		if err != nil {
			writeError(c, err)
			return
		}
		respond.OK(c, snap)
	}
}

type uploadRequest struct {
	ModelPreference string `json:"model_preference"`
	TargetModelID   string `json:"target_model_id"`
}

type uploadResponse struct {
	TaskID   string             `json:"task_id"`
	Snapshot diagnosis.Snapshot `json:"snapshot"`
}

func (h *Handler) upload(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	var req uploadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, analysis.ErrorCodeValidation, "invalid request body", nil)
			return
		}
	}
	switch req.ModelPreference {
	case "", analysis.ModelHybrid, analysis.ModelAutoencoder:
	default:
		respond.Error(c, http.StatusBadRequest, analysis.ErrorCodeValidation, "model_preference must be level1 or level2", nil)
		return
	}

	before := ctrl.Snapshot().State
	taskID, err := ctrl.Upload(c.Request.Context(), diagnosis.UploadOptions{
		ModelPreference: req.ModelPreference,
		TargetModelID:   req.TargetModelID,
	})
	snap := ctrl.Snapshot()
	setTransition(c, before, snap.State)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set("taskId", taskID)
	respond.JSON(c, http.StatusAccepted, uploadResponse{TaskID: taskID, Snapshot: snap})
}

func setTransition(c *gin.Context, from, to diagnosis.State) {
	if from != to {
		c.Set("statusTransition", string(from)+"->"+string(to))
	}
}
