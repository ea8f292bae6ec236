package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/backup"
	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
)

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status": "ok",
		"online": s.deps.Monitor.Online(),
	})
}

// Sync

func (s *Server) syncStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Scheduler.GetStatus(c.Request().Context()))
}

func (s *Server) syncNow(c echo.Context) error {
	result, err := s.deps.Scheduler.SyncNow(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) syncPull(c echo.Context) error {
	result, err := s.deps.Scheduler.PullNow(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Connectivity

type connectivityState struct {
	Online  bool   `json:"online"`
	Since   string `json:"since,omitempty"`
	Changed bool   `json:"changed,omitempty"`
}

func (s *Server) getConnectivity(c echo.Context) error {
	return c.JSON(http.StatusOK, connectivityState{
		Online: s.deps.Monitor.Online(),
		Since:  s.deps.Monitor.Since().UTC().Format(time.RFC3339),
	})
}

// setConnectivity lets the host report the network state it observes.
func (s *Server) setConnectivity(c echo.Context) error {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Online == nil {
		return apperrors.New(apperrors.ErrInvalid, "online is required")
	}
	changed := s.deps.Monitor.Set(*req.Online, "host")
	return c.JSON(http.StatusOK, connectivityState{Online: *req.Online, Changed: changed})
}

// Queue

func (s *Server) listQueue(c echo.Context) error {
	var statuses []models.QueueStatus
	if raw := c.QueryParam("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := models.QueueStatus(strings.TrimSpace(part))
			switch st {
			case models.QueuePending, models.QueueProcessing, models.QueueFailed:
				statuses = append(statuses, st)
			default:
				return apperrors.Newf(apperrors.ErrInvalid, "unknown queue status %q", part)
			}
		}
	}
	items, err := s.deps.Queue.List(c.Request().Context(), statuses...)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*models.QueuedMutation{}
	}
	return c.JSON(http.StatusOK, items)
}

// listFailedQueue lists mutations that exhausted their retries.
func (s *Server) listFailedQueue(c echo.Context) error {
	items, err := s.deps.Queue.List(c.Request().Context(), models.QueueFailed)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*models.QueuedMutation{}
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) queueStats(c echo.Context) error {
	stats, err := s.deps.Queue.GetStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) retryFailed(c echo.Context) error {
	n, err := s.deps.Queue.RetryAll(c.Request().Context())
	if err != nil {
		return err
	}
	if n > 0 {
		s.deps.Scheduler.TriggerSync()
	}
	return c.JSON(http.StatusOK, echo.Map{"requeued": n})
}

func (s *Server) removeMutation(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return apperrors.Newf(apperrors.ErrInvalid, "invalid mutation id %q", c.Param("id"))
	}
	if err := s.deps.Queue.Remove(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Entities

func tableParam(c echo.Context) (models.Table, error) {
	t, err := models.ParseTable(c.Param("table"))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrUnsupportedTable, "unknown table", err)
	}
	return t, nil
}

// bindEntity decodes the request body into a new entity of the path's
// table.
func bindEntity(c echo.Context) (models.Entity, error) {
	t, err := tableParam(c)
	if err != nil {
		return nil, err
	}
	e, err := t.New()
	if err != nil {
		return nil, err
	}
	if err := (&echo.DefaultBinder{}).BindBody(c, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Server) listEntities(c echo.Context) error {
	t, err := tableParam(c)
	if err != nil {
		return err
	}
	items, err := s.deps.Entities.List(c.Request().Context(), t, c.QueryParam("user_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) listFailed(c echo.Context) error {
	t, err := tableParam(c)
	if err != nil {
		return err
	}
	rows, err := s.deps.Entities.Failed(c.Request().Context(), t, c.QueryParam("user_id"))
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []*models.Row{}
	}
	return c.JSON(http.StatusOK, rows)
}

func (s *Server) getEntity(c echo.Context) error {
	t, err := tableParam(c)
	if err != nil {
		return err
	}
	e, status, err := s.deps.Entities.Get(c.Request().Context(), t, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"sync_status": status, "entity": e})
}

func (s *Server) createEntity(c echo.Context) error {
	e, err := bindEntity(c)
	if err != nil {
		return err
	}
	result, err := s.deps.Entities.Create(c.Request().Context(), e)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

func (s *Server) updateEntity(c echo.Context) error {
	e, err := bindEntity(c)
	if err != nil {
		return err
	}
	e.SetEntityID(c.Param("id"))
	result, err := s.deps.Entities.Update(c.Request().Context(), e)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) deleteEntity(c echo.Context) error {
	t, err := tableParam(c)
	if err != nil {
		return err
	}
	result, err := s.deps.Entities.Delete(c.Request().Context(), t, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Backup

func (s *Server) exportBackup(c echo.Context) error {
	doc, err := s.deps.Backup.Export(c.Request().Context())
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="profsync-backup.json"`)
	return c.JSON(http.StatusOK, doc)
}

// importBackup merges an uploaded document. restore_queue=true also
// re-enqueues its mutations.
func (s *Server) importBackup(c echo.Context) error {
	doc, err := backup.Decode(c.Request().Body)
	if err != nil {
		return err
	}
	restoreQueue, _ := strconv.ParseBool(c.QueryParam("restore_queue"))
	result, err := s.deps.Backup.Import(c.Request().Context(), doc, backup.ImportOptions{RestoreQueue: restoreQueue})
	if err != nil {
		return err
	}
	if result.Queued > 0 {
		s.deps.Scheduler.TriggerSync()
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) listBackups(c echo.Context) error {
	files, err := s.deps.Sink.List()
	if err != nil {
		return err
	}
	if files == nil {
		files = []*backup.FileInfo{}
	}
	return c.JSON(http.StatusOK, files)
}

func (s *Server) takeBackup(c echo.Context) error {
	info, err := s.deps.Backup.Backup(c.Request().Context(), s.deps.Sink)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, info)
}
